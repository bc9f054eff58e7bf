package cmd

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"qdag/common"
	"qdag/hybridsig"
)

var keyOutPath string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a hybrid validator keypair",
	Long:  "Generates an Ed25519 + ML-DSA-65 hybrid keypair, writes the private key to a file and prints the public key halves for the genesis config.",
	Run: func(cmd *cobra.Command, args []string) {
		generateKey()
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keyOutPath, "out", "o", "config/validator.key", "Output path for the private key")
}

func generateKey() {
	pub, priv, err := hybridsig.GenerateKey()
	if err != nil {
		log.Fatalf("Failed to generate keypair: %v", err)
	}

	privBytes, err := priv.MarshalPrivate()
	if err != nil {
		log.Fatalf("Failed to marshal private key: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyOutPath), 0755); err != nil {
		log.Fatalf("Failed to create key directory: %v", err)
	}
	if err := os.WriteFile(keyOutPath, []byte(hex.EncodeToString(privBytes)), 0600); err != nil {
		log.Fatalf("Failed to write private key: %v", err)
	}

	pubBytes, err := pub.MarshalPublic()
	if err != nil {
		log.Fatalf("Failed to marshal public key: %v", err)
	}
	classical := pubBytes[:ed25519.PublicKeySize]
	pqc := pubBytes[ed25519.PublicKeySize:]

	fmt.Printf("Private key written to %s\n", keyOutPath)
	fmt.Printf("classical_pub_key: %s\n", hex.EncodeToString(classical))
	fmt.Printf("pqc_pub_key: %s\n", hex.EncodeToString(pqc))
	fmt.Printf("address (base58 classical): %s\n", common.EncodeBytesToBase58(classical))
}
