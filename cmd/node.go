package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"qdag/config"
	"qdag/db"
	"qdag/jsonrpc"
	"qdag/logx"
	"qdag/monitoring"
	"qdag/node"
	"qdag/p2p"
	"qdag/ratelimit"
	"qdag/registry"
)

const configPath = "config/config.ini"

var (
	genesisPath string
	keyPath     string
	validatorID string
	standalone  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ledger node",
	Run: func(cmd *cobra.Command, args []string) {
		runNode()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&genesisPath, "genesis", "g", "config/genesis.yml", "Path to the genesis file")
	runCmd.Flags().StringVarP(&keyPath, "key", "k", "config/validator.key", "Path to the hybrid private key file")
	runCmd.Flags().StringVarP(&validatorID, "validator", "v", "", "Validator id registered in genesis")
	runCmd.Flags().BoolVar(&standalone, "standalone", false, "Run without networking, using an in-process transport")
}

func runNode() {
	monitoring.InitMetrics()

	genesisCfg, err := config.LoadGenesisConfig(genesisPath)
	if err != nil {
		log.Fatalf("Failed to load genesis config: %v", err)
	}
	nodeCfg, err := config.LoadNodeConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load node config: %v", err)
	}
	consensusCfg, err := config.LoadConsensusConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load consensus config: %v", err)
	}
	verifierCfg, err := config.LoadVerifierConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load verifier config: %v", err)
	}
	mempoolCfg, err := config.LoadMempoolConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load mempool config: %v", err)
	}

	privKey, err := config.LoadHybridPrivKey(keyPath)
	if err != nil {
		log.Fatalf("Failed to load private key: %v", err)
	}
	if validatorID == "" {
		log.Fatalf("Missing --validator id")
	}

	dataDir := nodeCfg.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	currentDir, err := os.Getwd()
	if err != nil {
		log.Fatalf("Failed to get current directory: %v", err)
	}
	absDataDir := filepath.Join(currentDir, dataDir)
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory %s: %v", absDataDir, err)
	}

	provider, err := db.NewLevelDBProvider(filepath.Join(absDataDir, "ledger"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer provider.Close()

	var n *node.Node
	var transport node.Transport
	var network *p2p.Network
	if standalone {
		transport = p2p.NewLoopback().Join(validatorID)
	} else {
		snapFn := func() (*registry.Snapshot, error) { return n.Registry().Snapshot() }
		var bootstrapPeers []string
		if nodeCfg.BootstrapPeers != "" {
			bootstrapPeers = strings.Split(nodeCfg.BootstrapPeers, ",")
		}
		network, err = p2p.NewNetwork(validatorID, privKey.Classical, nodeCfg.ListenAddr, bootstrapPeers, snapFn)
		if err != nil {
			log.Fatalf("Failed to start network: %v", err)
		}
		defer network.Close()
		transport = network
	}

	n, err = node.New(validatorID, privKey, provider, transport, node.Options{
		Genesis:   genesisCfg,
		Consensus: *consensusCfg,
		Verifier:  *verifierCfg,
		Mempool:   *mempoolCfg,
	})
	if err != nil {
		log.Fatalf("Failed to build node: %v", err)
	}

	n.Start()
	if network != nil {
		if err := network.Start(); err != nil {
			log.Fatalf("Failed to join gossip topics: %v", err)
		}
	}

	rpcSrv := jsonrpc.NewServer(nodeCfg.RPCAddr, n)
	if corsCfg, ok := jsonrpc.CORSFromEnv(); ok {
		rpcSrv.SetCORSConfig(corsCfg)
	}
	if nodeCfg.RPCRateLimit > 0 {
		limiter := ratelimit.New(nodeCfg.RPCRateLimit, time.Second)
		defer limiter.Close()
		rpcSrv.SetRateLimiter(limiter)
	}
	rpcSrv.Start()

	if nodeCfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		monitoring.RegisterMetrics(mux)
		go func() {
			if err := http.ListenAndServe(nodeCfg.MetricsAddr, mux); err != nil {
				logx.Error("MONITORING", "Metrics server stopped: ", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logx.Info("CMD", fmt.Sprintf("Received %s, shutting down", sig))
	case <-n.Done():
		logx.Info("CMD", "Node halted, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rpcSrv.Stop(shutdownCtx)
	n.Stop()
}
