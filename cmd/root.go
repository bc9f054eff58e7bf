package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"qdag/logx"
)

var rootCmd = &cobra.Command{
	Use:   "qdag",
	Short: "QDAG ledger node CLI",
	Long:  "Command line interface for running and managing a QDAG permissioned DAG ledger node.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed: ", err)
		os.Exit(1)
	}
}
