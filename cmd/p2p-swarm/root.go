package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tarun-kavipurapu/p2p-swarm/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "p2p-swarm",
	Short:         "LAN peer-to-peer file sharing",
	Long:          `Nodes discover each other by UDP broadcast, advertise the files in their shared directory and download files chunk by chunk from every peer that holds them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
