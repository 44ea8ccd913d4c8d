package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"tarun-kavipurapu/p2p-swarm/peer"
	"tarun-kavipurapu/p2p-swarm/pkg/config"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
)

var (
	nodePort        int
	nodeConfigPath  string
	nodeBaseDir     string
	nodeInteractive bool
	nodeMDNS        bool
	nodeGet         string
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a swarm node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(nodeConfigPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
			return err
		}
		logger.Sugar.Infof("Starting node on port %d, base dir %s", cfg.Port, cfg.BaseDir)

		n, err := peer.NewNode(cfg, afero.NewOsFs())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := n.Start(ctx); err != nil {
			return err
		}
		defer n.Stop()

		fmt.Printf("Node %s serving %s on port %d\n", n.ID(), n.Store().Root(), cfg.Port)

		if nodeGet != "" {
			waitForOwners(ctx, n, nodeGet, 3*cfg.Discovery.Interval)
			if err := getFile(ctx, os.Stdout, n, nodeGet); err != nil && !nodeInteractive {
				return err
			}
		}

		if nodeInteractive {
			c := newConsole(n, os.Stdout)
			fmt.Println("P2P Swarm Interactive Shell")
			fmt.Println("Type 'help' for commands.")
			prompt.New(
				c.execute,
				c.complete,
				prompt.OptionPrefix("swarm> "),
				prompt.OptionTitle("P2P Swarm Node"),
				prompt.OptionSetExitCheckerOnInput(c.shouldExit),
			).Run()
			return nil
		}

		if nodeGet == "" {
			<-ctx.Done()
		}
		return nil
	},
}

// applyFlags lets explicitly set flags override file and environment values.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = nodePort
	}
	if flags.Changed("dir") {
		cfg.BaseDir = nodeBaseDir
	}
	if flags.Changed("mdns") {
		cfg.Discovery.MDNS = nodeMDNS
	}
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.Flags().IntVarP(&nodePort, "port", "p", 0, "TCP port of the chunk server (1-65535)")
	nodeCmd.Flags().StringVarP(&nodeConfigPath, "config", "c", "", "Path to a YAML config file")
	nodeCmd.Flags().StringVarP(&nodeBaseDir, "dir", "d", ".", "Base directory holding shared_<port>")
	nodeCmd.Flags().BoolVarP(&nodeInteractive, "interactive", "i", false, "Start the interactive console")
	nodeCmd.Flags().BoolVar(&nodeMDNS, "mdns", false, "Also discover peers over mDNS")
	nodeCmd.Flags().StringVarP(&nodeGet, "get", "g", "", "Download a file once peers advertise it, then exit")
}
