// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/ibdissect/internal/config"
	"firestige.xyz/ibdissect/internal/log"

	// Register built-in heuristics and reporters
	_ "firestige.xyz/ibdissect/plugins"
)

var (
	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ibdissect",
	Short: "ibdissect - InfiniBand and RoCE packet dissector",
	Long: `ibdissect decodes InfiniBand link, global-route and transport headers,
management datagrams and connection-management exchanges from native
InfiniBand captures and RoCE (v1 over Ethernet, v2 over UDP) captures.

Decoded packets are streamed to a reporter (console or Kafka).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults plus IBDISSECT_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log.level")

	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(packetCmd)
	rootCmd.AddCommand(linkctlCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the config file and initializes the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := log.Init(&cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

