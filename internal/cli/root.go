// Package cli implements the relayctl operator commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "ChatRelay operator CLI",
	Long: `relayctl inspects a running ChatRelay deployment.

Check service health, list message partitions, look up dedup markers
for delivered events, and sign webhook payloads for manual testing.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load config: %v\n", err)
	}
}

// requireConfig guards commands that talk to the database or need the
// channel secret. status works without any config at all.
func requireConfig() (*config.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no usable config: pass --config or set CHATRELAY_* environment variables")
	}
	return cfg, nil
}
