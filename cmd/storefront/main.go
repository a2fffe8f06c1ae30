// Command storefront runs the cart and checkout engine behind HTTP, the
// broadcast hub that links engine processes, and a few operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/config"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     "storefront",
		Short:   "Storefront cart and order lifecycle engine",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./storefront.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(hubCmd())
	rootCmd.AddCommand(cartCmd())
	rootCmd.AddCommand(attemptsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
