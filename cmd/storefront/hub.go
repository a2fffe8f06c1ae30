package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benjaminabbitt/storefront/shop"
	"github.com/benjaminabbitt/storefront/tabsync"
)

func hubCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the broadcast hub that links storefront processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if addr != "" {
				cfg.Hub.Address = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := tabsync.NewHub(logger)
			return shop.RunServer(ctx, logger, shop.ServerConfig{Name: "storefront-hub", Address: cfg.Hub.Address}, hub.Register)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC listen address (overrides hub.address)")
	return cmd
}
