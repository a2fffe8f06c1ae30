package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/benjaminabbitt/storefront/cart"
	"github.com/benjaminabbitt/storefront/cart/logic"
	"github.com/benjaminabbitt/storefront/storage"
	"github.com/benjaminabbitt/storefront/tabsync"
)

func cartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Inspect or reset the durable cart",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the durable cart record and pending clear markers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, kv storage.Store, key string) error {
				rec, err := cart.LoadRecord(ctx, kv, key)
				if err != nil {
					return err
				}
				markers, err := tabsync.ListClearMarkers(ctx, kv)
				if err != nil {
					return err
				}
				writeCart(cmd.OutOrStdout(), rec, markers, time.Now())
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Empty the cart in every session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, kv storage.Store, key string) error {
				err := cart.SaveRecord(ctx, kv, key, cart.Record{
					ClearRequested: true,
					UpdatedAt:      time.Now().UTC(),
					Writer:         "storefront-cli",
				})
				if err == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "clear requested")
				}
				return err
			})
		},
	})
	return cmd
}

func withStore(ctx context.Context, fn func(context.Context, storage.Store, string) error) (err error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if ctx == nil {
		ctx = context.Background()
	}
	kv, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, kv.Close()) }()
	return fn(ctx, kv, cfg.Cart.Key)
}

func writeCart(w io.Writer, rec cart.Record, markers []tabsync.ClearMarker, now time.Time) {
	fmt.Fprintln(w, "Cart")
	fmt.Fprintln(w, strings.Repeat("=", 40))
	if rec.UpdatedAt.IsZero() {
		fmt.Fprintln(w, "  Updated:   never")
	} else {
		fmt.Fprintf(w, "  Updated:   %s by %s\n", humanize.RelTime(rec.UpdatedAt, now, "ago", "from now"), valueOr(rec.Writer, "unknown"))
	}
	if rec.ClearRequested {
		fmt.Fprintln(w, "  Clear:     requested")
	}

	if len(rec.Lines) == 0 {
		fmt.Fprintln(w, "\n  (empty)")
	} else {
		fmt.Fprintln(w)
		for _, l := range rec.Lines {
			fmt.Fprintf(w, "  %3dx %-28s %10s\n", l.Quantity, valueOr(l.Name, string(l.Key())), l.Total().StringFixed(2))
		}
		fmt.Fprintln(w, "  "+strings.Repeat("-", 44))
		fmt.Fprintf(w, "  %-33s %10s\n", "Subtotal", logic.Subtotal(rec.Lines).StringFixed(2))
		if savings := logic.Savings(rec.Lines); savings.IsPositive() {
			fmt.Fprintf(w, "  %-33s %10s\n", "Savings", savings.StringFixed(2))
		}
		fmt.Fprintf(w, "  Items:     %s\n", humanize.Comma(int64(logic.ItemCount(rec.Lines))))
		fmt.Fprintf(w, "  Weight:    %s g\n", humanize.Comma(int64(logic.WeightGrams(rec.Lines))))
	}

	if len(markers) > 0 {
		fmt.Fprintln(w, "\nPending clears:")
		for _, m := range markers {
			state := "pending"
			if m.Confirmed {
				state = "confirmed"
			}
			fmt.Fprintf(w, "  %s  %-9s %s\n", m.Token, state, humanize.RelTime(m.CreatedAt, now, "ago", "from now"))
		}
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
