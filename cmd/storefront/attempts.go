package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/benjaminabbitt/storefront/payment"
	"github.com/benjaminabbitt/storefront/storage"
)

func attemptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attempts",
		Short: "List stored payment attempt snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, kv storage.Store, _ string) error {
				tokens, err := payment.ListAttempts(ctx, kv)
				if err != nil {
					return err
				}
				records := make([]payment.AttemptRecord, 0, len(tokens))
				for _, token := range tokens {
					rec, err := payment.LoadAttempt(ctx, kv, token)
					if errors.Is(err, storage.ErrNotFound) {
						continue
					}
					if err != nil {
						return err
					}
					records = append(records, rec)
				}
				writeAttempts(cmd.OutOrStdout(), records, time.Now())
				return nil
			})
		},
	}
}

func writeAttempts(w io.Writer, records []payment.AttemptRecord, now time.Time) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no stored attempts")
		return
	}
	for _, rec := range records {
		a := rec.Attempt
		if a == nil {
			continue
		}
		status := "awaiting return"
		switch {
		case rec.Recorded():
			status = "recorded as " + rec.OrderNumber
		case rec.Captured():
			status = "paid as " + rec.ProviderRef + ", order missing"
		case rec.Failed():
			status = "failed"
		}
		fmt.Fprintf(w, "%s  %-8s %10s %s  %s, %s\n",
			a.LocalOrderID, a.PaymentMethod, a.Total.StringFixed(2), a.Currency,
			status, humanize.RelTime(a.CreatedAt, now, "ago", "from now"))
	}
}
