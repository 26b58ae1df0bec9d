package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/price-scraper/internal/events"
	"github.com/spf13/cobra"
)

func NewConsumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Print batch events from the Redis stream",
		Long: `Consume joins a consumer group on the configured Redis stream and prints
one line per persisted batch until interrupted. Messages are acknowledged
once printed.`,
		Args: cobra.NoArgs,
		RunE: runConsumeCmd,
	}

	cmd.Flags().String("group", "price-batch-consumers", "Consumer group name")
	cmd.Flags().String("name", "", "Consumer name within the group (default: hostname)")
	cmd.Flags().Bool("json", false, "Print each event payload as JSON")

	return cmd
}

func runConsumeCmd(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.openRedis(ctx); err != nil {
		return err
	}

	group, _ := cmd.Flags().GetString("group")
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name, _ = os.Hostname()
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	consumer := events.NewConsumer(a.redis, events.ConsumerConfig{
		Stream: a.cfg.Redis.Stream,
		Group:  group,
		Name:   name,
	}, printBatch(cmd.OutOrStdout(), asJSON), a.logger)

	err = consumer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printBatch(w io.Writer, asJSON bool) events.BatchHandler {
	return func(_ context.Context, b *events.BatchPersistedPayload) error {
		if asJSON {
			return json.NewEncoder(w).Encode(b)
		}

		prices := "no prices"
		if b.MinPrice != nil && b.MaxPrice != nil {
			prices = fmt.Sprintf("R$ %.2f - R$ %.2f", *b.MinPrice, *b.MaxPrice)
		}
		_, err := fmt.Fprintf(w, "%s  %s  %d rows (%d priced, %s)  batch %s\n",
			b.CollectedAt.Format("2006-01-02 15:04:05"), b.Table, b.Rows, b.PricedRows, prices, b.BatchID)
		return err
	}
}
