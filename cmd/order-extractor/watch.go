package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/maltedev/order-extractor/internal/database"
	"github.com/maltedev/order-extractor/internal/events"
)

var (
	watchGroup    string
	watchConsumer string
	watchTypes    []string
)

func init() {
	watchCmd.Flags().StringVar(&watchGroup, "group", "order-extractor-watchers", "consumer group name")
	watchCmd.Flags().StringVar(&watchConsumer, "consumer", "", "consumer name within the group (default: hostname)")
	watchCmd.Flags().StringSliceVar(&watchTypes, "type", []string{database.EventPageExtracted, database.EventRunCompleted}, "event types to print")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follows extraction events on the Redis stream and prints one line per event.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if !cfg.Redis.Enabled() {
			return errors.New("redis is not configured")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}

		name := watchConsumer
		if name == "" {
			name, _ = os.Hostname()
		}

		consumer := events.NewConsumer(client, events.ConsumerConfig{
			Stream: cfg.Redis.Stream,
			Group:  watchGroup,
			Name:   name,
			Types:  watchTypes,
		}, logger)

		out := cmd.OutOrStdout()
		err = consumer.Run(ctx, func(_ context.Context, e *events.Event) error {
			_, err := fmt.Fprintln(out, describeEvent(e))
			return err
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func describeEvent(e *events.Event) string {
	switch e.Type {
	case database.EventPageExtracted:
		var p database.PageExtractedPayload
		if err := json.Unmarshal(e.Payload, &p); err == nil {
			return fmt.Sprintf("%s page %d of %s: %d records, %d with products, %d items",
				e.Type, p.PageNumber, p.SessionID, p.TotalRecords, p.OrdersWithProducts, p.TotalItems)
		}
	case database.EventRunCompleted:
		var s struct {
			RunID        string `json:"run_id"`
			TotalRecords int    `json:"total_records"`
			Success      bool   `json:"success"`
		}
		if err := json.Unmarshal(e.Payload, &s); err == nil {
			return fmt.Sprintf("%s %s: %d records, success=%t", e.Type, s.RunID, s.TotalRecords, s.Success)
		}
	}
	return fmt.Sprintf("%s %s", e.Type, e.AggregateID)
}
