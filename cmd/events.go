/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/online-library/apiserver/internal/events"
	"github.com/online-library/apiserver/internal/log"
	"github.com/online-library/apiserver/internal/mq"
	"github.com/online-library/apiserver/types"
	"github.com/spf13/cobra"
)

var eventsChannel string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect catalog events",
}

// eventsTailCmd prints catalog events as they arrive, one JSON object per line.
var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print catalog events as they are published",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		backend, err := mq.Open(ctx, cfg.MQ)
		if errors.Is(err, mq.ErrDisabled) {
			return usageError("MQ_BACKEND is not set")
		}
		if err != nil {
			return err
		}
		defer backend.Close()

		channel := eventsChannel
		if channel == "" {
			channel = cfg.MQ.CatalogChannel
		}

		logger := log.WithComponent("events")
		logger.Info().Str("channel", channel).Str("backend", cfg.MQ.Backend).Msg("tailing catalog events")

		enc := json.NewEncoder(cmd.OutOrStdout())
		err = events.Subscribe(ctx, backend, channel, func(event types.CatalogEvent) error {
			return enc.Encode(event)
		}, func(msg mq.Message, err error) {
			logger.Warn().Err(err).Str("message_id", msg.ID).Msg("skipping undecodable message")
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)

	eventsTailCmd.Flags().StringVar(&eventsChannel, "channel", "", "channel to read (default MQ_CATALOG_CHANNEL)")
}
