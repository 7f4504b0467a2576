/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/online-library/apiserver/internal/log"
	"github.com/online-library/apiserver/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the library backend server",
	Long: `Starts the library backend server. Usage:

	library server
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- srv.Start()
		}()

		logger := log.WithComponent("server")
		select {
		case err := <-serveErr:
			_ = srv.Shutdown(context.Background())
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("shutdown: %w", err)
		}
		return <-serveErr
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
