/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/online-library/apiserver/config"
	"github.com/online-library/apiserver/internal/log"
	"github.com/online-library/apiserver/internal/server"
	"github.com/online-library/apiserver/internal/storage"
	"github.com/spf13/cobra"
)

var (
	exportOutput string
	exportUpload bool
)

// exportCmd writes the catalog CSV without going through the HTTP API.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the book catalog as CSV",
	Long: `Export the book catalog as CSV to stdout, to a file, or to the
configured object storage. Usage:

	library export > books.csv
	library export --output books.csv
	library export --upload
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportUpload && exportOutput != "" {
			return usageError("--output and --upload are mutually exclusive")
		}

		ctx := cmd.Context()
		svc, err := server.OpenServices(ctx, withoutEvents(cfg))
		if err != nil {
			return err
		}
		defer svc.Close()

		logger := log.WithComponent("export")

		if exportUpload {
			key, rows, err := uploadExport(ctx, cfg.Storage, svc.Catalog.ExportCSV)
			if err != nil {
				return err
			}
			logger.Info().Str("key", key).Int("rows", rows).Msg("catalog export uploaded")
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		}

		out := cmd.OutOrStdout()
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOutput, err)
			}
			defer f.Close()
			out = f
		}

		rows, err := svc.Catalog.ExportCSV(ctx, out)
		if err != nil {
			return err
		}
		logger.Info().Int("rows", rows).Str("output", exportOutput).Msg("catalog exported")
		return nil
	},
}

type exportFunc func(ctx context.Context, w io.Writer) (int, error)

func uploadExport(ctx context.Context, storageCfg config.StorageConfig, export exportFunc) (string, int, error) {
	store, err := storage.Open(ctx, storageCfg)
	if errors.Is(err, storage.ErrDisabled) {
		return "", 0, usageError("STORAGE_BACKEND is not set")
	}
	if err != nil {
		return "", 0, fmt.Errorf("open storage: %w", err)
	}

	key := storage.ExportKey(time.Now())
	var rows int
	err = store.Archive(ctx, key, storage.ContentTypeCSV, func(w io.Writer) error {
		n, err := export(ctx, w)
		rows = n
		return err
	})
	if err != nil {
		return "", rows, fmt.Errorf("upload %s: %w", key, err)
	}
	return key, rows, nil
}

// withoutEvents disables publishing for commands that never change the catalog.
func withoutEvents(c config.Config) config.Config {
	c.MQ.Backend = ""
	return c
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write the CSV to this file instead of stdout")
	exportCmd.Flags().BoolVar(&exportUpload, "upload", false, "upload the CSV to the configured object storage")
}
