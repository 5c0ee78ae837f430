package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newImportCmd(flags *rootFlags) *cobra.Command {
	var (
		file    string
		source  string
		deleted bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk-ingest one or more files for a data source into the Record Store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("import: --file is required")
			}
			if source == "" {
				return fmt.Errorf("import: --source is required")
			}

			app, err := buildApp(*flags)
			if err != nil {
				return err
			}
			defer app.Close()

			ds, ok := app.sources[source]
			if !ok {
				return fmt.Errorf("import: unknown source %q", source)
			}

			matches, err := filepath.Glob(file)
			if err != nil {
				return fmt.Errorf("import: bad --file glob %q: %w", file, err)
			}
			if len(matches) == 0 {
				return fmt.Errorf("import: --file %q matched no files", file)
			}

			ingestCfg := sourceIngestConfig(ds)
			ctx := cmd.Context()
			total := 0
			for _, path := range matches {
				payload, err := os.ReadFile(path)
				if err != nil {
					app.log.Error("import: failed to read file", zap.String("path", path), zap.Error(err))
					continue
				}
				n, err := app.ingester.StoreRecord(ctx, ingestCfg, "", deleted, payload)
				if err != nil {
					app.log.Error("import: failed to store record", zap.String("path", path), zap.Error(err))
					continue
				}
				total += n
			}
			app.log.Info("import complete", zap.String("source", source), zap.Int("files", len(matches)), zap.Int("records_affected", total))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Glob of files to import")
	cmd.Flags().StringVar(&source, "source", "", "Data source id to import into")
	cmd.Flags().BoolVar(&deleted, "delete", false, "Mark the imported records as deleted instead of storing them")

	return cmd
}
