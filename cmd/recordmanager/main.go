// Command recordmanager is the CLI front-end of the bibliographic metadata
// pipeline (spec §6): harvest, import, export, manage, and datasources are
// each a separate cobra subcommand, plus a serve daemon mode that runs them
// on a schedule.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "recordmanager",
		Short: "RecordManager — bibliographic metadata harvesting, deduplication, and Solr indexing pipeline",
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", envOrDefault("RECORDMANAGER_CONFIG", "./recordmanager.ini"), "Path to recordmanager.ini")
	root.PersistentFlags().StringVar(&flags.datasourcesPath, "datasources", envOrDefault("RECORDMANAGER_DATASOURCES", "./datasources.ini"), "Path to datasources.ini")
	root.PersistentFlags().StringVar(&flags.mappingsDir, "mappings-dir", envOrDefault("RECORDMANAGER_MAPPINGS_DIR", "./mappings"), "Directory containing Field Mapper mapping files")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", envOrDefault("RECORDMANAGER_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	root.AddCommand(newHarvestCmd(flags))
	root.AddCommand(newImportCmd(flags))
	root.AddCommand(newExportCmd(flags))
	root.AddCommand(newManageCmd(flags))
	root.AddCommand(newDataSourcesCmd(flags))
	root.AddCommand(newServeCmd(flags))

	return root
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
