package main

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"
)

func newDataSourcesCmd(flags *rootFlags) *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "datasources",
		Short: "List configured data sources, optionally filtered by a regexp over their id",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*flags)
			if err != nil {
				return err
			}
			defer app.Close()

			var re *regexp.Regexp
			if search != "" {
				re, err = regexp.Compile(search)
				if err != nil {
					return fmt.Errorf("datasources: invalid --search regexp %q: %w", search, err)
				}
			}

			for _, id := range sortedSourceIDs(app.sources, nil) {
				if re != nil && !re.MatchString(id) {
					continue
				}
				ds := app.sources[id]
				fmt.Printf("%s\ttype=%s\tformat=%s\turl=%s\tdedup=%v\n", ds.ID, ds.Type, ds.Format, ds.URL, ds.Dedup)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Only list source ids matching this regexp")
	return cmd
}
