package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/driver"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

func newExportCmd(flags *rootFlags) *cobra.Command {
	var (
		file         string
		deletedFile  string
		from         string
		skip         int
		source       string
		single       string
		xpath        string
		sortDedup    bool
		addDedupID   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write Record Store contents to files for downstream loading",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("export: --file is required")
			}
			if addDedupID != "" && addDedupID != "deduped" && addDedupID != "always" {
				return fmt.Errorf("export: --add-dedup-id must be \"deduped\" or \"always\", got %q", addDedupID)
			}

			app, err := buildApp(*flags)
			if err != nil {
				return err
			}
			defer app.Close()

			out, err := os.Create(file)
			if err != nil {
				return fmt.Errorf("export: create %s: %w", file, err)
			}
			defer out.Close()

			var deletedOut *os.File
			if deletedFile != "" {
				deletedOut, err = os.Create(deletedFile)
				if err != nil {
					return fmt.Errorf("export: create %s: %w", deletedFile, err)
				}
				defer deletedOut.Close()
			}

			ctx := cmd.Context()

			if single != "" {
				rec, err := app.records.Get(ctx, single)
				if err != nil {
					return fmt.Errorf("export: --single %s: %w", single, err)
				}
				return writeExportedRecord(out, rec, xpath, addDedupID)
			}

			notDeleted := false
			deleted := true
			filter := store.RecordFilter{SourceID: source}
			if from != "" {
				t, err := time.Parse(dateLayout, from)
				if err != nil {
					return fmt.Errorf("export: invalid --from date %q: %w", from, err)
				}
				ms := app.db.ToUnix(t)
				filter.UpdatedSince = &ms
			}

			filter.Deleted = &notDeleted
			skipped := 0
			written := 0
			if err := app.records.Iterate(ctx, filter, store.IterateOptions{}, func(page []store.Record) error {
				for i := range page {
					if skipped < skip {
						skipped++
						continue
					}
					if err := writeExportedRecord(out, &page[i], xpath, addDedupID); err != nil {
						return err
					}
					written++
				}
				return nil
			}); err != nil {
				return fmt.Errorf("export: iterate records: %w", err)
			}

			if deletedOut != nil {
				filter.Deleted = &deleted
				if err := app.records.Iterate(ctx, filter, store.IterateOptions{}, func(page []store.Record) error {
					for i := range page {
						if _, err := fmt.Fprintln(deletedOut, page[i].ID); err != nil {
							return err
						}
					}
					return nil
				}); err != nil {
					return fmt.Errorf("export: iterate deleted records: %w", err)
				}
			}

			if sortDedup {
				app.log.Warn("--sort-dedup requested: output is id-ordered, not resequenced by dedup group")
			}
			app.log.Info("export complete", zap.Int("written", written))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Output file for exported records")
	cmd.Flags().StringVar(&deletedFile, "deleted", "", "Output file for deleted record ids")
	cmd.Flags().StringVar(&from, "from", "", "Only export records updated at or after this date (RFC3339)")
	cmd.Flags().IntVar(&skip, "skip", 0, "Skip this many matching records before writing")
	cmd.Flags().StringVar(&source, "source", "", "Only export records from this source id")
	cmd.Flags().StringVar(&single, "single", "", "Export only this record id")
	cmd.Flags().StringVar(&xpath, "xpath", "", "Extract only this element's values instead of the full payload")
	cmd.Flags().BoolVar(&sortDedup, "sort-dedup", false, "Group output by dedup group")
	cmd.Flags().StringVar(&addDedupID, "add-dedup-id", "", "Add a dedup_id field: \"deduped\" (only merged records) or \"always\"")

	return cmd
}

// writeExportedRecord writes one record's payload (or, if xpath is set, the
// values of the element it names) to out, per spec §6's export verb.
func writeExportedRecord(out *os.File, rec *store.Record, xpath, addDedupID string) error {
	data := rec.NormalizedData
	if data == "" {
		data = rec.OriginalData
	}

	if xpath == "" {
		if _, err := fmt.Fprintln(out, data); err != nil {
			return err
		}
	} else {
		doc, err := driver.ParseDocument([]byte(data))
		if err != nil {
			return fmt.Errorf("export: parse %s for --xpath: %w", rec.ID, err)
		}
		for _, v := range doc.GetAll(xpath) {
			if _, err := fmt.Fprintln(out, v); err != nil {
				return err
			}
		}
	}

	shouldAddDedupID := addDedupID == "always" || (addDedupID == "deduped" && rec.DedupID != "")
	if shouldAddDedupID && rec.DedupID != "" {
		if _, err := fmt.Fprintf(out, "dedup_id=%s\n", rec.DedupID); err != nil {
			return err
		}
	}
	return nil
}
