package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/driver"
	"github.com/KDK-Alli/RecordManager/internal/solr"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

func newManageCmd(flags *rootFlags) *cobra.Command {
	var (
		fn         string
		source     string
		single     string
		from       string
		noCommit   bool
		compare    string
		dumpPrefix string
	)

	cmd := &cobra.Command{
		Use:   "manage",
		Short: "Run one of the maintenance/indexing functions against the Record Store",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*flags)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			switch fn {
			case "renormalize":
				return app.manageRenormalize(ctx, source)
			case "deduplicate":
				return app.manageDeduplicate(ctx, source)
			case "markdeleted":
				return app.manageMarkDeleted(ctx, source, single)
			case "deleterecords":
				return app.manageDeleteRecords(ctx, source, single)
			case "deletesolr":
				return app.manageDeleteSolr(ctx, source)
			case "updatesolr":
				return app.manageUpdateSolr(ctx, source, single, from, noCommit, compare, dumpPrefix)
			case "optimizesolr":
				return app.solrClient.Optimize(ctx)
			case "checkdedup":
				return app.manageCheckDedup(ctx)
			case "count":
				return app.manageCount(ctx, source)
			case "dump":
				return app.manageDump(ctx, single)
			case "preview":
				return app.managePreview(ctx, source, single)
			default:
				return fmt.Errorf("manage: unknown --func %q", fn)
			}
		},
	}

	cmd.Flags().StringVar(&fn, "func", "", "Function to run: renormalize|deduplicate|markdeleted|deleterecords|deletesolr|updatesolr|optimizesolr|checkdedup|count|dump|preview")
	cmd.Flags().StringVar(&source, "source", "", "Restrict to this source id")
	cmd.Flags().StringVar(&single, "single", "", "Restrict to this record id")
	cmd.Flags().StringVar(&from, "from", "", "updatesolr: only consider records updated at or after this date (RFC3339)")
	cmd.Flags().BoolVar(&noCommit, "no-commit", false, "updatesolr: skip the periodic/final Solr commit")
	cmd.Flags().StringVar(&compare, "compare", "", "updatesolr: fetch each candidate document from Solr and write only the diffs to this file, instead of posting")
	cmd.Flags().StringVar(&dumpPrefix, "dump-prefix", "", "updatesolr: write batches as {dump-prefix}N.json files instead of posting")
	cmd.MarkFlagRequired("func")

	return cmd
}

// manageRenormalize implements `manage --func=renormalize`: re-run each
// record's driver Normalize() and rewrite NormalizedData, e.g. after a
// normalization rule change (spec §4.5 step 4).
func (a *App) manageRenormalize(ctx context.Context, source string) error {
	filter := store.RecordFilter{SourceID: source}
	count := 0
	err := a.records.Iterate(ctx, filter, store.IterateOptions{}, func(page []store.Record) error {
		for i := range page {
			rec := &page[i]
			d, err := driver.New(rec.Format, []byte(rec.OriginalData), rec.OAIID, rec.SourceID)
			if err != nil {
				a.log.Warn("renormalize: skipping unparsable record", zap.String("id", rec.ID), zap.Error(err))
				continue
			}
			d.Normalize()
			normalized, err := d.Serialize()
			if err != nil {
				a.log.Warn("renormalize: failed to serialize", zap.String("id", rec.ID), zap.Error(err))
				continue
			}
			if normalized == rec.OriginalData {
				normalized = ""
			}
			if err := a.records.Update(ctx, rec.ID, map[string]any{
				"normalized_data": normalized,
				"update_needed":   true,
				"updated":         a.db.Now(),
			}); err != nil {
				return fmt.Errorf("renormalize: update %s: %w", rec.ID, err)
			}
			count++
		}
		return nil
	})
	a.log.Info("renormalize complete", zap.Int("records", count))
	return err
}

// manageDeduplicate implements `manage --func=deduplicate` (spec §4.6).
// With --source, that source is processed even if dedup is disabled in
// datasources.ini, matching the verb's manual-override intent.
func (a *App) manageDeduplicate(ctx context.Context, source string) error {
	sourceIDs := dedupEnabledSourceIDs(a.sources)
	if source != "" {
		sourceIDs = map[string]bool{source: true}
	}
	n, err := a.engine.ProcessDirty(ctx, sourceIDs, store.IterateOptions{})
	a.log.Info("deduplicate complete", zap.Int("records_processed", n))
	return err
}

// manageMarkDeleted implements `manage --func=markdeleted`.
func (a *App) manageMarkDeleted(ctx context.Context, source, single string) error {
	if single != "" {
		return a.records.Update(ctx, single, map[string]any{"deleted": true, "update_needed": true, "updated": a.db.Now()})
	}
	n, err := a.records.UpdateMany(ctx, store.RecordFilter{SourceID: source}, map[string]any{
		"deleted": true, "update_needed": true, "updated": a.db.Now(),
	})
	a.log.Info("markdeleted complete", zap.Int64("records", n))
	return err
}

// manageDeleteRecords implements `manage --func=deleterecords`: a hard
// delete from the Record Store, distinct from markdeleted's soft tombstone.
func (a *App) manageDeleteRecords(ctx context.Context, source, single string) error {
	if single != "" {
		return a.records.Delete(ctx, single)
	}
	count := 0
	err := a.records.Iterate(ctx, store.RecordFilter{SourceID: source}, store.IterateOptions{}, func(page []store.Record) error {
		for i := range page {
			if err := a.records.Delete(ctx, page[i].ID); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	a.log.Info("deleterecords complete", zap.Int("records", count))
	return err
}

// manageDeleteSolr implements `manage --func=deletesolr` (spec §4.7's
// source-removal path).
func (a *App) manageDeleteSolr(ctx context.Context, source string) error {
	if source == "" {
		return fmt.Errorf("manage: deletesolr requires --source")
	}
	ds, ok := a.sources[source]
	if !ok {
		return fmt.Errorf("manage: unknown source %q", source)
	}
	return a.pipeline.DeleteDataSource(ctx, source, ds.IDPrefix, ds.Dedup)
}

// manageUpdateSolr implements `manage --func=updatesolr` (spec §4.7).
func (a *App) manageUpdateSolr(ctx context.Context, source, single, from string, noCommit bool, compare, dumpPrefix string) error {
	opts := solr.RunOptions{SourceID: source, SingleID: single, NoCommit: noCommit, Compare: compare, DumpPrefix: dumpPrefix}
	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return fmt.Errorf("manage: invalid --from date %q: %w", from, err)
		}
		opts.FromDate = &t
	}
	return a.pipeline.Run(ctx, opts)
}

// manageCheckDedup implements `manage --func=checkdedup` (spec §4.6's
// consistency check).
func (a *App) manageCheckDedup(ctx context.Context) error {
	entries, err := a.engine.CheckConsistency(ctx, store.IterateOptions{})
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		summaries := make([]string, 0, len(entries))
		for _, e := range entries {
			summaries = append(summaries, fmt.Sprintf("%s: %s (%s)", e.GroupID, e.Action, e.Detail))
		}
		if err := a.notifier.InvariantViolationRepaired(ctx, len(entries), summaries); err != nil {
			a.log.Warn("failed to send invariant-violation notification", zap.Error(err))
		}
	}
	a.log.Info("checkdedup complete", zap.Int("repairs", len(entries)))
	return nil
}

// manageCount implements `manage --func=count`.
func (a *App) manageCount(ctx context.Context, source string) error {
	n, err := a.records.CountBySource(ctx, source)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

// manageDump implements `manage --func=dump`: print one record's stored
// payload verbatim, for operator inspection.
func (a *App) manageDump(ctx context.Context, single string) error {
	if single == "" {
		return fmt.Errorf("manage: dump requires --single")
	}
	rec, err := a.records.Get(ctx, single)
	if err != nil {
		return err
	}
	data := rec.NormalizedData
	if data == "" {
		data = rec.OriginalData
	}
	fmt.Println(data)
	return nil
}

// managePreview implements `manage --func=preview`: build and print the
// Solr document that updatesolr would write for this record, without
// sending it.
func (a *App) managePreview(ctx context.Context, source, single string) error {
	if single == "" {
		return fmt.Errorf("manage: preview requires --single")
	}
	defaults := solr.SourceDefaults{Institution: a.cfg.Site.Institution, Collection: a.cfg.Site.Collection}
	if ds, ok := a.sources[source]; ok {
		if ds.Institution != "" {
			defaults.Institution = ds.Institution
		}
		defaults.BuildingHierarchy = a.cfg.Solr.BuildingHierarchy
		defaults.PrependParentTitleWithUnitID = ds.PrependParentTitleWithUnitID
	}
	doc, ok, err := a.pipeline.PreviewDocument(ctx, single, defaults)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("(no document: record deleted or is a component part)")
		return nil
	}
	for k, v := range doc {
		fmt.Printf("%s: %v\n", k, v)
	}
	return nil
}
