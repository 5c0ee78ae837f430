package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/harvest"
	"github.com/KDK-Alli/RecordManager/internal/metrics"
	"github.com/KDK-Alli/RecordManager/internal/scheduler"
	"github.com/KDK-Alli/RecordManager/internal/solr"
)

// metricsShutdownTimeout bounds how long the /metrics HTTP server is given
// to drain in-flight scrapes during daemon shutdown.
const metricsShutdownTimeout = 5 * time.Second


func newServeCmd(flags *rootFlags) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run harvest/dedup/updatesolr/queue-cleanup on their configured schedules until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*flags)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sched, err := scheduler.New(app.log)
			if err != nil {
				return err
			}

			if err := sched.AddJob(scheduler.Job{
				Name:     "harvest-all",
				CronExpr: app.cfg.Scheduler.HarvestAllCron,
				Run:      app.runHarvestAll,
			}); err != nil {
				return err
			}
			if err := sched.AddJob(scheduler.Job{
				Name:     "dedup",
				CronExpr: app.cfg.Scheduler.DedupCron,
				Run:      func(ctx context.Context) error { return app.manageDeduplicate(ctx, "") },
			}); err != nil {
				return err
			}
			if err := sched.AddJob(scheduler.Job{
				Name:     "update-solr",
				CronExpr: app.cfg.Scheduler.UpdateSolrCron,
				Run:      func(ctx context.Context) error { return app.pipeline.Run(ctx, solr.RunOptions{}) },
			}); err != nil {
				return err
			}
			if err := sched.AddJob(scheduler.Job{
				Name:     "queue-cleanup",
				CronExpr: app.cfg.Scheduler.QueueCleanupCron,
				Run:      app.runQueueCleanup,
			}); err != nil {
				return err
			}

			sched.Start()
			defer func() {
				if err := sched.Stop(); err != nil {
					app.log.Warn("scheduler shutdown error", zap.Error(err))
				}
			}()

			var metricsSrv *http.Server
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					app.log.Info("metrics server listening", zap.String("addr", metricsAddr))
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						app.log.Error("metrics server error", zap.Error(err))
					}
				}()
			}

			app.log.Info("recordmanager daemon started")
			<-ctx.Done()
			app.log.Info("recordmanager daemon shutting down")
			if metricsSrv != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
				defer shutdownCancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", envOrDefault("RECORDMANAGER_METRICS_ADDR", ""), "Listen address for the Prometheus /metrics endpoint (empty disables it)")
	return cmd
}

// runHarvestAll is the scheduler's harvest-all job: every configured source
// in id order, best-effort (one source's failure doesn't block the rest).
func (a *App) runHarvestAll(ctx context.Context) error {
	for _, id := range sortedSourceIDs(a.sources, nil) {
		if err := a.harvestOne(ctx, id, harvestOptsZero()); err != nil {
			a.log.Error("scheduled harvest failed", zap.String("source", id), zap.Error(err))
		}
	}
	return nil
}

// runQueueCleanup drops finalized Solr-update queues older than
// store.QueueMaxAge (spec §3, §5).
func (a *App) runQueueCleanup(ctx context.Context) error {
	n, err := a.queues.CleanupOld(ctx, a.db.Now())
	if err != nil {
		return err
	}
	a.log.Info("queue cleanup complete", zap.Int("queues_removed", n))
	return nil
}

// harvestOptsZero is the default harvest.RunOptions for the scheduled
// harvest-all job: no overrides, resume from each source's stored state.
func harvestOptsZero() harvest.RunOptions {
	return harvest.RunOptions{}
}
