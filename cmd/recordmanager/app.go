package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/KDK-Alli/RecordManager/internal/config"
	"github.com/KDK-Alli/RecordManager/internal/dedup"
	"github.com/KDK-Alli/RecordManager/internal/enrich"
	"github.com/KDK-Alli/RecordManager/internal/harvest"
	"github.com/KDK-Alli/RecordManager/internal/ingest"
	"github.com/KDK-Alli/RecordManager/internal/logging"
	"github.com/KDK-Alli/RecordManager/internal/mapper"
	"github.com/KDK-Alli/RecordManager/internal/notify"
	"github.com/KDK-Alli/RecordManager/internal/solr"
	"github.com/KDK-Alli/RecordManager/internal/store"
)

// rootFlags carries the persistent flags every subcommand shares, sourced
// from envOrDefault the way the teacher's cmd/server/main.go does.
type rootFlags struct {
	configPath      string
	datasourcesPath string
	mappingsDir     string
	logLevel        string
}

// App is the set of services every CLI verb builds once and operates on.
// Built fresh per invocation — RecordManager's concurrency model (spec §5)
// is independent OS processes, not a long-lived shared server, so there is
// no benefit to caching this across commands.
type App struct {
	cfg     *config.Config
	sources map[string]*config.DataSource

	db       *store.DB
	records  store.RecordRepository
	groups   store.DedupGroupRepository
	queues   store.QueueRepository
	state    store.StateRepository
	uricache store.URICacheRepository

	httpClient *retryablehttp.Client
	notifier   notify.Notifier
	ingester   *ingest.Ingester
	harvester  *harvest.Harvester
	engine     *dedup.Engine
	pipeline   *solr.Pipeline
	solrClient *solr.Client

	log *zap.Logger
}

// buildApp loads both config files, opens the Record Store, and wires every
// pipeline stage, mirroring the teacher's run() numbered bootstrap steps.
func buildApp(flags rootFlags) (*App, error) {
	log, err := logging.Build(flags.logLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", flags.configPath, err)
	}

	sources, err := config.LoadDataSources(flags.datasourcesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", flags.datasourcesPath, err)
	}

	db, err := store.Open(store.Config{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		Logger:   log,
		LogLevel: gormLogLevel(flags.logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	records := store.NewRecordRepository(db)
	groups := store.NewDedupGroupRepository(db)
	queues := store.NewQueueRepository(db)
	state := store.NewStateRepository(db)
	uricache := store.NewURICacheRepository(db)

	httpClient := harvest.NewHTTPClient(cfg.HTTP, log)
	notifier := notify.New(cfg.Notifications, log)

	ingester := ingest.New(records, groups, db, log)
	harvester := harvest.New(ingester, records, state, db, notifier, log)

	engine, err := dedup.NewEngine(records, groups, db, log, dedup.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to build dedup engine: %w", err)
	}

	m, err := mapper.Load(flags.mappingsDir, mergedFieldConfig(sources))
	if err != nil {
		return nil, fmt.Errorf("failed to load field mappings from %s: %w", flags.mappingsDir, err)
	}

	var enricher enrich.Enricher
	if cfg.AuthorityEnrichment.Enabled {
		enricher = enrich.Chain{
			&enrich.AuthorityEnricher{
				Client:          httpClient,
				BaseURL:         cfg.AuthorityEnrichment.BaseURL,
				Cache:           uricache,
				CacheExpiration: cfg.Enrichment.CacheExpiration,
				SourceField:     "topic_uri",
				TargetField:     "topic_preferred",
			},
		}
	}

	solrClient := solr.NewClient(httpClient, cfg.Solr.UpdateURL, cfg.Solr.Username, cfg.Solr.Password)
	pipeline := solr.New(records, groups, queues, state, db, solrClient, m, enricher, notifier, log, cfg.Solr, cfg.Site)

	return &App{
		cfg: cfg, sources: sources,
		db: db, records: records, groups: groups, queues: queues, state: state, uricache: uricache,
		httpClient: httpClient, notifier: notifier,
		ingester: ingester, harvester: harvester, engine: engine, pipeline: pipeline, solrClient: solrClient,
		log: log,
	}, nil
}

// Close releases the Record Store connection and flushes logs.
func (a *App) Close() {
	if sqlDB, err := a.db.DB.DB(); err == nil {
		sqlDB.Close()
	}
	_ = a.log.Sync()
}

// mergedFieldConfig combines every data source's FieldMappings into one
// mapper.FieldConfig. Field mappings are effectively Solr-schema-wide in
// this repo's single shared Pipeline/Mapper (see DESIGN.md); when two
// sources configure the same field differently, whichever source the map
// iteration visits last wins. That order is not defined, and no warning is
// logged for the conflict.
func mergedFieldConfig(sources map[string]*config.DataSource) mapper.FieldConfig {
	merged := mapper.FieldConfig{}
	for _, ds := range sources {
		for field, refs := range ds.FieldMappings {
			merged[field] = refs
		}
	}
	return merged
}

// sourceIngestConfig translates a config.DataSource into ingest.SourceConfig.
// Splitter/PreTransform are left nil: XSLT-stylesheet transforms are an
// explicit spec.md Non-goal (§1, "treated as collaborators with contracts"),
// so a source configuring recordSplitter/preTransformation gets no-op
// behavior here rather than a fabricated XSLT engine.
func sourceIngestConfig(ds *config.DataSource) ingest.SourceConfig {
	return ingest.SourceConfig{
		ID:                          ds.ID,
		IDPrefix:                    ds.IDPrefix,
		Format:                      ds.Format,
		DedupEnabled:                ds.Dedup,
		KeepMissingHierarchyMembers: ds.KeepMissingHierarchyMembers,
	}
}

// buildFetcher constructs the incremental Fetcher for oai-pmh/sierra
// sources. ok is false for full-set source types (sfx/metalib/metalib_export),
// which buildFullSetFetcher handles instead.
func (a *App) buildFetcher(ds *config.DataSource) (harvest.Fetcher, bool) {
	switch ds.Type {
	case "oai-pmh", "":
		ignored := map[string]bool{}
		for _, id := range strings.Split(ds.DriverParams["ignoredIds"], ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				ignored[id] = true
			}
		}
		return &harvest.OAIPMHFetcher{
			Client:         a.httpClient,
			BaseURL:        ds.URL,
			MetadataPrefix: ds.DriverParams["metadataPrefix"],
			Set:            ds.DriverParams["set"],
			IgnoredIDs:     ignored,
		}, true
	case "sierra":
		pageSize, _ := strconv.Atoi(ds.DriverParams["pageSize"])
		return &harvest.SierraFetcher{
			Client:   a.httpClient,
			BaseURL:  ds.URL,
			APIKey:   ds.DriverParams["apiKey"],
			PageSize: pageSize,
		}, true
	default:
		return nil, false
	}
}

// buildFullSetFetcher constructs the FullSetFetcher for sfx/metalib/
// metalib_export sources.
func (a *App) buildFullSetFetcher(ds *config.DataSource) (harvest.FullSetFetcher, bool) {
	switch ds.Type {
	case "sfx", "metalib", "metalib_export":
		return &harvest.MetaLibFetcher{Client: a.httpClient, BaseURL: ds.URL}, true
	default:
		return nil, false
	}
}

// deletionMode translates a data source's `deletions` config key.
func deletionMode(ds *config.DataSource) harvest.DeletionMode {
	switch ds.Deletions {
	case string(harvest.DeletionModeListIdentifiers):
		return harvest.DeletionModeListIdentifiers
	case string(harvest.DeletionModeFullReharvest):
		return harvest.DeletionModeFullReharvest
	default:
		return harvest.DeletionModeNone
	}
}

// gormLogLevel maps the application log level string to a GORM logger
// level, matching the teacher's cmd/server/main.go gormLogLevel.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

// sortedSourceIDs returns every configured source id, sorted, optionally
// excluding the ids in exclude.
func sortedSourceIDs(sources map[string]*config.DataSource, exclude map[string]bool) []string {
	ids := make([]string, 0, len(sources))
	for id := range sources {
		if exclude[id] {
			continue
		}
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// dedupEnabledSourceIDs returns a set of every source id with dedup enabled,
// for dedup.Engine.ProcessDirty's sourceIDs parameter.
func dedupEnabledSourceIDs(sources map[string]*config.DataSource) map[string]bool {
	out := make(map[string]bool, len(sources))
	for id, ds := range sources {
		out[id] = ds.Dedup
	}
	return out
}
