// Package config loads recordmanager.ini and datasources.ini.
//
// recordmanager.ini carries the ambient runtime configuration (site identity,
// database connection, Solr endpoint, HTTP client tuning, enrichment lookup
// endpoints). datasources.ini (see datasources.go) carries one section per
// harvested source. Both use gopkg.in/ini.v1 — mapping files (§4.3 of the
// spec) are a different, simpler key=value format and are parsed separately
// by internal/mapper.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Site holds identity/defaults applied to every outgoing Solr document.
type Site struct {
	Institution string
	Collection  string
}

// Database holds the Record Store backend connection.
type Database struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
}

// Solr holds the update endpoint configuration.
type Solr struct {
	UpdateURL          string
	Username            string
	Password            string
	MaxUpdateRecords    int
	MaxUpdateSize       int64
	MaxCommitInterval   int
	BuildingHierarchy   bool
}

// HTTP holds tuning shared by every outbound HTTP client (harvester, Solr,
// enrichment) built in internal/harvest, internal/solr and internal/enrich.
type HTTP struct {
	Timeout    time.Duration
	MaxTries   int
	RetryWait  time.Duration
	RetryWaitMax time.Duration
}

// Enrichment holds the URI-cache TTL shared by every enricher.
type Enrichment struct {
	CacheExpiration time.Duration
}

// AuthorityEnrichment configures the authority-lookup enricher (§4.8).
type AuthorityEnrichment struct {
	Enabled  bool
	BaseURL  string
}

// Scheduler configures the periodic job cron expressions used by the
// daemon-mode CLI command (internal/scheduler). Empty disables a job.
type Scheduler struct {
	HarvestAllCron   string
	DedupCron        string
	UpdateSolrCron   string
	QueueCleanupCron string
}

// Notifications configures the operator-alert channel (internal/notify).
type Notifications struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       string
	SMTPTLS      bool

	WebhookURL     string
	WebhookSecret  string
	WebhookEnabled bool
}

// Config is the parsed form of recordmanager.ini.
type Config struct {
	Site                Site
	Database            Database
	Solr                Solr
	HTTP                HTTP
	Enrichment          Enrichment
	AuthorityEnrichment AuthorityEnrichment
	Scheduler           Scheduler
	Notifications       Notifications
}

// Load parses recordmanager.ini from path and applies defaults for any value
// left unset, matching the teacher's envOrDefault pattern in cmd/server/main.go.
func Load(path string) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
	}

	cfg := &Config{}

	site := f.Section("Site")
	cfg.Site.Institution = site.Key("institution").MustString("MyInstitution")
	cfg.Site.Collection = site.Key("collection").MustString("MyCollection")

	database := f.Section("Database")
	cfg.Database.Driver = database.Key("driver").MustString("sqlite")
	cfg.Database.DSN = database.Key("dsn").MustString("./recordmanager.db")

	solr := f.Section("Solr")
	cfg.Solr.UpdateURL = solr.Key("update_url").MustString("http://localhost:8983/solr/biblio/update")
	cfg.Solr.Username = solr.Key("username").MustString("")
	cfg.Solr.Password = solr.Key("password").MustString("")
	cfg.Solr.MaxUpdateRecords = solr.Key("max_update_records").MustInt(5000)
	cfg.Solr.MaxUpdateSize = solr.Key("max_update_size").MustInt64(1048576)
	cfg.Solr.MaxCommitInterval = solr.Key("max_commit_interval").MustInt(50000)
	cfg.Solr.BuildingHierarchy = solr.Key("building_hierarchy").MustBool(false)

	httpSec := f.Section("HTTP")
	cfg.HTTP.Timeout = httpSec.Key("timeout").MustDuration(60 * time.Second)
	cfg.HTTP.MaxTries = httpSec.Key("max_tries").MustInt(5)
	cfg.HTTP.RetryWait = httpSec.Key("retry_wait").MustDuration(1 * time.Second)
	cfg.HTTP.RetryWaitMax = httpSec.Key("retry_wait_max").MustDuration(30 * time.Second)

	enrichment := f.Section("Enrichment")
	cfg.Enrichment.CacheExpiration = enrichment.Key("cache_expiration").MustDuration(14 * 24 * time.Hour)

	authEnrich := f.Section("AuthorityEnrichment")
	cfg.AuthorityEnrichment.Enabled = authEnrich.Key("enabled").MustBool(false)
	cfg.AuthorityEnrichment.BaseURL = authEnrich.Key("base_url").MustString("")

	scheduler := f.Section("Scheduler")
	cfg.Scheduler.HarvestAllCron = scheduler.Key("harvest_all_cron").MustString("")
	cfg.Scheduler.DedupCron = scheduler.Key("dedup_cron").MustString("")
	cfg.Scheduler.UpdateSolrCron = scheduler.Key("update_solr_cron").MustString("")
	cfg.Scheduler.QueueCleanupCron = scheduler.Key("queue_cleanup_cron").MustString("")

	notif := f.Section("Notifications")
	cfg.Notifications.SMTPHost = notif.Key("smtp_host").MustString("")
	cfg.Notifications.SMTPPort = notif.Key("smtp_port").MustInt(587)
	cfg.Notifications.SMTPUsername = notif.Key("smtp_username").MustString("")
	cfg.Notifications.SMTPPassword = notif.Key("smtp_password").MustString("")
	cfg.Notifications.SMTPFrom = notif.Key("smtp_from").MustString("")
	cfg.Notifications.SMTPTo = notif.Key("smtp_to").MustString("")
	cfg.Notifications.SMTPTLS = notif.Key("smtp_tls").MustBool(true)
	cfg.Notifications.WebhookURL = notif.Key("webhook_url").MustString("")
	cfg.Notifications.WebhookSecret = notif.Key("webhook_secret").MustString("")
	cfg.Notifications.WebhookEnabled = notif.Key("webhook_enabled").MustBool(false)

	return cfg, nil
}
