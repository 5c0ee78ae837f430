// Package notify delivers operator alerts for conditions spec.md says are
// "reported to the operator but not retried" — expired resumption tokens
// (§4.4), repair-log entries from the dedup consistency check (§4.6), and
// Solr update failures (§4.7) — over email and/or a signed webhook.
//
// Unlike the teacher's internal/notification, there is no in-app
// notification table or WebSocket fan-out: RecordManager is a batch
// pipeline with no live GUI, so the [Notifications] section of
// recordmanager.ini is the only source of recipients.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/config"
)

// Notifier is the single entry point for operator alerts. Callers use the
// typed methods rather than constructing events manually so message content
// stays consistent.
type Notifier interface {
	// ResumptionTokenExpired reports an OAI-PMH resumption token that the
	// harvester could not resume from (spec §4.4); the harvest is left
	// PAUSED and must be restarted manually or by the next scheduled run.
	ResumptionTokenExpired(ctx context.Context, sourceID, token string) error

	// HarvestFailed reports a harvest that ended in state FAILED after
	// exhausting retries (spec §4.4).
	HarvestFailed(ctx context.Context, sourceID string, cause error) error

	// InvariantViolationRepaired reports that the dedup consistency check
	// (spec §4.6) found and repaired one or more Dedup Group invariant
	// violations. entries is a human-readable summary of the repair log.
	InvariantViolationRepaired(ctx context.Context, groupCount int, entries []string) error

	// SolrUpdateFailed reports a Merge & Solr Update Pipeline run (spec
	// §4.7) that aborted before committing, leaving the checkpoint
	// unadvanced so the next run retries the same queue.
	SolrUpdateFailed(ctx context.Context, queueName string, cause error) error
}

type notifier struct {
	email   *emailSender
	webhook *webhookSender
	log     *zap.Logger
}

// New builds a Notifier from the [Notifications] section of the loaded
// config. Both channels reload their configuration on every send, so the
// returned Notifier always reflects the config passed at construction time.
func New(cfg config.Notifications, log *zap.Logger) Notifier {
	n := &notifier{log: log.Named("notify")}
	n.email = newEmailSender(func(context.Context) (*SMTPConfig, error) {
		return smtpConfigFrom(cfg)
	})
	n.webhook = newWebhookSender(func(context.Context) (*WebhookConfig, error) {
		return webhookConfigFrom(cfg)
	})
	return n
}

func (n *notifier) ResumptionTokenExpired(ctx context.Context, sourceID, token string) error {
	return n.dispatch(ctx, event{
		notifType: "resumption_token_expired",
		title:     fmt.Sprintf("Harvest paused: %s", sourceID),
		body: fmt.Sprintf(
			"Source %q could not resume OAI-PMH harvesting from token %q at %s. "+
				"The harvest is paused and will not retry automatically; restart it manually.",
			sourceID, token, nowUTC()),
		payload: map[string]any{"source_id": sourceID, "resumption_token": token},
	})
}

func (n *notifier) HarvestFailed(ctx context.Context, sourceID string, cause error) error {
	return n.dispatch(ctx, event{
		notifType: "harvest_failed",
		title:     fmt.Sprintf("Harvest failed: %s", sourceID),
		body:      fmt.Sprintf("Source %q harvest failed at %s: %s", sourceID, nowUTC(), cause),
		payload:   map[string]any{"source_id": sourceID, "error": cause.Error()},
	})
}

func (n *notifier) InvariantViolationRepaired(ctx context.Context, groupCount int, entries []string) error {
	return n.dispatch(ctx, event{
		notifType: "invariant_violation_repaired",
		title:     fmt.Sprintf("Dedup consistency repair: %d group(s)", groupCount),
		body: fmt.Sprintf(
			"The dedup consistency check repaired %d Dedup Group(s) at %s:\n%s",
			groupCount, nowUTC(), joinLines(entries)),
		payload: map[string]any{"group_count": groupCount, "entries": entries},
	})
}

func (n *notifier) SolrUpdateFailed(ctx context.Context, queueName string, cause error) error {
	return n.dispatch(ctx, event{
		notifType: "solr_update_failed",
		title:     fmt.Sprintf("Solr update failed: %s", queueName),
		body: fmt.Sprintf(
			"Queue %q aborted before commit at %s: %s. The checkpoint was not advanced; the next run retries the same queue.",
			queueName, nowUTC(), cause),
		payload: map[string]any{"queue": queueName, "error": cause.Error()},
	})
}

// event carries the data for a single notification before it is fanned out
// to the configured delivery channels.
type event struct {
	notifType string
	title     string
	body      string
	payload   map[string]any
}

// dispatch fans an event out to every configured channel. A channel failure
// is logged, not returned — the whole point of this package is to surface
// operator-facing conditions without ever blocking or failing the pipeline
// run that triggered them.
func (n *notifier) dispatch(ctx context.Context, ev event) error {
	if err := n.email.Send(ctx, ev.title, ev.body); err != nil {
		n.log.Warn("email notification delivery failed", zap.String("type", ev.notifType), zap.Error(err))
	}
	if err := n.webhook.Send(ctx, ev.notifType, ev.title, ev.body, ev.payload); err != nil {
		n.log.Warn("webhook notification delivery failed", zap.String("type", ev.notifType), zap.Error(err))
	}
	return nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += "- " + l + "\n"
	}
	return out
}
