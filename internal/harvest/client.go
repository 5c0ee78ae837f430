package harvest

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/KDK-Alli/RecordManager/internal/config"
)

// NewHTTPClient builds the shared retrying HTTP client of spec §4.4: "HTTP
// errors retry with exponential backoff, capped at max_tries attempts with
// retry_wait seconds baseline, doubling up to a cap of 30s; 404 is
// non-retryable." internal/solr and internal/enrich are handed this same
// client, so every outbound HTTP call in the pipeline shares one policy.
func NewHTTPClient(cfg config.HTTP, log *zap.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = cfg.Timeout
	// RetryMax counts retries after the first attempt.
	c.RetryMax = cfg.MaxTries - 1
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	c.RetryWaitMin = cfg.RetryWait
	c.RetryWaitMax = cfg.RetryWaitMax
	c.Logger = zapRetryableLogger{log.Named("http")}
	c.CheckRetry = checkRetry
	return c
}

// checkRetry treats 404 as non-retryable (spec §4.4) and otherwise defers to
// retryablehttp's default policy (network errors and 5xx/429 retry).
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// zapRetryableLogger adapts *zap.Logger to retryablehttp.LeveledLogger.
type zapRetryableLogger struct {
	log *zap.Logger
}

func (l zapRetryableLogger) Error(msg string, kv ...any) { l.log.Sugar().Errorw(msg, kv...) }
func (l zapRetryableLogger) Info(msg string, kv ...any)  { l.log.Sugar().Infow(msg, kv...) }
func (l zapRetryableLogger) Debug(msg string, kv ...any) { l.log.Sugar().Debugw(msg, kv...) }
func (l zapRetryableLogger) Warn(msg string, kv ...any)  { l.log.Sugar().Warnw(msg, kv...) }
