// Package logging builds the application's zap.Logger from a level string.
// Every other package accepts a *zap.Logger from its constructor and calls
// Named to scope its own log lines — there is no package-level logger and
// no fmt.Println anywhere in the pipeline.
package logging

import "go.uber.org/zap"

// Build returns a *zap.Logger configured for the given level
// (debug|info|warn|error). Unknown levels fall back to info, matching the
// CLI's default log level.
func Build(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
