package observability

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/config"
)

// InitSentry configures the Sentry SDK using application config. Disabled or
// unconfigured Sentry is not an error.
func InitSentry(cfg config.SentryConfig, fallbackEnv string) error {
	if !cfg.Enabled || cfg.DSN == "" {
		return nil
	}

	environment := cfg.Environment
	if environment == "" {
		environment = fallbackEnv
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: environment,
		Release:     cfg.Release,
		SampleRate:  cfg.SampleRate,
	})
}

// Flush drains buffered Sentry events during shutdown.
func Flush() {
	sentry.Flush(2 * time.Second)
}

// CaptureError reports an error when Sentry is active.
func CaptureError(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}
