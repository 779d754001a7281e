// Package reporting forwards failures that end in a dropped event to an
// error tracker.
package reporting

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"go-upload-notifier/internal/infrastructure/config"
)

// Reporter records an error that no caller will see.
type Reporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
}

type nop struct{}

func (nop) Report(context.Context, error, map[string]string) {}

// Nop discards reports.
func Nop() Reporter { return nop{} }

// Sentry reports to a Sentry project.
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry initialises the Sentry client. With an empty DSN it returns a
// Nop reporter.
func NewSentry(cfg config.SentryConfig) (Reporter, func(), error) {
	if cfg.DSN == "" {
		return Nop(), func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
	if err != nil {
		return nil, nil, err
	}

	flush := func() { sentry.Flush(2 * time.Second) }
	return &Sentry{hub: sentry.CurrentHub()}, flush, nil
}

func (s *Sentry) Report(ctx context.Context, err error, tags map[string]string) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = s.hub.Clone()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}
