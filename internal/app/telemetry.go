package app

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/madello/paarvai/internal/conf"
	"github.com/madello/paarvai/internal/errors"
)

const sentryFlushTimeout = 2 * time.Second

// InitTelemetry enables Sentry error reporting when configured. The returned
// function flushes pending events and must be called before exit.
func InitTelemetry(s conf.SentrySettings, release string) (func(), error) {
	if !s.Enabled {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              s.DSN,
		Environment:      s.Environment,
		Release:          "paarvai@" + release,
		SampleRate:       1.0,
		AttachStacktrace: false,
		ServerName:       "",
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		return nil, errors.New(err).
			Component(componentApp).
			Category(errors.CategoryConfiguration).
			Context("setting", "sentry.dsn").
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true, nil))

	return func() {
		sentry.Flush(sentryFlushTimeout)
	}, nil
}

// scrubEvent drops host details and scrubs URLs and credentials from messages.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	delete(event.Contexts, "device")
	delete(event.Contexts, "os")

	event.Message = errors.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
	}
	return event
}
