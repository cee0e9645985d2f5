// Package telemetry wires opt-in Sentry error reporting into the error
// builder. Events are stripped of host and user data before sending.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/repomigrate/internal/buildinfo"
	"github.com/tphakala/repomigrate/internal/conf"
	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
)

// DefaultFlushTimeout bounds how long shutdown waits for queued events
const DefaultFlushTimeout = 2 * time.Second

// allowedExtra lists the event extras that survive privacy filtering
var allowedExtra = map[string]bool{
	"error_type": true,
	"component":  true,
}

// Options controls Sentry initialization. Transport is only set by tests.
type Options struct {
	Settings   *conf.TelemetrySettings
	Build      *buildinfo.Info
	InstanceID string
	Transport  sentry.Transport
	Logger     logger.Logger
}

// Init initializes Sentry and registers it as the error reporter. It
// returns false without error when telemetry is disabled.
func Init(opts Options) (bool, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	log = log.Module(logger.ComponentTelemetry)

	if opts.Settings == nil || !opts.Settings.Enabled {
		log.Debug("sentry telemetry is disabled")
		return false, nil
	}

	sampleRate := opts.Settings.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	environment := opts.Settings.Environment
	if environment == "" {
		environment = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.Settings.DSN,
		SampleRate:       sampleRate,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "",
		Release:          opts.Build.Release(),
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return false, errors.Newf("sentry initialization failed: %w", err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("instance_id", opts.InstanceID)
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetContext("application", map[string]any{
			"name":       "repomigrate",
			"version":    opts.Build.Version(),
			"build_date": opts.Build.BuildDate(),
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Info("sentry telemetry initialized",
		logger.String("environment", environment),
		logger.Float64("sample_rate", sampleRate),
		logger.String("release", opts.Build.Release()))
	return true, nil
}

// applyPrivacyFilters drops data that could identify the host or operator
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if !allowedExtra[k] {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}

// CaptureMessage sends an informational event, used for task lifecycle
// milestones operators want to see next to errors.
func CaptureMessage(message string, level sentry.Level, component string) {
	hub := sentry.CurrentHub()
	if hub.Client() == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetLevel(level)
		hub.CaptureMessage(fmt.Sprintf("[%s] %s", component, message))
	})
}

// Shutdown detaches the reporter and flushes queued events.
func Shutdown(timeout time.Duration) {
	errors.SetTelemetryReporter(nil)
	if sentry.CurrentHub().Client() == nil {
		return
	}
	sentry.Flush(timeout)
}
