package app

import (
	"github.com/tphakala/repomigrate/internal/buildinfo"
	"github.com/tphakala/repomigrate/internal/conf"
	"github.com/tphakala/repomigrate/internal/logger"
	"github.com/tphakala/repomigrate/internal/telemetry"
)

// Bootstrap sets up logging and telemetry from settings and opens the
// runtime. Close on the returned runtime tears all of it down.
func Bootstrap(settings *conf.Settings, info *buildinfo.Info) (*Runtime, error) {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, err
	}
	log := central.Module("repomigrate")

	telemetryEnabled, err := telemetry.Init(telemetry.Options{
		Settings:   &settings.Telemetry,
		Build:      info,
		InstanceID: settings.Migrate.InstanceID,
		Logger:     log,
	})
	if err != nil {
		// Telemetry is optional, keep running without it
		log.Warn("telemetry disabled after initialization failure", logger.Error(err))
	}

	rt, err := Open(settings, log)
	if err != nil {
		if telemetryEnabled {
			telemetry.Shutdown(telemetry.DefaultFlushTimeout)
		}
		_ = central.Close()
		return nil, err
	}

	if telemetryEnabled {
		rt.onClose(func() error {
			telemetry.Shutdown(telemetry.DefaultFlushTimeout)
			return nil
		})
	}
	rt.onClose(central.Close)

	log.Info("repomigrate starting",
		logger.String("version", info.Version()),
		logger.String("build_date", info.BuildDate()),
		logger.InstanceID(settings.Migrate.InstanceID))
	return rt, nil
}
