package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	_ "time/tzdata"

	"github.com/tphakala/repomigrate/internal/errors"
)

// Migration engine components. Their records are also written to the
// activity log when it is enabled.
const (
	ComponentExecutor   = "executor"
	ComponentCopier     = "copier"
	ComponentReconciler = "reconciler"
	ComponentScheduler  = "scheduler"
	ComponentRegistry   = "registry"
)

// Service components
const (
	ComponentDatastore = "datastore"
	ComponentStorage   = "storage"
	ComponentMetrics   = "metrics"
	ComponentTelemetry = "telemetry"
	ComponentServe     = "serve"
)

var activityComponents = []string{
	ComponentExecutor,
	ComponentCopier,
	ComponentReconciler,
	ComponentScheduler,
	ComponentRegistry,
}

// IsActivityComponent reports whether records of component go to the
// migration activity log.
func IsActivityComponent(component string) bool {
	return slices.Contains(activityComponents, component)
}

// route is the resolved output of one component
type route struct {
	log   *slog.Logger
	level slog.Level
}

// CentralLogger owns the log outputs of the process and hands out
// component loggers routed to them.
type CentralLogger struct {
	cfg          LoggingConfig
	tz           *time.Location
	console      io.Writer
	defaultLevel slog.Level
	levels       map[string]slog.Level

	service  *fileSink
	activity *fileSink

	mu     sync.Mutex
	routes map[string]route
}

// NewCentralLogger opens the configured outputs. Without any enabled output
// records go to stdout.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	return newCentralLogger(cfg.withDefaults(), os.Stdout, sinkFlushInterval)
}

func newCentralLogger(cfg LoggingConfig, console io.Writer, flushInterval time.Duration) (*CentralLogger, error) {
	tz := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		var err error
		if tz, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
	}

	cl := &CentralLogger{
		cfg:          cfg,
		tz:           tz,
		console:      console,
		defaultLevel: parseLevel(cfg.DefaultLevel),
		levels:       make(map[string]slog.Level, len(cfg.ModuleLevels)),
		routes:       make(map[string]route),
	}
	for component, level := range cfg.ModuleLevels {
		cl.levels[component] = parseLevel(level)
	}

	if cfg.FileOutput.Enabled {
		sink, err := openFileSink(cfg.FileOutput.Path, cfg.FileOutput, flushInterval)
		if err != nil {
			return nil, err
		}
		cl.service = sink
	}
	if cfg.Activity.Enabled {
		sink, err := openFileSink(cfg.Activity.Path, cfg.FileOutput, flushInterval)
		if err != nil {
			_ = cl.Close()
			return nil, err
		}
		cl.activity = sink
	}
	return cl, nil
}

// Module returns the logger of a component. The component name selects the
// level and whether records also go to the activity log.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	return &componentLogger{central: cl, module: name, route: cl.route(name)}
}

func (cl *CentralLogger) route(component string) route {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if r, ok := cl.routes[component]; ok {
		return r
	}

	level := cl.defaultLevel
	if l, ok := cl.levels[component]; ok {
		level = l
	}

	var handlers []slog.Handler
	if cl.cfg.Console.Enabled {
		handlers = append(handlers, textHandler(cl.console, parseLevel(levelOr(cl.cfg.Console.Level, cl.cfg.DefaultLevel)), nil))
	}
	if cl.service != nil {
		handlers = append(handlers, jsonHandler(cl.service, parseLevel(levelOr(cl.cfg.FileOutput.Level, cl.cfg.DefaultLevel)), cl.tz))
	}
	if cl.activity != nil && IsActivityComponent(component) {
		handlers = append(handlers, jsonHandler(cl.activity, parseLevel(levelOr(cl.cfg.Activity.Level, cl.cfg.DefaultLevel)), cl.tz))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = textHandler(cl.console, level, nil)
	case 1:
		handler = handlers[0]
	default:
		handler = slog.NewMultiHandler(handlers...)
	}

	r := route{log: slog.New(handler), level: level}
	cl.routes[component] = r
	return r
}

func (cl *CentralLogger) sinks() []*fileSink {
	var sinks []*fileSink
	if cl.service != nil {
		sinks = append(sinks, cl.service)
	}
	if cl.activity != nil {
		sinks = append(sinks, cl.activity)
	}
	return sinks
}

// Flush writes buffered file output
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	var errs []error
	for _, s := range cl.sinks() {
		if err := s.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush %s: %w", s.path, err))
		}
	}
	return errors.Join(errs...)
}

// Rotate starts new service and activity log files
func (cl *CentralLogger) Rotate() error {
	if cl == nil {
		return nil
	}
	var errs []error
	for _, s := range cl.sinks() {
		if err := s.Rotate(); err != nil {
			errs = append(errs, fmt.Errorf("failed to rotate %s: %w", s.path, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes the log files
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	var errs []error
	for _, s := range cl.sinks() {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", s.path, err))
		}
	}
	return errors.Join(errs...)
}

// componentLogger implements Logger. Sub-modules of a central logger are
// routed by their own name; standalone loggers share a single route.
type componentLogger struct {
	central *CentralLogger
	module  string
	route   route
	fields  []Field
}

// NewSlogLogger creates a standalone text Logger writing to w. A nil writer
// means stdout; a nil tz leaves out timestamps.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stdout
	}
	lvl := parseLevel(string(level))
	return &componentLogger{route: route{log: slog.New(textHandler(w, lvl, tz)), level: lvl}}
}

func (m *componentLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}
	module := name
	if m.module != "" {
		module = m.module + "." + name
	}
	r := m.route
	if m.central != nil {
		r = m.central.route(name)
	}
	return &componentLogger{central: m.central, module: module, route: r, fields: slices.Clone(m.fields)}
}

func (m *componentLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}
	return &componentLogger{central: m.central, module: m.module, route: m.route, fields: slices.Concat(m.fields, fields)}
}

func (m *componentLogger) WithContext(ctx context.Context) Logger {
	if m == nil {
		return nil
	}
	if id := traceIDFrom(ctx); id != "" {
		return m.With(String("trace_id", id))
	}
	return m
}

func (m *componentLogger) Trace(msg string, fields ...Field) { m.emit(levelTrace, msg, fields) }
func (m *componentLogger) Debug(msg string, fields ...Field) { m.emit(slog.LevelDebug, msg, fields) }
func (m *componentLogger) Info(msg string, fields ...Field)  { m.emit(slog.LevelInfo, msg, fields) }
func (m *componentLogger) Warn(msg string, fields ...Field)  { m.emit(slog.LevelWarn, msg, fields) }
func (m *componentLogger) Error(msg string, fields ...Field) { m.emit(slog.LevelError, msg, fields) }

func (m *componentLogger) Log(level LogLevel, msg string, fields ...Field) {
	m.emit(parseLevel(string(level)), msg, fields)
}

// Flush flushes the outputs of the owning central logger
func (m *componentLogger) Flush() error {
	if m == nil || m.central == nil {
		return nil
	}
	return m.central.Flush()
}

func (m *componentLogger) emit(level slog.Level, msg string, fields []Field) {
	if m == nil || level < m.route.level {
		return
	}
	attrs := make([]slog.Attr, 0, 1+len(m.fields)+len(fields))
	if m.module != "" {
		attrs = append(attrs, slog.String("module", m.module))
	}
	for _, f := range m.fields {
		attrs = append(attrs, f.attr())
	}
	for _, f := range fields {
		attrs = append(attrs, f.attr())
	}
	m.route.log.LogAttrs(context.Background(), level, msg, attrs...)
}
