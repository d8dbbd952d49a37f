// Package plugin bundles a trace collector with progress and call logging
// observers into per-execution sessions.
package plugin

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/execution-tracer/pkg/tracer"
)

// DefaultName is the plugin name used when none is configured.
const DefaultName = "call-tracer"

// ErrEmptyName is returned when a plugin is configured without a name.
var ErrEmptyName = errors.New("plugin name is required")

// Config configures the plugin.
type Config struct {
	// Name labels sessions in logs and metrics.
	Name string `yaml:"name" default:"call-tracer"`
	// Verbose logs execution progress at info level.
	Verbose bool `yaml:"verbose"`
	// LogSteps records steps into the trace. When false the tracer runs with
	// verbosity off regardless of its own setting.
	LogSteps bool `yaml:"logSteps" default:"true"`
	// TraceCalls logs every frame as it is entered and exited.
	TraceCalls bool `yaml:"traceCalls" default:"true"`

	Tracer tracer.Config `yaml:"tracer"`
}

// DefaultConfig returns a config with step recording and call tracing enabled.
func DefaultConfig() Config {
	return Config{
		Name:       DefaultName,
		LogSteps:   true,
		TraceCalls: true,
		Tracer:     tracer.DefaultConfig(),
	}
}

// Validate validates the plugin configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return ErrEmptyName
	}

	if err := c.Tracer.Validate(); err != nil {
		return fmt.Errorf("invalid tracer config: %w", err)
	}

	return nil
}

// tracerConfig returns the collector configuration sessions are created with.
func (c *Config) tracerConfig() tracer.Config {
	cfg := c.Tracer
	if !c.LogSteps {
		cfg.Verbosity = tracer.VerbosityOff
	}

	return cfg
}

// Plugin creates tracing sessions from a fixed configuration.
type Plugin struct {
	log logrus.FieldLogger
	cfg Config
}

// New creates a new plugin.
func New(log logrus.FieldLogger, cfg Config) *Plugin {
	return &Plugin{
		log: log.WithField("plugin", cfg.Name),
		cfg: cfg,
	}
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return p.cfg.Name
}

// Config returns the plugin configuration.
func (p *Plugin) Config() Config {
	return p.cfg
}

// Init validates the configuration. It must be called before NewSession.
func (p *Plugin) Init() error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}

	p.log.WithFields(logrus.Fields{
		"verbose":     p.cfg.Verbose,
		"log_steps":   p.cfg.LogSteps,
		"trace_calls": p.cfg.TraceCalls,
		"verbosity":   p.cfg.tracerConfig().Verbosity,
	}).Info("Initialized tracer plugin")

	return nil
}

// Session is the set of observers attached to a single execution.
type Session struct {
	log       logrus.FieldLogger
	verbose   bool
	Collector *tracer.Collector
	Counter   *Counter
	// Calls is nil unless call tracing is enabled.
	Calls *CallLogger

	observer tracer.Observer
}

// NewSession creates the observers for one execution. log carries the
// execution's own fields, such as the transaction hash.
func (p *Plugin) NewSession(log logrus.FieldLogger) (*Session, error) {
	log = log.WithField("plugin", p.cfg.Name)

	collector, err := tracer.NewCollector(log, p.cfg.Name, p.cfg.tracerConfig())
	if err != nil {
		return nil, err
	}

	s := &Session{
		log:       log,
		verbose:   p.cfg.Verbose,
		Collector: collector,
		Counter:   NewCounter(log, p.cfg.Verbose),
	}

	if p.cfg.TraceCalls {
		s.Calls = NewCallLogger(log)
	}

	// Counter and call logger observe first so their logs precede any
	// collector warning for the same event.
	observers := []tracer.Observer{s.Counter}
	if s.Calls != nil {
		observers = append(observers, s.Calls)
	}

	s.observer = tracer.Multi(append(observers, s.Collector)...)

	return s, nil
}

// Observer returns the fan-out observer the VM should drive.
func (s *Session) Observer() tracer.Observer {
	return s.observer
}

// Finalize returns the collected trace and logs a summary of the execution.
func (s *Session) Finalize() (*tracer.Trace, error) {
	trace, err := s.Collector.Finalize()
	if err != nil {
		return nil, err
	}

	counts := s.Counter.Counts()
	entry := s.log.WithFields(logrus.Fields{
		"steps":          counts.Steps,
		"calls":          counts.Calls,
		"creates":        counts.Creates,
		"logs":           counts.Logs,
		"self_destructs": counts.SelfDestructs,
		"gas_used":       trace.TotalGasUsed,
		"status":         trace.Root.Outcome.Status.String(),
	})

	if s.verbose {
		entry.Info("Execution traced")
	} else {
		entry.Debug("Execution traced")
	}

	return trace, nil
}
