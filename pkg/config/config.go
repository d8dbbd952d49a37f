// Package config provides the configuration of the execution-tracer CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/execution-tracer/pkg/clickhouse"
	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
	"github.com/ethpandaops/execution-tracer/pkg/plugin"
)

// Output formats.
const (
	OutputSummary    = "summary"
	OutputJSON       = "json"
	OutputRows       = "rows"
	OutputParity     = "parity"
	OutputClickHouse = "clickhouse"
)

// DefaultFile is the config file read when none is given.
const DefaultFile = "config.yaml"

// ErrInvalidOutput is returned for an unknown output format.
var ErrInvalidOutput = errors.New("invalid output format")

// RowBufferConfig configures the batching of exported rows.
type RowBufferConfig struct {
	// MaxRows flushes a batch once it holds this many rows.
	MaxRows int `yaml:"maxRows" default:"10000"`
	// FlushInterval flushes a non-empty batch after this long.
	FlushInterval time.Duration `yaml:"flushInterval" default:"1s"`
}

// Validate validates the row buffer configuration.
func (c *RowBufferConfig) Validate() error {
	if c.MaxRows <= 0 {
		return fmt.Errorf("maxRows must be greater than 0")
	}

	if c.FlushInterval <= 0 {
		return fmt.Errorf("flushInterval must be greater than 0")
	}

	return nil
}

// Config is the main configuration for execution-tracer.
type Config struct {
	// LoggingLevel is the logging level to use.
	LoggingLevel string `yaml:"logging" default:"info"`
	// MetricsAddr is the address to serve metrics on. Metrics are not served when nil.
	MetricsAddr *string `yaml:"metricsAddr"`
	// Concurrency is the number of traces replayed at once.
	Concurrency int `yaml:"concurrency" default:"4"`
	// Output is the format results are printed in.
	Output string `yaml:"output" default:"summary"`
	// RowBuffer configures row batching for the rows output.
	RowBuffer RowBufferConfig `yaml:"rowBuffer"`
	// Plugin configures the tracer sessions.
	Plugin plugin.Config `yaml:"plugin"`
	// ClickHouse is where the clickhouse output inserts rows. It is
	// validated when that output is selected.
	ClickHouse clickhouse.Config `yaml:"clickhouse"`
	// Execution is the node the fetch command reads transactions from. It
	// is validated when fetching.
	Execution execution.Config `yaml:"execution"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than 0")
	}

	switch c.Output {
	case OutputSummary, OutputJSON, OutputRows, OutputParity:
	case OutputClickHouse:
		if err := c.ClickHouse.Validate(); err != nil {
			return fmt.Errorf("invalid clickhouse configuration: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q, must be one of %s, %s, %s, %s, %s",
			ErrInvalidOutput, c.Output, OutputSummary, OutputJSON, OutputRows, OutputParity, OutputClickHouse)
	}

	if err := c.RowBuffer.Validate(); err != nil {
		return fmt.Errorf("invalid row buffer configuration: %w", err)
	}

	if err := c.Plugin.Validate(); err != nil {
		return fmt.Errorf("invalid plugin configuration: %w", err)
	}

	return nil
}

// New returns a configuration with every default applied.
func New() (*Config, error) {
	config := &Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Parse decodes YAML on top of the defaults.
func Parse(raw []byte) (*Config, error) {
	config, err := New()
	if err != nil {
		return nil, err
	}

	type plain Config

	if err := yaml.Unmarshal(raw, (*plain)(config)); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFromFile reads and decodes a config file. A missing default file
// yields the defaults.
func LoadFromFile(file string) (*Config, error) {
	explicit := file != ""
	if !explicit {
		file = DefaultFile
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return New()
		}

		return nil, err
	}

	return Parse(raw)
}
