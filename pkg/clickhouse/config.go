package clickhouse

import (
	"fmt"
	"time"
)

// Config holds configuration for ClickHouse ch-go native client.
type Config struct {
	// Addr is the native protocol address, e.g., "localhost:9000".
	Addr     string `yaml:"addr"`
	Database string `yaml:"database" default:"default"`
	// Table is the table frame rows are inserted into.
	Table    string `yaml:"table" default:"call_frames"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Pool settings
	MaxConns          int32         `yaml:"maxConns" default:"10"`
	MinConns          int32         `yaml:"minConns" default:"1"`
	ConnMaxLifetime   time.Duration `yaml:"connMaxLifetime" default:"1h"`
	ConnMaxIdleTime   time.Duration `yaml:"connMaxIdleTime" default:"30m"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod" default:"1m"`
	DialTimeout       time.Duration `yaml:"dialTimeout" default:"10s"`

	// Compression is one of lz4, zstd or none.
	Compression string `yaml:"compression" default:"lz4"`

	// Retry settings. The delay doubles from RetryBaseDelay up to RetryMaxDelay.
	MaxRetries     int           `yaml:"maxRetries" default:"3"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay" default:"100ms"`
	RetryMaxDelay  time.Duration `yaml:"retryMaxDelay" default:"10s"`

	// QueryTimeout bounds each attempt of a query.
	QueryTimeout time.Duration `yaml:"queryTimeout" default:"60s"`
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}

	switch c.Compression {
	case "", "lz4", "zstd", "none":
	default:
		return fmt.Errorf("unknown compression %q", c.Compression)
	}

	if c.MinConns > c.MaxConns && c.MaxConns > 0 {
		return fmt.Errorf("minConns (%d) must not exceed maxConns (%d)", c.MinConns, c.MaxConns)
	}

	return nil
}
