package execution

import (
	"errors"
	"time"
)

var ErrNodeAddressRequired = errors.New("node address is required")

// Config describes the execution node traces are fetched from.
type Config struct {
	// Name labels the node in logs and metrics.
	Name string `yaml:"name" default:"execution"`
	// NodeAddress is the JSON-RPC endpoint, e.g. http://localhost:8545.
	NodeAddress string `yaml:"nodeAddress"`
	// NodeHeaders are added to every request, e.g. for authorization.
	NodeHeaders map[string]string `yaml:"nodeHeaders"`
	// TraceTimeout bounds a single debug_traceTransaction call.
	TraceTimeout time.Duration `yaml:"traceTimeout" default:"60s"`
	// MaxRetryElapsed bounds how long a failing call is retried. Zero disables retries.
	MaxRetryElapsed time.Duration `yaml:"maxRetryElapsed" default:"30s"`
}

func (c *Config) Validate() error {
	if c.NodeAddress == "" {
		return ErrNodeAddressRequired
	}

	return nil
}
