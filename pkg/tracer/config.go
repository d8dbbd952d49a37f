package tracer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
)

// Verbosity selects how much step detail is recorded.
type Verbosity string

const (
	// VerbosityOff records no steps.
	VerbosityOff Verbosity = "off"
	// VerbosityBasic records pc, opcode and gas.
	VerbosityBasic Verbosity = "basic"
	// VerbosityFull adds stack, memory and storage detail.
	VerbosityFull Verbosity = "full"
)

// Sampling modes.
const (
	SamplingNone    = "none"
	SamplingEveryN  = "every_n"
	SamplingOpcodes = "opcodes"
)

// Revert scopes decide which reverted frames hide a frame's logs and self-destructs.
const (
	// RevertScopeTransitive hides events when the frame or any ancestor did not succeed.
	RevertScopeTransitive = "transitive"
	// RevertScopeFrame hides events only when the emitting frame itself did not succeed.
	RevertScopeFrame = "frame"
)

// SamplingConfig bounds the number of recorded steps.
type SamplingConfig struct {
	// Mode is one of none, every_n, opcodes.
	Mode string `yaml:"mode" default:"none"`
	// EveryN records steps whose per-frame index is a multiple of EveryN.
	EveryN uint64 `yaml:"everyN"`
	// Opcodes records only steps executing one of these opcodes.
	Opcodes []string `yaml:"opcodes"`
}

// Config configures a Collector. It is copied at construction and never
// changes afterwards.
type Config struct {
	Verbosity Verbosity      `yaml:"verbosity" default:"basic"`
	Sampling  SamplingConfig `yaml:"sampling"`
	// StepLimit caps recorded steps across the whole trace. Nil means unlimited.
	StepLimit   *uint64 `yaml:"stepLimit"`
	RevertScope string  `yaml:"revertScope" default:"transitive"`
}

// DefaultConfig returns basic verbosity without sampling or limits.
func DefaultConfig() Config {
	return Config{
		Verbosity:   VerbosityBasic,
		Sampling:    SamplingConfig{Mode: SamplingNone},
		RevertScope: RevertScopeTransitive,
	}
}

// Validate validates the configuration, filling empty fields with defaults.
func (c *Config) Validate() error {
	if c.Verbosity == "" {
		c.Verbosity = VerbosityBasic
	}

	switch c.Verbosity {
	case VerbosityOff, VerbosityBasic, VerbosityFull:
	default:
		return fmt.Errorf("invalid verbosity %q, must be '%s', '%s' or '%s'", c.Verbosity, VerbosityOff, VerbosityBasic, VerbosityFull)
	}

	if c.RevertScope == "" {
		c.RevertScope = RevertScopeTransitive
	}

	if c.RevertScope != RevertScopeTransitive && c.RevertScope != RevertScopeFrame {
		return fmt.Errorf("invalid revert scope %q, must be '%s' or '%s'", c.RevertScope, RevertScopeTransitive, RevertScopeFrame)
	}

	if c.Sampling.Mode == "" {
		c.Sampling.Mode = SamplingNone
	}

	switch c.Sampling.Mode {
	case SamplingNone:
	case SamplingEveryN:
		if c.Sampling.EveryN == 0 {
			return fmt.Errorf("sampling everyN must be at least 1")
		}
	case SamplingOpcodes:
		if len(c.Sampling.Opcodes) == 0 {
			return fmt.Errorf("sampling opcodes must not be empty")
		}

		if _, err := c.Sampling.opcodeSet(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid sampling mode %q", c.Sampling.Mode)
	}

	return nil
}

// opcodeSet resolves opcode names into a lookup table indexed by opcode.
func (s *SamplingConfig) opcodeSet() (*[256]bool, error) {
	var set [256]bool

	for _, name := range s.Opcodes {
		upper := strings.ToUpper(strings.TrimSpace(name))

		op := vm.StringToOp(upper)
		// StringToOp returns STOP for unknown names.
		if op == vm.STOP && upper != "STOP" {
			return nil, fmt.Errorf("unknown opcode %q in sampling filter", name)
		}

		set[op] = true
	}

	return &set, nil
}
