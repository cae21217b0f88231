package chunking

import (
	"errors"
	"fmt"
)

// Config holds the token budgets and tuning knobs of the chunking engine.
type Config struct {
	// MinTokens is the floor below which a section always absorbs its right neighbour
	MinTokens int `yaml:"min_tokens"`

	// IdealTokens is the target size; neighbours merge while the result stays below it
	IdealTokens int `yaml:"ideal_tokens"`

	// MaxTokens is the upper bound for every chunk not produced by the fixed fallback
	MaxTokens int `yaml:"max_tokens"`

	// HardCap is the absolute upper bound for every chunk
	HardCap int `yaml:"hard_cap"`

	// Overlap is the token overlap between consecutive fixed-size pieces
	Overlap int `yaml:"overlap"`

	// BreakpointPercentile is the distance percentile above which the semantic splitter cuts
	BreakpointPercentile float64 `yaml:"breakpoint_percentile"`
}

// DefaultConfig returns the standard budgets.
func DefaultConfig() Config {
	return Config{
		MinTokens:            200,
		IdealTokens:          700,
		MaxTokens:            1200,
		HardCap:              1500,
		Overlap:              100,
		BreakpointPercentile: 55,
	}
}

// Validate enforces MinTokens < IdealTokens < MaxTokens < HardCap.
func (c Config) Validate() error {
	var errs []error
	if c.MinTokens <= 0 {
		errs = append(errs, fmt.Errorf("min_tokens must be positive, got %d", c.MinTokens))
	}
	if c.MinTokens >= c.IdealTokens {
		errs = append(errs, fmt.Errorf("min_tokens (%d) must be less than ideal_tokens (%d)", c.MinTokens, c.IdealTokens))
	}
	if c.IdealTokens >= c.MaxTokens {
		errs = append(errs, fmt.Errorf("ideal_tokens (%d) must be less than max_tokens (%d)", c.IdealTokens, c.MaxTokens))
	}
	if c.MaxTokens >= c.HardCap {
		errs = append(errs, fmt.Errorf("max_tokens (%d) must be less than hard_cap (%d)", c.MaxTokens, c.HardCap))
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxTokens/2 {
		errs = append(errs, fmt.Errorf("overlap (%d) must be in [0, max_tokens/2)", c.Overlap))
	}
	if c.BreakpointPercentile <= 0 || c.BreakpointPercentile >= 100 {
		errs = append(errs, fmt.Errorf("breakpoint_percentile must be in (0, 100), got %v", c.BreakpointPercentile))
	}
	return errors.Join(errs...)
}
