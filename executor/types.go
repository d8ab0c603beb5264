package executor

import (
	"time"

	"github.com/varunnarsana/stratus/config"
	"github.com/varunnarsana/stratus/types"
)

// Options tune wave execution and the retry policy.
type Options struct {
	// Concurrency bounds in-flight provider calls within a wave.
	Concurrency int `json:"concurrency"`
	// MaxAttempts is the total attempt budget per action, first try
	// included.
	MaxAttempts int `json:"max_attempts"`
	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration `json:"base_delay"`
	// MaxDelay caps the backoff.
	MaxDelay time.Duration `json:"max_delay"`
	// ActionTimeout bounds a single provider call. Expiry counts as a
	// transient failure under the normal retry policy.
	ActionTimeout time.Duration `json:"action_timeout"`
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency:   4,
		MaxAttempts:   4,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      8 * time.Second,
		ActionTimeout: 2 * time.Minute,
	}
}

// OptionsFromConfig maps the validated executor config onto Options.
func OptionsFromConfig(cfg config.ExecutorConfig) Options {
	opts := Options{
		Concurrency:   cfg.Concurrency,
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelay:     cfg.BaseDelay,
		MaxDelay:      cfg.MaxDelay,
		ActionTimeout: cfg.ActionTimeout,
	}
	opts.normalize()
	return opts
}

// normalize fills zero fields so hand-built Options stay usable.
func (o *Options) normalize() {
	def := DefaultOptions()
	if o.Concurrency < 1 {
		o.Concurrency = def.Concurrency
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = def.BaseDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = def.MaxDelay
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = def.ActionTimeout
	}
}

// applyResult is the message a worker sends back after finishing one
// action. Workers share nothing else with the run loop.
type applyResult struct {
	action   types.ChangeAction
	record   types.ApplyRecord
	observed *types.ObservedState
}

// runStarted is the journal payload opening an apply run.
type runStarted struct {
	Workspace string `json:"workspace"`
	Actions   int    `json:"actions"`
	Waves     int    `json:"waves"`
}
