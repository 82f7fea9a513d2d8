// Package config holds the tunable policy tables for the abuse engine:
// per-action limits, the penalty escalation sequence, brute-force and
// pattern thresholds, and the per-action failure policy. All values are
// plain data validated once at startup; services never mutate them.
package config

import (
	"time"

	"vigil/internal/abuse/models"
	dErrors "vigil/pkg/domain-errors"
)

// Limit defines a sliding-window rate limit for one action.
type Limit struct {
	Requests int
	Window   time.Duration
}

// FailMode decides what a check returns when storage cannot answer.
type FailMode string

const (
	// FailClosed denies when the store is unavailable. Required for
	// authentication-adjacent actions.
	FailClosed FailMode = "closed"
	// FailOpen allows with a logged warning. Acceptable for low-stakes
	// throttles where availability beats strictness.
	FailOpen FailMode = "open"
)

// BruteForceConfig tunes the login guard's two parallel identities.
type BruteForceConfig struct {
	// Origin-keyed failed-login limit (network address).
	OriginLimit Limit
	// Account-keyed failed-login limit, tighter than the origin's.
	AccountLimit Limit
	// Block durations applied when the respective limit is violated.
	OriginBlockDuration  time.Duration
	AccountBlockDuration time.Duration
}

// PatternConfig tunes the pattern detector's rolling checks.
type PatternConfig struct {
	BurstThreshold     int
	BurstWindow        time.Duration
	BurstBlockDuration time.Duration

	RepeatThreshold     int
	RepeatWindow        time.Duration
	RepeatBlockDuration time.Duration

	// BufferSize caps the in-memory event ring. Oldest events are
	// overwritten once full.
	BufferSize int
}

// Config is the complete abuse-engine policy.
type Config struct {
	// Per-action sliding-window limits. Checks for actions missing from
	// the table use DefaultLimit.
	ActionLimits map[models.Action]Limit
	DefaultLimit Limit

	// ViolationWindow bounds the violation tally; the count resets only
	// by this TTL, never by explicit decrement.
	ViolationWindow time.Duration

	// Escalation maps the Nth violation to a penalty duration, indexed
	// by min(n-1, len-1). Must be non-decreasing with a finite cap.
	Escalation []time.Duration

	BruteForce BruteForceConfig
	Pattern    PatternConfig

	// FailModes picks fail-open or fail-closed per action when storage
	// errors. Actions missing from the table use DefaultFailMode.
	FailModes       map[models.Action]FailMode
	DefaultFailMode FailMode
}

// DefaultConfig returns the default policy from the numeric defaults in
// the product requirements. Everything here is overridable via Overrides.
func DefaultConfig() *Config {
	return &Config{
		ActionLimits: map[models.Action]Limit{
			models.ActionLoginAttempt: {Requests: 5, Window: time.Hour},
			models.ActionLoginFailure: {Requests: 3, Window: 30 * time.Minute},
			models.ActionFieldCreate:  {Requests: 50, Window: time.Hour},
			models.ActionSearchQuery:  {Requests: 200, Window: time.Hour},
			models.ActionAPIRequest:   {Requests: 1000, Window: time.Hour},
		},
		DefaultLimit:    Limit{Requests: 100, Window: time.Hour},
		ViolationWindow: 24 * time.Hour,
		Escalation: []time.Duration{
			5 * time.Minute,
			15 * time.Minute,
			30 * time.Minute,
			time.Hour,
			24 * time.Hour,
		},
		BruteForce: BruteForceConfig{
			OriginLimit:          Limit{Requests: 5, Window: time.Hour},
			AccountLimit:         Limit{Requests: 3, Window: 30 * time.Minute},
			OriginBlockDuration:  time.Hour,
			AccountBlockDuration: 30 * time.Minute,
		},
		Pattern: PatternConfig{
			BurstThreshold:      5,
			BurstWindow:         5 * time.Minute,
			BurstBlockDuration:  time.Hour,
			RepeatThreshold:     3,
			RepeatWindow:        10 * time.Minute,
			RepeatBlockDuration: 30 * time.Minute,
			BufferSize:          4096,
		},
		FailModes: map[models.Action]FailMode{
			models.ActionLoginAttempt: FailClosed,
			models.ActionLoginFailure: FailClosed,
		},
		DefaultFailMode: FailOpen,
	}
}

// GetLimit returns the sliding-window limit for an action.
func (c *Config) GetLimit(action models.Action) Limit {
	if l, ok := c.ActionLimits[action]; ok {
		return l
	}
	return c.DefaultLimit
}

// GetFailMode returns the storage-failure policy for an action.
func (c *Config) GetFailMode(action models.Action) FailMode {
	if m, ok := c.FailModes[action]; ok {
		return m
	}
	return c.DefaultFailMode
}

// PenaltyDuration returns the escalated penalty for the Nth violation.
// The sequence caps at its last entry.
func (c *Config) PenaltyDuration(violationCount int) time.Duration {
	if violationCount < 1 {
		violationCount = 1
	}
	idx := violationCount - 1
	if idx >= len(c.Escalation) {
		idx = len(c.Escalation) - 1
	}
	return c.Escalation[idx]
}

// Validate rejects configurations the engine cannot run with. A zero or
// negative window is a configuration error, never a valid "always deny".
func (c *Config) Validate() error {
	for action, l := range c.ActionLimits {
		if l.Window <= 0 {
			return dErrors.New(dErrors.CodeInvalidConfig, "action "+string(action)+": window must be positive")
		}
		if l.Requests < 0 {
			return dErrors.New(dErrors.CodeInvalidConfig, "action "+string(action)+": limit cannot be negative")
		}
	}
	if c.DefaultLimit.Window <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "default limit window must be positive")
	}
	if c.ViolationWindow <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "violation window must be positive")
	}
	if len(c.Escalation) == 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "escalation sequence cannot be empty")
	}
	for i, d := range c.Escalation {
		if d <= 0 {
			return dErrors.New(dErrors.CodeInvalidConfig, "escalation durations must be positive")
		}
		if i > 0 && d < c.Escalation[i-1] {
			return dErrors.New(dErrors.CodeInvalidConfig, "escalation sequence must be non-decreasing")
		}
	}
	if c.BruteForce.OriginLimit.Window <= 0 || c.BruteForce.AccountLimit.Window <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "brute-force windows must be positive")
	}
	if c.BruteForce.OriginBlockDuration <= 0 || c.BruteForce.AccountBlockDuration <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "brute-force block durations must be positive")
	}
	if c.Pattern.BurstThreshold <= 0 || c.Pattern.RepeatThreshold <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "pattern thresholds must be positive")
	}
	if c.Pattern.BurstWindow <= 0 || c.Pattern.RepeatWindow <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "pattern windows must be positive")
	}
	if c.Pattern.BufferSize <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "pattern buffer size must be positive")
	}
	switch c.DefaultFailMode {
	case FailOpen, FailClosed:
	default:
		return dErrors.New(dErrors.CodeInvalidConfig, "default fail mode must be open or closed")
	}
	for action, m := range c.FailModes {
		if m != FailOpen && m != FailClosed {
			return dErrors.New(dErrors.CodeInvalidConfig, "action "+string(action)+": fail mode must be open or closed")
		}
	}
	return nil
}
