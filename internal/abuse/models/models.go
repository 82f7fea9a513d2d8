package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "vigil/pkg/domain-errors"
)

// Action names an operation class being throttled, e.g. "login_attempt",
// "field_create", "search_query". Actions are opaque to the engine; the
// policy table in config gives each one a limit and window.
type Action string

const (
	ActionLoginAttempt Action = "login_attempt"
	ActionLoginFailure Action = "login_failure"
	ActionFieldCreate  Action = "field_create"
	ActionSearchQuery  Action = "search_query"
	ActionAPIRequest   Action = "api_request"
)

// BlockReason tags why an identity carries a hard block.
type BlockReason string

const (
	BlockReasonExcessiveFailedLogins BlockReason = "excessive_failed_logins"
	BlockReasonBurstDetected         BlockReason = "burst_detected"
	BlockReasonRepeatedFailures      BlockReason = "repeated_failures"
	BlockReasonManual                BlockReason = "manual"
)

func (r BlockReason) IsValid() bool {
	switch r {
	case BlockReasonExcessiveFailedLogins, BlockReasonBurstDetected,
		BlockReasonRepeatedFailures, BlockReasonManual:
		return true
	}
	return false
}

// DenyReason distinguishes why a check was denied so callers can render
// an accurate message. Denials always state why and when to retry.
type DenyReason string

const (
	DenyReasonRateLimited   DenyReason = "rate_limited"
	DenyReasonPenalized     DenyReason = "penalized"
	DenyReasonBlocked       DenyReason = "blocked"
	DenyReasonOriginBlocked DenyReason = "origin_blocked"
	DenyReasonAccountLocked DenyReason = "account_locked"
)

// EventType classifies security events consumed by the pattern detector.
type EventType string

const (
	EventRateLimitExceeded EventType = "rate_limit_exceeded"
	EventLoginFailed       EventType = "login_failed"
	EventOperationFailed   EventType = "operation_failed"
	EventPenaltyApplied    EventType = "penalty_applied"
)

// IsFailure reports whether the event type counts toward the
// repeated-failure pattern check.
func (t EventType) IsFailure() bool {
	return t == EventLoginFailed || t == EventOperationFailed
}

// Severity grades security events and alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is an immutable timestamped fact fed to the pattern
// detector. Events only need to live for the detector's analysis window.
type SecurityEvent struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Subject    string            `json:"subject"` // identifier the event is about
	Severity   Severity          `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewSecurityEvent builds an event, enforcing the non-empty invariants.
func NewSecurityEvent(eventType EventType, subject string, severity Severity, occurredAt time.Time) (*SecurityEvent, error) {
	if eventType == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "event type cannot be empty")
	}
	if subject == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "event subject cannot be empty")
	}
	return &SecurityEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Subject:    subject,
		Severity:   severity,
		OccurredAt: occurredAt,
	}, nil
}

// WindowResult is the outcome of one sliding-window check.
type WindowResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, set when denied
}

// Penalty is the active-lockout view of a PenaltyRecord.
type Penalty struct {
	ViolationCount int       `json:"violation_count"`
	Until          time.Time `json:"until"`
}

// Active reports whether the penalty still gates checks at the given time.
func (p *Penalty) Active(now time.Time) bool {
	return p != nil && now.Before(p.Until)
}

// BlockRecord is a hard, reason-tagged deny state for an identity.
// A non-expired record overrides rate-limit and penalty outcomes.
type BlockRecord struct {
	Identifier   string      `json:"identifier"`
	Reason       BlockReason `json:"reason"`
	BlockedUntil time.Time   `json:"blocked_until"`
	CreatedAt    time.Time   `json:"created_at"`
}

// NewBlockRecord builds a block record, enforcing domain invariants.
func NewBlockRecord(identifier string, reason BlockReason, now time.Time, duration time.Duration) (*BlockRecord, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identifier cannot be empty")
	}
	if !reason.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid block reason")
	}
	if duration <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "block duration must be positive")
	}
	return &BlockRecord{
		Identifier:   identifier,
		Reason:       reason,
		BlockedUntil: now.Add(duration),
		CreatedAt:    now,
	}, nil
}

// Active reports whether the block still applies at the given time.
func (b *BlockRecord) Active(now time.Time) bool {
	return b != nil && now.Before(b.BlockedUntil)
}

// Decision is the engine's answer to a gated operation. Denials carry the
// reason and retry horizon; they are return values, never errors.
type Decision struct {
	Allowed    bool        `json:"allowed"`
	Reason     DenyReason  `json:"reason,omitempty"`
	BlockCause BlockReason `json:"block_cause,omitempty"` // set when Reason is a block
	RetryAfter int         `json:"retry_after_seconds,omitempty"`
	Until      *time.Time  `json:"until,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Remaining  int         `json:"remaining,omitempty"`
}

// Allow is the zero-friction allowed decision.
func Allow() *Decision {
	return &Decision{Allowed: true}
}

// Deny builds a denied decision with a retry horizon.
func Deny(reason DenyReason, until time.Time, now time.Time) *Decision {
	retry := int(until.Sub(now).Seconds())
	if retry < 0 {
		retry = 0
	}
	u := until
	return &Decision{
		Allowed:    false,
		Reason:     reason,
		RetryAfter: retry,
		Until:      &u,
	}
}
