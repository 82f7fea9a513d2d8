// Package alert defines the structured alerts the engine pushes to
// operators and the dispatcher contract used to deliver them. Delivery is
// strictly best-effort: a failing dispatcher never blocks or reverses a
// security decision.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"

	"vigil/internal/abuse/models"
)

// Alert is a structured operator notification.
type Alert struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Severity  models.Severity   `json:"severity"`
	Subject   string            `json:"subject"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// New builds an alert with a fresh id.
func New(alertType string, severity models.Severity, subject string, at time.Time, details map[string]string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Severity:  severity,
		Subject:   subject,
		Details:   details,
		Timestamp: at,
	}
}

// Dispatcher delivers alerts to an operator channel (log, email, webhook).
type Dispatcher interface {
	Dispatch(ctx context.Context, a Alert) error
}

// Multi fans an alert out to several dispatchers, returning the first
// delivery error after trying all of them.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, a Alert) error {
	var firstErr error
	for _, d := range m {
		if err := d.Dispatch(ctx, a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
