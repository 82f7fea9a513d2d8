// Package pattern watches the stream of security events for shapes no
// single rate-limit check can see: bursts of activity compressed into a
// few minutes, and failures that keep recurring for the same subject.
package pattern

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"vigil/internal/abuse/blocklist"
	"vigil/internal/abuse/config"
	"vigil/internal/abuse/metrics"
	"vigil/internal/abuse/models"
	"vigil/internal/alert"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/requesttime"
)

// Detector accumulates recent events in a bounded ring and runs the
// burst and repeated-failure checks on every observation. It is safe for
// concurrent use; one mutex guards the ring, while block writes and
// alerts happen outside the analysis itself only in the sense that their
// failures never corrupt the buffer.
type Detector struct {
	blocks     *blocklist.Service
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	dispatcher alert.Dispatcher

	mu     sync.Mutex
	ring   []*models.SecurityEvent
	head   int // next write position
	filled int // number of live slots, <= len(ring)
}

// Option configures a Detector instance.
type Option func(*Detector)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithAlertDispatcher sets the operator alert channel.
func WithAlertDispatcher(a alert.Dispatcher) Option {
	return func(d *Detector) { d.dispatcher = a }
}

// New creates the detector. The config must already be validated, in
// particular BufferSize is positive.
func New(blocks *blocklist.Service, cfg *config.Config, opts ...Option) (*Detector, error) {
	if blocks == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "blocklist service is required")
	}
	if cfg == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "config is required")
	}
	d := &Detector{
		blocks: blocks,
		cfg:    cfg,
		ring:   make([]*models.SecurityEvent, cfg.Pattern.BufferSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Observe records an event and runs both pattern checks for its subject.
// Events are facts about the past; Observe never rejects one, it only
// decides whether the accumulated history now crosses a threshold.
func (d *Detector) Observe(ctx context.Context, event *models.SecurityEvent) {
	if event == nil || event.Subject == "" {
		return
	}
	d.metrics.RecordEvent(string(event.Type))

	total, failures := d.append(event)

	// An active block means this subject's pattern already fired; piling
	// more blocks and alerts on top adds noise, not protection.
	if rec, err := d.blocks.Get(ctx, event.Subject); err != nil {
		if d.logger != nil {
			d.logger.WarnContext(ctx, "pattern dedup check failed", "subject", event.Subject, "error", err)
		}
	} else if rec != nil {
		return
	}

	p := d.cfg.Pattern
	if total >= p.BurstThreshold {
		d.trigger(ctx, event.Subject, models.BlockReasonBurstDetected, p.BurstBlockDuration, "burst_detected", map[string]string{
			"event_count":    strconv.Itoa(total),
			"window_seconds": strconv.Itoa(int(p.BurstWindow.Seconds())),
		})
		return
	}
	if failures >= p.RepeatThreshold {
		d.trigger(ctx, event.Subject, models.BlockReasonRepeatedFailures, p.RepeatBlockDuration, "repeated_failures", map[string]string{
			"failure_count":  strconv.Itoa(failures),
			"window_seconds": strconv.Itoa(int(p.RepeatWindow.Seconds())),
		})
	}
}

// append inserts the event into the ring and returns the subject's
// in-window tallies: all events inside the burst window and failure
// events inside the repeat window, both judged from the new event's own
// timestamp.
func (d *Detector) append(event *models.SecurityEvent) (total, failures int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ring[d.head] = event
	d.head = (d.head + 1) % len(d.ring)
	if d.filled < len(d.ring) {
		d.filled++
	}

	burstCutoff := event.OccurredAt.Add(-d.cfg.Pattern.BurstWindow)
	repeatCutoff := event.OccurredAt.Add(-d.cfg.Pattern.RepeatWindow)
	for i := 0; i < d.filled; i++ {
		e := d.ring[i]
		if e == nil || e.Subject != event.Subject {
			continue
		}
		if e.OccurredAt.After(burstCutoff) {
			total++
		}
		if e.Type.IsFailure() && e.OccurredAt.After(repeatCutoff) {
			failures++
		}
	}
	return total, failures
}

// trigger writes the block first and alerts second: a dead alert channel
// must never leave a detected pattern unblocked.
func (d *Detector) trigger(ctx context.Context, subject string, reason models.BlockReason, duration time.Duration, patternName string, details map[string]string) {
	if _, err := d.blocks.Block(ctx, subject, reason, duration); err != nil {
		if d.logger != nil {
			d.logger.ErrorContext(ctx, "pattern block failed",
				"subject", subject,
				"pattern", patternName,
				"error", err,
			)
		}
		return
	}

	if d.logger != nil {
		d.logger.WarnContext(ctx, "pattern_detected",
			"subject", subject,
			"pattern", patternName,
			"block_seconds", int(duration.Seconds()),
			"event", "pattern_detected",
			"log_type", "audit",
		)
	}

	if d.dispatcher == nil {
		return
	}
	a := alert.New(patternName, models.SeverityCritical, subject, requesttime.Now(ctx), details)
	d.metrics.RecordAlert(string(a.Severity))
	if err := d.dispatcher.Dispatch(ctx, a); err != nil {
		d.metrics.RecordAlertFailure()
		if d.logger != nil {
			d.logger.WarnContext(ctx, "alert delivery failed", "alert_type", a.Type, "error", err)
		}
	}
}
