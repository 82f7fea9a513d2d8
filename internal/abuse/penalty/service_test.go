package penalty

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/internal/abuse/config"
	"vigil/internal/abuse/models"
	penaltystore "vigil/internal/abuse/store/penalty"
	"vigil/internal/alert"
	"vigil/pkg/platform/requesttime"
)

type recordingSink struct {
	events []*models.SecurityEvent
}

func (r *recordingSink) Observe(_ context.Context, event *models.SecurityEvent) {
	r.events = append(r.events, event)
}

type recordingDispatcher struct {
	alerts []alert.Alert
	err    error
}

func (r *recordingDispatcher) Dispatch(_ context.Context, a alert.Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

type PenaltyServiceSuite struct {
	suite.Suite
	service    *Service
	sink       *recordingSink
	dispatcher *recordingDispatcher
	base       time.Time
}

func TestPenaltyServiceSuite(t *testing.T) {
	suite.Run(t, new(PenaltyServiceSuite))
}

func (s *PenaltyServiceSuite) SetupTest() {
	s.sink = &recordingSink{}
	s.dispatcher = &recordingDispatcher{}
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var err error
	s.service, err = New(penaltystore.NewMemoryStore(), config.DefaultConfig(),
		WithLogger(logger),
		WithEventSink(s.sink),
		WithAlertDispatcher(s.dispatcher),
	)
	s.Require().NoError(err)
}

func (s *PenaltyServiceSuite) at(offset time.Duration) context.Context {
	return requesttime.WithTime(context.Background(), s.base.Add(offset))
}

func (s *PenaltyServiceSuite) TestEscalationSequence() {
	want := []time.Duration{
		5 * time.Minute,
		15 * time.Minute,
		30 * time.Minute,
		time.Hour,
		24 * time.Hour,
		24 * time.Hour, // capped
	}
	for i, expected := range want {
		duration, err := s.service.RecordViolation(s.at(time.Duration(i)*time.Minute), "user-1", models.ActionSearchQuery)
		s.Require().NoError(err)
		s.Equal(expected, duration, "violation %d", i+1)
	}
}

func (s *PenaltyServiceSuite) TestPenaltyGatesUntilExpiry() {
	_, err := s.service.RecordViolation(s.at(0), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)

	p, err := s.service.IsPenalized(s.at(time.Minute), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)
	s.Require().NotNil(p)
	s.Equal(1, p.ViolationCount)
	s.Equal(s.base.Add(5*time.Minute), p.Until)

	// Judged by the request clock, not the store's TTL.
	p, err = s.service.IsPenalized(s.at(5*time.Minute), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)
	s.Nil(p)
}

func (s *PenaltyServiceSuite) TestViolationEmitsEventAndAlert() {
	_, err := s.service.RecordViolation(s.at(0), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)

	s.Require().Len(s.sink.events, 1)
	s.Equal(models.EventPenaltyApplied, s.sink.events[0].Type)
	s.Equal("user-1", s.sink.events[0].Subject)
	s.Equal("1", s.sink.events[0].Details["violation_count"])

	s.Require().Len(s.dispatcher.alerts, 1)
	s.Equal("penalty_applied", s.dispatcher.alerts[0].Type)
	s.Equal(models.SeverityWarning, s.dispatcher.alerts[0].Severity)
}

func (s *PenaltyServiceSuite) TestAlertFailureDoesNotFailViolation() {
	s.dispatcher.err = errors.New("webhook down")

	duration, err := s.service.RecordViolation(s.at(0), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)
	s.Equal(5*time.Minute, duration)

	// The penalty still landed.
	p, err := s.service.IsPenalized(s.at(time.Minute), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)
	s.NotNil(p)
}

func (s *PenaltyServiceSuite) TestKeysAreIndependent() {
	_, err := s.service.RecordViolation(s.at(0), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)

	p, err := s.service.IsPenalized(s.at(0), "user-1", models.ActionFieldCreate)
	s.Require().NoError(err)
	s.Nil(p)

	p, err = s.service.IsPenalized(s.at(0), "user-2", models.ActionSearchQuery)
	s.Require().NoError(err)
	s.Nil(p)
}

func (s *PenaltyServiceSuite) TestClear() {
	_, err := s.service.RecordViolation(s.at(0), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)
	s.Require().NoError(s.service.Clear(s.at(0), "user-1", models.ActionSearchQuery))

	p, err := s.service.IsPenalized(s.at(0), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)
	s.Nil(p)
}
