package pattern

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/internal/abuse/blocklist"
	"vigil/internal/abuse/config"
	"vigil/internal/abuse/models"
	blockstore "vigil/internal/abuse/store/block"
	"vigil/internal/alert"
	"vigil/pkg/platform/requesttime"
)

type recordingDispatcher struct {
	alerts []alert.Alert
	err    error
}

func (r *recordingDispatcher) Dispatch(_ context.Context, a alert.Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

type DetectorSuite struct {
	suite.Suite
	detector   *Detector
	blocks     *blocklist.Service
	dispatcher *recordingDispatcher
	base       time.Time
}

func TestDetectorSuite(t *testing.T) {
	suite.Run(t, new(DetectorSuite))
}

func (s *DetectorSuite) SetupTest() {
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.dispatcher = &recordingDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var err error
	s.blocks, err = blocklist.New(blockstore.NewMemoryStore(), blocklist.WithLogger(logger))
	s.Require().NoError(err)
	s.detector, err = New(s.blocks, config.DefaultConfig(),
		WithLogger(logger),
		WithAlertDispatcher(s.dispatcher),
	)
	s.Require().NoError(err)
}

func (s *DetectorSuite) at(offset time.Duration) context.Context {
	return requesttime.WithTime(context.Background(), s.base.Add(offset))
}

func (s *DetectorSuite) observe(offset time.Duration, eventType models.EventType, subject string) {
	event, err := models.NewSecurityEvent(eventType, subject, models.SeverityInfo, s.base.Add(offset))
	s.Require().NoError(err)
	s.detector.Observe(s.at(offset), event)
}

func (s *DetectorSuite) TestBurstTriggersBlockAndAlert() {
	for i := 0; i < 4; i++ {
		s.observe(time.Duration(i)*time.Minute, models.EventRateLimitExceeded, "203.0.113.7")
	}
	rec, err := s.blocks.Get(s.at(4*time.Minute), "203.0.113.7")
	s.Require().NoError(err)
	s.Nil(rec)

	// Fifth event inside five minutes crosses the burst threshold.
	s.observe(4*time.Minute, models.EventRateLimitExceeded, "203.0.113.7")

	rec, err = s.blocks.Get(s.at(4*time.Minute), "203.0.113.7")
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	s.Equal(models.BlockReasonBurstDetected, rec.Reason)
	s.Equal(s.base.Add(4*time.Minute).Add(time.Hour), rec.BlockedUntil)

	s.Require().Len(s.dispatcher.alerts, 1)
	s.Equal("burst_detected", s.dispatcher.alerts[0].Type)
	s.Equal(models.SeverityCritical, s.dispatcher.alerts[0].Severity)
}

func (s *DetectorSuite) TestRepeatedFailuresTriggerBlock() {
	s.observe(0, models.EventLoginFailed, "acct-alice")
	s.observe(2*time.Minute, models.EventOperationFailed, "acct-alice")

	rec, err := s.blocks.Get(s.at(3*time.Minute), "acct-alice")
	s.Require().NoError(err)
	s.Nil(rec)

	s.observe(4*time.Minute, models.EventLoginFailed, "acct-alice")

	rec, err = s.blocks.Get(s.at(4*time.Minute), "acct-alice")
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	s.Equal(models.BlockReasonRepeatedFailures, rec.Reason)
	s.Equal(s.base.Add(4*time.Minute).Add(30*time.Minute), rec.BlockedUntil)

	s.Require().Len(s.dispatcher.alerts, 1)
	s.Equal("repeated_failures", s.dispatcher.alerts[0].Type)
}

func (s *DetectorSuite) TestEventsOutsideWindowDoNotCount() {
	s.observe(0, models.EventLoginFailed, "acct-alice")
	s.observe(time.Minute, models.EventLoginFailed, "acct-alice")

	// Third failure arrives after the first two have aged out of the
	// ten-minute repeat window.
	s.observe(12*time.Minute, models.EventLoginFailed, "acct-alice")

	rec, err := s.blocks.Get(s.at(12*time.Minute), "acct-alice")
	s.Require().NoError(err)
	s.Nil(rec)
}

func (s *DetectorSuite) TestSubjectsAreIndependent() {
	for i := 0; i < 3; i++ {
		s.observe(time.Duration(i)*time.Minute, models.EventLoginFailed, "acct-alice")
	}
	for i := 0; i < 2; i++ {
		s.observe(time.Duration(i)*time.Minute, models.EventLoginFailed, "acct-bob")
	}

	aliceRec, err := s.blocks.Get(s.at(3*time.Minute), "acct-alice")
	s.Require().NoError(err)
	s.NotNil(aliceRec)

	bobRec, err := s.blocks.Get(s.at(3*time.Minute), "acct-bob")
	s.Require().NoError(err)
	s.Nil(bobRec)
}

func (s *DetectorSuite) TestActiveBlockSuppressesDuplicates() {
	for i := 0; i < 5; i++ {
		s.observe(time.Duration(i)*time.Second, models.EventRateLimitExceeded, "203.0.113.7")
	}
	s.Require().Len(s.dispatcher.alerts, 1)

	// The subject keeps misbehaving while blocked; no extra alerts fire.
	for i := 5; i < 10; i++ {
		s.observe(time.Duration(i)*time.Second, models.EventRateLimitExceeded, "203.0.113.7")
	}
	s.Len(s.dispatcher.alerts, 1)
}

func (s *DetectorSuite) TestAlertFailureStillBlocks() {
	s.dispatcher.err = errors.New("webhook down")

	for i := 0; i < 5; i++ {
		s.observe(time.Duration(i)*time.Second, models.EventRateLimitExceeded, "203.0.113.7")
	}

	rec, err := s.blocks.Get(s.at(time.Minute), "203.0.113.7")
	s.Require().NoError(err)
	s.NotNil(rec)
}

func (s *DetectorSuite) TestNilAndEmptyEventsIgnored() {
	s.detector.Observe(s.at(0), nil)
	s.detector.Observe(s.at(0), &models.SecurityEvent{Type: models.EventLoginFailed})
	s.Empty(s.dispatcher.alerts)
}
