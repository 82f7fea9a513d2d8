package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/internal/abuse/blocklist"
	"vigil/internal/abuse/bruteforce"
	"vigil/internal/abuse/config"
	"vigil/internal/abuse/models"
	"vigil/internal/abuse/pattern"
	"vigil/internal/abuse/penalty"
	attemptstore "vigil/internal/abuse/store/attempt"
	blockstore "vigil/internal/abuse/store/block"
	penaltystore "vigil/internal/abuse/store/penalty"
	"vigil/internal/abuse/window"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/requesttime"
)

// flakyAttemptStore forwards to a real store until failing is flipped.
type flakyAttemptStore struct {
	inner   attemptstore.Store
	failing bool
}

func (f *flakyAttemptStore) Take(ctx context.Context, key string, limit int, window time.Duration) (*models.WindowResult, error) {
	if f.failing {
		return nil, errors.New("connection refused")
	}
	return f.inner.Take(ctx, key, limit, window)
}

func (f *flakyAttemptStore) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	if f.failing {
		return 0, errors.New("connection refused")
	}
	return f.inner.Count(ctx, key, window)
}

func (f *flakyAttemptStore) Reset(ctx context.Context, key string) error {
	if f.failing {
		return errors.New("connection refused")
	}
	return f.inner.Reset(ctx, key)
}

type staticResolver struct{}

func (staticResolver) ResolveUsername(_ context.Context, username string) (string, bool, error) {
	if username == "" {
		return "", false, nil
	}
	return "acct-" + username, true, nil
}

type EngineSuite struct {
	suite.Suite
	engine   *Engine
	attempts *flakyAttemptStore
	blocks   *blocklist.Service
	cfg      *config.Config
	base     time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.cfg = config.DefaultConfig()
	s.attempts = &flakyAttemptStore{inner: attemptstore.NewMemoryStore()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var err error
	s.blocks, err = blocklist.New(blockstore.NewMemoryStore(), blocklist.WithLogger(logger))
	s.Require().NoError(err)
	detector, err := pattern.New(s.blocks, s.cfg, pattern.WithLogger(logger))
	s.Require().NoError(err)
	windows, err := window.New(s.attempts, s.cfg, window.WithLogger(logger), window.WithEventSink(detector))
	s.Require().NoError(err)
	penalties, err := penalty.New(penaltystore.NewMemoryStore(), s.cfg, penalty.WithLogger(logger))
	s.Require().NoError(err)
	guard, err := bruteforce.New(windows, penalties, s.blocks, staticResolver{}, s.cfg, bruteforce.WithLogger(logger))
	s.Require().NoError(err)

	s.engine, err = New(windows, penalties, guard, s.blocks, detector, s.cfg, WithLogger(logger))
	s.Require().NoError(err)
}

func (s *EngineSuite) at(offset time.Duration) context.Context {
	return requesttime.WithTime(context.Background(), s.base.Add(offset))
}

func (s *EngineSuite) TestAllowWithinLimit() {
	decision, err := s.engine.CheckRateLimit(s.at(0), "user-1", models.ActionFieldCreate)
	s.Require().NoError(err)
	s.True(decision.Allowed)
	s.Equal(50, decision.Limit)
	s.Equal(49, decision.Remaining)
}

func (s *EngineSuite) TestRateLimitViolationAppliesPenalty() {
	for i := 0; i < 3; i++ {
		_, err := s.engine.CheckRateLimit(s.at(0), "user-1", models.ActionLoginFailure)
		s.Require().NoError(err)
	}

	decision, err := s.engine.CheckRateLimit(s.at(time.Minute), "user-1", models.ActionLoginFailure)
	s.Require().NoError(err)
	s.False(decision.Allowed)
	s.Equal(models.DenyReasonRateLimited, decision.Reason)
	// First violation carries the first escalation step.
	s.Require().NotNil(decision.Until)
	s.Equal(s.base.Add(time.Minute).Add(5*time.Minute), *decision.Until)

	// Subsequent checks hit the penalty gate before the window.
	decision, err = s.engine.CheckRateLimit(s.at(2*time.Minute), "user-1", models.ActionLoginFailure)
	s.Require().NoError(err)
	s.False(decision.Allowed)
	s.Equal(models.DenyReasonPenalized, decision.Reason)
}

func (s *EngineSuite) TestPenaltyDenialDoesNotConsumeWindow() {
	for i := 0; i < 4; i++ {
		_, err := s.engine.CheckRateLimit(s.at(0), "user-1", models.ActionLoginFailure)
		s.Require().NoError(err)
	}

	statsBefore, err := s.engine.GetStats(s.at(time.Minute), "user-1", models.ActionLoginFailure)
	s.Require().NoError(err)

	for i := 0; i < 5; i++ {
		_, err := s.engine.CheckRateLimit(s.at(2*time.Minute), "user-1", models.ActionLoginFailure)
		s.Require().NoError(err)
	}

	statsAfter, err := s.engine.GetStats(s.at(3*time.Minute), "user-1", models.ActionLoginFailure)
	s.Require().NoError(err)
	s.Equal(statsBefore.AttemptCount, statsAfter.AttemptCount)
}

func (s *EngineSuite) TestBlockOverridesEverything() {
	_, err := s.engine.Block(s.at(0), "user-1", time.Hour)
	s.Require().NoError(err)

	decision, err := s.engine.CheckRateLimit(s.at(time.Minute), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)
	s.False(decision.Allowed)
	s.Equal(models.DenyReasonBlocked, decision.Reason)
	s.Equal(models.BlockReasonManual, decision.BlockCause)

	s.Run("expired block stops denying", func() {
		decision, err := s.engine.CheckRateLimit(s.at(61*time.Minute), "user-1", models.ActionSearchQuery)
		s.Require().NoError(err)
		s.True(decision.Allowed)
	})
}

func (s *EngineSuite) TestUnblockRestoresAccess() {
	_, err := s.engine.Block(s.at(0), "user-1", time.Hour)
	s.Require().NoError(err)
	s.Require().NoError(s.engine.Unblock(s.at(0), "user-1"))

	decision, err := s.engine.CheckRateLimit(s.at(0), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)
	s.True(decision.Allowed)
}

func (s *EngineSuite) TestFailOpenAllowsOnStorageError() {
	s.attempts.failing = true

	decision, err := s.engine.CheckRateLimit(s.at(0), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)
	s.True(decision.Allowed)
}

func (s *EngineSuite) TestFailClosedSurfacesStorageError() {
	s.attempts.failing = true

	_, err := s.engine.CheckRateLimit(s.at(0), "203.0.113.7", models.ActionLoginAttempt)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStorageUnavailable))
}

func (s *EngineSuite) TestLoginFlow() {
	decision, err := s.engine.CheckLogin(s.at(0), "alice", "203.0.113.7")
	s.Require().NoError(err)
	s.True(decision.Allowed)

	for i := 0; i < 6; i++ {
		err := s.engine.ReportLoginFailure(s.at(time.Duration(i)*time.Minute), "alice", "203.0.113.7")
		s.Require().NoError(err)
	}

	decision, err = s.engine.CheckLogin(s.at(7*time.Minute), "alice", "203.0.113.7")
	s.Require().NoError(err)
	s.False(decision.Allowed)
}

func (s *EngineSuite) TestEmptyIdentifierRejected() {
	_, err := s.engine.CheckRateLimit(s.at(0), "", models.ActionSearchQuery)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *EngineSuite) TestGetStats() {
	for i := 0; i < 2; i++ {
		_, err := s.engine.CheckRateLimit(s.at(0), "user-1", models.ActionSearchQuery)
		s.Require().NoError(err)
	}

	stats, err := s.engine.GetStats(s.at(0), "user-1", models.ActionSearchQuery)
	s.Require().NoError(err)
	s.Equal(2, stats.AttemptCount)
	s.Equal(200, stats.Limit)
	s.Nil(stats.Penalty)
	s.Nil(stats.Block)
}
