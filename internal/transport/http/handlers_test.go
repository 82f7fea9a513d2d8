package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/internal/abuse/blocklist"
	"vigil/internal/abuse/bruteforce"
	"vigil/internal/abuse/config"
	"vigil/internal/abuse/engine"
	"vigil/internal/abuse/models"
	"vigil/internal/abuse/pattern"
	"vigil/internal/abuse/penalty"
	attemptstore "vigil/internal/abuse/store/attempt"
	blockstore "vigil/internal/abuse/store/block"
	penaltystore "vigil/internal/abuse/store/penalty"
	"vigil/internal/abuse/window"
	"vigil/internal/platform/health"
)

// accountTable is a fixed username to account id mapping.
type accountTable map[string]string

func (t accountTable) ResolveUsername(_ context.Context, username string) (string, bool, error) {
	id, ok := t[username]
	return id, ok, nil
}

type HandlersSuite struct {
	suite.Suite
	server *httptest.Server
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}

func (s *HandlersSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()

	blocks, err := blocklist.New(blockstore.NewMemoryStore(), blocklist.WithLogger(logger))
	s.Require().NoError(err)
	detector, err := pattern.New(blocks, cfg, pattern.WithLogger(logger))
	s.Require().NoError(err)
	windows, err := window.New(attemptstore.NewMemoryStore(), cfg, window.WithLogger(logger), window.WithEventSink(detector))
	s.Require().NoError(err)
	penalties, err := penalty.New(penaltystore.NewMemoryStore(), cfg, penalty.WithLogger(logger))
	s.Require().NoError(err)
	guard, err := bruteforce.New(windows, penalties, blocks, accountTable{"alice": "acct-alice"}, cfg, bruteforce.WithLogger(logger))
	s.Require().NoError(err)
	eng, err := engine.New(windows, penalties, guard, blocks, detector, cfg, engine.WithLogger(logger))
	s.Require().NoError(err)

	handler := NewHandler(eng, cfg, logger)
	router := NewRouter(handler, health.New("test"), logger, 5*time.Second)
	s.server = httptest.NewServer(router)
	s.T().Cleanup(s.server.Close)
}

func (s *HandlersSuite) post(path, body string) *http.Response {
	resp, err := http.Post(s.server.URL+path, "application/json", strings.NewReader(body))
	s.Require().NoError(err)
	return resp
}

func (s *HandlersSuite) get(path string) *http.Response {
	resp, err := http.Get(s.server.URL + path)
	s.Require().NoError(err)
	return resp
}

func (s *HandlersSuite) decode(resp *http.Response, into any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(into))
}

func (s *HandlersSuite) TestCheckAllowedAndDenied() {
	var decision models.Decision
	for i := 0; i < 3; i++ {
		resp := s.post("/v1/ratelimit/check", `{"identifier":"user-1","action":"login_failure"}`)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		s.decode(resp, &decision)
		s.True(decision.Allowed)
	}

	resp := s.post("/v1/ratelimit/check", `{"identifier":"user-1","action":"login_failure"}`)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.decode(resp, &decision)
	s.False(decision.Allowed)
	s.Equal(models.DenyReasonRateLimited, decision.Reason)
	s.NotNil(decision.Until)
}

func (s *HandlersSuite) TestCheckRejectsBadBody() {
	resp := s.post("/v1/ratelimit/check", `{"identifier":`)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlersSuite) TestCheckRejectsEmptyIdentifier() {
	resp := s.post("/v1/ratelimit/check", `{"identifier":"","action":"search_query"}`)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlersSuite) TestLoginEndpoints() {
	var decision models.Decision
	resp := s.post("/v1/login/check", `{"username":"alice","origin":"203.0.113.7"}`)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.decode(resp, &decision)
	s.True(decision.Allowed)

	for i := 0; i < 6; i++ {
		resp := s.post("/v1/login/failure", `{"username":"alice","origin":"203.0.113.7"}`)
		s.Require().Equal(http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
	}

	resp = s.post("/v1/login/check", `{"username":"alice","origin":"203.0.113.7"}`)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.decode(resp, &decision)
	s.False(decision.Allowed)

	resp = s.post("/v1/login/success", `{"username":"alice","origin":"203.0.113.7"}`)
	defer resp.Body.Close()
	s.Equal(http.StatusNoContent, resp.StatusCode)
}

func (s *HandlersSuite) TestBlockLifecycle() {
	resp := s.post("/v1/blocks/203.0.113.9", `{"duration":"1h"}`)
	var rec models.BlockRecord
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	s.decode(resp, &rec)
	s.Equal(models.BlockReasonManual, rec.Reason)

	resp = s.get("/v1/blocks/203.0.113.9")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.decode(resp, &rec)
	s.Equal("203.0.113.9", rec.Identifier)

	req, err := http.NewRequest(http.MethodDelete, s.server.URL+"/v1/blocks/203.0.113.9", nil)
	s.Require().NoError(err)
	delResp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	delResp.Body.Close()
	s.Equal(http.StatusNoContent, delResp.StatusCode)

	resp = s.get("/v1/blocks/203.0.113.9")
	defer resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlersSuite) TestBlockRejectsBadDuration() {
	resp := s.post("/v1/blocks/203.0.113.9", `{"duration":"soon"}`)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlersSuite) TestEventsEndpoint() {
	resp := s.post("/v1/events", `{"type":"operation_failed","subject":"acct-alice","severity":"warning"}`)
	defer resp.Body.Close()
	s.Equal(http.StatusAccepted, resp.StatusCode)
}

func (s *HandlersSuite) TestStatsEndpoint() {
	resp := s.post("/v1/ratelimit/check", `{"identifier":"user-2","action":"search_query"}`)
	resp.Body.Close()

	var stats engine.Stats
	resp = s.get("/v1/stats/user-2?action=search_query")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.decode(resp, &stats)
	s.Equal(1, stats.AttemptCount)
	s.Equal(200, stats.Limit)

	missing := s.get("/v1/stats/user-2")
	defer missing.Body.Close()
	s.Equal(http.StatusBadRequest, missing.StatusCode)
}

func (s *HandlersSuite) TestPolicyEndpoint() {
	var policy struct {
		Actions map[string]struct {
			Requests      int `json:"requests"`
			WindowSeconds int `json:"window_seconds"`
		} `json:"actions"`
		EscalationSeconds []int `json:"escalation_seconds"`
	}
	resp := s.get("/v1/policy")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.decode(resp, &policy)
	s.Equal(5, policy.Actions["login_attempt"].Requests)
	s.Equal([]int{300, 900, 1800, 3600, 86400}, policy.EscalationSeconds)
}

func (s *HandlersSuite) TestHealthEndpoint() {
	resp := s.get("/health/live")
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}
