package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecelik/mirrorbot/internal/domain"
	"github.com/ecelik/mirrorbot/internal/server/handler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// memStore is an in-memory domain.ConfigStore.
type memStore struct {
	mu      sync.Mutex
	configs map[string]domain.StrategyConfig
}

func newMemStore() *memStore {
	return &memStore{configs: make(map[string]domain.StrategyConfig)}
}

func (s *memStore) Create(ctx context.Context, cfg domain.StrategyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[cfg.Sha]; ok {
		return domain.ErrAlreadyExists
	}
	s.configs[cfg.Sha] = cfg
	return nil
}

func (s *memStore) Get(ctx context.Context, sha string) (domain.StrategyConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[sha]
	if !ok {
		return domain.StrategyConfig{}, domain.ErrNotFound
	}
	return cfg, nil
}

func (s *memStore) Delete(ctx context.Context, sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[sha]; !ok {
		return domain.ErrNotFound
	}
	delete(s.configs, sha)
	return nil
}

func (s *memStore) List(ctx context.Context) ([]domain.StrategyConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StrategyConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out, nil
}

// stubSupervisor fakes the runner for lifecycle endpoints.
type stubSupervisor struct {
	mu      sync.Mutex
	running map[string]bool
}

func newStubSupervisor() *stubSupervisor {
	return &stubSupervisor{running: make(map[string]bool)}
}

func (s *stubSupervisor) Start(ctx context.Context, cfg domain.StrategyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[cfg.Sha] {
		return domain.ErrAlreadyRunning
	}
	s.running[cfg.Sha] = true
	return nil
}

func (s *stubSupervisor) Stop(sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running[sha] {
		return domain.ErrNotFound
	}
	delete(s.running, sha)
	return nil
}

func (s *stubSupervisor) StopAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	stopped := make([]string, 0, len(s.running))
	for sha := range s.running {
		stopped = append(stopped, sha)
		delete(s.running, sha)
	}
	return stopped
}

func (s *stubSupervisor) List() []domain.RobotRunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]domain.RobotRunInfo, 0, len(s.running))
	for sha := range s.running {
		infos = append(infos, domain.RobotRunInfo{Sha: sha, Status: domain.RunRunning})
	}
	return infos
}

func (s *stubSupervisor) Stats() []domain.RobotStats {
	return nil
}

func newTestServer(t *testing.T, apiKey string) (*Server, *memStore, *stubSupervisor) {
	t.Helper()
	store := newMemStore()
	sup := newStubSupervisor()
	logger := testLogger()

	srv := NewServer(Config{Port: 0, APIKey: apiKey}, Handlers{
		Health:  handler.NewHealthHandler(logger),
		Configs: handler.NewConfigHandler(store, logger),
		Robots:  handler.NewRobotHandler(store, sup, logger),
	}, logger)
	return srv, store, sup
}

func validConfigBody() map[string]any {
	return map[string]any{
		"base":              "ETH",
		"quote":             "USDT",
		"leader_exchange":   "binance",
		"follower_exchange": "btcturk",
		"network":           "testnet",
		"test_mode":         true,
		"quote_step_qty":    3000.0,
		"credit":            2.0,
		"step_k":            0.5,
		"max_steps":         10,
		"max_spend":         30000.0,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCreateConfig(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/configs", validConfigBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.StrategyConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Len(t, created.Sha, 64, "fingerprint is a hex sha256")
	assert.False(t, created.CreatedAt.IsZero())

	// Same payload again: same fingerprint, conflict.
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/configs", validConfigBody())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateConfigRejectsInvalid(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	body := validConfigBody()
	body["quote"] = "ETH" // base == quote
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/configs", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndDeleteConfig(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/configs", validConfigBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.StrategyConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/configs/"+created.Sha, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodDelete, "/api/configs/"+created.Sha, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/configs/"+created.Sha, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRobotLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/configs", validConfigBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.StrategyConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Unknown sha cannot start.
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/robots/deadbeef/start", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/robots/"+created.Sha+"/start", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Starting twice conflicts.
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/robots/"+created.Sha+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/robots", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.Sha)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/robots/"+created.Sha+"/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Stopping a stopped robot is a 404.
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/robots/"+created.Sha+"/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopAllRoute(t *testing.T) {
	srv, _, sup := newTestServer(t, "")
	sup.running["aaa"] = true
	sup.running["bbb"] = true

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/robots/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Stopped []string `json:"stopped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"aaa", "bbb"}, resp.Stopped)
}

func TestAuthMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/robots", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/robots", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/robots", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDEcho(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), "server assigns an ID when the caller sends none")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"), "caller supplied IDs are kept")
}
