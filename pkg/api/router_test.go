package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/pumpcycle/config"
	"github.com/goclaw/pumpcycle/pkg/api/events"
	"github.com/goclaw/pumpcycle/pkg/api/handlers"
	"github.com/goclaw/pumpcycle/pkg/api/models"
	"github.com/goclaw/pumpcycle/pkg/api/response"
	"github.com/goclaw/pumpcycle/pkg/cycle"
	"github.com/goclaw/pumpcycle/pkg/line"
	"github.com/goclaw/pumpcycle/pkg/logger"
	"github.com/goclaw/pumpcycle/pkg/metrics"
	"github.com/goclaw/pumpcycle/pkg/plant"
	"github.com/goclaw/pumpcycle/pkg/signal"
)

type testServer struct {
	handler http.Handler
	line    *line.Controller
	metrics *metrics.Manager
}

func newTestServer(t *testing.T, cycleCfg cycle.Config, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.App.Line = "test-line"
	cfg.Server.RateLimit.Enabled = false
	for _, m := range mutate {
		m(cfg)
	}

	in := signal.NewInputs(signal.InitialValues{})
	ctrl, err := line.New(in, cycleCfg,
		line.WithName(cfg.App.Line),
		line.WithPlant(plant.New(in)),
		line.WithBroadcaster(events.NewBroadcaster()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ctrl.Close(ctx)
	})

	mm := metrics.NewManager(metrics.DefaultConfig())
	log := logger.Nop()
	h := &Handlers{
		Cycle:          handlers.NewCycleHandler(ctrl, log),
		Signal:         handlers.NewSignalHandler(ctrl, log),
		Config:         handlers.NewConfigHandler(ctrl),
		Health:         handlers.NewHealthHandler(ctrl),
		Metrics:        mm,
		MetricsHandler: mm.Handler(),
	}
	return &testServer{handler: NewRouter(cfg, log, h), line: ctrl, metrics: mm}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return s.line.Active() == nil }, 3*time.Second, 5*time.Millisecond)
}

func TestCycleLifecycle(t *testing.T) {
	s := newTestServer(t, cycle.Config{})

	w := s.do(t, http.MethodPost, "/api/v1/cycles", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[models.CycleStartResponse](t, w)
	assert.NotEmpty(t, started.RunID)
	assert.Equal(t, "test-line", started.Line)
	assert.Equal(t, "/api/v1/cycles/"+started.RunID, w.Header().Get("Location"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	s.waitIdle(t)

	w = s.do(t, http.MethodGet, "/api/v1/cycles/"+started.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	detail := decode[models.CycleDetail](t, w)
	assert.Equal(t, "completed", detail.Outcome)
	assert.Equal(t, "ClosingValves2", detail.LastStage)
	assert.Len(t, detail.Stages, 10)
	assert.Equal(t, "test-line", detail.Line)

	w = s.do(t, http.MethodGet, "/api/v1/cycles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.CycleListResponse](t, w)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 20, list.Limit)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, started.RunID, list.Runs[0].ID)

	w = s.do(t, http.MethodGet, "/api/v1/cycles?outcome=failed", nil)
	assert.Equal(t, 0, decode[models.CycleListResponse](t, w).Total)
}

func TestCycleStart_Conflict(t *testing.T) {
	s := newTestServer(t, cycle.Config{PrimeDelay: time.Minute})

	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/cycles", nil).Code)

	w := s.do(t, http.MethodPost, "/api/v1/cycles", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.ErrCodeCycleActive, decode[response.ErrorResponse](t, w).Error.Code)
}

func TestCurrentAndCancel(t *testing.T) {
	s := newTestServer(t, cycle.Config{PrimeDelay: time.Minute})

	w := s.do(t, http.MethodGet, "/api/v1/cycles/current", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrCodeNoActiveCycle, decode[response.ErrorResponse](t, w).Error.Code)

	w = s.do(t, http.MethodPost, "/api/v1/cycles/current/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	started := decode[models.CycleStartResponse](t, s.do(t, http.MethodPost, "/api/v1/cycles", nil))

	require.Eventually(t, func() bool {
		st := s.line.Current()
		return st != nil && st.Stage == cycle.StagePrimeDelay.String()
	}, 2*time.Second, 5*time.Millisecond)

	w = s.do(t, http.MethodGet, "/api/v1/cycles/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[line.RunStatus](t, w)
	assert.Equal(t, started.RunID, status.RunID)
	assert.Equal(t, "PrimeDelay", status.Stage)

	w = s.do(t, http.MethodPost, "/api/v1/cycles/current/cancel", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, started.RunID, decode[map[string]string](t, w)["run_id"])

	s.waitIdle(t)
	detail := decode[models.CycleDetail](t, s.do(t, http.MethodGet, "/api/v1/cycles/"+started.RunID, nil))
	assert.Equal(t, "cancelled", detail.Outcome)
	assert.Equal(t, "PrimeDelay", detail.LastStage)

	snap := decode[line.Snapshot](t, s.do(t, http.MethodGet, "/api/v1/signals", nil))
	for name, v := range snap.Outputs {
		assert.False(t, v, name)
	}
}

func TestGetCycle_NotFound(t *testing.T) {
	s := newTestServer(t, cycle.Config{})

	w := s.do(t, http.MethodGet, "/api/v1/cycles/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrCodeNotFound, decode[response.ErrorResponse](t, w).Error.Code)
}

func TestListCycles_InvalidQuery(t *testing.T) {
	s := newTestServer(t, cycle.Config{})

	for _, q := range []string{"limit=abc", "offset=-1", "limit=0", "outcome=exploded"} {
		w := s.do(t, http.MethodGet, "/api/v1/cycles?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestSignals(t *testing.T) {
	s := newTestServer(t, cycle.Config{})

	w := s.do(t, http.MethodPut, "/api/v1/signals/inputs/tankIsFull", map[string]bool{"value": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.SignalWriteResponse{Line: "test-line", Signal: "tankIsFull", Value: true},
		decode[models.SignalWriteResponse](t, w))

	snap := decode[line.Snapshot](t, s.do(t, http.MethodGet, "/api/v1/signals", nil))
	assert.True(t, snap.Inputs[signal.NameTankIsFull])
	assert.Len(t, snap.Outputs, 4)

	w = s.do(t, http.MethodPut, "/api/v1/signals/inputs/runPump", map[string]bool{"value": true})
	assert.Equal(t, http.StatusNotFound, w.Code, "outputs are not writable")
	assert.Equal(t, response.ErrCodeUnknownSignal, decode[response.ErrorResponse](t, w).Error.Code)

	w = s.do(t, http.MethodPut, "/api/v1/signals/inputs/tankIsFull", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/signals/inputs/tankIsFull", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmergencyStopOverHTTP(t *testing.T) {
	s := newTestServer(t, cycle.Config{PrimeDelay: time.Minute})

	started := decode[models.CycleStartResponse](t, s.do(t, http.MethodPost, "/api/v1/cycles", nil))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)

	w := s.do(t, http.MethodPut, "/api/v1/signals/inputs/emergencyStop", map[string]bool{"value": true})
	require.Equal(t, http.StatusOK, w.Code)
	s.waitIdle(t)

	detail := decode[models.CycleDetail](t, s.do(t, http.MethodGet, "/api/v1/cycles/"+started.RunID, nil))
	assert.Equal(t, "failed", detail.Outcome)
	assert.True(t, detail.EmergencyStop)
	assert.Equal(t, cycle.ErrEmergencyStop.Error(), detail.Error)

	w = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode[map[string]string](t, w)["status"])

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/v1/signals/inputs/emergencyStop", map[string]bool{"value": false}).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
}

func TestSignals_RateLimited(t *testing.T) {
	s := newTestServer(t, cycle.Config{}, func(c *config.Config) {
		c.Server.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	})

	body := map[string]bool{"value": true}
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/v1/signals/inputs/lowPressure", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodPut, "/api/v1/signals/inputs/lowPressure", body).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/signals", nil).Code, "reads are not limited")
}

func TestCycleConfig(t *testing.T) {
	s := newTestServer(t, cycle.Config{CloseValvesTimeout: 3200 * time.Millisecond, PrimeDelay: 5 * time.Second})

	w := s.do(t, http.MethodGet, "/api/v1/config/cycle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.CycleConfig](t, w)
	assert.Equal(t, int64(3200), got.CloseValvesTimeoutMS)
	assert.Equal(t, int64(5000), got.PrimeDelayMS)
	assert.Zero(t, got.PumpTimeoutMS)
}

func TestProbes(t *testing.T) {
	s := newTestServer(t, cycle.Config{})

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil).Code)

	w := s.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[handlers.StatusResponse](t, w)
	assert.Equal(t, "test-line", status.Line)
	assert.True(t, status.Healthy)
	assert.Nil(t, status.ActiveRun)
	assert.Nil(t, status.LastRun)

	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/cycles", nil).Code)
	s.waitIdle(t)
	status = decode[handlers.StatusResponse](t, s.do(t, http.MethodGet, "/status", nil))
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "completed", status.LastRun.Outcome)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.line.Close(ctx))
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodPost, "/api/v1/cycles", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, cycle.Config{})

	s.do(t, http.MethodGet, "/api/v1/signals", nil)
	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="GET",path="/api/v1/signals`)
}

func TestSwaggerRoute(t *testing.T) {
	s := newTestServer(t, cycle.Config{})

	w := s.do(t, http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/cycles")
}

func TestHTTPServer_ServeAndShutdown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	in := signal.NewInputs(signal.InitialValues{})
	ctrl, err := line.New(in, cycle.Config{})
	require.NoError(t, err)
	defer ctrl.Close(context.Background())

	srv := NewHTTPServer(cfg, logger.Nop(), &Handlers{Health: handlers.NewHealthHandler(ctrl)})
	assert.Equal(t, "127.0.0.1:0", srv.Addr())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}
