package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/pomo/internal/timer"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.RecordTransition(timer.OpStart, nil)
	r.RecordTransition(timer.OpStart, &timer.DuplicateActiveSessionError{SessionID: "s1"})
	r.RecordTransition(timer.OpStart, &timer.ValidationError{Field: "task_id"})
	r.RecordTransition(timer.OpPause, fmt.Errorf("pause session s1: %w", timer.ErrNotFoundOrInvalidState))
	r.RecordTransition(timer.OpPause, errors.New("disk full"))
	r.RecordPersistenceFailure(timer.OpPause)
	r.RecordPersistenceFailure(timer.OpPause)
	r.RecordSessionMinutes(timer.OpComplete, 25)

	reg := r.Registry()
	require.Equal(t, 1.0, counterValue(t, reg, "pomo_transitions_total", map[string]string{"op": "start", "result": ResultOK}))
	require.Equal(t, 1.0, counterValue(t, reg, "pomo_transitions_total", map[string]string{"op": "start", "result": ResultDuplicate}))
	require.Equal(t, 1.0, counterValue(t, reg, "pomo_transitions_total", map[string]string{"op": "start", "result": ResultInvalid}))
	require.Equal(t, 1.0, counterValue(t, reg, "pomo_transitions_total", map[string]string{"op": "pause", "result": ResultRejected}))
	require.Equal(t, 1.0, counterValue(t, reg, "pomo_transitions_total", map[string]string{"op": "pause", "result": ResultError}))
	require.Equal(t, 2.0, counterValue(t, reg, "pomo_persistence_failures_total", map[string]string{"op": "pause"}))

	h := metricFor(t, reg, "pomo_session_minutes", map[string]string{"op": "complete"}).GetHistogram()
	require.Equal(t, uint64(1), h.GetSampleCount())
	require.Equal(t, 25.0, h.GetSampleSum())
}

func TestRecorderWithManager(t *testing.T) {
	r := NewRecorder()
	mgr, err := timer.NewManager(timer.Options{Store: failingStore{}, Recorder: r})
	require.NoError(t, err)

	ctx := context.Background()
	res, err := mgr.Start(ctx, timer.StartRequest{UserID: "u1", TaskID: "TG-1", TaskName: "Write docs", SessionType: "work"})
	require.NoError(t, err)
	require.Error(t, res.Warning)
	_, err = mgr.Resume(ctx, res.SessionID, "u1")
	require.Error(t, err)

	reg := r.Registry()
	require.Equal(t, 1.0, counterValue(t, reg, "pomo_transitions_total", map[string]string{"op": "start", "result": ResultOK}))
	require.Equal(t, 1.0, counterValue(t, reg, "pomo_transitions_total", map[string]string{"op": "resume", "result": ResultRejected}))
	require.Equal(t, 2.0, counterValue(t, reg, "pomo_persistence_failures_total", map[string]string{"op": "start"}))
}

func TestOpsHandler(t *testing.T) {
	r := NewRecorder()
	r.RecordTransition(timer.OpStart, nil)
	ping := &stubPinger{}
	h := OpsHandler(r.Registry(), map[string]timer.Pinger{"store": ping})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ping.err = errors.New("connection refused")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready?full=1", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `pomo_transitions_total{op="start",result="ok"} 1`)
	require.Contains(t, rec.Body.String(), "pomo_healthcheck_status")
}

func TestServeStopsWithContext(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, addr, OpsHandler(NewRecorder().Registry(), nil)) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/live")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(context.Context) error { return p.err }

type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) FindTaskRecord(context.Context, string, string) (timer.TaskRecord, error) {
	return timer.TaskRecord{}, errStoreDown
}

func (failingStore) CreateTaskRecord(context.Context, timer.TaskRecord) (timer.TaskRecord, error) {
	return timer.TaskRecord{}, errStoreDown
}

func (failingStore) UpdateTaskStatus(context.Context, string, string, string) error {
	return errStoreDown
}

func (failingStore) CreateSessionRecord(context.Context, timer.SessionRecord) (timer.SessionRecord, error) {
	return timer.SessionRecord{}, errStoreDown
}

func (failingStore) UpdateSessionRecord(context.Context, string, timer.SessionUpdate) error {
	return errStoreDown
}

func metricFor(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabels(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	return metricFor(t, reg, name, labels).GetCounter().GetValue()
}

func hasLabels(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			found++
		}
	}
	return found == len(labels)
}
