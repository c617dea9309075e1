package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/inkboard/inkboard/internal/jobs"
	"github.com/inkboard/inkboard/internal/observability"
)

type fakeDeleter struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakeDeleter) DeleteExpiredGrants(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

func newSweepJob(store ExpiredGrantDeleter, now time.Time) *GrantSweepJob {
	job := NewGrantSweepJob(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()), 48*time.Hour)
	job.clock = func() time.Time { return now }
	return job
}

func TestGrantSweepUsesConfiguredRetention(t *testing.T) {
	now := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	store := &fakeDeleter{deleted: 4}
	job := newSweepJob(store, now)

	deleted, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.Equal(t, now.Add(-48*time.Hour), store.cutoff)
}

func TestGrantSweepHandlePayloadOverride(t *testing.T) {
	now := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	store := &fakeDeleter{}
	job := newSweepJob(store, now)

	task, err := NewGrantSweepTask(time.Hour)
	require.NoError(t, err)
	require.Equal(t, TaskRBACGrantSweep, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, now.Add(-time.Hour), store.cutoff)
}

func TestGrantSweepHandleRejectsBadPayload(t *testing.T) {
	job := newSweepJob(&fakeDeleter{}, time.Now())

	err := job.Handle(context.Background(), asynq.NewTask(TaskRBACGrantSweep, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestGrantSweepPropagatesStoreError(t *testing.T) {
	boom := errors.New("connection refused")
	job := newSweepJob(&fakeDeleter{err: boom}, time.Now())

	_, err := job.Run(context.Background(), 0)
	assert.ErrorIs(t, err, boom)
}

func TestGrantSweepRequiresStore(t *testing.T) {
	var job *GrantSweepJob
	assert.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskRBACGrantSweep, nil)))
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestJobsHealth(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   int
	}{
		{name: "no inspector", inspector: nil, status: http.StatusOK},
		{name: "queue info", inspector: fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 7}}, status: http.StatusOK, pending: 7},
		{name: "redis down", inspector: fakeInspector{err: errors.New("dial tcp")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rr.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body queueHealth
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, QueueDefault, body.Queue)
			assert.Equal(t, tc.pending, body.Pending)
		})
	}
}

func TestGrantSweepFailureIsScrapeable(t *testing.T) {
	registry := observability.NewMetrics()
	job := NewGrantSweepJob(&fakeDeleter{err: errors.New("connection refused")}, nil, jobmetrics.NewMetrics(registry.Registerer()), time.Hour)
	_, err := job.Run(context.Background(), 0)
	require.Error(t, err)

	ok := NewGrantSweepJob(&fakeDeleter{deleted: 3}, nil, job.Metrics, time.Hour)
	_, err = ok.Run(context.Background(), 0)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	observability.NewServer(":0", registry).Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `inkboard_jobs_failures_total{job="rbac:grant_sweep"} 1`)
	assert.Contains(t, body, `inkboard_rbac_swept_rows_total{kind="grants"} 3`)
}
