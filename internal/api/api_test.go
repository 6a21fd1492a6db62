package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobs/taskqueue/internal/api"
	"github.com/jobs/taskqueue/internal/api/middleware"
	"github.com/jobs/taskqueue/internal/archive"
	"github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/internal/events"
	"github.com/jobs/taskqueue/internal/infra/persistence/commonrepo"
	"github.com/jobs/taskqueue/internal/infra/persistence/taskrepo"
	"github.com/jobs/taskqueue/internal/metrics"
	"github.com/jobs/taskqueue/internal/orm/ormtest"
	"github.com/jobs/taskqueue/pkg/slugid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	clock   *clock.Mock
	router  *gin.Engine
	metrics *metrics.Metrics
	archive *archive.MemoryStore
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	storage := ormtest.New(t)
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	repo := taskrepo.NewRepositoryImpl(storage.DB(), commonrepo.DefaultRetryPolicy)
	uc := task.NewUsecase(repo, task.Config{}, clk, logger)
	store := archive.NewMemoryStore()
	m := metrics.New()

	queueAPI := api.NewQueueAPI(api.Config{ClaimTimeout: 20 * time.Minute}, uc, archive.FetchFunc(store),
		events.NewLogPublisher(logger), events.NewBuilder("test", clk), clk, logger)
	server := api.NewServer(api.ServerConfig{MetricsPath: "/metrics"}, queueAPI,
		api.NewCommonAPI(storage, nil, clk), m, logger)

	return &fixture{clock: clk, router: server.Router(), metrics: m, archive: store, logs: logs}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f *fixture) define(t *testing.T, query string) string {
	t.Helper()
	id := slugid.Nice()
	now := f.clock.Now().UTC()
	w := f.do(t, http.MethodPut, "/api/v1/task/"+id+query, task.TaskInfo{
		ProvisionerID: "aws-provisioner",
		WorkerType:    "b2g-desktop",
		SchedulerID:   "task-graph",
		TaskGroupID:   slugid.Nice(),
		Created:       now,
		Deadline:      now.Add(time.Hour),
		RetriesLeft:   1,
		Routes:        []string{"index.project.latest"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return id
}

func (f *fixture) kinds() []string {
	var kinds []string
	for _, entry := range f.logs.FilterMessage("task event").All() {
		kinds = append(kinds, entry.ContextMap()["kind"].(string))
	}
	return kinds
}

var worker = api.ClaimReq{WorkerGroup: "us-west-2", WorkerID: "i-123"}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.define(t, "?schedule=true")

	status := decode[api.StatusResp](t, f.do(t, http.MethodGet, "/api/v1/task/"+id+"/status", nil))
	require.Len(t, status.Status.Runs, 1)
	assert.Equal(t, task.RunStatePending, status.Status.Runs[0].State)

	w := f.do(t, http.MethodGet, "/api/v1/pending-tasks/aws-provisioner", nil)
	assert.Equal(t, []string{id}, decode[api.PendingTasksResp](t, w).TaskIDs)

	w = f.do(t, http.MethodPost, "/api/v1/claim-work/aws-provisioner/b2g-desktop", worker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	claimed := decode[api.ClaimResp](t, w)
	assert.Equal(t, 0, claimed.RunID)
	assert.Equal(t, f.clock.Now().UTC().Add(20*time.Minute), claimed.TakenUntil)

	f.clock.Add(10 * time.Minute)
	w = f.do(t, http.MethodPost, "/api/v1/task/"+id+"/runs/0/reclaim", worker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, f.clock.Now().UTC().Add(20*time.Minute), decode[api.ClaimResp](t, w).TakenUntil)

	success := true
	w = f.do(t, http.MethodPost, "/api/v1/task/"+id+"/runs/0/completed", api.CompletedReq{Success: &success})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", decode[api.StatusResp](t, w).Status.State)

	info := decode[task.TaskInfo](t, f.do(t, http.MethodGet, "/api/v1/task/"+id, nil))
	require.Len(t, info.Runs, 1)
	assert.Equal(t, true, *info.Runs[0].Success)

	assert.Equal(t, []string{"task-defined", "task-pending", "task-running", "task-completed"}, f.kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues("claimWork", "ok")))
}

func TestClaimWorkEmpty(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/claim-work/aws-provisioner/b2g-desktop", worker)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues("claimWork", "no_work")))
}

func TestClaimRun(t *testing.T) {
	f := newFixture(t)
	id := f.define(t, "")

	// not scheduled yet
	w := f.do(t, http.MethodPost, "/api/v1/task/"+id+"/runs/0/claim", worker)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/task/"+id+"/schedule", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/v1/task/"+id+"/runs/0/claim", worker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[api.ClaimResp](t, w)

	// same worker again gets the stored lease back
	f.clock.Add(time.Minute)
	w = f.do(t, http.MethodPost, "/api/v1/task/"+id+"/runs/0/claim", worker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, first.TakenUntil, decode[api.ClaimResp](t, w).TakenUntil)

	w = f.do(t, http.MethodPost, "/api/v1/task/"+id+"/runs/0/claim", api.ClaimReq{WorkerGroup: "other", WorkerID: "w"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", decode[middleware.ErrorResponse](t, w).Code)
}

func TestClaimWithLongWorkerGroup(t *testing.T) {
	f := newFixture(t)
	id := f.define(t, "?schedule=true")

	req := api.ClaimReq{WorkerGroup: strings.Repeat("g", 255), WorkerID: strings.Repeat("i", 22)}
	w := f.do(t, http.MethodPost, "/api/v1/task/"+id+"/runs/0/claim", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[api.ClaimResp](t, w)
	assert.Equal(t, req.WorkerGroup, resp.WorkerGroup)
	assert.Equal(t, req.WorkerGroup, *resp.Status.Runs[0].WorkerGroup)
}

func TestClaimLeaseHasMicrosecondPrecision(t *testing.T) {
	f := newFixture(t)
	id := f.define(t, "?schedule=true")

	f.clock.Add(1500 * time.Nanosecond)
	w := f.do(t, http.MethodPost, "/api/v1/task/"+id+"/runs/0/claim", worker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	want := time.Date(2026, 3, 1, 12, 20, 0, 1000, time.UTC)
	assert.True(t, want.Equal(decode[api.ClaimResp](t, w).TakenUntil))

	f.clock.Add(time.Minute + 999*time.Nanosecond)
	w = f.do(t, http.MethodPost, "/api/v1/task/"+id+"/runs/0/reclaim", worker)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	want = time.Date(2026, 3, 1, 12, 21, 0, 2000, time.UTC)
	assert.True(t, want.Equal(decode[api.ClaimResp](t, w).TakenUntil))
}

func TestDefineTask(t *testing.T) {
	f := newFixture(t)
	id := f.define(t, "")
	now := f.clock.Now().UTC()
	body := task.TaskInfo{
		ProvisionerID: "aws-provisioner",
		WorkerType:    "b2g-desktop",
		TaskGroupID:   slugid.Nice(),
		Created:       now,
		Deadline:      now.Add(time.Hour),
	}

	w := f.do(t, http.MethodPut, "/api/v1/task/"+id, body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_EXISTS", decode[middleware.ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodPut, "/api/v1/task/"+id+"?loadIfExists=true", body)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body.TaskID = slugid.Nice()
	w = f.do(t, http.MethodPut, "/api/v1/task/"+id, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrors(t *testing.T) {
	f := newFixture(t)
	id := f.define(t, "?schedule=true")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown task", http.MethodGet, "/api/v1/task/" + slugid.Nice() + "/status", nil, http.StatusNotFound},
		{"bad slug", http.MethodGet, "/api/v1/task/not-a-slug/status", nil, http.StatusBadRequest},
		{"bad run id", http.MethodPost, "/api/v1/task/" + id + "/runs/x/claim", worker, http.StatusBadRequest},
		{"negative run id", http.MethodPost, "/api/v1/task/" + id + "/runs/-1/claim", worker, http.StatusBadRequest},
		{"hex run id", http.MethodPost, "/api/v1/task/" + id + "/runs/0x0/claim", worker, http.StatusBadRequest},
		{"hex run id one", http.MethodPost, "/api/v1/task/" + id + "/runs/0x1/claim", worker, http.StatusBadRequest},
		{"zero padded run id", http.MethodPost, "/api/v1/task/" + id + "/runs/010/claim", worker, http.StatusBadRequest},
		{"signed run id", http.MethodPost, "/api/v1/task/" + id + "/runs/+0/claim", worker, http.StatusBadRequest},
		{"long worker id", http.MethodPost, "/api/v1/task/" + id + "/runs/0/claim",
			api.ClaimReq{WorkerGroup: "g", WorkerID: strings.Repeat("i", 23)}, http.StatusBadRequest},
		{"long worker type", http.MethodPut, "/api/v1/task/" + slugid.Nice(), task.TaskInfo{
			ProvisionerID: "aws-provisioner",
			WorkerType:    strings.Repeat("w", 23),
			TaskGroupID:   slugid.Nice(),
			Deadline:      time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		}, http.StatusBadRequest},
		{"long worker group", http.MethodPost, "/api/v1/task/" + id + "/runs/0/claim",
			api.ClaimReq{WorkerGroup: strings.Repeat("g", 256), WorkerID: "w"}, http.StatusBadRequest},
		{"missing worker", http.MethodPost, "/api/v1/task/" + id + "/runs/0/claim", api.ClaimReq{WorkerGroup: "g"}, http.StatusBadRequest},
		{"missing success", http.MethodPost, "/api/v1/task/" + id + "/runs/0/completed", map[string]any{}, http.StatusBadRequest},
		{"complete pending run", http.MethodPost, "/api/v1/task/" + id + "/runs/0/completed", map[string]any{"success": true}, http.StatusConflict},
		{"reclaim pending run", http.MethodPost, "/api/v1/task/" + id + "/runs/0/reclaim", worker, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestRerun(t *testing.T) {
	f := newFixture(t)
	id := f.define(t, "?schedule=true")

	// a live run is left alone
	w := f.do(t, http.MethodPost, "/api/v1/task/"+id+"/rerun", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[api.StatusResp](t, w).Status.Runs, 1)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/task/"+id+"/runs/0/claim", worker).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/task/"+id+"/runs/0/completed", map[string]any{"success": false}).Code)

	w = f.do(t, http.MethodPost, "/api/v1/task/"+id+"/rerun", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	status := decode[api.StatusResp](t, w).Status
	require.Len(t, status.Runs, 2)
	assert.Equal(t, task.ReasonCreatedRerun, status.Runs[1].ReasonCreated)
	assert.Equal(t, api.DefaultRerunRetries, status.RetriesLeft)

	w = f.do(t, http.MethodPost, "/api/v1/task/"+id+"/rerun", map[string]any{"retries": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRerunFromArchive(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now().UTC()
	id := slugid.Nice()
	failed := task.ReasonResolvedFailed
	require.NoError(t, f.archive.Put(context.Background(), &task.TaskInfo{
		Version:       task.TaskInfoVersion,
		TaskID:        id,
		ProvisionerID: "aws-provisioner",
		WorkerType:    "b2g-desktop",
		TaskGroupID:   slugid.Nice(),
		Created:       now.Add(-72 * time.Hour),
		Deadline:      now.Add(-71 * time.Hour),
		Runs: []*task.RunInfo{{
			State:          task.RunStateFailed,
			ReasonCreated:  task.ReasonCreatedScheduled,
			ReasonResolved: &failed,
			Scheduled:      now.Add(-72 * time.Hour),
		}},
	}))

	w := f.do(t, http.MethodPost, "/api/v1/task/"+id+"/rerun", map[string]any{"retries": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	status := decode[api.StatusResp](t, w).Status
	require.Len(t, status.Runs, 2)
	assert.Equal(t, 2, status.RetriesLeft)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "healthy", decode[api.HealthResp](t, w).Status)

	f.do(t, http.MethodGet, "/api/v1/task/"+slugid.Nice()+"/status", nil)
	w = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `taskqueue_operations_total{operation="status",outcome="not_found"} 1`)
}
