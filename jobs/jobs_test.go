package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	jobmetrics "github.com/odyssey-erp/konzern/internal/jobs"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

type fakeRunner struct {
	calls []RunPayload
	res   consol.RunResult
	err   error
}

func (f *fakeRunner) RunConsolidation(_ context.Context, statementID, actor uuid.UUID) (consol.RunResult, error) {
	f.calls = append(f.calls, RunPayload{StatementID: statementID, ActorID: actor})
	return f.res, f.err
}

func newRunTask(t *testing.T, statementID uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := NewRunTask(statementID, uuid.New())
	require.NoError(t, err)
	return task
}

func TestRunJobHandleSuccess(t *testing.T) {
	runner := &fakeRunner{res: consol.RunResult{
		RunID: uuid.New(),
		Entries: []ledger.Entry{
			{AdjustmentType: ledger.TypeElimination},
			{AdjustmentType: ledger.TypeElimination},
			{AdjustmentType: ledger.TypeCapitalConsolidation},
		},
	}}
	job := NewRunJob(runner, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	statementID := uuid.New()

	require.NoError(t, job.Handle(context.Background(), newRunTask(t, statementID)))
	require.Len(t, runner.calls, 1)
	require.Equal(t, statementID, runner.calls[0].StatementID)
}

func TestRunJobHandleErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{name: "lock held", err: consol.ErrRunInProgress, skipRetry: false},
		{name: "business rule", err: shared.BusinessRule("statement not open"), skipRetry: true},
		{name: "not found", err: shared.ErrNotFound, skipRetry: true},
		{name: "infrastructure", err: errors.New("connection reset"), skipRetry: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := NewRunJob(&fakeRunner{err: tc.err}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
			err := job.Handle(context.Background(), newRunTask(t, uuid.New()))
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestRunJobRejectsBadPayload(t *testing.T) {
	runner := &fakeRunner{}
	job := NewRunJob(runner, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskConsolidationRun, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	body, _ := json.Marshal(RunPayload{})
	err = job.Handle(context.Background(), asynq.NewTask(TaskConsolidationRun, body))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, runner.calls)
}

func TestClientEnqueueRunDeduplicatesStatement(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	statementID := uuid.New()
	id, err := client.EnqueueRun(context.Background(), statementID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, runTaskID(statementID), id)
	require.True(t, mr.Exists("asynq:{default}:t:"+id))

	_, err = client.EnqueueRun(context.Background(), statementID, uuid.New())
	require.ErrorIs(t, err, ErrRunQueued)

	other, err := client.EnqueueRun(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	require.NotEqual(t, id, other)
}

func TestRunCronBuildsOneTaskPerStatement(t *testing.T) {
	regs, err := RunCron("0 3 * * *", []uuid.UUID{uuid.New(), uuid.New()}, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	require.Equal(t, TaskConsolidationRun, regs[0].Task.Type())

	regs, err = RunCron("", []uuid.UUID{uuid.New()}, uuid.Nil)
	require.NoError(t, err)
	require.Empty(t, regs)
}

type fakeInspector struct {
	queue *asynq.QueueInfo
	task  *asynq.TaskInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.queue, f.err }

func (f fakeInspector) GetTaskInfo(string, string) (*asynq.TaskInfo, error) {
	if f.task == nil {
		return nil, asynq.ErrTaskNotFound
	}
	return f.task, f.err
}

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandlerHealth(t *testing.T) {
	h := NewHandler(fakeInspector{queue: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}}, nil)
	rec := serve(h, "/jobs/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var out queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 3, out.Pending)
	require.Equal(t, 1, out.Retry)

	h = NewHandler(fakeInspector{err: errors.New("redis down")}, nil)
	require.Equal(t, http.StatusServiceUnavailable, serve(h, "/jobs/health").Code)
}

func TestHandlerRunStatus(t *testing.T) {
	statementID := uuid.New()
	h := NewHandler(fakeInspector{task: &asynq.TaskInfo{ID: runTaskID(statementID), State: asynq.TaskStateRetry, Retried: 2, LastErr: "lock held"}}, nil)
	rec := serve(h, "/jobs/runs/"+statementID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var out runStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "retry", out.State)
	require.Equal(t, 2, out.Retried)

	h = NewHandler(fakeInspector{}, nil)
	require.Equal(t, http.StatusNotFound, serve(h, "/jobs/runs/"+uuid.NewString()).Code)
	require.Equal(t, http.StatusBadRequest, serve(h, "/jobs/runs/nope").Code)
}
