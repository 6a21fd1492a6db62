package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/internal/events"
	"github.com/jobs/taskqueue/pkg/slugid"
	"github.com/raulk/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// DefaultRerunRetries is used when a rerun request does not say.
const DefaultRerunRetries = 5

type IQueueAPI interface {
	// DefineTask 定义任务
	// 创建任务，schedule=true 时同时创建第一个 run
	// @PUT(api/v1/task/{taskId})
	DefineTask(ctx *gin.Context, taskID string, query DefineTaskQuery, req task.TaskInfo) (StatusResp, error)

	// ScheduleTask 调度任务
	// 为还没有 run 的任务创建 run 0
	// @POST(api/v1/task/{taskId}/schedule)
	ScheduleTask(ctx *gin.Context, taskID string) (StatusResp, error)

	// Status 任务状态
	// @GET(api/v1/task/{taskId}/status)
	Status(ctx *gin.Context, taskID string) (StatusResp, error)

	// Task 完整的任务定义，包括所有 run
	// @GET(api/v1/task/{taskId})
	Task(ctx *gin.Context, taskID string) (*task.TaskInfo, error)

	// ClaimTask 认领指定 run
	// @POST(api/v1/task/{taskId}/runs/{runId}/claim)
	ClaimTask(ctx *gin.Context, taskID string, runID string, req ClaimReq) (ClaimResp, error)

	// ReclaimTask 续租
	// @POST(api/v1/task/{taskId}/runs/{runId}/reclaim)
	ReclaimTask(ctx *gin.Context, taskID string, runID string, req ClaimReq) (ClaimResp, error)

	// ReportCompleted 上报 run 结果
	// @POST(api/v1/task/{taskId}/runs/{runId}/completed)
	ReportCompleted(ctx *gin.Context, taskID string, runID string, req CompletedReq) (StatusResp, error)

	// RerunTask 重新运行已结束的任务
	// @POST(api/v1/task/{taskId}/rerun)
	RerunTask(ctx *gin.Context, taskID string, req RerunReq) (StatusResp, error)

	// ClaimWork 认领最早的待处理 run
	// 没有可认领的 run 时返回 204
	// @POST(api/v1/claim-work/{provisionerId}/{workerType})
	ClaimWork(ctx *gin.Context, provisionerID string, workerType string, req ClaimReq) (ClaimResp, error)

	// PendingTasks 待处理任务列表
	// @GET(api/v1/pending-tasks/{provisionerId})
	PendingTasks(ctx *gin.Context, provisionerID string) (PendingTasksResp, error)
}

var _ IQueueAPI = (*QueueAPI)(nil)

type Config struct {
	ClaimTimeout time.Duration
}

type QueueAPI struct {
	config    Config
	usecase   *task.Usecase
	fetch     task.FetchFunc
	publisher events.Publisher
	builder   *events.Builder
	clock     clock.Clock
	logger    *zap.Logger
}

func NewQueueAPI(
	cfg Config,
	usecase *task.Usecase,
	fetch task.FetchFunc,
	publisher events.Publisher,
	builder *events.Builder,
	clk clock.Clock,
	logger *zap.Logger,
) *QueueAPI {
	return &QueueAPI{
		config:    cfg,
		usecase:   usecase,
		fetch:     fetch,
		publisher: publisher,
		builder:   builder,
		clock:     clk,
		logger:    logger.Named("api"),
	}
}

type DefineTaskQuery struct {
	Schedule     bool `form:"schedule"`
	LoadIfExists bool `form:"loadIfExists"`
}

type ClaimReq struct {
	WorkerGroup string `json:"workerGroup" binding:"required,max=255"`
	WorkerID    string `json:"workerId" binding:"required,max=22"`
}

type CompletedReq struct {
	Success *bool `json:"success" binding:"required"`
}

type RerunReq struct {
	Retries *int `json:"retries"`
}

type StatusResp struct {
	Status *task.TaskStatus `json:"status"`
}

type ClaimResp struct {
	Status      *task.TaskStatus `json:"status"`
	RunID       int              `json:"runId"`
	WorkerGroup string           `json:"workerGroup"`
	WorkerID    string           `json:"workerId"`
	TakenUntil  time.Time        `json:"takenUntil"`
}

type PendingTasksResp struct {
	ProvisionerID string   `json:"provisionerId"`
	TaskIDs       []string `json:"taskIds"`
}

func (a *QueueAPI) DefineTask(ctx *gin.Context, taskID string, query DefineTaskQuery, req task.TaskInfo) (StatusResp, error) {
	if req.TaskID == "" {
		req.TaskID = taskID
	}
	if req.TaskID != taskID {
		return StatusResp{}, fmt.Errorf("%w: body taskId %q does not match %q", task.ErrInvalidTaskInfo, req.TaskID, taskID)
	}
	if req.Version == 0 {
		req.Version = task.TaskInfoVersion
	}

	c := ctx.Request.Context()
	t, err := a.usecase.Create(c, &req, query.LoadIfExists)
	if err != nil {
		return StatusResp{}, err
	}
	msgs := []events.Message{a.builder.Defined(t)}

	if query.Schedule && len(t.Runs) == 0 {
		t, err = a.usecase.Schedule(c, t.TaskID)
		if err != nil {
			return StatusResp{}, err
		}
		msgs = append(msgs, a.builder.ForRun(t, 0))
	}
	events.PublishAll(c, a.publisher, a.logger, msgs...)
	return StatusResp{Status: t.Status()}, nil
}

func (a *QueueAPI) ScheduleTask(ctx *gin.Context, taskID string) (StatusResp, error) {
	id, err := slugid.Decode(taskID)
	if err != nil {
		return StatusResp{}, err
	}
	c := ctx.Request.Context()
	t, err := a.usecase.Schedule(c, id)
	if err != nil {
		return StatusResp{}, err
	}
	events.PublishAll(c, a.publisher, a.logger, a.builder.ForRun(t, 0))
	return StatusResp{Status: t.Status()}, nil
}

func (a *QueueAPI) Status(ctx *gin.Context, taskID string) (StatusResp, error) {
	t, err := a.load(ctx, taskID)
	if err != nil {
		return StatusResp{}, err
	}
	return StatusResp{Status: t.Status()}, nil
}

func (a *QueueAPI) Task(ctx *gin.Context, taskID string) (*task.TaskInfo, error) {
	t, err := a.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return t.Serialize(), nil
}

func (a *QueueAPI) ClaimTask(ctx *gin.Context, taskID string, runID string, req ClaimReq) (ClaimResp, error) {
	id, run, err := parseRun(taskID, runID)
	if err != nil {
		return ClaimResp{}, err
	}
	c := ctx.Request.Context()
	claim := a.claim(req)
	t, err := a.usecase.ClaimTaskRun(c, id, run, claim)
	if err != nil {
		return ClaimResp{}, err
	}
	events.PublishAll(c, a.publisher, a.logger, a.builder.ForRun(t, run))
	return claimResp(t, run, claim), nil
}

func (a *QueueAPI) ReclaimTask(ctx *gin.Context, taskID string, runID string, req ClaimReq) (ClaimResp, error) {
	id, run, err := parseRun(taskID, runID)
	if err != nil {
		return ClaimResp{}, err
	}
	claim := a.claim(req)
	t, err := a.usecase.ReclaimTaskRun(ctx.Request.Context(), id, run, claim)
	if err != nil {
		return ClaimResp{}, err
	}
	return claimResp(t, run, claim), nil
}

func (a *QueueAPI) ReportCompleted(ctx *gin.Context, taskID string, runID string, req CompletedReq) (StatusResp, error) {
	id, run, err := parseRun(taskID, runID)
	if err != nil {
		return StatusResp{}, err
	}
	c := ctx.Request.Context()
	t, err := a.usecase.CompleteTask(c, id, run, *req.Success)
	if err != nil {
		return StatusResp{}, err
	}
	events.PublishAll(c, a.publisher, a.logger, a.builder.ForRun(t, run))
	return StatusResp{Status: t.Status()}, nil
}

func (a *QueueAPI) RerunTask(ctx *gin.Context, taskID string, req RerunReq) (StatusResp, error) {
	id, err := slugid.Decode(taskID)
	if err != nil {
		return StatusResp{}, err
	}
	retries := lo.FromPtrOr(req.Retries, DefaultRerunRetries)

	c := ctx.Request.Context()
	t, err := a.usecase.RerunTask(c, id, retries, a.fetch)
	if err != nil {
		return StatusResp{}, err
	}
	if last := t.LastRun(); last != nil && last.State == task.RunStatePending && last.ReasonCreated == task.ReasonCreatedRerun {
		events.PublishAll(c, a.publisher, a.logger, a.builder.ForRun(t, last.RunID))
	}
	return StatusResp{Status: t.Status()}, nil
}

func (a *QueueAPI) ClaimWork(ctx *gin.Context, provisionerID string, workerType string, req ClaimReq) (ClaimResp, error) {
	c := ctx.Request.Context()
	claim := a.claim(req)
	t, err := a.usecase.ClaimWork(c, provisionerID, workerType, claim)
	if err != nil {
		return ClaimResp{}, err
	}
	run := t.LastRun().RunID
	events.PublishAll(c, a.publisher, a.logger, a.builder.ForRun(t, run))
	return claimResp(t, run, claim), nil
}

func (a *QueueAPI) PendingTasks(ctx *gin.Context, provisionerID string) (PendingTasksResp, error) {
	ids, err := a.usecase.QueryPending(ctx.Request.Context(), provisionerID)
	if err != nil {
		return PendingTasksResp{}, err
	}
	return PendingTasksResp{
		ProvisionerID: provisionerID,
		TaskIDs:       lo.Map(ids, func(id uuid.UUID, _ int) string { return slugid.Encode(id) }),
	}, nil
}

func (a *QueueAPI) load(ctx *gin.Context, taskID string) (*task.Task, error) {
	id, err := slugid.Decode(taskID)
	if err != nil {
		return nil, err
	}
	return a.usecase.Load(ctx.Request.Context(), id)
}

func (a *QueueAPI) claim(req ClaimReq) task.Claim {
	return task.Claim{
		WorkerGroup: req.WorkerGroup,
		WorkerID:    req.WorkerID,
		TakenUntil:  a.clock.Now().UTC().Add(a.config.ClaimTimeout).Truncate(time.Microsecond),
	}
}

func claimResp(t *task.Task, runID int, claim task.Claim) ClaimResp {
	resp := ClaimResp{
		Status:      t.Status(),
		RunID:       runID,
		WorkerGroup: claim.WorkerGroup,
		WorkerID:    claim.WorkerID,
		TakenUntil:  claim.TakenUntil.UTC(),
	}
	// 幂等的重复认领返回已存的租期
	if run := t.Run(runID); run != nil && run.TakenUntil != nil {
		resp.TakenUntil = run.TakenUntil.UTC()
	}
	return resp
}
