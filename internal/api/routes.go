package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jobs/taskqueue/internal/api/middleware"
	"github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/internal/metrics"
	"github.com/jobs/taskqueue/pkg/slugid"
	"github.com/spf13/cast"
)

// parseRun decodes the {taskId}/{runId} path pair.
func parseRun(taskID, runID string) (uuid.UUID, int, error) {
	id, err := slugid.Decode(taskID)
	if err != nil {
		return uuid.UUID{}, 0, err
	}
	// only canonical decimal: cast would read "0x1" as hex and "010" as octal
	run, err := cast.ToIntE(runID)
	if err != nil || run < 0 || cast.ToString(run) != runID {
		return uuid.UUID{}, 0, fmt.Errorf("%w: runId %q", task.ErrInvalidArgument, runID)
	}
	return id, run, nil
}

// outcome is the metrics label for an operation result.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	_, code := middleware.Classify(err)
	return strings.ToLower(code)
}

type QueueAPIWrap struct {
	inner   IQueueAPI
	metrics *metrics.Metrics
}

func NewQueueAPIWrap(inner IQueueAPI, m *metrics.Metrics) *QueueAPIWrap {
	return &QueueAPIWrap{inner: inner, metrics: m}
}

func respond[T any](w *QueueAPIWrap, c *gin.Context, operation string, data T, err error) {
	w.metrics.Outcome(operation, outcome(err))
	onGinResponse(c, data, err)
}

func (w *QueueAPIWrap) DefineTask(c *gin.Context) {
	var query DefineTaskQuery
	if !onGinBind(c, &query, "QUERY") {
		return
	}
	var req task.TaskInfo
	if !onGinBind(c, &req, "JSON") {
		return
	}
	data, err := w.inner.DefineTask(c, c.Param("taskId"), query, req)
	respond(w, c, "defineTask", data, err)
}

func (w *QueueAPIWrap) ScheduleTask(c *gin.Context) {
	data, err := w.inner.ScheduleTask(c, c.Param("taskId"))
	respond(w, c, "scheduleTask", data, err)
}

func (w *QueueAPIWrap) Status(c *gin.Context) {
	data, err := w.inner.Status(c, c.Param("taskId"))
	respond(w, c, "status", data, err)
}

func (w *QueueAPIWrap) Task(c *gin.Context) {
	data, err := w.inner.Task(c, c.Param("taskId"))
	respond(w, c, "task", data, err)
}

func (w *QueueAPIWrap) ClaimTask(c *gin.Context) {
	var req ClaimReq
	if !onGinBind(c, &req, "JSON") {
		return
	}
	data, err := w.inner.ClaimTask(c, c.Param("taskId"), c.Param("runId"), req)
	respond(w, c, "claimTask", data, err)
}

func (w *QueueAPIWrap) ReclaimTask(c *gin.Context) {
	var req ClaimReq
	if !onGinBind(c, &req, "JSON") {
		return
	}
	data, err := w.inner.ReclaimTask(c, c.Param("taskId"), c.Param("runId"), req)
	respond(w, c, "reclaimTask", data, err)
}

func (w *QueueAPIWrap) ReportCompleted(c *gin.Context) {
	var req CompletedReq
	if !onGinBind(c, &req, "JSON") {
		return
	}
	data, err := w.inner.ReportCompleted(c, c.Param("taskId"), c.Param("runId"), req)
	respond(w, c, "reportCompleted", data, err)
}

func (w *QueueAPIWrap) RerunTask(c *gin.Context) {
	var req RerunReq
	// 空 body 使用默认重试次数
	if c.Request.ContentLength != 0 && !onGinBind(c, &req, "JSON") {
		return
	}
	data, err := w.inner.RerunTask(c, c.Param("taskId"), req)
	respond(w, c, "rerunTask", data, err)
}

func (w *QueueAPIWrap) ClaimWork(c *gin.Context) {
	var req ClaimReq
	if !onGinBind(c, &req, "JSON") {
		return
	}
	data, err := w.inner.ClaimWork(c, c.Param("provisionerId"), c.Param("workerType"), req)
	respond(w, c, "claimWork", data, err)
}

func (w *QueueAPIWrap) PendingTasks(c *gin.Context) {
	data, err := w.inner.PendingTasks(c, c.Param("provisionerId"))
	respond(w, c, "pendingTasks", data, err)
}

func (w *QueueAPIWrap) BindAll(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	v1.PUT("/task/:taskId", w.DefineTask)
	v1.GET("/task/:taskId", w.Task)
	v1.POST("/task/:taskId/schedule", w.ScheduleTask)
	v1.GET("/task/:taskId/status", w.Status)
	v1.POST("/task/:taskId/rerun", w.RerunTask)
	v1.POST("/task/:taskId/runs/:runId/claim", w.ClaimTask)
	v1.POST("/task/:taskId/runs/:runId/reclaim", w.ReclaimTask)
	v1.POST("/task/:taskId/runs/:runId/completed", w.ReportCompleted)
	v1.POST("/claim-work/:provisionerId/:workerType", w.ClaimWork)
	v1.GET("/pending-tasks/:provisionerId", w.PendingTasks)
}

type CommonAPIWrap struct {
	inner ICommonAPI
}

func NewCommonAPIWrap(inner ICommonAPI) *CommonAPIWrap {
	return &CommonAPIWrap{inner: inner}
}

func (w *CommonAPIWrap) HealthCheck(c *gin.Context) {
	data, err := w.inner.HealthCheck(c)
	onGinResponse(c, data, err)
}

func (w *CommonAPIWrap) BindAll(router gin.IRouter) {
	router.GET("/api/v1/health", w.HealthCheck)
}
