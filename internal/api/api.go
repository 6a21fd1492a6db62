package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobs/taskqueue/internal/orm"
	"github.com/jobs/taskqueue/internal/scheduler"
	"github.com/raulk/clock"
)

type ICommonAPI interface {
	// HealthCheck 健康检查
	// 检查服务和数据库是否健康
	// @GET(api/v1/health)
	HealthCheck(ctx *gin.Context) (HealthResp, error)
}

var _ ICommonAPI = (*CommonAPI)(nil)

type CommonAPI struct {
	storage   *orm.Storage
	scheduler *scheduler.Scheduler
	clock     clock.Clock
}

func NewCommonAPI(storage *orm.Storage, scheduler *scheduler.Scheduler, clk clock.Clock) *CommonAPI {
	return &CommonAPI{
		storage:   storage,
		scheduler: scheduler,
		clock:     clk,
	}
}

type HealthResp struct {
	Status string    `json:"status"`
	Leader bool      `json:"leader"`
	Time   time.Time `json:"time"`
}

func (c *CommonAPI) HealthCheck(ctx *gin.Context) (HealthResp, error) {
	if err := c.storage.Ping(ctx.Request.Context()); err != nil {
		return HealthResp{}, err
	}

	return HealthResp{
		Status: "healthy",
		Leader: c.scheduler != nil && c.scheduler.IsLeader(),
		Time:   c.clock.Now().UTC(),
	}, nil
}
