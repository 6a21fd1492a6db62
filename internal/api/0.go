package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/jobs/taskqueue/internal/api/middleware"
)

var Provider = wire.NewSet(
	NewQueueAPI,
	NewCommonAPI,
	NewServer,
)

func onGinBind(c *gin.Context, val any, typ string) bool {
	var err error
	switch typ {
	case "JSON":
		err = c.ShouldBindJSON(val)
	case "FORM":
		err = c.ShouldBind(val)
	case "QUERY":
		err = c.ShouldBindQuery(val)
	default:
		err = c.ShouldBind(val)
	}
	if err != nil {
		// 交给 ErrorHandlingMiddleware 渲染
		_ = c.Error(fmt.Errorf("%w: %v", middleware.ErrInvalidRequest, err))
		c.Abort()
		return false
	}
	return true
}

func onGinResponse[T any](c *gin.Context, data T, err error) {
	if err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, data)
}
