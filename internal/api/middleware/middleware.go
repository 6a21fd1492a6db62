package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/pkg/slugid"
	"go.uber.org/zap"
)

// ErrInvalidRequest marks request binding failures.
var ErrInvalidRequest = errors.New("invalid request")

// ErrorResponse 统一错误响应格式
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Classify maps an error to its HTTP status and response code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, task.ErrNoWork):
		return http.StatusNoContent, "NO_WORK"
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, task.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, task.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, task.ErrInvalidTaskInfo),
		errors.Is(err, task.ErrInvalidArgument),
		errors.Is(err, slugid.ErrInvalidIdentifier),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, task.ErrInvariantViolation):
		return http.StatusInternalServerError, "INVARIANT_VIOLATION"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// ErrorHandlingMiddleware 统一错误处理中间件
func ErrorHandlingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method))

				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Code:    "INTERNAL_ERROR",
					Message: "An internal error occurred",
				})
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, code := Classify(err)
		if status == http.StatusNoContent {
			c.Status(status)
			c.Writer.WriteHeaderNow()
			return
		}

		fields := []zap.Field{
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int("status", status),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}

		resp := ErrorResponse{Code: code, Message: http.StatusText(status)}
		// 500 以外的错误都是调用方可以处理的，带上原因
		if status < http.StatusInternalServerError || code == "INVARIANT_VIOLATION" {
			resp.Details = err.Error()
		}
		c.JSON(status, resp)
	}
}

// Cors 允许所有来源的跨域请求
func Cors() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	return cors.New(config)
}
