package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobs/taskqueue/internal/api/middleware"
	"github.com/jobs/taskqueue/internal/metrics"
	"go.uber.org/zap"
)

type ServerConfig struct {
	Addr           string
	MetricsPath    string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	// 0 表示 net/http 默认值
	MaxHeaderBytes int
}

type Server struct {
	config ServerConfig
	router *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

func NewServer(
	cfg ServerConfig,
	queueAPI *QueueAPI,
	commonAPI *CommonAPI,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	s := &Server{config: cfg, logger: logger.Named("http")}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.ErrorHandlingMiddleware(s.logger))
	s.router.Use(middleware.Cors())

	NewQueueAPIWrap(queueAPI, m).BindAll(s.router)
	NewCommonAPIWrap(commonAPI).BindAll(s.router)
	if cfg.MetricsPath != "" {
		s.router.GET(cfg.MetricsPath, gin.WrapH(m.Handler()))
	}

	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start 在后台监听，监听失败时写日志
func (s *Server) Start() {
	s.http = &http.Server{
		Addr:           s.config.Addr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.config.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
