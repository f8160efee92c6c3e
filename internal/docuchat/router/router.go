// Package router provides document Q&A service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/docuchat/internal/docuchat/handler"
	"github.com/kart-io/docuchat/pkg/middleware"
)

// Config 路由级配置：全局中间件之外的认证和分接口限流。
type Config struct {
	// AuthKey 共享密钥，为空时禁用认证。
	AuthKey string
	// AuthHeader 密钥所在请求头。
	AuthHeader string
	// UploadLimiter 上传接口限流器，nil 表示不限流。
	UploadLimiter middleware.RateLimiter
	// QueryLimiter 查询接口限流器，nil 表示不限流。
	QueryLimiter middleware.RateLimiter
}

// Register registers all routes on the engine.
func Register(engine *gin.Engine, h *handler.Handler, cfg *Config) {
	logger.Info("Registering routes...")

	// 健康检查和指标不经过认证与限流
	engine.GET("/healthz", h.Health)
	engine.GET("/health", h.Health)
	engine.GET("/metrics", h.Metrics)

	v1 := engine.Group("/v1")
	if cfg.AuthKey != "" {
		v1.Use(middleware.SharedKeyAuth(cfg.AuthKey, cfg.AuthHeader))
	}
	{
		upload := v1.Group("")
		if cfg.UploadLimiter != nil {
			upload.Use(middleware.RateLimitWithConfig(middleware.RateLimitConfig{
				Limiter: cfg.UploadLimiter,
				// 按接口分窗口，同一客户端的上传和查询互不挤占
				KeyFunc: func(c *gin.Context) string { return "upload:" + c.ClientIP() },
			}))
		}
		upload.POST("/upload", h.Upload)

		query := v1.Group("")
		if cfg.QueryLimiter != nil {
			query.Use(middleware.RateLimitWithConfig(middleware.RateLimitConfig{
				Limiter: cfg.QueryLimiter,
				KeyFunc: func(c *gin.Context) string { return "query:" + c.ClientIP() },
			}))
		}
		query.POST("/query", h.Query)

		v1.POST("/sessions/sweep", h.SweepSessions)
	}

	logger.Info("HTTP routes registered")
}
