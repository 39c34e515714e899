package server

import (
	"net/http"

	"kernel-leaderboard/internal/handler"
	"kernel-leaderboard/internal/service"
	"kernel-leaderboard/pkg/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

func SetupRoutes(cfg *viper.Viper, engine *service.Engine, cache handler.CacheStats) *gin.Engine {
	if cfg.GetString("server.mode") != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(logging.GinLogger(), logging.GinRecovery(true)) // 日志中间件，记录请求日志
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{http.MethodGet, http.MethodPost}
	r.Use(cors.New(corsCfg))

	monitor := handler.NewMonitorHandler(engine, cache)
	r.GET("/health", monitor.Health)
	r.GET("/metrics", monitor.Metrics)
	r.GET("/system", monitor.SystemInfo)
	r.GET("/readiness", monitor.Readiness)
	r.GET("/liveness", monitor.Liveness)
	r.GET("/pool", monitor.Pool)

	evaluation := handler.NewEvaluationHandler(engine)
	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/leaderboard/:operation/:overload/:dsl/:device", evaluation.Leaderboard)
		apiV1.GET("/evaluations/:id", evaluation.Evaluation)
		apiV1.POST("/evaluations/:id/cancel", evaluation.Cancel)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"msg": "404",
		})
	})
	return r
}
