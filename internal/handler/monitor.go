package handler

import (
	"net/http"
	"runtime"
	"time"

	"kernel-leaderboard/api"
	"kernel-leaderboard/internal/service"

	"github.com/gin-gonic/gin"
)

const serviceName = "kernel-leaderboard"

// CacheStats 参考脚本缓存统计
type CacheStats interface {
	GetCacheStats() map[string]interface{}
}

// MonitorHandler 健康检查与监控接口
type MonitorHandler struct {
	engine *service.Engine
	cache  CacheStats // 未启用参考脚本下发时为 nil
}

func NewMonitorHandler(engine *service.Engine, cache CacheStats) *MonitorHandler {
	return &MonitorHandler{engine: engine, cache: cache}
}

// Health 健康检查接口
func (h *MonitorHandler) Health(c *gin.Context) {
	api.ResponseSuccess(c, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   serviceName,
	})
}

// Metrics 获取评测统计信息
func (h *MonitorHandler) Metrics(c *gin.Context) {
	api.ResponseSuccess(c, h.engine.Metrics().GetSnapshot())
}

// Pool 资源池与调度队列
func (h *MonitorHandler) Pool(c *gin.Context) {
	api.ResponseSuccess(c, h.engine.PoolStats())
}

// SystemInfo 获取系统信息
func (h *MonitorHandler) SystemInfo(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	info := gin.H{
		// Go运行时信息
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
		"cpu_cores":  runtime.NumCPU(),

		// 内存信息
		"memory": gin.H{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"gc_count":       m.NumGC,
		},

		"engine_stats": h.engine.Metrics().GetSnapshot(),
		"pool_stats":   h.engine.PoolStats(),
	}
	if h.cache != nil {
		info["cache_stats"] = h.cache.GetCacheStats()
	}

	api.ResponseSuccess(c, info)
}

// Readiness 就绪检查（用于K8s等），没有任何可用的评测目标时未就绪
func (h *MonitorHandler) Readiness(c *gin.Context) {
	if !h.engine.Ready() {
		api.ResponseErrorWithStatus(c, http.StatusServiceUnavailable, api.CodeNotReady)
		return
	}

	api.ResponseSuccess(c, gin.H{
		"status":    "ready",
		"timestamp": time.Now().Unix(),
	})
}

// Liveness 存活检查（用于K8s等）
func (h *MonitorHandler) Liveness(c *gin.Context) {
	api.ResponseSuccess(c, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Unix(),
	})
}
