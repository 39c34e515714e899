package service

import (
	"context"

	"kernel-leaderboard/internal/model"
	"kernel-leaderboard/internal/pool"
	"kernel-leaderboard/internal/ranking"
	"kernel-leaderboard/internal/task"
	"kernel-leaderboard/internal/task/runner"
)

// EngineOptions 组装评测引擎所需的组件
type EngineOptions struct {
	Pool      *pool.Pool
	Registry  *runner.Registry
	Ranking   *ranking.Engine // 为 nil 时使用内存排行榜
	Results   ResultStore     // 为 nil 时使用内存存档
	Metrics   *EngineMetrics
	NextID    IDGenerator
	Task      task.Config
	Scheduler SchedulerConfig
}

// Engine 评测引擎对外接口
type Engine struct {
	pool      *pool.Pool
	registry  *runner.Registry
	ranking   *ranking.Engine
	results   ResultStore
	metrics   *EngineMetrics
	scheduler *Scheduler
}

// NewEngine 创建评测引擎
func NewEngine(opts EngineOptions) *Engine {
	if opts.Ranking == nil {
		opts.Ranking = ranking.NewEngine(nil)
	}
	if opts.Results == nil {
		opts.Results = NewMemoryResultStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewEngineMetrics()
	}

	executor := task.NewExecutor(opts.Pool, opts.Registry, opts.Task, opts.Metrics)
	scheduler := NewScheduler(opts.Scheduler, executor, opts.Registry, opts.Pool.Capacity,
		opts.Ranking, opts.Results, opts.Metrics, opts.NextID)

	return &Engine{
		pool:      opts.Pool,
		registry:  opts.Registry,
		ranking:   opts.Ranking,
		results:   opts.Results,
		metrics:   opts.Metrics,
		scheduler: scheduler,
	}
}

// SubmitEvaluation 提交并等待评测结果
func (e *Engine) SubmitEvaluation(ctx context.Context, req *model.SubmissionRequest) (*model.EvaluationResult, error) {
	return e.scheduler.Submit(ctx, req)
}

// EnqueueEvaluation 提交评测，立即返回任务ID
func (e *Engine) EnqueueEvaluation(req *model.SubmissionRequest) (int64, error) {
	return e.scheduler.Enqueue(req)
}

// AwaitEvaluation 等待任务结果
func (e *Engine) AwaitEvaluation(ctx context.Context, jobID int64) (*model.EvaluationResult, error) {
	return e.scheduler.Await(ctx, jobID)
}

// GetEvaluation 查询任务状态或结果，不阻塞
func (e *Engine) GetEvaluation(ctx context.Context, jobID int64) (*model.EvaluationResult, error) {
	return e.scheduler.Status(ctx, jobID)
}

// GetLeaderboard 分组排行榜快照
func (e *Engine) GetLeaderboard(ctx context.Context, key model.LeaderboardKey) ([]model.LeaderboardEntry, error) {
	return e.ranking.Leaderboard(ctx, key)
}

// CancelEvaluation 取消评测
func (e *Engine) CancelEvaluation(jobID int64) error {
	return e.scheduler.Cancel(jobID)
}

// Metrics 统计指标
func (e *Engine) Metrics() *EngineMetrics {
	return e.metrics
}

// Ready 是否至少有一个评测目标可用
func (e *Engine) Ready() bool {
	for _, target := range e.registry.Targets() {
		if e.pool.Capacity(target.Device) > 0 {
			return true
		}
	}
	return false
}

// PoolStats 资源池和调度队列状态
func (e *Engine) PoolStats() map[string]interface{} {
	stats := e.pool.Stats()
	stats["queued"] = e.scheduler.Queued()
	stats["targets"] = e.registry.Targets()
	return stats
}

// Shutdown 优雅关闭
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.scheduler.Close(ctx)
}
