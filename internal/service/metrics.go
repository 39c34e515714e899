package service

import (
	"sync"
	"sync/atomic"
	"time"

	"kernel-leaderboard/internal/model"
)

// EngineMetrics 评测统计指标
type EngineMetrics struct {
	// 计数器
	TotalSubmissions    int64 // 总提交数
	RejectedSubmissions int64 // 入队前被拒绝的提交
	CompletedJobs       int64 // 已结束的任务

	// 各结果统计
	PassedCount    int64
	FailedCount    int64
	TimedOutCount  int64
	ErroredCount   int64
	CancelledCount int64
	RetryCount     int64 // 重试次数

	// 性能指标
	TotalJudgeTime int64 // 总评测时间（毫秒）
	MaxJudgeTime   int64 // 最大评测时间（毫秒）
	MinJudgeTime   int64 // 最小评测时间（毫秒）

	// 资源使用
	CurrentQueued  int32 // 当前排队任务数
	CurrentActive  int32 // 当前运行任务数
	MaxConcurrent  int32 // 历史最大并发数
	SlotWaitCount  int64 // 申请槽位次数
	SlotWaitTimeMs int64 // 累计等待槽位时间（毫秒）

	// 缓存统计
	CacheHits   int64 // 缓存命中次数
	CacheMisses int64 // 缓存未命中次数

	// 时间戳
	StartTime time.Time // 启动时间

	mu sync.RWMutex
}

// NewEngineMetrics 创建统计实例
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		StartTime:    time.Now(),
		MinJudgeTime: int64(^uint64(0) >> 1), // 初始化为最大值
	}
}

// RecordSubmission 记录提交
func (m *EngineMetrics) RecordSubmission() {
	atomic.AddInt64(&m.TotalSubmissions, 1)
}

// RecordRejected 记录入队前拒绝
func (m *EngineMetrics) RecordRejected() {
	atomic.AddInt64(&m.RejectedSubmissions, 1)
}

// RecordQueued 记录入队
func (m *EngineMetrics) RecordQueued() {
	atomic.AddInt32(&m.CurrentQueued, 1)
}

// RecordDequeued 记录出队（开始运行或在队列中结束）
func (m *EngineMetrics) RecordDequeued() {
	atomic.AddInt32(&m.CurrentQueued, -1)
}

// RecordOutcome 记录任务结束
func (m *EngineMetrics) RecordOutcome(outcome model.JobState, judgeTime time.Duration) {
	atomic.AddInt64(&m.CompletedJobs, 1)

	switch outcome {
	case model.StatePassed:
		atomic.AddInt64(&m.PassedCount, 1)
	case model.StateFailed:
		atomic.AddInt64(&m.FailedCount, 1)
	case model.StateTimedOut:
		atomic.AddInt64(&m.TimedOutCount, 1)
	case model.StateErrored:
		atomic.AddInt64(&m.ErroredCount, 1)
	case model.StateCancelled:
		atomic.AddInt64(&m.CancelledCount, 1)
	}

	judgeTimeMs := judgeTime.Milliseconds()
	atomic.AddInt64(&m.TotalJudgeTime, judgeTimeMs)

	// 更新最大时间
	for {
		oldMax := atomic.LoadInt64(&m.MaxJudgeTime)
		if judgeTimeMs <= oldMax {
			break
		}
		if atomic.CompareAndSwapInt64(&m.MaxJudgeTime, oldMax, judgeTimeMs) {
			break
		}
	}

	// 更新最小时间
	for {
		oldMin := atomic.LoadInt64(&m.MinJudgeTime)
		if judgeTimeMs >= oldMin {
			break
		}
		if atomic.CompareAndSwapInt64(&m.MinJudgeTime, oldMin, judgeTimeMs) {
			break
		}
	}
}

// RecordRetry 记录重试
func (m *EngineMetrics) RecordRetry() {
	atomic.AddInt64(&m.RetryCount, 1)
}

// RecordActiveIncrease 记录活跃评测增加
func (m *EngineMetrics) RecordActiveIncrease() int32 {
	current := atomic.AddInt32(&m.CurrentActive, 1)

	// 更新最大并发数
	for {
		oldMax := atomic.LoadInt32(&m.MaxConcurrent)
		if current <= oldMax {
			break
		}
		if atomic.CompareAndSwapInt32(&m.MaxConcurrent, oldMax, current) {
			break
		}
	}

	return current
}

// RecordActiveDecrease 记录活跃评测减少
func (m *EngineMetrics) RecordActiveDecrease() {
	atomic.AddInt32(&m.CurrentActive, -1)
}

// RecordSlotWait 记录一次槽位申请及等待时间
func (m *EngineMetrics) RecordSlotWait(waited time.Duration) {
	atomic.AddInt64(&m.SlotWaitCount, 1)
	atomic.AddInt64(&m.SlotWaitTimeMs, waited.Milliseconds())
}

// RecordCacheHit 记录缓存命中
func (m *EngineMetrics) RecordCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
}

// RecordCacheMiss 记录缓存未命中
func (m *EngineMetrics) RecordCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
}

// GetSnapshot 获取统计快照
func (m *EngineMetrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	startTime := m.StartTime
	m.mu.RUnlock()

	completed := atomic.LoadInt64(&m.CompletedJobs)
	totalJudgeTime := atomic.LoadInt64(&m.TotalJudgeTime)

	var avgJudgeTime int64
	minJudgeTime := atomic.LoadInt64(&m.MinJudgeTime)
	if completed > 0 {
		avgJudgeTime = totalJudgeTime / completed
	} else {
		minJudgeTime = 0
	}

	slotWaits := atomic.LoadInt64(&m.SlotWaitCount)
	var avgSlotWait int64
	if slotWaits > 0 {
		avgSlotWait = atomic.LoadInt64(&m.SlotWaitTimeMs) / slotWaits
	}

	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)
	var cacheHitRate float64
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = float64(cacheHits) / float64(cacheHits+cacheMisses) * 100
	}

	queued := atomic.LoadInt32(&m.CurrentQueued)
	active := atomic.LoadInt32(&m.CurrentActive)

	return map[string]interface{}{
		// 基础统计
		"total_submissions":    atomic.LoadInt64(&m.TotalSubmissions),
		"rejected_submissions": atomic.LoadInt64(&m.RejectedSubmissions),
		"evaluated":            completed,
		"pending":              int64(queued) + int64(active),

		// 结果统计
		"passed_count":    atomic.LoadInt64(&m.PassedCount),
		"failed_count":    atomic.LoadInt64(&m.FailedCount),
		"timed_out_count": atomic.LoadInt64(&m.TimedOutCount),
		"errored_count":   atomic.LoadInt64(&m.ErroredCount),
		"cancelled_count": atomic.LoadInt64(&m.CancelledCount),
		"retry_count":     atomic.LoadInt64(&m.RetryCount),

		// 性能指标
		"avg_judge_time_ms": avgJudgeTime,
		"max_judge_time_ms": atomic.LoadInt64(&m.MaxJudgeTime),
		"min_judge_time_ms": minJudgeTime,

		// 并发统计
		"current_queued":   queued,
		"current_active":   active,
		"max_concurrent":   atomic.LoadInt32(&m.MaxConcurrent),
		"slot_wait_count":  slotWaits,
		"avg_slot_wait_ms": avgSlotWait,

		// 缓存统计
		"cache_hits":     cacheHits,
		"cache_misses":   cacheMisses,
		"cache_hit_rate": cacheHitRate,

		// 运行时间
		"uptime_seconds": time.Since(startTime).Seconds(),
		"start_time":     startTime.Format(time.RFC3339),
	}
}

// Reset 重置统计（谨慎使用）
func (m *EngineMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	atomic.StoreInt64(&m.TotalSubmissions, 0)
	atomic.StoreInt64(&m.RejectedSubmissions, 0)
	atomic.StoreInt64(&m.CompletedJobs, 0)
	atomic.StoreInt64(&m.PassedCount, 0)
	atomic.StoreInt64(&m.FailedCount, 0)
	atomic.StoreInt64(&m.TimedOutCount, 0)
	atomic.StoreInt64(&m.ErroredCount, 0)
	atomic.StoreInt64(&m.CancelledCount, 0)
	atomic.StoreInt64(&m.RetryCount, 0)
	atomic.StoreInt64(&m.TotalJudgeTime, 0)
	atomic.StoreInt64(&m.MaxJudgeTime, 0)
	atomic.StoreInt64(&m.MinJudgeTime, int64(^uint64(0)>>1))
	atomic.StoreInt32(&m.MaxConcurrent, 0)
	atomic.StoreInt64(&m.SlotWaitCount, 0)
	atomic.StoreInt64(&m.SlotWaitTimeMs, 0)
	atomic.StoreInt64(&m.CacheHits, 0)
	atomic.StoreInt64(&m.CacheMisses, 0)
	m.StartTime = time.Now()
}

// AttemptFinished 实现 task.Observer
func (m *EngineMetrics) AttemptFinished(job *model.EvaluationJob, attempt int, outcome model.JobState) {
	if attempt > 1 {
		m.RecordRetry()
	}
}

// SlotAcquired 实现 task.Observer
func (m *EngineMetrics) SlotAcquired(job *model.EvaluationJob, waited time.Duration) {
	m.RecordSlotWait(waited)
}
