// Package task 执行单个评测任务：申请槽位、按顺序运行正确性和性能试验、
// 分类结果，并在 TimedOut/Errored 时重新申请槽位重试。
package task

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"kernel-leaderboard/internal/constants"
	"kernel-leaderboard/internal/model"
	"kernel-leaderboard/internal/task/runner"
	judgeErr "kernel-leaderboard/pkg/errors"

	"go.uber.org/zap"
)

// SlotPool 资源池
type SlotPool interface {
	Acquire(ctx context.Context, deviceClass, holder string, timeout time.Duration) (*model.Lease, error)
	Release(lease *model.Lease)
}

// RunnerLookup 按 (DSL, 设备) 查找运行器
type RunnerLookup interface {
	Lookup(dsl, device string) (runner.Runner, error)
}

// Config 评测参数
type Config struct {
	CorrectnessTrials int
	PerformanceTrials int
	MaxRetries        int
	TrialTimeout      time.Duration
	AcquireTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.CorrectnessTrials <= 0 {
		c.CorrectnessTrials = constants.DefaultCorrectnessTrials
	}
	if c.PerformanceTrials <= 0 {
		c.PerformanceTrials = constants.DefaultPerformanceTrials
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.TrialTimeout <= 0 {
		c.TrialTimeout = constants.DefaultTrialTimeout
	}
	return c
}

// Observer 任务执行过程回调（可选）
type Observer interface {
	AttemptFinished(job *model.EvaluationJob, attempt int, outcome model.JobState)
	SlotAcquired(job *model.EvaluationJob, waited time.Duration)
}

// Executor 任务执行器，本身无状态，可被多个 goroutine 并发使用
type Executor struct {
	pool     SlotPool
	runners  RunnerLookup
	cfg      Config
	observer Observer
	now      func() time.Time
}

// NewExecutor 创建执行器
func NewExecutor(pool SlotPool, runners RunnerLookup, cfg Config, observer Observer) *Executor {
	return &Executor{
		pool:     pool,
		runners:  runners,
		cfg:      cfg.withDefaults(),
		observer: observer,
		now:      time.Now,
	}
}

// attemptResult 单轮尝试的结果
type attemptResult struct {
	outcome   model.JobState
	trials    []model.TrialResult
	score     time.Duration
	detail    string
	retryable bool
}

// Execute 运行任务直到终止状态，返回唯一的结果。
// ctx 取消视为取消任务；任务总时限由 job.Deadline 控制。
func (e *Executor) Execute(ctx context.Context, job *model.EvaluationJob) *model.EvaluationResult {
	req := job.Submission
	logger := zap.L().With(
		zap.Int64("job_id", job.ID),
		zap.String("submission_id", req.ID),
		zap.String("key", req.Key().String()),
	)

	deadlineCtx, cancel := context.WithDeadline(ctx, job.Deadline)
	defer cancel()

	rn, err := e.runners.Lookup(req.DSL, req.Device)
	if err != nil {
		logger.Error("没有可用的运行器", zap.Error(err))
		_ = job.Transition(model.StateErrored)
		return e.buildResult(job, attemptResult{outcome: model.StateErrored, detail: err.Error()}, nil)
	}

	var history []model.AttemptSummary
	for {
		attempt := job.BeginAttempt()
		res := e.runAttempt(ctx, deadlineCtx, job, rn, attempt)
		history = append(history, model.AttemptSummary{Attempt: attempt, Outcome: res.outcome, Detail: res.detail})

		if e.observer != nil {
			e.observer.AttemptFinished(job, attempt, res.outcome)
		}

		if res.retryable && attempt <= e.cfg.MaxRetries && !e.deadlinePassed(job) && !job.CancelRequested() && ctx.Err() == nil {
			logger.Warn("评测尝试失败，准备重试",
				zap.Int("attempt", attempt),
				zap.String("outcome", res.outcome),
				zap.String("detail", res.detail),
			)
			if job.State() == model.StateRunning {
				if err := job.Transition(model.StateQueued); err != nil {
					logger.Error("状态迁移失败", zap.Error(err))
				}
			}
			continue
		}

		if err := job.Transition(res.outcome); err != nil {
			logger.Error("状态迁移失败", zap.Error(err))
		}
		logger.Info("评测完成",
			zap.String("outcome", res.outcome),
			zap.Int("attempts", attempt),
			zap.Duration("score", res.score),
		)
		return e.buildResult(job, res, history)
	}
}

// runAttempt 申请槽位并运行一轮完整试验，槽位在返回前释放
func (e *Executor) runAttempt(ctx, deadlineCtx context.Context, job *model.EvaluationJob, rn runner.Runner, attempt int) attemptResult {
	req := job.Submission

	if r, stop := e.checkBoundary(ctx, job); stop {
		return r
	}

	lease, res := e.acquire(ctx, deadlineCtx, job)
	if lease == nil {
		return res
	}
	defer e.pool.Release(lease)

	if err := job.MarkRunning(lease.Slot); err != nil {
		return attemptResult{outcome: model.StateErrored, detail: err.Error()}
	}

	var trials []model.TrialResult
	run := func(kind model.TrialKind, index int) (*model.TrialResult, *attemptResult) {
		if r, stop := e.checkBoundary(ctx, job); stop {
			r.trials = trials
			return nil, &r
		}
		spec := model.TrialSpec{
			Kind:      kind,
			Index:     index,
			Seed:      trialSeed(req.Key(), kind, index),
			Operation: req.Operation,
			Overload:  req.Overload,
			Timeout:   e.trialTimeout(job),
		}
		tr, err := safeRun(deadlineCtx, rn, req.Code, spec, lease.Slot)
		if err != nil {
			r := e.classifyError(ctx, job, err)
			r.trials = trials
			return nil, &r
		}
		tr.Kind, tr.Index, tr.Attempt = kind, index, attempt
		job.AppendTrial(*tr)
		trials = append(trials, *tr)
		return tr, nil
	}

	// 正确性试验全部通过后才运行性能试验
	for i := 0; i < e.cfg.CorrectnessTrials; i++ {
		tr, stop := run(model.TrialCorrectness, i)
		if stop != nil {
			return *stop
		}
		if !tr.Passed {
			return attemptResult{
				outcome: model.StateFailed,
				trials:  trials,
				detail:  fmt.Sprintf("正确性试验 #%d 未通过: %s", i, tr.Detail),
			}
		}
	}

	var best time.Duration
	for i := 0; i < e.cfg.PerformanceTrials; i++ {
		tr, stop := run(model.TrialPerformance, i)
		if stop != nil {
			return *stop
		}
		if !tr.Passed {
			return attemptResult{
				outcome:   model.StateErrored,
				trials:    trials,
				detail:    fmt.Sprintf("性能试验 #%d 未成功完成: %s", i, tr.Detail),
				retryable: true,
			}
		}
		if best == 0 || tr.Elapsed < best {
			best = tr.Elapsed
		}
	}

	return attemptResult{outcome: model.StatePassed, trials: trials, score: best}
}

// acquire 申请槽位；取消请求会中断等待
func (e *Executor) acquire(ctx, deadlineCtx context.Context, job *model.EvaluationJob) (*model.Lease, attemptResult) {
	acquireCtx, stop := context.WithCancel(deadlineCtx)
	defer stop()
	go func() {
		select {
		case <-job.CancelSignal():
			stop()
		case <-acquireCtx.Done():
		}
	}()

	start := e.now()
	lease, err := e.pool.Acquire(acquireCtx, job.Submission.Device, fmt.Sprintf("job-%d", job.ID), e.cfg.AcquireTimeout)
	if err == nil {
		if e.observer != nil {
			e.observer.SlotAcquired(job, e.now().Sub(start))
		}
		return lease, attemptResult{}
	}

	switch {
	case job.CancelRequested() || ctx.Err() != nil:
		return nil, attemptResult{outcome: model.StateCancelled, detail: "等待槽位时被取消"}
	case judgeErr.IsErrorCode(err, judgeErr.ErrCodeResourcePoolExhausted):
		// 配置错误，重试没有意义
		return nil, attemptResult{outcome: model.StateErrored, detail: err.Error()}
	case judgeErr.IsErrorCode(err, judgeErr.ErrCodeAcquireTimeout):
		return nil, attemptResult{outcome: model.StateTimedOut, detail: err.Error(), retryable: true}
	default:
		return nil, attemptResult{outcome: model.StateTimedOut, detail: "任务超过总时限", retryable: true}
	}
}

// checkBoundary 试验边界检查：取消和总时限
func (e *Executor) checkBoundary(ctx context.Context, job *model.EvaluationJob) (attemptResult, bool) {
	if job.CancelRequested() || ctx.Err() != nil {
		return attemptResult{outcome: model.StateCancelled, detail: "任务已取消"}, true
	}
	if e.deadlinePassed(job) {
		return attemptResult{outcome: model.StateTimedOut, detail: "任务超过总时限"}, true
	}
	return attemptResult{}, false
}

// classifyError 把运行器错误映射为任务结果
func (e *Executor) classifyError(ctx context.Context, job *model.EvaluationJob, err error) attemptResult {
	switch {
	case ctx.Err() != nil || job.CancelRequested() && errors.Is(err, context.Canceled):
		return attemptResult{outcome: model.StateCancelled, detail: "任务已取消"}
	case judgeErr.IsErrorCode(err, judgeErr.ErrCodeRunnerTimeout), errors.Is(err, context.DeadlineExceeded):
		return attemptResult{outcome: model.StateTimedOut, detail: err.Error(), retryable: true}
	default:
		return attemptResult{outcome: model.StateErrored, detail: err.Error(), retryable: true}
	}
}

func (e *Executor) deadlinePassed(job *model.EvaluationJob) bool {
	return !e.now().Before(job.Deadline)
}

// trialTimeout 单次试验超时不超过任务剩余时间
func (e *Executor) trialTimeout(job *model.EvaluationJob) time.Duration {
	timeout := e.cfg.TrialTimeout
	if remaining := job.Deadline.Sub(e.now()); remaining < timeout {
		timeout = remaining
	}
	return timeout
}

func (e *Executor) buildResult(job *model.EvaluationJob, res attemptResult, history []model.AttemptSummary) *model.EvaluationResult {
	result := TerminalResult(job, res.outcome, res.detail, e.now())
	result.History = history
	if res.trials != nil {
		result.Trials = res.trials
	}
	if res.outcome == model.StatePassed {
		result.Score = res.score
	}
	return result
}

// safeRun 运行单次试验，捕获运行器 panic
func safeRun(ctx context.Context, rn runner.Runner, code string, spec model.TrialSpec, slot model.ResourceSlot) (result *model.TrialResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("运行器 panic",
				zap.Any("panic", r),
				zap.String("kind", spec.Kind),
				zap.Int("index", spec.Index),
			)
			result = nil
			err = judgeErr.NewAdapterFaultError(fmt.Sprintf("运行器 panic: %v", r), nil)
		}
	}()

	result, err = rn.Run(ctx, code, spec, slot)
	if err == nil && result == nil {
		return nil, judgeErr.NewAdapterFaultError("运行器返回结果为空", nil)
	}
	return result, err
}

// trialSeed 同一分组、同一试验序号的种子固定，保证所有提交使用相同输入
func trialSeed(key model.LeaderboardKey, kind model.TrialKind, index int) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s/%s/%s/%d", key.Operation, key.Overload, kind, index)
	return int64(h.Sum64() & (1<<63 - 1))
}

// TerminalResult 构造没有运行任何试验就结束的任务结果（排队中取消、超时等）
func TerminalResult(job *model.EvaluationJob, outcome model.JobState, detail string, completedAt time.Time) *model.EvaluationResult {
	req := job.Submission
	return &model.EvaluationResult{
		JobID:        job.ID,
		SubmissionID: req.ID,
		Key:          req.Key(),
		Submitter:    req.Submitter,
		SubmittedAt:  req.SubmittedAt,
		Outcome:      outcome,
		Trials:       []model.TrialResult{},
		Attempts:     job.Attempts(),
		Detail:       detail,
		CompletedAt:  completedAt,
	}
}
