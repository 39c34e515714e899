package service

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"kernel-leaderboard/internal/constants"
	"kernel-leaderboard/internal/model"
	"kernel-leaderboard/internal/ranking"
	"kernel-leaderboard/internal/task"
	"kernel-leaderboard/internal/task/dsl"
	judgeErr "kernel-leaderboard/pkg/errors"

	"go.uber.org/zap"
)

// JobExecutor 运行单个任务直到终止状态
type JobExecutor interface {
	Execute(ctx context.Context, job *model.EvaluationJob) *model.EvaluationResult
}

// CapacityFunc 返回设备类别的槽位总数
type CapacityFunc func(deviceClass string) int

// IDGenerator 生成任务ID
type IDGenerator func() (int64, error)

// SchedulerConfig 调度参数
type SchedulerConfig struct {
	MaxCodeSize   int
	JobDeadline   time.Duration
	MaxConcurrent map[string]int // 设备类别 -> 同时运行的任务数，未配置时等于槽位数
}

// Scheduler 按设备类别 FIFO 排队，并限制每个类别同时运行的任务数
type Scheduler struct {
	cfg      SchedulerConfig
	executor JobExecutor
	runners  task.RunnerLookup
	capacity CapacityFunc
	ranking  *ranking.Engine
	results  ResultStore
	metrics  *EngineMetrics
	nextID   IDGenerator
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queues  map[string]*list.List // 设备类别 -> *jobHandle
	running map[string]int
	jobs    map[int64]*jobHandle // 未结束的任务
	closed  bool
	wg      sync.WaitGroup
}

type jobHandle struct {
	job    *model.EvaluationJob
	elem   *list.Element // 在调度队列中时非 nil
	timer  *time.Timer
	done   chan struct{}
	result *model.EvaluationResult
}

// NewScheduler 创建调度器
func NewScheduler(cfg SchedulerConfig, executor JobExecutor, runners task.RunnerLookup, capacity CapacityFunc,
	rankEngine *ranking.Engine, results ResultStore, metrics *EngineMetrics, nextID IDGenerator) *Scheduler {
	if cfg.MaxCodeSize <= 0 {
		cfg.MaxCodeSize = constants.DefaultMaxCodeSize
	}
	if cfg.JobDeadline <= 0 {
		cfg.JobDeadline = constants.DefaultJobDeadline
	}
	if results == nil {
		results = NewMemoryResultStore()
	}
	if metrics == nil {
		metrics = NewEngineMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		executor: executor,
		runners:  runners,
		capacity: capacity,
		ranking:  rankEngine,
		results:  results,
		metrics:  metrics,
		nextID:   nextID,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		queues:   make(map[string]*list.List),
		running:  make(map[string]int),
		jobs:     make(map[int64]*jobHandle),
	}
}

// Enqueue 校验提交并入队，返回任务ID。
// 参数错误、不支持的 (DSL, 设备) 以及没有槽位的设备类别在创建任务前被拒绝。
func (s *Scheduler) Enqueue(req *model.SubmissionRequest) (int64, error) {
	s.metrics.RecordSubmission()

	if err := s.admit(req); err != nil {
		s.metrics.RecordRejected()
		if req != nil {
			zap.L().Warn("拒绝提交",
				zap.String("submission_id", req.ID),
				zap.String("submitter", req.Submitter),
				zap.Error(err),
			)
		}
		return 0, err
	}

	id, err := s.nextID()
	if err != nil {
		s.metrics.RecordRejected()
		return 0, judgeErr.Wrap(judgeErr.ErrCodeInternal, "生成任务ID失败", err)
	}
	job := model.NewEvaluationJob(id, req, s.now(), s.cfg.JobDeadline)
	h := &jobHandle{job: job, done: make(chan struct{})}
	if tracker, ok := s.results.(StatusTracker); ok {
		if err := tracker.TrackQueued(s.ctx, job); err != nil {
			zap.L().Warn("记录排队状态失败", zap.Int64("job_id", id), zap.Error(err))
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.metrics.RecordRejected()
		return 0, judgeErr.New(judgeErr.ErrCodeSystem, "调度器已关闭")
	}
	queue, ok := s.queues[req.Device]
	if !ok {
		queue = list.New()
		s.queues[req.Device] = queue
	}
	h.elem = queue.PushBack(h)
	s.jobs[id] = h
	// 排队时间也计入总时限
	h.timer = time.AfterFunc(s.cfg.JobDeadline, func() { s.expire(id) })
	s.metrics.RecordQueued()
	s.dispatchLocked(req.Device)
	s.mu.Unlock()

	zap.L().Info("提交入队",
		zap.Int64("job_id", id),
		zap.String("submission_id", req.ID),
		zap.String("key", req.Key().String()),
		zap.String("submitter", req.Submitter),
	)
	return id, nil
}

func (s *Scheduler) admit(req *model.SubmissionRequest) error {
	if req == nil {
		return judgeErr.New(judgeErr.ErrCodeMissingParam, "提交为空")
	}
	if err := req.Validate(s.cfg.MaxCodeSize); err != nil {
		return err
	}
	if req.FileName != "" && !dsl.Compatible(req.DSL, req.FileName) {
		return judgeErr.NewInvalidParamError("file_name", fmt.Sprintf("%s 与 DSL %s 不匹配", req.FileName, req.DSL))
	}
	if _, err := s.runners.Lookup(req.DSL, req.Device); err != nil {
		return err
	}
	if s.capacity(req.Device) <= 0 {
		return judgeErr.NewUnsupportedTargetError(req.DSL, req.Device)
	}
	return nil
}

// dispatchLocked 启动排在最前面的任务，调用方需持有锁
func (s *Scheduler) dispatchLocked(device string) {
	queue := s.queues[device]
	if queue == nil {
		return
	}
	limit := s.cfg.MaxConcurrent[device]
	if limit <= 0 {
		limit = s.capacity(device)
	}
	for s.running[device] < limit && queue.Len() > 0 {
		h := queue.Remove(queue.Front()).(*jobHandle)
		h.elem = nil
		h.timer.Stop()
		s.running[device]++
		s.metrics.RecordDequeued()
		s.wg.Add(1)
		go s.run(h)
	}
}

func (s *Scheduler) run(h *jobHandle) {
	defer s.wg.Done()
	device := h.job.Submission.Device

	s.metrics.RecordActiveIncrease()
	result := s.execute(h.job)
	s.metrics.RecordActiveDecrease()

	s.finish(h, result)

	s.mu.Lock()
	s.running[device]--
	s.dispatchLocked(device)
	s.mu.Unlock()
}

// execute 运行任务，兜底捕获 panic
func (s *Scheduler) execute(job *model.EvaluationJob) (result *model.EvaluationResult) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("评测任务 panic", zap.Int64("job_id", job.ID), zap.Any("panic", r))
			if !model.IsTerminal(job.State()) {
				_ = job.Transition(model.StateErrored)
			}
			result = task.TerminalResult(job, model.StateErrored, fmt.Sprintf("系统错误: %v", r), s.now())
		}
	}()
	return s.executor.Execute(s.ctx, job)
}

// finish 记录排行榜、保存结果并唤醒等待者
func (s *Scheduler) finish(h *jobHandle, result *model.EvaluationResult) {
	ctx := context.WithoutCancel(s.ctx)

	if result.Outcome == model.StatePassed && s.ranking != nil {
		if _, err := s.ranking.Record(ctx, result); err != nil {
			zap.L().Error("更新排行榜失败", zap.Int64("job_id", result.JobID), zap.Error(err))
		}
		standing, err := s.ranking.Standing(ctx, result.Key, result.Submitter)
		if err != nil {
			zap.L().Error("查询排名失败", zap.Int64("job_id", result.JobID), zap.Error(err))
		}
		result.Standing = standing
	}

	s.metrics.RecordOutcome(result.Outcome, result.CompletedAt.Sub(h.job.CreatedAt))

	if err := s.results.SaveResult(ctx, result); err != nil {
		zap.L().Error("保存评测结果失败", zap.Int64("job_id", result.JobID), zap.Error(err))
	}

	s.mu.Lock()
	h.result = result
	delete(s.jobs, h.job.ID)
	s.mu.Unlock()
	close(h.done)
}

// expire 任务在调度队列中等待超过总时限
func (s *Scheduler) expire(id int64) {
	s.mu.Lock()
	h, ok := s.jobs[id]
	if !ok || h.elem == nil {
		s.mu.Unlock()
		return
	}
	s.queues[h.job.Submission.Device].Remove(h.elem)
	h.elem = nil
	s.metrics.RecordDequeued()
	s.mu.Unlock()

	_ = h.job.Transition(model.StateTimedOut)
	zap.L().Warn("任务排队超时", zap.Int64("job_id", id))
	s.finish(h, task.TerminalResult(h.job, model.StateTimedOut, "排队超过总时限", s.now()))
}

// Await 等待任务结束并返回结果
func (s *Scheduler) Await(ctx context.Context, jobID int64) (*model.EvaluationResult, error) {
	s.mu.Lock()
	h, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return s.results.GetResult(ctx, jobID)
	}

	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status 查询任务：未结束的任务返回当前状态快照，已结束的任务返回存档结果
func (s *Scheduler) Status(ctx context.Context, jobID int64) (*model.EvaluationResult, error) {
	s.mu.Lock()
	h, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return s.results.GetResult(ctx, jobID)
	}
	snapshot := task.TerminalResult(h.job, h.job.State(), "", time.Time{})
	snapshot.Trials = h.job.Trials()
	return snapshot, nil
}

// Submit 入队并等待结果
func (s *Scheduler) Submit(ctx context.Context, req *model.SubmissionRequest) (*model.EvaluationResult, error) {
	id, err := s.Enqueue(req)
	if err != nil {
		return nil, err
	}
	return s.Await(ctx, id)
}

// Cancel 取消任务。排队中的任务立即结束；运行中的任务在下一个试验边界结束
func (s *Scheduler) Cancel(jobID int64) error {
	s.mu.Lock()
	h, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		result, err := s.results.GetResult(context.WithoutCancel(s.ctx), jobID)
		if err != nil {
			if judgeErr.IsErrorCode(err, judgeErr.ErrCodeNotFound) {
				return err
			}
			return judgeErr.NewStorageError("查询任务失败", err)
		}
		return judgeErr.NewNotCancellableError(jobID, result.Outcome)
	}

	if h.elem != nil {
		s.queues[h.job.Submission.Device].Remove(h.elem)
		h.elem = nil
		h.timer.Stop()
		s.metrics.RecordDequeued()
		s.mu.Unlock()

		h.job.RequestCancel()
		_ = h.job.Transition(model.StateCancelled)
		zap.L().Info("取消排队中的任务", zap.Int64("job_id", jobID))
		s.finish(h, task.TerminalResult(h.job, model.StateCancelled, "排队中被取消", s.now()))
		return nil
	}

	state := h.job.RequestCancel()
	s.mu.Unlock()
	if model.IsTerminal(state) {
		return judgeErr.NewNotCancellableError(jobID, state)
	}
	zap.L().Info("请求取消运行中的任务", zap.Int64("job_id", jobID), zap.String("state", state))
	return nil
}

// Queued 各设备类别排队中的任务数
func (s *Scheduler) Queued() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.queues))
	for device, queue := range s.queues {
		out[device] = queue.Len()
	}
	return out
}

// Close 停止接收新任务，取消排队中的任务并等待运行中的任务结束；
// ctx 结束后中断仍在运行的任务。
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var pending []*jobHandle
	for _, queue := range s.queues {
		for e := queue.Front(); e != nil; e = e.Next() {
			pending = append(pending, e.Value.(*jobHandle))
		}
		queue.Init()
	}
	for _, h := range pending {
		h.elem = nil
		h.timer.Stop()
		s.metrics.RecordDequeued()
	}
	s.mu.Unlock()

	for _, h := range pending {
		h.job.RequestCancel()
		_ = h.job.Transition(model.StateCancelled)
		s.finish(h, task.TerminalResult(h.job, model.StateCancelled, "服务关闭", s.now()))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		zap.L().Warn("等待运行中的任务超时，强制取消")
		s.cancel()
		<-done
		return ctx.Err()
	}
}
