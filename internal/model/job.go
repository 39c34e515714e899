package model

import (
	"fmt"
	"sync"
	"time"
)

// JobState 评测任务状态
type JobState = string

const (
	StateQueued    JobState = "QUEUED"    // 排队中
	StateRunning   JobState = "RUNNING"   // 评测中
	StatePassed    JobState = "PASSED"    // 正确性全部通过，已测性能
	StateFailed    JobState = "FAILED"    // 正确性失败
	StateTimedOut  JobState = "TIMED_OUT" // 超时
	StateErrored   JobState = "ERRORED"   // 运行器异常
	StateCancelled JobState = "CANCELLED" // 已取消
)

// IsTerminal 是否为终止状态
func IsTerminal(state JobState) bool {
	switch state {
	case StatePassed, StateFailed, StateTimedOut, StateErrored, StateCancelled:
		return true
	}
	return false
}

// 允许的状态迁移；Running -> Queued 用于重试前重新申请槽位
var transitions = map[JobState][]JobState{
	StateQueued:  {StateRunning, StateCancelled, StateTimedOut, StateErrored},
	StateRunning: {StateQueued, StatePassed, StateFailed, StateTimedOut, StateErrored, StateCancelled},
}

// EvaluationJob 评测任务，运行期间只由调度器持有
type EvaluationJob struct {
	ID         int64
	Submission *SubmissionRequest
	Deadline   time.Time
	CreatedAt  time.Time

	mu              sync.Mutex
	state           JobState
	slot            *ResourceSlot
	attempts        int
	trials          []TrialResult
	cancelRequested bool
	cancelCh        chan struct{}
}

// NewEvaluationJob 创建排队状态的评测任务
func NewEvaluationJob(id int64, req *SubmissionRequest, now time.Time, deadline time.Duration) *EvaluationJob {
	return &EvaluationJob{
		ID:         id,
		Submission: req,
		CreatedAt:  now,
		Deadline:   now.Add(deadline),
		state:      StateQueued,
		cancelCh:   make(chan struct{}),
	}
}

// State 当前状态
func (j *EvaluationJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Transition 执行状态迁移，不合法的迁移返回错误
func (j *EvaluationJob) Transition(to JobState) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, allowed := range transitions[j.state] {
		if allowed == to {
			j.state = to
			if to != StateRunning {
				j.slot = nil
			}
			return nil
		}
	}
	return fmt.Errorf("非法的状态迁移: %s -> %s (job %d)", j.state, to, j.ID)
}

// MarkRunning 获得槽位后进入运行状态
func (j *EvaluationJob) MarkRunning(slot ResourceSlot) error {
	if err := j.Transition(StateRunning); err != nil {
		return err
	}
	j.mu.Lock()
	j.slot = &slot
	j.mu.Unlock()
	return nil
}

// Slot 当前持有的槽位，未运行时为 nil
func (j *EvaluationJob) Slot() *ResourceSlot {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.slot == nil {
		return nil
	}
	s := *j.slot
	return &s
}

// BeginAttempt 开始新一轮尝试，返回尝试序号（从1开始）
func (j *EvaluationJob) BeginAttempt() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts++
	return j.attempts
}

// Attempts 已开始的尝试次数
func (j *EvaluationJob) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// AppendTrial 追加试验结果
func (j *EvaluationJob) AppendTrial(t TrialResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trials = append(j.trials, t)
}

// Trials 返回试验结果副本
func (j *EvaluationJob) Trials() []TrialResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]TrialResult, len(j.trials))
	copy(out, j.trials)
	return out
}

// RequestCancel 标记取消请求，返回取消前的状态
func (j *EvaluationJob) RequestCancel() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !IsTerminal(j.state) && !j.cancelRequested {
		j.cancelRequested = true
		if j.cancelCh != nil {
			close(j.cancelCh)
		}
	}
	return j.state
}

// CancelSignal 请求取消时关闭的通道
func (j *EvaluationJob) CancelSignal() <-chan struct{} {
	return j.cancelCh
}

// CancelRequested 是否已请求取消
func (j *EvaluationJob) CancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}
