package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"kernel-leaderboard/internal/model"
	"kernel-leaderboard/internal/pool"
	"kernel-leaderboard/internal/task/runner"
	judgeErr "kernel-leaderboard/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest() *model.SubmissionRequest {
	return &model.SubmissionRequest{
		ID:          "sub-1",
		Operation:   "add",
		Overload:    "Tensor",
		DSL:         "triton",
		Device:      "H100",
		Code:        "kernel()",
		SubmittedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Submitter:   "alice",
	}
}

func newJob(deadline time.Duration) *model.EvaluationJob {
	return model.NewEvaluationJob(1, newRequest(), time.Now(), deadline)
}

func newExecutor(t *testing.T, p *pool.Pool, rn runner.Runner, cfg Config) *Executor {
	t.Helper()
	reg := runner.NewRegistry()
	require.NoError(t, reg.Register("triton", "H100", rn))
	return NewExecutor(p, reg, cfg, nil)
}

func passing(perf ...time.Duration) runner.RunnerFunc {
	return func(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
		if spec.Kind == model.TrialPerformance {
			return &model.TrialResult{Passed: true, Elapsed: perf[spec.Index%len(perf)]}, nil
		}
		return &model.TrialResult{Passed: true}, nil
	}
}

func TestExecutor_PassedUsesBestElapsed(t *testing.T) {
	p := pool.New(map[string]int{"H100": 1})
	e := newExecutor(t, p, passing(12*time.Millisecond, 9*time.Millisecond, 11*time.Millisecond),
		Config{CorrectnessTrials: 3, PerformanceTrials: 3, TrialTimeout: time.Second})
	job := newJob(time.Minute)

	result := e.Execute(context.Background(), job)

	assert.Equal(t, model.StatePassed, result.Outcome)
	assert.Equal(t, 9*time.Millisecond, result.Score)
	assert.Equal(t, model.StatePassed, job.State())
	assert.Nil(t, job.Slot())
	require.Len(t, result.Trials, 6)
	for i, tr := range result.Trials {
		if i < 3 {
			assert.Equal(t, model.TrialCorrectness, tr.Kind)
			assert.Equal(t, i, tr.Index)
		} else {
			assert.Equal(t, model.TrialPerformance, tr.Kind)
			assert.Equal(t, i-3, tr.Index)
		}
		assert.Equal(t, 1, tr.Attempt)
	}
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "alice", result.Submitter)
	assert.Equal(t, 1, p.Capacity("H100"))
	assert.Equal(t, "", p.Holder(model.ResourceSlot{DeviceClass: "H100", InstanceID: 0}), "槽位必须归还")
}

func TestExecutor_CorrectnessFailureSkipsPerformance(t *testing.T) {
	var perfCalls int32
	rn := runner.RunnerFunc(func(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
		if spec.Kind == model.TrialPerformance {
			atomic.AddInt32(&perfCalls, 1)
			return &model.TrialResult{Passed: true, Elapsed: time.Millisecond}, nil
		}
		return &model.TrialResult{Passed: spec.Index != 1, Detail: "mismatch"}, nil
	})
	p := pool.New(map[string]int{"H100": 1})
	e := newExecutor(t, p, rn, Config{CorrectnessTrials: 3, PerformanceTrials: 3, MaxRetries: 2})

	result := e.Execute(context.Background(), newJob(time.Minute))

	assert.Equal(t, model.StateFailed, result.Outcome)
	assert.Equal(t, time.Duration(0), result.Score)
	assert.Len(t, result.Trials, 2)
	assert.Equal(t, int32(0), atomic.LoadInt32(&perfCalls))
	assert.Equal(t, 1, result.Attempts, "正确性失败不重试")
}

func TestExecutor_RetriesTimeoutsThenPasses(t *testing.T) {
	var attempts int32
	rn := runner.RunnerFunc(func(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
		if spec.Kind == model.TrialCorrectness && spec.Index == 0 {
			if atomic.AddInt32(&attempts, 1) <= 2 {
				return nil, judgeErr.NewRunnerTimeoutError("correctness#0", context.DeadlineExceeded)
			}
		}
		if spec.Kind == model.TrialPerformance {
			return &model.TrialResult{Passed: true, Elapsed: 7 * time.Millisecond}, nil
		}
		return &model.TrialResult{Passed: true}, nil
	})
	p := pool.New(map[string]int{"H100": 1})
	e := newExecutor(t, p, rn, Config{CorrectnessTrials: 2, PerformanceTrials: 2, MaxRetries: 2})
	job := newJob(time.Minute)

	result := e.Execute(context.Background(), job)

	assert.Equal(t, model.StatePassed, result.Outcome)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 7*time.Millisecond, result.Score)
	require.Len(t, result.History, 3)
	assert.Equal(t, model.StateTimedOut, result.History[0].Outcome)
	assert.Equal(t, model.StateTimedOut, result.History[1].Outcome)
	assert.Equal(t, model.StatePassed, result.History[2].Outcome)
	for _, tr := range result.Trials {
		assert.Equal(t, 3, tr.Attempt, "结果只包含决定性那一轮的试验")
	}
}

func TestExecutor_RetryBudgetExhausted(t *testing.T) {
	var calls int32
	rn := runner.RunnerFunc(func(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
		atomic.AddInt32(&calls, 1)
		return nil, judgeErr.NewAdapterFaultError("CUDA error: illegal memory access", nil)
	})
	p := pool.New(map[string]int{"H100": 1})
	e := newExecutor(t, p, rn, Config{CorrectnessTrials: 3, PerformanceTrials: 3, MaxRetries: 2})

	result := e.Execute(context.Background(), newJob(time.Minute))

	assert.Equal(t, model.StateErrored, result.Outcome)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Contains(t, result.Detail, "illegal memory access")
}

func TestExecutor_RunnerPanicIsErrored(t *testing.T) {
	rn := runner.RunnerFunc(func(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
		panic("driver crashed")
	})
	p := pool.New(map[string]int{"H100": 1})
	e := newExecutor(t, p, rn, Config{MaxRetries: 0})

	var result *model.EvaluationResult
	require.NotPanics(t, func() {
		result = e.Execute(context.Background(), newJob(time.Minute))
	})
	assert.Equal(t, model.StateErrored, result.Outcome)
	assert.Contains(t, result.Detail, "driver crashed")
	assert.Equal(t, "", p.Holder(model.ResourceSlot{DeviceClass: "H100", InstanceID: 0}))
}

func TestExecutor_CancelAtTrialBoundary(t *testing.T) {
	job := newJob(time.Minute)
	var calls int32
	rn := runner.RunnerFunc(func(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
		atomic.AddInt32(&calls, 1)
		job.RequestCancel()
		return &model.TrialResult{Passed: true}, nil
	})
	p := pool.New(map[string]int{"H100": 1})
	e := newExecutor(t, p, rn, Config{CorrectnessTrials: 3, PerformanceTrials: 3, MaxRetries: 2})

	result := e.Execute(context.Background(), job)

	assert.Equal(t, model.StateCancelled, result.Outcome)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "当前试验完成后停止")
	assert.Len(t, result.Trials, 1)
	assert.Equal(t, 1, result.Attempts)
}

func TestExecutor_CancelWhileWaitingForSlot(t *testing.T) {
	p := pool.New(map[string]int{"H100": 1})
	held, err := p.Acquire(context.Background(), "H100", "other", 0)
	require.NoError(t, err)
	defer p.Release(held)

	e := newExecutor(t, p, passing(time.Millisecond), Config{AcquireTimeout: time.Minute})
	job := newJob(time.Minute)
	go func() {
		time.Sleep(20 * time.Millisecond)
		job.RequestCancel()
	}()

	result := e.Execute(context.Background(), job)
	assert.Equal(t, model.StateCancelled, result.Outcome)
	assert.Equal(t, "other", p.Holder(held.Slot))
}

func TestExecutor_AcquireTimeout(t *testing.T) {
	p := pool.New(map[string]int{"H100": 1})
	held, err := p.Acquire(context.Background(), "H100", "other", 0)
	require.NoError(t, err)
	defer p.Release(held)

	e := newExecutor(t, p, passing(time.Millisecond), Config{AcquireTimeout: 20 * time.Millisecond, MaxRetries: 1})
	result := e.Execute(context.Background(), newJob(time.Minute))

	assert.Equal(t, model.StateTimedOut, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
	assert.Empty(t, result.Trials)
}

func TestExecutor_DeadlineStopsRetries(t *testing.T) {
	rn := runner.RunnerFunc(func(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
		<-ctx.Done()
		return nil, judgeErr.NewRunnerTimeoutError("trial", ctx.Err())
	})
	p := pool.New(map[string]int{"H100": 1})
	e := newExecutor(t, p, rn, Config{MaxRetries: 5, TrialTimeout: time.Minute})

	start := time.Now()
	result := e.Execute(context.Background(), newJob(50*time.Millisecond))

	assert.Equal(t, model.StateTimedOut, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecutor_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rn := runner.RunnerFunc(func(rctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
		cancel()
		<-rctx.Done()
		return nil, rctx.Err()
	})
	p := pool.New(map[string]int{"H100": 1})
	e := newExecutor(t, p, rn, Config{MaxRetries: 3})

	result := e.Execute(ctx, newJob(time.Minute))
	assert.Equal(t, model.StateCancelled, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
}

func TestExecutor_DeviceWithoutSlots(t *testing.T) {
	p := pool.New(map[string]int{"A100": 1})
	e := newExecutor(t, p, passing(time.Millisecond), Config{MaxRetries: 3})

	result := e.Execute(context.Background(), newJob(time.Minute))
	assert.Equal(t, model.StateErrored, result.Outcome)
	assert.Equal(t, 1, result.Attempts, "配置错误不重试")
}

func TestTrialSeed(t *testing.T) {
	key := model.LeaderboardKey{Operation: "add", Overload: "Tensor", DSL: "triton", Device: "H100"}
	other := key
	other.DSL = "cuda"

	assert.Equal(t, trialSeed(key, model.TrialCorrectness, 0), trialSeed(key, model.TrialCorrectness, 0))
	assert.Equal(t, trialSeed(key, model.TrialCorrectness, 0), trialSeed(other, model.TrialCorrectness, 0), "同一算子的不同 DSL 使用相同输入")
	assert.NotEqual(t, trialSeed(key, model.TrialCorrectness, 0), trialSeed(key, model.TrialCorrectness, 1))
	assert.GreaterOrEqual(t, trialSeed(key, model.TrialPerformance, 3), int64(0))
}
