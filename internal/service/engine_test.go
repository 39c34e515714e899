package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kernel-leaderboard/internal/model"
	"kernel-leaderboard/internal/pool"
	"kernel-leaderboard/internal/task"
	"kernel-leaderboard/internal/task/runner"
	judgeErr "kernel-leaderboard/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var submitBase = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type testEngine struct {
	*Engine
	metrics *EngineMetrics
}

func newTestEngine(t *testing.T, rn runner.Runner, slots map[string]int, maxConcurrent map[string]int, deadline time.Duration) *testEngine {
	t.Helper()
	reg := runner.NewRegistry()
	require.NoError(t, reg.Register("triton", "H100", rn))
	require.NoError(t, reg.Register("triton", "A100", rn))

	var seq int64
	metrics := NewEngineMetrics()
	e := NewEngine(EngineOptions{
		Pool:     pool.New(slots),
		Registry: reg,
		Metrics:  metrics,
		NextID: func() (int64, error) {
			return atomic.AddInt64(&seq, 1), nil
		},
		Task: task.Config{CorrectnessTrials: 2, PerformanceTrials: 3, MaxRetries: 1, TrialTimeout: time.Second},
		Scheduler: SchedulerConfig{
			MaxConcurrent: maxConcurrent,
			JobDeadline:   deadline,
		},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return &testEngine{Engine: e, metrics: metrics}
}

func request(submitter, code string, at time.Time) *model.SubmissionRequest {
	return &model.SubmissionRequest{
		ID:          submitter + "-" + code,
		Operation:   "matmul",
		Overload:    "Tensor",
		DSL:         "triton",
		Device:      "H100",
		FileName:    "kernel.py",
		Code:        code,
		SubmittedAt: at,
		Submitter:   submitter,
	}
}

// fixedRunner 正确性全部通过，性能试验依次返回给定耗时
func fixedRunner(perf ...time.Duration) runner.RunnerFunc {
	return func(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
		if spec.Kind == model.TrialPerformance {
			return &model.TrialResult{Passed: true, Elapsed: perf[spec.Index%len(perf)]}, nil
		}
		return &model.TrialResult{Passed: true}, nil
	}
}

func TestEngine_SubmitPassed(t *testing.T) {
	e := newTestEngine(t, fixedRunner(12*time.Millisecond, 9*time.Millisecond, 11*time.Millisecond),
		map[string]int{"H100": 1}, nil, time.Minute)

	result, err := e.SubmitEvaluation(context.Background(), request("alice", "v1", submitBase))
	require.NoError(t, err)
	assert.Equal(t, model.StatePassed, result.Outcome)
	assert.Equal(t, 9*time.Millisecond, result.Score)
	assert.Len(t, result.Trials, 5)
	require.NotNil(t, result.Standing)
	assert.Equal(t, 1, result.Standing.Rank)
	assert.Equal(t, 9*time.Millisecond, result.Standing.Score)

	board, err := e.GetLeaderboard(context.Background(), result.Key)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, "alice", board[0].Submitter)

	// 结果存档后仍然可以查询
	again, err := e.AwaitEvaluation(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePassed, again.Outcome)
}

func TestEngine_RejectsBeforeCreatingJob(t *testing.T) {
	e := newTestEngine(t, fixedRunner(time.Millisecond), map[string]int{"H100": 1, "A100": 0}, nil, time.Minute)

	tests := []struct {
		name string
		req  func() *model.SubmissionRequest
		code judgeErr.ErrorCode
	}{
		{"未注册的DSL", func() *model.SubmissionRequest {
			r := request("bob", "v1", submitBase)
			r.DSL = "cutedsl"
			r.FileName = ""
			return r
		}, judgeErr.ErrCodeUnsupportedTarget},
		{"未注册的设备", func() *model.SubmissionRequest {
			r := request("bob", "v1", submitBase)
			r.Device = "MI300"
			return r
		}, judgeErr.ErrCodeUnsupportedTarget},
		{"设备没有槽位", func() *model.SubmissionRequest {
			r := request("bob", "v1", submitBase)
			r.Device = "A100"
			return r
		}, judgeErr.ErrCodeUnsupportedTarget},
		{"缺少代码", func() *model.SubmissionRequest {
			return request("bob", "", submitBase)
		}, judgeErr.ErrCodeInvalidParam},
		{"文件类型与DSL不匹配", func() *model.SubmissionRequest {
			r := request("bob", "v1", submitBase)
			r.FileName = "kernel.cu"
			return r
		}, judgeErr.ErrCodeInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := e.EnqueueEvaluation(tt.req())
			require.Error(t, err)
			assert.Equal(t, int64(0), id)
			assert.Equal(t, tt.code, judgeErr.GetErrorCode(err), "实际错误: %v", err)
		})
	}

	e.scheduler.mu.Lock()
	assert.Empty(t, e.scheduler.jobs)
	e.scheduler.mu.Unlock()
	assert.Equal(t, int64(len(tests)), atomic.LoadInt64(&e.metrics.RejectedSubmissions))
}

func TestEngine_TiesRankedBySubmitTime(t *testing.T) {
	e := newTestEngine(t, fixedRunner(5*time.Millisecond), map[string]int{"H100": 2}, nil, time.Minute)
	ctx := context.Background()

	later, err := e.SubmitEvaluation(ctx, request("erin", "e", submitBase.Add(time.Second)))
	require.NoError(t, err)
	earlier, err := e.SubmitEvaluation(ctx, request("dave", "d", submitBase))
	require.NoError(t, err)

	board, err := e.GetLeaderboard(ctx, later.Key)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "dave", board[0].Submitter)
	assert.Equal(t, "erin", board[1].Submitter)
	assert.Equal(t, 1, earlier.Standing.Rank)
}

func TestEngine_ResubmissionsAreIndependentJobs(t *testing.T) {
	e := newTestEngine(t, fixedRunner(5*time.Millisecond), map[string]int{"H100": 2}, nil, time.Minute)

	req := request("alice", "same", submitBase)
	id1, err := e.EnqueueEvaluation(req)
	require.NoError(t, err)
	id2, err := e.EnqueueEvaluation(req)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	for _, id := range []int64{id1, id2} {
		result, err := e.AwaitEvaluation(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.StatePassed, result.Outcome)
		assert.Equal(t, id, result.JobID)
	}
}

func TestEngine_RespectsMaxConcurrent(t *testing.T) {
	var active, maxSeen int32
	rn := runner.RunnerFunc(func(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
		if spec.Kind == model.TrialCorrectness && spec.Index == 0 {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}
		return fixedRunner(time.Millisecond)(ctx, code, spec, slot)
	})
	e := newTestEngine(t, rn, map[string]int{"H100": 2}, map[string]int{"H100": 1}, time.Minute)

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := e.EnqueueEvaluation(request("alice", string(rune('a'+i)), submitBase))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		_, err := e.AwaitEvaluation(context.Background(), id)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
}

// gatedRunner 代码为 "gate" 的任务在第一个试验处阻塞，直到 gate 关闭
type gatedRunner struct {
	mu      sync.Mutex
	order   []string
	started chan string
	gate    chan struct{}
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{started: make(chan string, 16), gate: make(chan struct{})}
}

func (g *gatedRunner) Run(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
	if spec.Kind == model.TrialCorrectness && spec.Index == 0 {
		g.mu.Lock()
		g.order = append(g.order, code)
		g.mu.Unlock()
		g.started <- code
		if code == "gate" {
			select {
			case <-g.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return fixedRunner(3*time.Millisecond)(ctx, code, spec, slot)
}

func TestEngine_FIFOPerDevice(t *testing.T) {
	g := newGatedRunner()
	e := newTestEngine(t, g, map[string]int{"H100": 1}, nil, time.Minute)

	first, err := e.EnqueueEvaluation(request("alice", "gate", submitBase))
	require.NoError(t, err)
	assert.Equal(t, "gate", <-g.started)

	var ids []int64
	for _, code := range []string{"a", "b", "c"} {
		id, err := e.EnqueueEvaluation(request("bob", code, submitBase))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, map[string]int{"H100": 3}, e.scheduler.Queued())

	close(g.gate)
	for _, id := range append([]int64{first}, ids...) {
		_, err := e.AwaitEvaluation(context.Background(), id)
		require.NoError(t, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, []string{"gate", "a", "b", "c"}, g.order)
}

func TestEngine_CancelQueuedJob(t *testing.T) {
	g := newGatedRunner()
	e := newTestEngine(t, g, map[string]int{"H100": 1}, nil, time.Minute)

	first, err := e.EnqueueEvaluation(request("alice", "gate", submitBase))
	require.NoError(t, err)
	<-g.started
	queued, err := e.EnqueueEvaluation(request("bob", "queued", submitBase))
	require.NoError(t, err)

	require.NoError(t, e.CancelEvaluation(queued))
	result, err := e.AwaitEvaluation(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, result.Outcome)
	assert.Empty(t, result.Trials)

	err = e.CancelEvaluation(queued)
	assert.True(t, judgeErr.IsErrorCode(err, judgeErr.ErrCodeNotCancellable), "实际错误: %v", err)
	err = e.CancelEvaluation(987654)
	assert.True(t, judgeErr.IsErrorCode(err, judgeErr.ErrCodeNotFound), "实际错误: %v", err)

	close(g.gate)
	result, err = e.AwaitEvaluation(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, model.StatePassed, result.Outcome)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.NotContains(t, g.order, "queued", "被取消的任务不能运行")
}

func TestEngine_CancelRunningJob(t *testing.T) {
	g := newGatedRunner()
	e := newTestEngine(t, g, map[string]int{"H100": 1}, nil, time.Minute)

	id, err := e.EnqueueEvaluation(request("alice", "gate", submitBase))
	require.NoError(t, err)
	<-g.started

	require.NoError(t, e.CancelEvaluation(id))
	close(g.gate)

	result, err := e.AwaitEvaluation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, result.Outcome)
	assert.Len(t, result.Trials, 1, "当前试验完成后在边界处取消")

	board, err := e.GetLeaderboard(context.Background(), result.Key)
	require.NoError(t, err)
	assert.Empty(t, board)
}

func TestEngine_QueuedJobHitsDeadline(t *testing.T) {
	g := newGatedRunner()
	e := newTestEngine(t, g, map[string]int{"H100": 1}, nil, 100*time.Millisecond)

	first, err := e.EnqueueEvaluation(request("alice", "gate", submitBase))
	require.NoError(t, err)
	<-g.started
	queued, err := e.EnqueueEvaluation(request("bob", "queued", submitBase))
	require.NoError(t, err)

	result, err := e.AwaitEvaluation(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, model.StateTimedOut, result.Outcome)
	assert.Empty(t, result.Trials)

	// 阻塞中的任务同样受总时限约束
	result, err = e.AwaitEvaluation(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, model.StateTimedOut, result.Outcome)
	close(g.gate)
}

func TestEngine_AwaitHonorsContext(t *testing.T) {
	g := newGatedRunner()
	e := newTestEngine(t, g, map[string]int{"H100": 1}, nil, time.Minute)

	id, err := e.EnqueueEvaluation(request("alice", "gate", submitBase))
	require.NoError(t, err)
	<-g.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.AwaitEvaluation(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(g.gate)
}

func TestEngine_ShutdownCancelsQueued(t *testing.T) {
	g := newGatedRunner()
	e := newTestEngine(t, g, map[string]int{"H100": 1}, nil, time.Minute)

	first, err := e.EnqueueEvaluation(request("alice", "gate", submitBase))
	require.NoError(t, err)
	<-g.started
	queued, err := e.EnqueueEvaluation(request("bob", "queued", submitBase))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = e.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "阻塞的任务在关闭超时后被强制取消")

	result, err := e.AwaitEvaluation(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, result.Outcome)
	result, err = e.AwaitEvaluation(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, result.Outcome)

	_, err = e.EnqueueEvaluation(request("carol", "late", submitBase))
	assert.Error(t, err)
}

func TestEngine_PoolStats(t *testing.T) {
	e := newTestEngine(t, fixedRunner(time.Millisecond), map[string]int{"H100": 2}, nil, time.Minute)

	stats := e.PoolStats()
	devices := stats["devices"].([]map[string]interface{})
	require.Len(t, devices, 1)
	assert.Equal(t, 2, devices[0]["slots"])
	assert.Len(t, stats["targets"], 2)
}

func TestEngine_GetEvaluation(t *testing.T) {
	g := newGatedRunner()
	e := newTestEngine(t, g, map[string]int{"H100": 1}, nil, time.Minute)

	id, err := e.EnqueueEvaluation(request("alice", "gate", submitBase))
	require.NoError(t, err)
	<-g.started

	snapshot, err := e.GetEvaluation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StateRunning, snapshot.Outcome)
	assert.Equal(t, 1, snapshot.Attempts)

	close(g.gate)
	_, err = e.AwaitEvaluation(context.Background(), id)
	require.NoError(t, err)

	result, err := e.GetEvaluation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatePassed, result.Outcome)
	require.NotNil(t, result.Standing)
	assert.Equal(t, 1, result.Standing.Rank)

	_, err = e.GetEvaluation(context.Background(), 987654)
	assert.True(t, judgeErr.IsErrorCode(err, judgeErr.ErrCodeNotFound), "实际错误: %v", err)
}

func TestEngine_Ready(t *testing.T) {
	ready := newTestEngine(t, fixedRunner(time.Millisecond), map[string]int{"H100": 1}, nil, time.Minute)
	assert.True(t, ready.Ready())

	idle := newTestEngine(t, fixedRunner(time.Millisecond), map[string]int{"MI300": 1}, nil, time.Minute)
	assert.False(t, idle.Ready())
}
