package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	judgeErr "kernel-leaderboard/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_AcquireUnknownClass(t *testing.T) {
	p := New(map[string]int{"H100": 1, "A100": 0})

	_, err := p.Acquire(context.Background(), "A100", "job-1", time.Second)
	require.Error(t, err)
	assert.True(t, judgeErr.IsErrorCode(err, judgeErr.ErrCodeResourcePoolExhausted))
	assert.Equal(t, 0, p.Capacity("A100"))
	assert.Equal(t, 1, p.Capacity("H100"))
}

func TestPool_AcquireRelease(t *testing.T) {
	p := New(map[string]int{"H100": 2})
	ctx := context.Background()

	l1, err := p.Acquire(ctx, "H100", "job-1", time.Second)
	require.NoError(t, err)
	l2, err := p.Acquire(ctx, "H100", "job-2", time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, l1.Slot.InstanceID, l2.Slot.InstanceID)
	assert.Equal(t, "job-1", p.Holder(l1.Slot))

	p.Release(l1)
	assert.Equal(t, "", p.Holder(l1.Slot))

	l3, err := p.Acquire(ctx, "H100", "job-3", time.Second)
	require.NoError(t, err)
	assert.Equal(t, l1.Slot, l3.Slot)
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	p := New(map[string]int{"H100": 1})
	ctx := context.Background()

	l1, err := p.Acquire(ctx, "H100", "job-1", time.Second)
	require.NoError(t, err)
	p.Release(l1)
	p.Release(l1)
	p.Release(nil)

	// 重复释放旧租约不能释放别人正在持有的槽位
	l2, err := p.Acquire(ctx, "H100", "job-2", time.Second)
	require.NoError(t, err)
	p.Release(l1)
	assert.Equal(t, "job-2", p.Holder(l2.Slot))

	_, err = p.Acquire(ctx, "H100", "job-3", 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, judgeErr.IsErrorCode(err, judgeErr.ErrCodeAcquireTimeout))
}

func TestPool_WaitersServedInArrivalOrder(t *testing.T) {
	p := New(map[string]int{"H100": 1})
	ctx := context.Background()

	first, err := p.Acquire(ctx, "H100", "holder", time.Second)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	for i, name := range []string{"w1", "w2", "w3"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			lease, err := p.Acquire(ctx, "H100", name, 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			p.Release(lease)
		}(name)
		// 等待该请求进入队列，保证到达顺序确定
		want := i + 1
		require.Eventually(t, func() bool {
			return waitingCount(p, "H100") == want
		}, time.Second, time.Millisecond)
	}

	p.Release(first)
	wg.Wait()
	assert.Equal(t, []string{"w1", "w2", "w3"}, order)
}

func TestPool_AcquireHonorsContext(t *testing.T) {
	p := New(map[string]int{"H100": 1})
	_, err := p.Acquire(context.Background(), "H100", "job-1", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = p.Acquire(ctx, "H100", "job-2", 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, waitingCount(p, "H100"))
}

func TestPool_NeverDoubleLeases(t *testing.T) {
	const slots = 3
	p := New(map[string]int{"H100": slots})

	var (
		inUse   [slots]int32
		active  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := p.Acquire(context.Background(), "H100", "worker", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			defer p.Release(lease)

			if !atomic.CompareAndSwapInt32(&inUse[lease.Slot.InstanceID], 0, 1) {
				t.Errorf("槽位 %v 被重复租用", lease.Slot)
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			atomic.StoreInt32(&inUse[lease.Slot.InstanceID], 0)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen, int32(slots))
	stats := p.Stats()["devices"].([]map[string]interface{})
	require.Len(t, stats, 1)
	assert.Equal(t, slots, stats[0]["available"], "所有槽位都应被归还")
}

func waitingCount(p *Pool, class string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.classes[class].waiters.Len()
}
