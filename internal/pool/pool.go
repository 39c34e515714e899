// Package pool 管理 GPU 执行槽位的租约。
//
// 每个设备类别维护一组空闲槽位和一个 FIFO 等待队列。释放槽位时若有等待者，
// 槽位直接交给最早的等待者，保证同类别请求按到达顺序满足。
package pool

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"kernel-leaderboard/internal/model"
	judgeErr "kernel-leaderboard/pkg/errors"

	"go.uber.org/zap"
)

// Pool 资源池
type Pool struct {
	mu      sync.Mutex
	classes map[string]*deviceClass
	nextID  uint64
	now     func() time.Time
}

type deviceClass struct {
	name    string
	slots   []model.ResourceSlot
	free    []int             // 空闲实例编号（按释放顺序）
	leases  map[int]uint64    // 实例编号 -> 当前租约ID
	waiters *list.List        // *waiter
	holders map[int]string    // 实例编号 -> 持有者
	granted map[int]time.Time // 实例编号 -> 租用时间
}

type waiter struct {
	holder string
	ch     chan *model.Lease // 容量为1，释放方直接投递租约
}

// New 按 设备类别 -> 槽位数 创建资源池，槽位数为0的类别不会被创建
func New(slots map[string]int) *Pool {
	p := &Pool{
		classes: make(map[string]*deviceClass, len(slots)),
		now:     time.Now,
	}
	for name, n := range slots {
		if n <= 0 {
			continue
		}
		dc := &deviceClass{
			name:    name,
			leases:  make(map[int]uint64, n),
			waiters: list.New(),
			holders: make(map[int]string, n),
			granted: make(map[int]time.Time, n),
		}
		for i := 0; i < n; i++ {
			dc.slots = append(dc.slots, model.ResourceSlot{DeviceClass: name, InstanceID: i})
			dc.free = append(dc.free, i)
		}
		p.classes[name] = dc
	}
	return p
}

// Capacity 设备类别的槽位总数，未配置时为0
func (p *Pool) Capacity(deviceClass string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dc, ok := p.classes[deviceClass]; ok {
		return len(dc.slots)
	}
	return 0
}

// Acquire 申请一个指定类别的槽位，阻塞直到有空闲槽位、超时或 ctx 取消。
// timeout <= 0 表示只受 ctx 约束。
func (p *Pool) Acquire(ctx context.Context, deviceClass, holder string, timeout time.Duration) (*model.Lease, error) {
	p.mu.Lock()
	dc, ok := p.classes[deviceClass]
	if !ok {
		p.mu.Unlock()
		zap.L().Error("申请不存在的设备类别", zap.String("device", deviceClass))
		return nil, judgeErr.NewResourcePoolExhaustedError(deviceClass)
	}

	// 快速路径：有空闲槽位且无人排队
	if len(dc.free) > 0 && dc.waiters.Len() == 0 {
		instance := dc.free[0]
		dc.free = dc.free[1:]
		lease := p.grantLocked(dc, instance, holder)
		p.mu.Unlock()
		return lease, nil
	}

	w := &waiter{holder: holder, ch: make(chan *model.Lease, 1)}
	elem := dc.waiters.PushBack(w)
	queued := dc.waiters.Len()
	p.mu.Unlock()

	zap.L().Debug("等待设备槽位",
		zap.String("device", deviceClass),
		zap.String("holder", holder),
		zap.Int("queue_len", queued),
	)

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case lease := <-w.ch:
		return lease, nil
	case <-ctx.Done():
		return p.abandon(dc, elem, w, ctx.Err())
	case <-timer:
		return p.abandon(dc, elem, w, judgeErr.NewAcquireTimeoutError(deviceClass))
	}
}

// abandon 放弃等待；若槽位已在途中投递，则视为申请成功
func (p *Pool) abandon(dc *deviceClass, elem *list.Element, w *waiter, cause error) (*model.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case lease := <-w.ch:
		return lease, nil
	default:
	}
	dc.waiters.Remove(elem)
	return nil, cause
}

// grantLocked 调用方需持有锁
func (p *Pool) grantLocked(dc *deviceClass, instance int, holder string) *model.Lease {
	p.nextID++
	now := p.now()
	dc.leases[instance] = p.nextID
	dc.holders[instance] = holder
	dc.granted[instance] = now
	return &model.Lease{
		ID:        p.nextID,
		Slot:      dc.slots[instance],
		Holder:    holder,
		GrantedAt: now,
	}
}

// Release 释放租约。重复释放或释放过期租约是空操作
func (p *Pool) Release(lease *model.Lease) {
	if lease == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	dc, ok := p.classes[lease.Slot.DeviceClass]
	if !ok {
		return
	}
	instance := lease.Slot.InstanceID
	if current, held := dc.leases[instance]; !held || current != lease.ID {
		return
	}
	delete(dc.leases, instance)
	delete(dc.holders, instance)
	delete(dc.granted, instance)

	if front := dc.waiters.Front(); front != nil {
		w := dc.waiters.Remove(front).(*waiter)
		w.ch <- p.grantLocked(dc, instance, w.holder)
		return
	}
	dc.free = append(dc.free, instance)
}

// Holder 返回槽位当前持有者，空闲时返回空串
func (p *Pool) Holder(slot model.ResourceSlot) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dc, ok := p.classes[slot.DeviceClass]; ok {
		return dc.holders[slot.InstanceID]
	}
	return ""
}

// Stats 资源池统计（用于监控）
func (p *Pool) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.classes))
	for name := range p.classes {
		names = append(names, name)
	}
	sort.Strings(names)

	devices := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		dc := p.classes[name]
		leased := make([]map[string]interface{}, 0, len(dc.leases))
		for instance := range dc.leases {
			leased = append(leased, map[string]interface{}{
				"instance":   instance,
				"holder":     dc.holders[instance],
				"held_for_s": p.now().Sub(dc.granted[instance]).Seconds(),
			})
		}
		devices = append(devices, map[string]interface{}{
			"device":    name,
			"slots":     len(dc.slots),
			"available": len(dc.free),
			"waiting":   dc.waiters.Len(),
			"leased":    leased,
		})
	}
	return map[string]interface{}{"devices": devices}
}
