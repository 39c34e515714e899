package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"kernel-leaderboard/internal/model"
	judgeErr "kernel-leaderboard/pkg/errors"
)

// Runner 在租用的设备上执行一次试验（正确性或性能）。
//
// 实现必须保证：单次试验的失败或崩溃不影响下一次试验使用该设备；
// 被执行代码的输出和异常被捕获为 TrialResult 或错误，不会以 panic 形式逃逸。
// 超时返回 ErrCodeRunnerTimeout，其他执行异常返回 ErrCodeAdapterFault。
type Runner interface {
	Run(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error)
}

// RunnerFunc 函数适配器
type RunnerFunc func(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error)

// Run 实现 Runner
func (f RunnerFunc) Run(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
	return f(ctx, code, spec, slot)
}

// Target 运行器对应的 (DSL, 设备) 组合
type Target struct {
	DSL    string `json:"dsl"`
	Device string `json:"device"`
}

// Registry 按 (DSL, 设备) 精确匹配的运行器注册表，不做回退
type Registry struct {
	mu      sync.RWMutex
	runners map[Target]Runner
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{runners: make(map[Target]Runner)}
}

// Register 注册运行器，重复注册返回错误
func (r *Registry) Register(dsl, device string, rn Runner) error {
	if dsl == "" || device == "" || rn == nil {
		return fmt.Errorf("注册运行器参数无效: dsl=%q device=%q", dsl, device)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	target := Target{DSL: dsl, Device: device}
	if _, exists := r.runners[target]; exists {
		return fmt.Errorf("运行器已注册: %s/%s", dsl, device)
	}
	r.runners[target] = rn
	return nil
}

// Lookup 查找运行器，找不到返回 ErrCodeUnsupportedTarget
func (r *Registry) Lookup(dsl, device string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runners[Target{DSL: dsl, Device: device}]
	if !ok {
		return nil, judgeErr.NewUnsupportedTargetError(dsl, device)
	}
	return rn, nil
}

// Targets 已注册的组合（排序后返回）
func (r *Registry) Targets() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := make([]Target, 0, len(r.runners))
	for t := range r.runners {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Device != targets[j].Device {
			return targets[i].Device < targets[j].Device
		}
		return targets[i].DSL < targets[j].DSL
	})
	return targets
}
