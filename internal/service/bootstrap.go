package service

import (
	"fmt"

	"kernel-leaderboard/internal/conf"
	"kernel-leaderboard/internal/pool"
	"kernel-leaderboard/internal/task"
	"kernel-leaderboard/internal/task/dsl"
	"kernel-leaderboard/internal/task/runner"

	"go.uber.org/zap"
)

// BuildPool 按设备配置创建资源池，并返回每个设备类别的并发上限
func BuildPool(devices []conf.DeviceConfig) (*pool.Pool, map[string]int) {
	slots := make(map[string]int, len(devices))
	maxConcurrent := make(map[string]int, len(devices))
	for _, d := range devices {
		slots[d.Name] = d.Slots
		if d.MaxConcurrent > 0 {
			maxConcurrent[d.Name] = d.MaxConcurrent
		}
	}
	return pool.New(slots), maxConcurrent
}

// BuildRegistry 按运行器配置注册 ProcessRunner。sandbox 为 nil 时要求沙箱的运行器会报错
func BuildRegistry(runners []conf.RunnerConfig, engine *conf.EngineConfig, sandbox *conf.SandboxConfig,
	harness runner.HarnessResolver) (*runner.Registry, error) {
	var jail *runner.NsJail
	if sandbox != nil {
		jail = &runner.NsJail{
			Path:         sandbox.Path,
			MemLimitMB:   sandbox.MemLimitMB,
			UID:          sandbox.UID,
			GID:          sandbox.GID,
			BindMounts:   sandbox.BindMounts,
			RWBindMounts: sandbox.RWBindMounts,
		}
		if err := jail.Available(); err != nil {
			return nil, fmt.Errorf("nsjail 不可用: %w", err)
		}
	}

	reg := runner.NewRegistry()
	for _, rc := range runners {
		if rc.Sandbox && jail == nil {
			return nil, fmt.Errorf("运行器 %s/%s 要求沙箱，但 sandbox.enabled=false", rc.DSL, rc.Device)
		}
		pr := &runner.ProcessRunner{
			DSL:       dsl.Normalize(rc.DSL),
			Device:    rc.Device,
			Command:   rc.Command,
			Env:       rc.Env,
			WorkRoot:  engine.WorkDir,
			MaxOutput: engine.MaxOutputSize,
			Harness:   harness,
		}
		if rc.Sandbox {
			pr.Sandbox = jail
		}
		if err := reg.Register(pr.DSL, pr.Device, pr); err != nil {
			return nil, err
		}
		zap.L().Info("注册运行器",
			zap.String("dsl", pr.DSL),
			zap.String("device", pr.Device),
			zap.Strings("command", pr.Command),
			zap.Bool("sandbox", rc.Sandbox),
		)
	}
	return reg, nil
}

// TaskConfig 引擎配置转换为执行参数
func TaskConfig(engine *conf.EngineConfig) task.Config {
	return task.Config{
		CorrectnessTrials: engine.CorrectnessTrials,
		PerformanceTrials: engine.PerformanceTrials,
		MaxRetries:        engine.MaxRetries,
		TrialTimeout:      engine.TrialTimeout,
		AcquireTimeout:    engine.AcquireTimeout,
	}
}
