package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// EngineConfig 评测引擎配置
type EngineConfig struct {
	CorrectnessTrials int           // 正确性试验次数
	PerformanceTrials int           // 性能试验次数
	MaxRetries        int           // TimedOut/Errored 重试次数
	TrialTimeout      time.Duration // 单次试验超时
	JobDeadline       time.Duration // 任务总时限（从入队开始）
	AcquireTimeout    time.Duration // 等待槽位超时
	MaxCodeSize       int           // 代码大小上限
	MaxOutputSize     int           // 评测脚本输出捕获上限
	WorkDir           string        // 试验临时目录根路径
}

// DeviceConfig 设备类别配置
type DeviceConfig struct {
	Name          string `mapstructure:"name"`
	Slots         int    `mapstructure:"slots"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// RunnerConfig 一个 (DSL, 设备) 组合的运行器
type RunnerConfig struct {
	DSL     string   `mapstructure:"dsl"`
	Device  string   `mapstructure:"device"`
	Command []string `mapstructure:"command"`
	Env     []string `mapstructure:"env"`
	Sandbox bool     `mapstructure:"sandbox"` // 是否在 nsjail 中运行
}

// SandboxConfig NsJail 配置
type SandboxConfig struct {
	Path         string
	MemLimitMB   int
	UID          int
	GID          int
	BindMounts   []string // 只读挂载（GPU 设备节点、驱动库）
	RWBindMounts []string
}

// HarnessConfig 参考评测脚本配置
type HarnessConfig struct {
	Enabled       bool
	Bucket        string // MinIO 存储桶
	ObjectPattern string // 对象路径模板，支持 {operation} {overload}
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Dir            string        // 缓存目录（为空时使用系统临时目录）
	TTL            time.Duration // 缓存时间
	MaxDiskUsage   int64         // 最大磁盘使用
	CleanFrequency time.Duration // 清理频率
}

// RedisQueueConfig Redis 接入配置
type RedisQueueConfig struct {
	Enabled       bool
	SubmissionKey string
	CancelKey     string
	ResultStream  string
	PopTimeout    time.Duration
	Workers       int
}

// LoadEngineConfig 从配置文件加载评测引擎配置
func LoadEngineConfig(cfg *viper.Viper) *EngineConfig {
	return &EngineConfig{
		CorrectnessTrials: cfg.GetInt("engine.correctness_trials"),
		PerformanceTrials: cfg.GetInt("engine.performance_trials"),
		MaxRetries:        cfg.GetInt("engine.max_retries"),
		TrialTimeout:      time.Duration(cfg.GetInt("engine.trial_timeout")) * time.Second,
		JobDeadline:       time.Duration(cfg.GetInt("engine.job_deadline")) * time.Second,
		AcquireTimeout:    time.Duration(cfg.GetInt("engine.acquire_timeout")) * time.Second,
		MaxCodeSize:       cfg.GetInt("engine.max_code_size"),
		MaxOutputSize:     cfg.GetInt("engine.max_output_size"),
		WorkDir:           cfg.GetString("engine.work_dir"),
	}
}

// LoadDeviceConfigs 加载设备列表。使用列表而不是 map，因为 viper 会把 map 的键转成小写
func LoadDeviceConfigs(cfg *viper.Viper) ([]DeviceConfig, error) {
	var devices []DeviceConfig
	if err := cfg.UnmarshalKey("devices", &devices); err != nil {
		return nil, fmt.Errorf("解析设备配置失败: %w", err)
	}
	return devices, nil
}

// LoadRunnerConfigs 加载运行器列表
func LoadRunnerConfigs(cfg *viper.Viper) ([]RunnerConfig, error) {
	var runners []RunnerConfig
	if err := cfg.UnmarshalKey("runners", &runners); err != nil {
		return nil, fmt.Errorf("解析运行器配置失败: %w", err)
	}
	return runners, nil
}

// LoadSandboxConfig 加载沙箱配置，未启用时返回 nil
func LoadSandboxConfig(cfg *viper.Viper) *SandboxConfig {
	if !cfg.GetBool("sandbox.enabled") {
		return nil
	}
	return &SandboxConfig{
		Path:         cfg.GetString("sandbox.path"),
		MemLimitMB:   cfg.GetInt("sandbox.mem_limit_mb"),
		UID:          cfg.GetInt("sandbox.uid"),
		GID:          cfg.GetInt("sandbox.gid"),
		BindMounts:   cfg.GetStringSlice("sandbox.bind_mounts"),
		RWBindMounts: cfg.GetStringSlice("sandbox.rw_bind_mounts"),
	}
}

// LoadHarnessConfig 加载参考评测脚本配置
func LoadHarnessConfig(cfg *viper.Viper) *HarnessConfig {
	return &HarnessConfig{
		Enabled:       cfg.GetBool("harness.enabled"),
		Bucket:        cfg.GetString("harness.bucket"),
		ObjectPattern: cfg.GetString("harness.object_pattern"),
	}
}

// LoadCacheConfig 从配置文件加载缓存配置
func LoadCacheConfig(cfg *viper.Viper) *CacheConfig {
	return &CacheConfig{
		Dir:            cfg.GetString("cache.dir"),
		TTL:            time.Duration(cfg.GetInt("cache.ttl")) * time.Second,
		MaxDiskUsage:   cfg.GetInt64("cache.max_disk_usage"),
		CleanFrequency: time.Duration(cfg.GetInt("cache.clean_frequency")) * time.Second,
	}
}

// LoadRedisQueueConfig 加载 Redis 接入配置
func LoadRedisQueueConfig(cfg *viper.Viper) *RedisQueueConfig {
	return &RedisQueueConfig{
		Enabled:       cfg.GetBool("redis.queue.enabled"),
		SubmissionKey: cfg.GetString("redis.queue.submission_key"),
		CancelKey:     cfg.GetString("redis.queue.cancel_key"),
		ResultStream:  cfg.GetString("redis.queue.result_stream"),
		PopTimeout:    time.Duration(cfg.GetInt("redis.queue.pop_timeout")) * time.Second,
		Workers:       cfg.GetInt("redis.queue.workers"),
	}
}
