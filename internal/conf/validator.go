package conf

import (
	"fmt"

	"kernel-leaderboard/internal/constants"

	"github.com/spf13/viper"
)

// ValidateConfig 验证配置文件
func ValidateConfig(cfg *viper.Viper) error {
	// 验证服务器配置
	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("服务器配置错误: %w", err)
	}

	// 验证评测引擎配置
	if err := validateEngineConfig(cfg); err != nil {
		return fmt.Errorf("评测引擎配置错误: %w", err)
	}

	// 验证设备与运行器
	if err := validateDevicesAndRunners(cfg); err != nil {
		return fmt.Errorf("设备配置错误: %w", err)
	}

	// 验证缓存配置
	if err := validateCacheConfig(cfg); err != nil {
		return fmt.Errorf("缓存配置错误: %w", err)
	}

	// 验证存储配置
	if err := validateDatabaseConfig(cfg); err != nil {
		return fmt.Errorf("存储配置错误: %w", err)
	}

	return nil
}

// validateServerConfig 验证服务器配置
func validateServerConfig(cfg *viper.Viper) error {
	port := cfg.GetInt("server.port")
	if port <= 0 || port > 65535 {
		return fmt.Errorf("端口号无效: %d (应在1-65535之间)", port)
	}

	mode := cfg.GetString("server.mode")
	if mode != "dev" && mode != "prod" && mode != "test" {
		return fmt.Errorf("运行模式无效: %s (应为dev/prod/test)", mode)
	}

	return nil
}

// validateEngineConfig 验证评测引擎配置
func validateEngineConfig(cfg *viper.Viper) error {
	correctness := cfg.GetInt("engine.correctness_trials")
	if correctness <= 0 || correctness > constants.MaxPerformanceTrials {
		return fmt.Errorf("正确性试验次数无效: %d (应在1-%d之间)", correctness, constants.MaxPerformanceTrials)
	}

	performance := cfg.GetInt("engine.performance_trials")
	if performance <= 0 || performance > constants.MaxPerformanceTrials {
		return fmt.Errorf("性能试验次数无效: %d (应在1-%d之间)", performance, constants.MaxPerformanceTrials)
	}

	retries := cfg.GetInt("engine.max_retries")
	if retries < 0 || retries > constants.MaxRetries {
		return fmt.Errorf("重试次数无效: %d (应在0-%d之间)", retries, constants.MaxRetries)
	}

	trialTimeout := cfg.GetInt("engine.trial_timeout")
	jobDeadline := cfg.GetInt("engine.job_deadline")
	if trialTimeout <= 0 {
		return fmt.Errorf("试验超时时间无效: %d", trialTimeout)
	}
	if jobDeadline < trialTimeout || jobDeadline > int(constants.MaxJobDeadline.Seconds()) {
		return fmt.Errorf("任务总时限无效: %d (应在%d-%d秒之间)",
			jobDeadline, trialTimeout, int(constants.MaxJobDeadline.Seconds()))
	}
	if cfg.GetInt("engine.acquire_timeout") < 0 {
		return fmt.Errorf("等待槽位超时无效: %d", cfg.GetInt("engine.acquire_timeout"))
	}

	maxCodeSize := cfg.GetInt("engine.max_code_size")
	if maxCodeSize <= 0 || maxCodeSize > constants.MaxCodeSize {
		return fmt.Errorf("代码大小上限无效: %d (应在1B-%dB之间)", maxCodeSize, constants.MaxCodeSize)
	}

	maxOutputSize := cfg.GetInt64("engine.max_output_size")
	if maxOutputSize <= 0 || maxOutputSize > 100*1024*1024 {
		return fmt.Errorf("最大输出大小无效: %d (应在1B-100MB之间)", maxOutputSize)
	}

	return nil
}

// validateDevicesAndRunners 设备名唯一、槽位数合法，运行器指向已配置的设备
func validateDevicesAndRunners(cfg *viper.Viper) error {
	devices, err := LoadDeviceConfigs(cfg)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return fmt.Errorf("至少需要配置一个设备类别")
	}
	known := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d.Name == "" {
			return fmt.Errorf("设备类别名称不能为空")
		}
		if known[d.Name] {
			return fmt.Errorf("设备类别重复: %s", d.Name)
		}
		if d.Slots < 0 || d.Slots > constants.MaxSlotsPerDevice {
			return fmt.Errorf("设备 %s 槽位数无效: %d (应在0-%d之间)", d.Name, d.Slots, constants.MaxSlotsPerDevice)
		}
		if d.MaxConcurrent < 0 {
			return fmt.Errorf("设备 %s 最大并发数无效: %d", d.Name, d.MaxConcurrent)
		}
		known[d.Name] = true
	}

	runners, err := LoadRunnerConfigs(cfg)
	if err != nil {
		return err
	}
	for i, r := range runners {
		if r.DSL == "" || r.Device == "" {
			return fmt.Errorf("运行器 #%d 缺少 dsl 或 device", i)
		}
		if !known[r.Device] {
			return fmt.Errorf("运行器 %s/%s 引用了未配置的设备", r.DSL, r.Device)
		}
		if len(r.Command) == 0 {
			return fmt.Errorf("运行器 %s/%s 缺少评测命令", r.DSL, r.Device)
		}
	}
	return nil
}

// validateCacheConfig 验证缓存配置
func validateCacheConfig(cfg *viper.Viper) error {
	ttl := cfg.GetInt("cache.ttl")
	if ttl <= 0 || ttl > 86400 {
		return fmt.Errorf("缓存TTL无效: %d (应在1-86400秒之间)", ttl)
	}

	maxDiskUsage := cfg.GetInt64("cache.max_disk_usage")
	if maxDiskUsage <= 0 || maxDiskUsage > 100*1024*1024*1024 {
		return fmt.Errorf("最大磁盘使用无效: %d (应在1B-100GB之间)", maxDiskUsage)
	}

	cleanFreq := cfg.GetInt("cache.clean_frequency")
	if cleanFreq <= 0 || cleanFreq > 3600 {
		return fmt.Errorf("清理频率无效: %d (应在1-3600秒之间)", cleanFreq)
	}

	return nil
}

// validateDatabaseConfig 验证存储驱动
func validateDatabaseConfig(cfg *viper.Viper) error {
	switch driver := cfg.GetString("database.driver"); driver {
	case "memory", "mysql", "postgres":
		return nil
	default:
		return fmt.Errorf("数据库驱动无效: %s (应为memory/mysql/postgres)", driver)
	}
}

// SetDefaultValues 设置默认配置值
func SetDefaultValues(cfg *viper.Viper) {
	// 服务器默认值
	cfg.SetDefault("server.port", constants.DefaultServerPort)
	cfg.SetDefault("server.mode", "dev")
	cfg.SetDefault("server.name", "kernel-leaderboard")
	cfg.SetDefault("server.shutdown_timeout", int(constants.DefaultShutdownTimeout.Seconds()))

	// 评测引擎默认值
	cfg.SetDefault("engine.correctness_trials", constants.DefaultCorrectnessTrials)
	cfg.SetDefault("engine.performance_trials", constants.DefaultPerformanceTrials)
	cfg.SetDefault("engine.max_retries", constants.DefaultMaxRetries)
	cfg.SetDefault("engine.trial_timeout", int(constants.DefaultTrialTimeout.Seconds()))
	cfg.SetDefault("engine.job_deadline", int(constants.DefaultJobDeadline.Seconds()))
	cfg.SetDefault("engine.acquire_timeout", int(constants.DefaultAcquireTimeout.Seconds()))
	cfg.SetDefault("engine.max_code_size", constants.DefaultMaxCodeSize)
	cfg.SetDefault("engine.max_output_size", constants.MaxOutputSize)
	cfg.SetDefault("engine.work_dir", "")

	// 沙箱默认值
	cfg.SetDefault("sandbox.enabled", false)
	cfg.SetDefault("sandbox.path", constants.NsJailDefaultPath)
	cfg.SetDefault("sandbox.uid", constants.NsJailDefaultUID)
	cfg.SetDefault("sandbox.gid", constants.NsJailDefaultGID)

	// 参考评测脚本默认值
	cfg.SetDefault("harness.enabled", false)
	cfg.SetDefault("harness.object_pattern", constants.DefaultHarnessObjectPattern)

	// 缓存默认值
	cfg.SetDefault("cache.ttl", int(constants.DefaultCacheTTL.Seconds()))
	cfg.SetDefault("cache.max_disk_usage", constants.DefaultMaxDiskUsage)
	cfg.SetDefault("cache.clean_frequency", int(constants.DefaultCleanFrequency.Seconds()))

	// 存储默认值
	cfg.SetDefault("database.driver", "memory")
	cfg.SetDefault("database.auto_migrate", true)
	for _, db := range []string{"mysql", "postgres"} {
		cfg.SetDefault(db+".max_idle_conns", 10)
		cfg.SetDefault(db+".max_open_conns", 50)
		cfg.SetDefault(db+".max_lifetime", 3600)
	}
	cfg.SetDefault("postgres.sslmode", "disable")
	cfg.SetDefault("postgres.timezone", "Asia/Shanghai")

	// Redis 接入默认值
	cfg.SetDefault("redis.queue.enabled", false)
	cfg.SetDefault("redis.queue.submission_key", constants.DefaultSubmissionKey)
	cfg.SetDefault("redis.queue.cancel_key", constants.DefaultCancelKey)
	cfg.SetDefault("redis.queue.result_stream", constants.DefaultResultStream)
	cfg.SetDefault("redis.queue.pop_timeout", int(constants.DefaultPopTimeout.Seconds()))
	cfg.SetDefault("redis.queue.workers", constants.DefaultIntakeWorkers)

	// 日志默认值
	cfg.SetDefault("log.level", constants.LogLevelInfo)
	cfg.SetDefault("log.filename", constants.DefaultLogFile)
	cfg.SetDefault("log.max_size", constants.DefaultLogMaxSize)
	cfg.SetDefault("log.max_age", constants.DefaultLogMaxAge)
	cfg.SetDefault("log.max_backups", constants.DefaultLogBackups)

	// Snowflake默认值
	cfg.SetDefault("snowflake.machine_id", 1)
	cfg.SetDefault("snowflake.start_time", "2025-07-01")
}
