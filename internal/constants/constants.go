package constants

import "time"

// 评测相关常量
const (
	// 试验次数
	DefaultCorrectnessTrials = 3 // 默认正确性试验次数
	DefaultPerformanceTrials = 5 // 默认性能试验次数（取最优值）
	MaxPerformanceTrials     = 100
	DefaultMaxRetries        = 2 // TimedOut/Errored 的默认重试次数
	MaxRetries               = 10

	// 评测超时配置
	DefaultTrialTimeout   = 2 * time.Minute  // 单次试验超时时间
	DefaultJobDeadline    = 30 * time.Minute // 单个评测任务的总时限（从入队开始计算）
	DefaultAcquireTimeout = 10 * time.Minute // 等待设备槽位的超时时间
	MaxJobDeadline        = 24 * time.Hour

	// 代码大小限制
	DefaultMaxCodeSize = 1024 * 1024 // 1MB
	MaxCodeSize        = 16 * 1024 * 1024

	// 默认 overload（上游未指定时）
	DefaultOverload = "default"

	// 输出限制
	MaxOutputSize = 1024 * 1024 // 运行器捕获输出上限（1MB）
	MaxErrorSize  = 4096        // 错误详情上限（4KB）

	// 临时文件
	TempDirPrefix = "kernel-trial-" // 临时目录前缀
	TempDirPerm   = 0777            // 临时目录权限（nsjail 内的非 root 用户需要可写）
	CodeFilePerm  = 0644            // 代码文件权限
)

// 设备并发相关常量
const (
	DefaultSlotsPerDevice = 1
	MaxSlotsPerDevice     = 64
)

// 缓存相关常量
const (
	DefaultCacheTTL       = 30 * time.Minute       // 默认缓存过期时间
	DefaultCleanFrequency = 10 * time.Minute       // 默认清理频率
	DefaultMaxDiskUsage   = 2 * 1024 * 1024 * 1024 // 默认最大磁盘使用（2GB）

	CacheDirName = "kernel-harness-cache"
	CacheDirPerm = 0755

	DefaultHarnessObjectPattern = "{operation}/{overload}/harness.py"
	HarnessFileName             = "reference_harness.py"
)

// 沙箱相关常量
const (
	NsJailDefaultPath = "nsjail"
	NsJailDefaultUID  = 99999
	NsJailDefaultGID  = 99999
	NsJailHostname    = "kernel-sandbox"
)

// 日志相关常量
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	DefaultLogFile    = "log/server.log"
	DefaultLogMaxSize = 200 // MB
	DefaultLogMaxAge  = 30  // days
	DefaultLogBackups = 7
)

// HTTP 相关常量
const (
	DefaultServerPort = 53333

	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
)

// Redis 相关常量
const (
	DefaultSubmissionKey      = "leaderboard:submissions"
	DefaultCancelKey          = "leaderboard:cancellations"
	DefaultResultStream       = "leaderboard:results"
	DefaultPopTimeout         = 5 * time.Second
	DefaultIntakeWorkers      = 4
	DefaultResultStreamMaxLen = 100000 // 结果流近似长度上限
)
