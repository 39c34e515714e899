package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kernel-leaderboard/internal/cache"
	"kernel-leaderboard/internal/conf"
	"kernel-leaderboard/internal/constants"
	"kernel-leaderboard/internal/dao"
	"kernel-leaderboard/internal/dao/minio"
	"kernel-leaderboard/internal/dao/store"
	"kernel-leaderboard/internal/handler"
	"kernel-leaderboard/internal/ranking"
	"kernel-leaderboard/internal/server"
	"kernel-leaderboard/internal/service"
	"kernel-leaderboard/internal/task/runner"
	"kernel-leaderboard/internal/transport/redisq"
	"kernel-leaderboard/pkg/logging"
	"kernel-leaderboard/pkg/snowflake"

	"go.uber.org/zap"
)

var confPath = flag.String("conf", "./config/config.yaml", "配置文件路径")

func main() {
	// 加载配置
	flag.Parse()
	cfg := conf.Load(*confPath)
	if err := conf.ValidateConfig(cfg); err != nil {
		fmt.Printf("invalid config, err:%v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := logging.NewLogger(cfg)
	if err != nil {
		fmt.Printf("init logger failed, err:%v\n", err)
		return
	}
	defer logger.Sync()

	snowflake.MustInit(cfg) // 初始化 snowflake
	defer dao.Close()

	// 结果存档与排行榜存储
	var (
		results     service.ResultStore
		leaderboard ranking.Store
	)
	if dao.MustInitDB(cfg) {
		if cfg.GetBool("database.auto_migrate") {
			if err := store.AutoMigrate(dao.DB); err != nil {
				zap.L().Fatal("数据库迁移失败", zap.Error(err))
			}
		}
		resultStore := store.NewResultStore(dao.DB)
		if n, err := resultStore.RecoverOrphans(context.Background()); err != nil {
			zap.L().Error("恢复中断任务失败", zap.Error(err))
		} else if n > 0 {
			zap.L().Warn("上次运行中断的任务已标记为 ERRORED", zap.Int64("count", n))
		}
		results = resultStore
		leaderboard = store.NewLeaderboardStore(dao.DB)
	}

	metrics := service.NewEngineMetrics()

	// 参考评测脚本：MinIO + 本地缓存
	var (
		harness    runner.HarnessResolver
		cacheStats handler.CacheStats
	)
	harnessCfg := conf.LoadHarnessConfig(cfg)
	if harnessCfg.Enabled {
		dao.MustInitMinIO(cfg)
		cacheCfg := conf.LoadCacheConfig(cfg)
		harnessCache, err := cache.New(
			minio.NewHarnessFetcher(dao.MinIOClient, harnessCfg.Bucket, harnessCfg.ObjectPattern),
			cache.Options{
				Dir:            cacheCfg.Dir,
				TTL:            cacheCfg.TTL,
				MaxDiskUsage:   cacheCfg.MaxDiskUsage,
				CleanFrequency: cacheCfg.CleanFrequency,
				OnHit:          metrics.RecordCacheHit,
				OnMiss:         metrics.RecordCacheMiss,
			})
		if err != nil {
			zap.L().Fatal("初始化参考脚本缓存失败", zap.Error(err))
		}
		harnessCache.Start()
		defer harnessCache.Stop()
		harness = harnessCache
		cacheStats = harnessCache
	}

	// 资源池与运行器
	devices, err := conf.LoadDeviceConfigs(cfg)
	if err != nil {
		zap.L().Fatal("加载设备配置失败", zap.Error(err))
	}
	runnerCfgs, err := conf.LoadRunnerConfigs(cfg)
	if err != nil {
		zap.L().Fatal("加载运行器配置失败", zap.Error(err))
	}
	engineCfg := conf.LoadEngineConfig(cfg)
	slotPool, maxConcurrent := service.BuildPool(devices)
	registry, err := service.BuildRegistry(runnerCfgs, engineCfg, conf.LoadSandboxConfig(cfg), harness)
	if err != nil {
		zap.L().Fatal("注册运行器失败", zap.Error(err))
	}

	engine := service.NewEngine(service.EngineOptions{
		Pool:     slotPool,
		Registry: registry,
		Ranking:  ranking.NewEngine(leaderboard),
		Results:  results,
		Metrics:  metrics,
		NextID:   snowflake.NextID,
		Task:     service.TaskConfig(engineCfg),
		Scheduler: service.SchedulerConfig{
			MaxCodeSize:   engineCfg.MaxCodeSize,
			JobDeadline:   engineCfg.JobDeadline,
			MaxConcurrent: maxConcurrent,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis 提交接入
	intakeDone := make(chan struct{})
	if queueCfg := conf.LoadRedisQueueConfig(cfg); queueCfg.Enabled {
		dao.MustInitRedis(cfg)
		consumer := redisq.NewConsumer(dao.RedisClient, *queueCfg, engine)
		go func() {
			defer close(intakeDone)
			consumer.Run(ctx)
		}()
	} else {
		close(intakeDone)
	}

	// 初始化路由
	r := server.SetupRoutes(cfg, engine, cacheStats)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.GetInt("server.port")),
		Handler:      r,
		ReadTimeout:  constants.DefaultReadTimeout,
		WriteTimeout: constants.DefaultWriteTimeout,
		IdleTimeout:  constants.DefaultIdleTimeout,
	}
	go func() {
		zap.L().Info("服务启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("服务启动失败", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zap.L().Info("收到退出信号，开始关闭")

	shutdownTimeout := time.Duration(cfg.GetInt("server.shutdown_timeout")) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = constants.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("关闭 HTTP 服务失败", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("评测引擎未能在时限内关闭", zap.Error(err))
	}
	<-intakeDone
	zap.L().Info("服务已退出")
}
