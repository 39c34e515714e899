package dao

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	DB          *gorm.DB      // 全局数据库连接
	RedisClient *redis.Client // 全局 Redis 连接
	MinIOClient *minio.Client // 全局 MinIO 连接
)

// MustInitDB 根据 database.driver 初始化数据库，memory 时不连接数据库并返回 false
func MustInitDB(cfg *viper.Viper) bool {
	switch driver := cfg.GetString("database.driver"); driver {
	case "mysql":
		MustInitMySQL(cfg)
	case "postgres":
		MustInitPostgres(cfg)
	case "memory", "":
		zap.L().Info("使用内存存储，结果和排行榜不会持久化")
		return false
	default:
		panic(fmt.Errorf("unknown database driver: %s", driver))
	}
	return true
}

// MustInitMySQL 初始化 MySQL 连接
func MustInitMySQL(cfg *viper.Viper) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.GetString("mysql.user"),
		cfg.GetString("mysql.password"),
		cfg.GetString("mysql.host"),
		cfg.GetString("mysql.port"),
		cfg.GetString("mysql.dbname"),
	)
	db, err := gorm.Open(mysql.Open(dsn), gormConfig(cfg))
	if err != nil {
		panic(fmt.Errorf("connect db fail: %w", err))
	}
	setPool(db, cfg, "mysql")
	DB = db
}

// MustInitPostgres 初始化 Postgres 连接
func MustInitPostgres(cfg *viper.Viper) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		cfg.GetString("postgres.host"),
		cfg.GetString("postgres.user"),
		cfg.GetString("postgres.password"),
		cfg.GetString("postgres.dbname"),
		cfg.GetString("postgres.port"),
		cfg.GetString("postgres.sslmode"),
		cfg.GetString("postgres.timezone"),
	)
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(cfg))
	if err != nil {
		panic(fmt.Errorf("connect db fail: %w", err))
	}
	setPool(db, cfg, "postgres")
	DB = db
}

func gormConfig(cfg *viper.Viper) *gorm.Config {
	level := logger.Warn
	if cfg.GetString("server.mode") == "dev" {
		level = logger.Info
	}
	return &gorm.Config{Logger: logger.Default.LogMode(level)}
}

// setPool 设置连接池参数
func setPool(db *gorm.DB, cfg *viper.Viper, prefix string) {
	sqlDB, err := db.DB()
	if err != nil {
		panic(fmt.Errorf("connect db fail: %w", err))
	}
	sqlDB.SetMaxIdleConns(cfg.GetInt(prefix + ".max_idle_conns"))
	sqlDB.SetMaxOpenConns(cfg.GetInt(prefix + ".max_open_conns"))
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.GetInt(prefix+".max_lifetime")) * time.Second)
}

// MustInitRedis 初始化 Redis 连接
func MustInitRedis(conf *viper.Viper) {
	addr := fmt.Sprintf("%s:%d", conf.GetString("redis.host"), conf.GetInt("redis.port"))
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: conf.GetString("redis.password"),
		DB:       conf.GetInt("redis.db"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := rdb.Ping(ctx).Result()
	if err != nil {
		panic(fmt.Errorf("init redis failed, err:%w", err))
	}
	RedisClient = rdb
}

// MustInitMinIO 初始化 MinIO 连接，并确认参考脚本所在的存储桶存在
func MustInitMinIO(conf *viper.Viper) {
	client, err := minio.New(conf.GetString("minio.endpoint"), &minio.Options{
		Creds:     credentials.NewStaticV4(conf.GetString("minio.access_key"), conf.GetString("minio.secret_key"), ""),
		Secure:    conf.GetBool("minio.use_ssl"),
		Region:    conf.GetString("minio.region"),
		Transport: newTransport(),
	})
	if err != nil {
		panic(fmt.Errorf("init minio failed, err:%w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bucket := conf.GetString("harness.bucket")
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		panic(fmt.Errorf("check minio bucket failed, err:%w", err))
	}
	if !exists {
		panic(fmt.Errorf("minio bucket missing: %s", bucket))
	}
	MinIOClient = client
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Close 关闭所有连接
func Close() {
	if RedisClient != nil {
		_ = RedisClient.Close()
	}
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
