package cache

import (
	"context"
	md5Package "crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"kernel-leaderboard/internal/constants"
	judgeErr "kernel-leaderboard/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Fetcher 下载 (operation, overload) 对应的参考评测脚本
type Fetcher interface {
	Fetch(ctx context.Context, operation, overload string) ([]byte, error)
}

// Options 缓存参数，零值字段使用默认值
type Options struct {
	Dir            string
	TTL            time.Duration
	MaxDiskUsage   int64
	CleanFrequency time.Duration

	OnHit  func()
	OnMiss func()
}

// HarnessCache 参考评测脚本的本地磁盘缓存
type HarnessCache struct {
	fetcher      Fetcher
	cache        map[string]*cachedFile
	mutex        sync.RWMutex
	group        singleflight.Group
	ttl          time.Duration
	cleanFreq    time.Duration
	cacheDir     string // 本地缓存目录
	maxDiskUsage int64  // 最大磁盘使用量（字节）
	currentUsage int64  // 当前磁盘使用量
	onHit        func()
	onMiss       func()
	now          func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type cachedFile struct {
	key        string
	filePath   string    // 缓存文件的路径
	expireTime time.Time // 过期时间
	size       int64     // 文件大小
	accessTime time.Time // 最后访问时间
	MD5Hash    string    // 文件的MD5哈希值
}

// New 创建缓存，创建目录失败时回退到系统临时目录
func New(fetcher Fetcher, opts Options) (*HarnessCache, error) {
	if opts.TTL <= 0 {
		opts.TTL = constants.DefaultCacheTTL
	}
	if opts.CleanFrequency <= 0 {
		opts.CleanFrequency = constants.DefaultCleanFrequency
	}
	if opts.MaxDiskUsage <= 0 {
		opts.MaxDiskUsage = constants.DefaultMaxDiskUsage
	}
	cacheDir := opts.Dir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), constants.CacheDirName)
	}
	if err := os.MkdirAll(cacheDir, constants.CacheDirPerm); err != nil {
		zap.L().Warn("创建缓存目录失败，使用系统临时目录", zap.String("dir", cacheDir), zap.Error(err))
		cacheDir = filepath.Join(os.TempDir(), constants.CacheDirName)
		if err := os.MkdirAll(cacheDir, constants.CacheDirPerm); err != nil {
			return nil, judgeErr.Wrap(judgeErr.ErrCodeCacheFailed, "创建缓存目录失败", err)
		}
	}

	return &HarnessCache{
		fetcher:      fetcher,
		cache:        make(map[string]*cachedFile),
		ttl:          opts.TTL,
		cleanFreq:    opts.CleanFrequency,
		cacheDir:     cacheDir,
		maxDiskUsage: opts.MaxDiskUsage,
		onHit:        opts.OnHit,
		onMiss:       opts.OnMiss,
		now:          time.Now,
		stop:         make(chan struct{}),
	}, nil
}

// Start 启动过期清理协程
func (c *HarnessCache) Start() {
	go c.startCleaner()
}

// Stop 停止清理协程
func (c *HarnessCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Resolve 返回参考评测脚本的本地路径，未命中时下载并缓存。
// 同一脚本的并发未命中只下载一次。
func (c *HarnessCache) Resolve(ctx context.Context, operation, overload string) (string, error) {
	key := generateKey(operation, overload)
	if path, ok := c.GetFilePath(key); ok {
		if c.onHit != nil {
			c.onHit()
		}
		return path, nil
	}
	if c.onMiss != nil {
		c.onMiss()
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// 等待期间可能已被其他请求写入
		if path, ok := c.GetFilePath(key); ok {
			return path, nil
		}
		data, err := c.fetcher.Fetch(ctx, operation, overload)
		if err != nil {
			return "", judgeErr.Wrap(judgeErr.ErrCodeFileDownloadFailed,
				fmt.Sprintf("下载参考评测脚本失败: %s", key), err)
		}
		return c.Set(key, data)
	})
	if err != nil {
		return "", err
	}
	zap.L().Debug("参考评测脚本缓存未命中", zap.String("key", key))
	return v.(string), nil
}

// GetFilePath 获取缓存文件路径，过期、丢失或损坏的条目会被移除
func (c *HarnessCache) GetFilePath(key string) (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	cached, exists := c.cache[key]
	if !exists {
		return "", false
	}

	if c.now().After(cached.expireTime) {
		c.removeLocked(cached)
		return "", false
	}

	if _, err := os.Stat(cached.filePath); os.IsNotExist(err) {
		c.currentUsage -= cached.size
		delete(c.cache, key)
		return "", false
	}

	if !verifyFileIntegrity(cached.filePath, cached.MD5Hash) {
		zap.L().Warn("缓存文件校验失败", zap.String("key", key), zap.String("path", cached.filePath))
		c.removeLocked(cached)
		return "", false
	}

	cached.accessTime = c.now()
	return cached.filePath, true
}

// Set 写入缓存文件并返回路径
func (c *HarnessCache) Set(key string, content []byte) (string, error) {
	md5Hash := fmt.Sprintf("%x", md5Package.Sum(content))
	keyHash := fmt.Sprintf("%x", md5Package.Sum([]byte(key)))
	cacheFilePath := filepath.Join(c.cacheDir, fmt.Sprintf("%s_%s", keyHash[:12], md5Hash))
	newFileSize := int64(len(content))

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if old, exists := c.cache[key]; exists {
		c.removeLocked(old)
	}
	if err := c.freeSpaceLocked(newFileSize); err != nil {
		return "", err
	}

	if err := os.WriteFile(cacheFilePath, content, constants.CodeFilePerm); err != nil {
		return "", judgeErr.Wrap(judgeErr.ErrCodeCacheFailed, "写入缓存文件失败", err)
	}

	now := c.now()
	c.cache[key] = &cachedFile{
		key:        key,
		filePath:   cacheFilePath,
		expireTime: now.Add(c.ttl),
		size:       newFileSize,
		accessTime: now,
		MD5Hash:    md5Hash,
	}
	c.currentUsage += newFileSize
	return cacheFilePath, nil
}

// freeSpaceLocked 按最近访问时间淘汰，直到能放下新文件
func (c *HarnessCache) freeSpaceLocked(newFileSize int64) error {
	if newFileSize > c.maxDiskUsage {
		return judgeErr.New(judgeErr.ErrCodeCacheFailed,
			fmt.Sprintf("文件过大: %d 字节 (缓存上限 %d)", newFileSize, c.maxDiskUsage))
	}
	if c.currentUsage+newFileSize <= c.maxDiskUsage {
		return nil
	}

	files := make([]*cachedFile, 0, len(c.cache))
	for _, file := range c.cache {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].accessTime.Before(files[j].accessTime)
	})

	for _, file := range files {
		if c.currentUsage+newFileSize <= c.maxDiskUsage {
			break
		}
		zap.L().Debug("淘汰缓存文件", zap.String("key", file.key), zap.Int64("size", file.size))
		c.removeLocked(file)
	}
	return nil
}

// removeLocked 调用方需持有写锁
func (c *HarnessCache) removeLocked(file *cachedFile) {
	os.Remove(file.filePath)
	c.currentUsage -= file.size
	delete(c.cache, file.key)
}

// startCleaner 启动清理协程
func (c *HarnessCache) startCleaner() {
	ticker := time.NewTicker(c.cleanFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanExpired()
		case <-c.stop:
			return
		}
	}
}

// cleanExpired 清理过期的缓存项
func (c *HarnessCache) cleanExpired() {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, cached := range c.cache {
		if now.After(cached.expireTime) {
			c.removeLocked(cached)
		}
	}
}

// Clear 清空所有缓存
func (c *HarnessCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, cached := range c.cache {
		os.Remove(cached.filePath)
	}
	c.cache = make(map[string]*cachedFile)
	c.currentUsage = 0
}

// GetCacheStats 获取缓存统计信息
func (c *HarnessCache) GetCacheStats() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return map[string]interface{}{
		"cache_size":    len(c.cache),
		"current_usage": c.currentUsage,
		"max_usage":     c.maxDiskUsage,
		"cache_dir":     c.cacheDir,
		"ttl":           c.ttl.String(),
		"clean_freq":    c.cleanFreq.String(),
		"usage_percent": float64(c.currentUsage) / float64(c.maxDiskUsage) * 100,
	}
}

func generateKey(operation, overload string) string {
	return fmt.Sprintf("%s:%s", operation, overload)
}

// verifyFileIntegrity 验证文件完整性
func verifyFileIntegrity(filePath, expectedMD5 string) bool {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return false
	}
	return fmt.Sprintf("%x", md5Package.Sum(content)) == expectedMD5
}
