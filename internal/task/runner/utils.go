package runner

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"kernel-leaderboard/internal/constants"

	"go.uber.org/zap"
)

// createTmpDir 在 root 下创建试验工作目录（root 为空时使用系统临时目录）
func createTmpDir(root string) (string, func(), error) {
	if root != "" {
		if err := os.MkdirAll(root, 0755); err != nil {
			return "", nil, fmt.Errorf("创建工作根目录失败: %w", err)
		}
	}
	tempDir, err := os.MkdirTemp(root, constants.TempDirPrefix+"*")
	if err != nil {
		errMsg := fmt.Sprintf("创建临时目录失败: %v", err)
		zap.L().Error(errMsg)
		return "", nil, errors.New(errMsg)
	}

	// 沙箱内的非 root 用户需要写权限
	if err := os.Chmod(tempDir, constants.TempDirPerm); err != nil {
		errMsg := fmt.Sprintf("修改临时目录权限失败: %v, 目录路径: %s", err, tempDir)
		zap.L().Error(errMsg)
		_ = os.RemoveAll(tempDir)
		return "", nil, errors.New(errMsg)
	}

	cleanup := func() {
		if err := os.RemoveAll(tempDir); err != nil {
			zap.L().Warn("清理临时目录失败", zap.String("dir", tempDir), zap.Error(err))
		} else {
			zap.L().Debug("成功清理试验目录", zap.String("dir", tempDir))
		}
	}

	zap.L().Debug("创建试验目录", zap.String("dir", filepath.Clean(tempDir)))
	return tempDir, cleanup, nil
}

// truncateOutput 截断输出（防止输出过大）
func truncateOutput(output string, maxSize int) string {
	if maxSize <= 0 || len(output) <= maxSize {
		return output
	}
	return output[:maxSize] + fmt.Sprintf("\n... (输出被截断，总长度: %d)", len(output))
}

// sanitizeError 限制错误信息大小
func sanitizeError(errMsg string) string {
	if len(errMsg) > constants.MaxErrorSize {
		return errMsg[:constants.MaxErrorSize] + "..."
	}
	return errMsg
}

// cappedBuffer 超过上限后丢弃多余内容，但记录总长度
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
	total int
}

func newCappedBuffer(limit int) *cappedBuffer {
	if limit <= 0 {
		limit = constants.MaxOutputSize
	}
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.total += len(p)
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.total > c.buf.Len() {
		return c.buf.String() + fmt.Sprintf("\n... (输出被截断，总长度: %d)", c.total)
	}
	return c.buf.String()
}

// Truncated 是否发生了截断
func (c *cappedBuffer) Truncated() bool {
	return c.total > c.buf.Len()
}
