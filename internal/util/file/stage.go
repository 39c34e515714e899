package file_util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// stageConfig 暂存配置
type stageConfig struct {
	perm      os.FileMode
	overwrite bool
}

// StageOption 暂存选项
type StageOption func(*stageConfig)

// WithPerm 指定目标文件权限（默认沿用源文件权限）
func WithPerm(perm os.FileMode) StageOption {
	return func(c *stageConfig) {
		c.perm = perm
	}
}

// WithOverwrite 目标已存在时是否覆盖（默认覆盖）
func WithOverwrite(overwrite bool) StageOption {
	return func(c *stageConfig) {
		c.overwrite = overwrite
	}
}

// CopyFile 把 src 复制到 dst，用于把参考脚本放进试验工作目录
func CopyFile(src, dst string, options ...StageOption) (err error) {
	config := &stageConfig{overwrite: true}
	for _, opt := range options {
		opt(config)
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("源文件错误: %w", err)
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("%s 不是常规文件", src)
	}
	if _, statErr := os.Stat(dst); statErr == nil && !config.overwrite {
		return fmt.Errorf("目标文件已存在: %s", dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	perm := config.perm
	if perm == 0 {
		perm = srcInfo.Mode().Perm()
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("打开源文件失败: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("创建目标文件失败: %w", err)
	}
	defer func() {
		if cerr := dstFile.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("关闭目标文件失败: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("复制内容失败: %w", err)
	}
	return nil
}

// WriteString 写入文本文件并设置权限（不受 umask 影响）
func WriteString(path, content string, perm os.FileMode) error {
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("写入文件失败: %w", err)
	}
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("修改文件权限失败: %w", err)
	}
	return nil
}
