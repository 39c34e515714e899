package minio

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// ObjectGetter 获取对象，*minio.Client 实现了该接口
type ObjectGetter interface {
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// HarnessFetcher 从 MinIO 下载参考评测脚本
type HarnessFetcher struct {
	client  ObjectGetter
	bucket  string
	pattern string // 对象路径模板，支持 {operation} {overload}
}

// NewHarnessFetcher 创建下载器
func NewHarnessFetcher(client ObjectGetter, bucket, pattern string) *HarnessFetcher {
	return &HarnessFetcher{client: client, bucket: bucket, pattern: pattern}
}

// ObjectName 根据模板生成对象路径
func ObjectName(pattern, operation, overload string) string {
	return strings.NewReplacer("{operation}", operation, "{overload}", overload).Replace(pattern)
}

// Fetch 下载 (operation, overload) 对应的参考评测脚本内容
func (f *HarnessFetcher) Fetch(ctx context.Context, operation, overload string) ([]byte, error) {
	if f.bucket == "" || operation == "" || overload == "" {
		return nil, fmt.Errorf("bucket, operation and overload cannot be empty")
	}
	objectName := ObjectName(f.pattern, operation, overload)
	content, err := DownloadObject(ctx, f.client, f.bucket, objectName)
	if err != nil {
		return nil, err
	}
	zap.L().Info("下载参考评测脚本",
		zap.String("bucket", f.bucket),
		zap.String("object", objectName),
		zap.Int("size", len(content)),
	)
	return content, nil
}

// DownloadObject 下载对象并返回内容
func DownloadObject(ctx context.Context, client ObjectGetter, bucket, objectName string) ([]byte, error) {
	object, err := client.GetObject(ctx, bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object fail: %w", err)
	}
	defer object.Close()

	content, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("read object content fail: %w", err)
	}
	return content, nil
}
