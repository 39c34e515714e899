package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode int

const (
	// 系统错误 (1000-1999)
	ErrCodeSystem ErrorCode = 1000 + iota
	ErrCodeInternal
	ErrCodeTimeout
	ErrCodeNotFound
	ErrCodeNotCancellable

	// 参数错误 (2000-2999)
	ErrCodeInvalidParam ErrorCode = 2000 + iota
	ErrCodeMissingParam
	ErrCodeCodeTooLarge
	ErrCodeUnsupportedTarget

	// 资源池错误 (3000-3999)
	ErrCodeResourcePoolExhausted ErrorCode = 3000 + iota
	ErrCodeAcquireTimeout

	// 运行错误 (4000-4999)
	ErrCodeRuntime ErrorCode = 4000 + iota
	ErrCodeRunnerTimeout
	ErrCodeAdapterFault
	ErrCodeSandboxNotFound

	// 存储错误 (5000-5999)
	ErrCodeStorage ErrorCode = 5000 + iota
	ErrCodeFileNotFound
	ErrCodeFileDownloadFailed
	ErrCodeCacheFailed
)

// JudgeError 评测引擎错误
type JudgeError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *JudgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持错误链
func (e *JudgeError) Unwrap() error {
	return e.Err
}

// New 创建新的评测错误
func New(code ErrorCode, message string) *JudgeError {
	return &JudgeError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装已有错误
func Wrap(code ErrorCode, message string, err error) *JudgeError {
	return &JudgeError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 预定义的错误创建函数

// NewInvalidParamError 创建参数错误
func NewInvalidParamError(param string, reason string) *JudgeError {
	return New(ErrCodeInvalidParam, fmt.Sprintf("参数 %s 无效: %s", param, reason))
}

// NewUnsupportedTargetError 没有匹配的运行器或设备未配置任何槽位
func NewUnsupportedTargetError(dsl, device string) *JudgeError {
	return New(ErrCodeUnsupportedTarget, fmt.Sprintf("不支持的评测目标: dsl=%s device=%s", dsl, device))
}

// NewResourcePoolExhaustedError 设备类别不存在（配置错误，区别于暂时繁忙）
func NewResourcePoolExhaustedError(deviceClass string) *JudgeError {
	return New(ErrCodeResourcePoolExhausted, fmt.Sprintf("资源池中没有设备类别: %s", deviceClass))
}

// NewAcquireTimeoutError 等待空闲槽位超时
func NewAcquireTimeoutError(deviceClass string) *JudgeError {
	return New(ErrCodeAcquireTimeout, fmt.Sprintf("等待设备槽位超时: %s", deviceClass))
}

// NewRunnerTimeoutError 单次试验超时
func NewRunnerTimeoutError(operation string, err error) *JudgeError {
	return Wrap(ErrCodeRunnerTimeout, fmt.Sprintf("运行超时: %s", operation), err)
}

// NewAdapterFaultError 运行器异常
func NewAdapterFaultError(message string, err error) *JudgeError {
	return Wrap(ErrCodeAdapterFault, message, err)
}

// NewStorageError 创建存储错误
func NewStorageError(message string, err error) *JudgeError {
	return Wrap(ErrCodeStorage, message, err)
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(operation string) *JudgeError {
	return New(ErrCodeTimeout, fmt.Sprintf("操作超时: %s", operation))
}

// NewNotFoundError 创建不存在错误
func NewNotFoundError(what string) *JudgeError {
	return New(ErrCodeNotFound, fmt.Sprintf("不存在: %s", what))
}

// NewNotCancellableError 任务已结束，无法取消
func NewNotCancellableError(jobID int64, state string) *JudgeError {
	return New(ErrCodeNotCancellable, fmt.Sprintf("任务 %d 处于 %s 状态，无法取消", jobID, state))
}

// IsErrorCode 判断错误链中是否有指定错误码
func IsErrorCode(err error, code ErrorCode) bool {
	var judgeErr *JudgeError
	if stderrors.As(err, &judgeErr) {
		return judgeErr.Code == code
	}
	return false
}

// GetErrorCode 获取错误码
func GetErrorCode(err error) ErrorCode {
	var judgeErr *JudgeError
	if stderrors.As(err, &judgeErr) {
		return judgeErr.Code
	}
	return ErrCodeInternal
}
