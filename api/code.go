package api

import (
	judgeErr "kernel-leaderboard/pkg/errors"
)

// ResCode 定义返回码类型
type ResCode int64

const (
	CodeSuccess      ResCode = 0
	CodeInvalidParam ResCode = 4000
	CodeNotFound     ResCode = 4040
	CodeConflict     ResCode = 4090

	CodeUnsupportedTarget ResCode = 4220

	CodeServerBusy    ResCode = 5000
	CodeInternalError ResCode = 5001
	CodeNotReady      ResCode = 5030
)

var codeMsgMap = map[ResCode]string{
	CodeSuccess:           "success",
	CodeInvalidParam:      "请求参数错误",
	CodeNotFound:          "资源不存在",
	CodeConflict:          "任务已结束，无法取消",
	CodeUnsupportedTarget: "不支持的评测目标",
	CodeServerBusy:        "服务繁忙",
	CodeInternalError:     "服务内部错误",
	CodeNotReady:          "服务未就绪",
}

func (c ResCode) Msg() string {
	msg, ok := codeMsgMap[c]
	if !ok {
		msg = codeMsgMap[CodeServerBusy]
	}
	return msg
}

// CodeFromError 把引擎错误码映射为返回码
func CodeFromError(err error) ResCode {
	switch judgeErr.GetErrorCode(err) {
	case judgeErr.ErrCodeInvalidParam, judgeErr.ErrCodeMissingParam, judgeErr.ErrCodeCodeTooLarge:
		return CodeInvalidParam
	case judgeErr.ErrCodeNotFound:
		return CodeNotFound
	case judgeErr.ErrCodeNotCancellable:
		return CodeConflict
	case judgeErr.ErrCodeUnsupportedTarget, judgeErr.ErrCodeResourcePoolExhausted:
		return CodeUnsupportedTarget
	default:
		return CodeInternalError
	}
}
