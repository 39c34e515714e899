package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

/*
{
	"code": 0,         // 业务错误码
	"message": "xx",   // 提示信息
	"data": {},        // 数据
}
*/

type ResponseData[T any] struct {
	Code    ResCode `json:"code"`
	Message string  `json:"message"`
	Data    T       `json:"data"`
}

// ResponseError 返回错误信息
func ResponseError(c *gin.Context, code ResCode) {
	c.JSON(http.StatusOK, &ResponseData[any]{
		Code:    code,
		Message: code.Msg(),
		Data:    nil,
	})
}

// ResponseErrorWithMsg 返回自定义错误信息
func ResponseErrorWithMsg(c *gin.Context, code ResCode, msg string) {
	c.JSON(http.StatusOK, &ResponseData[any]{
		Code:    code,
		Message: msg,
		Data:    nil,
	})
}

// ResponseEngineError 按引擎错误码返回，消息带上错误详情
func ResponseEngineError(c *gin.Context, err error) {
	ResponseErrorWithMsg(c, CodeFromError(err), err.Error())
}

// ResponseErrorWithStatus 返回指定 HTTP 状态码（探针类接口使用）
func ResponseErrorWithStatus(c *gin.Context, status int, code ResCode) {
	c.JSON(status, &ResponseData[any]{
		Code:    code,
		Message: code.Msg(),
		Data:    nil,
	})
}

// ResponseSuccess 返回成功信息
func ResponseSuccess[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, &ResponseData[T]{
		Code:    CodeSuccess,
		Message: CodeSuccess.Msg(),
		Data:    data,
	})
}
