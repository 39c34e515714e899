package model

import (
	"fmt"
	"strings"
	"time"

	judgeErr "kernel-leaderboard/pkg/errors"
)

// SubmissionRequest 一次内核提交（由上游接入层创建，之后只读）
type SubmissionRequest struct {
	ID          string    `json:"id"`           // 提交ID
	Operation   string    `json:"operation"`    // 算子名称，如 add、matmul
	Overload    string    `json:"overload"`     // 重载，如 Tensor、Float
	DSL         string    `json:"dsl"`          // 内核编写工具链，如 triton、cutedsl
	Device      string    `json:"device"`       // 目标设备类别，如 A100、H100
	FileName    string    `json:"file_name"`    // 原始文件名（可选）
	Code        string    `json:"code"`         // 提交代码
	SubmittedAt time.Time `json:"submitted_at"` // 提交时间
	Submitter   string    `json:"submitter"`    // 提交者
}

// Key 返回该提交所属的排行榜分组
func (r *SubmissionRequest) Key() LeaderboardKey {
	return LeaderboardKey{
		Operation: r.Operation,
		Overload:  r.Overload,
		DSL:       r.DSL,
		Device:    r.Device,
	}
}

// Validate 校验提交字段，maxCodeSize 为代码字节数上限
func (r *SubmissionRequest) Validate(maxCodeSize int) error {
	if r == nil {
		return judgeErr.New(judgeErr.ErrCodeMissingParam, "提交为空")
	}
	fields := []struct {
		name  string
		value string
	}{
		{"id", r.ID},
		{"operation", r.Operation},
		{"overload", r.Overload},
		{"dsl", r.DSL},
		{"device", r.Device},
		{"submitter", r.Submitter},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return judgeErr.NewInvalidParamError(f.name, "不能为空")
		}
	}
	if r.Code == "" {
		return judgeErr.NewInvalidParamError("code", "不能为空")
	}
	if maxCodeSize > 0 && len(r.Code) > maxCodeSize {
		return judgeErr.New(judgeErr.ErrCodeCodeTooLarge,
			fmt.Sprintf("代码过大: %d 字节 (上限 %d)", len(r.Code), maxCodeSize))
	}
	if r.SubmittedAt.IsZero() {
		return judgeErr.NewInvalidParamError("submitted_at", "不能为空")
	}
	return nil
}

// LeaderboardKey 排行榜分组 (operation, overload, DSL, device)
type LeaderboardKey struct {
	Operation string `json:"operation"`
	Overload  string `json:"overload"`
	DSL       string `json:"dsl"`
	Device    string `json:"device"`
}

func (k LeaderboardKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Operation, k.Overload, k.DSL, k.Device)
}
