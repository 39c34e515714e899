package v1

import (
	"strings"
	"time"

	"kernel-leaderboard/internal/constants"
	"kernel-leaderboard/internal/model"
	"kernel-leaderboard/internal/task/dsl"
)

// SubmissionMessage 接入队列中的提交消息
type SubmissionMessage struct {
	SubmissionID string     `json:"submission_id"`
	Operation    string     `json:"operation"`
	Overload     string     `json:"overload"`
	DSL          string     `json:"dsl"`
	Device       string     `json:"device"`
	FileName     string     `json:"file_name"`
	Code         string     `json:"code"`
	Submitter    string     `json:"submitter"`
	SubmittedAt  *time.Time `json:"submitted_at"`
}

// CancelMessage 取消请求
type CancelMessage struct {
	JobID int64 `json:"job_id"`
}

// ToSubmission 补全缺省字段并转换为提交请求：
// 缺少提交ID时生成一个，缺少算子或重载时从文件路径解析，
// 仍缺少重载时使用默认重载，缺少 DSL 时按扩展名推断编译型 DSL。
func (m *SubmissionMessage) ToSubmission(now time.Time, newID func() string) *model.SubmissionRequest {
	req := &model.SubmissionRequest{
		ID:        strings.TrimSpace(m.SubmissionID),
		Operation: strings.TrimSpace(m.Operation),
		Overload:  strings.TrimSpace(m.Overload),
		DSL:       dsl.Normalize(m.DSL),
		Device:    strings.TrimSpace(m.Device),
		FileName:  m.FileName,
		Code:      m.Code,
		Submitter: strings.TrimSpace(m.Submitter),
	}
	if req.ID == "" && newID != nil {
		req.ID = newID()
	}
	if (req.Operation == "" || req.Overload == "") && m.FileName != "" {
		op, ov := dsl.ParseKernelPath(m.FileName)
		if req.Operation == "" {
			req.Operation = op
		}
		if req.Overload == "" {
			req.Overload = ov
		}
	}
	if req.Overload == "" {
		req.Overload = constants.DefaultOverload
	}
	if req.DSL == "" {
		switch dsl.DetectByExtension(m.FileName) {
		case dsl.SourceCUDA:
			req.DSL = dsl.CUDA
		case dsl.SourceCPP:
			req.DSL = dsl.CPP
		}
	}
	if m.SubmittedAt != nil && !m.SubmittedAt.IsZero() {
		req.SubmittedAt = *m.SubmittedAt
	} else {
		req.SubmittedAt = now
	}
	return req
}
