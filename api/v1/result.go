package v1

import (
	"strconv"
	"time"

	"kernel-leaderboard/internal/model"
)

// 结果事件类型
const (
	EventAccepted = "accepted"
	EventRejected = "rejected"
	EventResult   = "result"
	EventCancel   = "cancel"
)

// ResultEvent 写入结果流的事件
type ResultEvent struct {
	Type         string `json:"type"`
	JobID        int64  `json:"job_id"`
	SubmissionID string `json:"submission_id"`
	Key          string `json:"key"`
	Submitter    string `json:"submitter"`
	Outcome      string `json:"outcome"`
	ScoreNs      int64  `json:"score_ns"`
	Attempts     int    `json:"attempts"`
	Rank         int    `json:"rank"`
	Detail       string `json:"detail"`
	ErrorCode    int    `json:"error_code"`
	Error        string `json:"error"`
	Timestamp    int64  `json:"timestamp"`
}

// NewResultEvent 由评测结果生成事件
func NewResultEvent(result *model.EvaluationResult) *ResultEvent {
	e := &ResultEvent{
		Type:         EventResult,
		JobID:        result.JobID,
		SubmissionID: result.SubmissionID,
		Key:          result.Key.String(),
		Submitter:    result.Submitter,
		Outcome:      result.Outcome,
		ScoreNs:      int64(result.Score),
		Attempts:     result.Attempts,
		Detail:       result.Detail,
		Timestamp:    result.CompletedAt.UnixMilli(),
	}
	if result.Standing != nil {
		e.Rank = result.Standing.Rank
	}
	return e
}

// Values 转换为 XADD 字段
func (e *ResultEvent) Values() map[string]interface{} {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	return map[string]interface{}{
		"type":          e.Type,
		"job_id":        strconv.FormatInt(e.JobID, 10),
		"submission_id": e.SubmissionID,
		"key":           e.Key,
		"submitter":     e.Submitter,
		"outcome":       e.Outcome,
		"score_ns":      strconv.FormatInt(e.ScoreNs, 10),
		"attempts":      strconv.Itoa(e.Attempts),
		"rank":          strconv.Itoa(e.Rank),
		"detail":        e.Detail,
		"error_code":    strconv.Itoa(e.ErrorCode),
		"error":         e.Error,
		"timestamp":     strconv.FormatInt(e.Timestamp, 10),
	}
}

// LeaderboardResp 排行榜查询结果
type LeaderboardResp struct {
	Key     model.LeaderboardKey     `json:"key"`
	Entries []model.LeaderboardEntry `json:"entries"`
}

// CancelResp 取消结果
type CancelResp struct {
	JobID int64 `json:"job_id"`
}
