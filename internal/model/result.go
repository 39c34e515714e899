package model

import "time"

// TrialKind 试验类型
type TrialKind = string

const (
	TrialCorrectness TrialKind = "correctness"
	TrialPerformance TrialKind = "performance"
)

// TrialSpec 单次试验参数
type TrialSpec struct {
	Kind      TrialKind     `json:"kind"`
	Index     int           `json:"index"`     // 同类试验中的序号
	Seed      int64         `json:"seed"`      // 输入生成种子，保证可复现
	Operation string        `json:"operation"` // 算子
	Overload  string        `json:"overload"`  // 重载
	Timeout   time.Duration `json:"timeout"`   // 单次试验超时
}

// TrialResult 单次试验结果（只追加，不修改）
type TrialResult struct {
	Kind      TrialKind     `json:"kind"`
	Index     int           `json:"index"`
	Attempt   int           `json:"attempt"`
	Passed    bool          `json:"passed"`  // 正确性是否通过 / 性能试验是否成功完成
	Elapsed   time.Duration `json:"elapsed"` // 性能试验耗时
	Detail    string        `json:"detail"`  // 输出或错误信息
	StartedAt time.Time     `json:"started_at"`
}

// AttemptSummary 单轮尝试摘要
type AttemptSummary struct {
	Attempt int      `json:"attempt"`
	Outcome JobState `json:"outcome"`
	Detail  string   `json:"detail"`
}

// EvaluationResult 评测任务的最终结果，每个任务只产生一次
type EvaluationResult struct {
	JobID        int64            `json:"job_id"`
	SubmissionID string           `json:"submission_id"`
	Key          LeaderboardKey   `json:"key"`
	Submitter    string           `json:"submitter"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	Outcome      JobState         `json:"outcome"`
	Score        time.Duration    `json:"score"`    // 最优性能（仅 PASSED）
	Trials       []TrialResult    `json:"trials"`   // 决定结果的那一轮尝试的试验序列
	Attempts     int              `json:"attempts"` // 尝试次数
	History      []AttemptSummary `json:"history"`
	Detail       string           `json:"detail"`
	CompletedAt  time.Time        `json:"completed_at"`

	// Standing 提交者在该分组下的当前最佳成绩与排名（仅 PASSED）
	Standing *LeaderboardEntry `json:"standing,omitempty"`
}

// LeaderboardEntry 排行榜条目，每个 (分组, 提交者) 一条
type LeaderboardEntry struct {
	Key          LeaderboardKey `json:"key"`
	Submitter    string         `json:"submitter"`
	SubmissionID string         `json:"submission_id"`
	JobID        int64          `json:"job_id"`
	Score        time.Duration  `json:"score"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	Rank         int            `json:"rank"` // 每次读取时重新计算
}
