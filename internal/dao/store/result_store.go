package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kernel-leaderboard/internal/model"
	judgeErr "kernel-leaderboard/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EvaluationRecord 评测结果存档（evaluation_results 表）
type EvaluationRecord struct {
	JobID        int64     `gorm:"primaryKey;autoIncrement:false"`
	SubmissionID string    `gorm:"size:64;index"`
	Operation    string    `gorm:"size:64;index:idx_result_key"`
	Overload     string    `gorm:"size:64;index:idx_result_key"`
	DSL          string    `gorm:"column:dsl;size:32;index:idx_result_key"`
	Device       string    `gorm:"size:32;index:idx_result_key"`
	Submitter    string    `gorm:"size:128;index"`
	SubmittedAt  time.Time
	Outcome      string `gorm:"size:16;index"`
	ScoreNs      int64
	Attempts     int
	Detail       string                   `gorm:"type:text"`
	Trials       []model.TrialResult      `gorm:"type:text;serializer:json"`
	History      []model.AttemptSummary   `gorm:"type:text;serializer:json"`
	Standing     *model.LeaderboardEntry  `gorm:"type:text;serializer:json"`
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (EvaluationRecord) TableName() string {
	return "evaluation_results"
}

// ResultStore 基于 gorm 的评测结果存档
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(db *gorm.DB) *ResultStore {
	return &ResultStore{db: db}
}

// TrackQueued 任务入队时写入 QUEUED 状态
func (s *ResultStore) TrackQueued(ctx context.Context, job *model.EvaluationJob) error {
	rec := queuedRecord(job)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return judgeErr.NewStorageError("写入任务状态失败", err)
	}
	return nil
}

// SaveResult 写入终止结果（覆盖 QUEUED 记录）
func (s *ResultStore) SaveResult(ctx context.Context, result *model.EvaluationResult) error {
	rec := resultRecord(result)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"outcome", "score_ns", "attempts", "detail", "trials", "history", "standing", "completed_at", "updated_at",
			}),
		}).
		Create(rec).Error
	if err != nil {
		return judgeErr.NewStorageError("保存评测结果失败", err)
	}
	return nil
}

// GetResult 查询终止结果，未结束的任务视为不存在
func (s *ResultStore) GetResult(ctx context.Context, jobID int64) (*model.EvaluationResult, error) {
	var rec EvaluationRecord
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || err == nil && !model.IsTerminal(rec.Outcome) {
		return nil, judgeErr.NewNotFoundError(fmt.Sprintf("任务 %d", jobID))
	}
	if err != nil {
		return nil, judgeErr.NewStorageError("查询评测结果失败", err)
	}
	return rec.toResult(), nil
}

// RecoverOrphans 服务重启后，把上次未结束的任务标记为 ERRORED
func (s *ResultStore) RecoverOrphans(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&EvaluationRecord{}).
		Where("outcome IN ?", []string{model.StateQueued, model.StateRunning}).
		Updates(map[string]interface{}{
			"outcome":      model.StateErrored,
			"detail":       "服务重启，任务中断",
			"completed_at": time.Now(),
		})
	if res.Error != nil {
		return 0, judgeErr.NewStorageError("恢复中断任务失败", res.Error)
	}
	return res.RowsAffected, nil
}

func queuedRecord(job *model.EvaluationJob) *EvaluationRecord {
	req := job.Submission
	return &EvaluationRecord{
		JobID:        job.ID,
		SubmissionID: req.ID,
		Operation:    req.Operation,
		Overload:     req.Overload,
		DSL:          req.DSL,
		Device:       req.Device,
		Submitter:    req.Submitter,
		SubmittedAt:  req.SubmittedAt,
		Outcome:      model.StateQueued,
	}
}

func resultRecord(r *model.EvaluationResult) *EvaluationRecord {
	completedAt := r.CompletedAt
	return &EvaluationRecord{
		JobID:        r.JobID,
		SubmissionID: r.SubmissionID,
		Operation:    r.Key.Operation,
		Overload:     r.Key.Overload,
		DSL:          r.Key.DSL,
		Device:       r.Key.Device,
		Submitter:    r.Submitter,
		SubmittedAt:  r.SubmittedAt,
		Outcome:      r.Outcome,
		ScoreNs:      int64(r.Score),
		Attempts:     r.Attempts,
		Detail:       r.Detail,
		Trials:       r.Trials,
		History:      r.History,
		Standing:     r.Standing,
		CompletedAt:  &completedAt,
	}
}

func (rec *EvaluationRecord) toResult() *model.EvaluationResult {
	result := &model.EvaluationResult{
		JobID:        rec.JobID,
		SubmissionID: rec.SubmissionID,
		Key: model.LeaderboardKey{
			Operation: rec.Operation,
			Overload:  rec.Overload,
			DSL:       rec.DSL,
			Device:    rec.Device,
		},
		Submitter:   rec.Submitter,
		SubmittedAt: rec.SubmittedAt,
		Outcome:     rec.Outcome,
		Score:       time.Duration(rec.ScoreNs),
		Trials:      rec.Trials,
		Attempts:    rec.Attempts,
		History:     rec.History,
		Detail:      rec.Detail,
		Standing:    rec.Standing,
	}
	if rec.CompletedAt != nil {
		result.CompletedAt = *rec.CompletedAt
	}
	if result.Trials == nil {
		result.Trials = []model.TrialResult{}
	}
	return result
}
