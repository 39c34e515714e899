package store

import (
	"context"
	"errors"
	"time"

	"kernel-leaderboard/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LeaderboardRecord 排行榜条目（leaderboard_entries 表），每个 (分组, 提交者) 一行
type LeaderboardRecord struct {
	ID           uint64 `gorm:"primaryKey"`
	Operation    string `gorm:"size:64;uniqueIndex:uk_board_submitter,priority:1"`
	Overload     string `gorm:"size:64;uniqueIndex:uk_board_submitter,priority:2"`
	DSL          string `gorm:"column:dsl;size:32;uniqueIndex:uk_board_submitter,priority:3"`
	Device       string `gorm:"size:32;uniqueIndex:uk_board_submitter,priority:4"`
	Submitter    string `gorm:"size:128;uniqueIndex:uk_board_submitter,priority:5"`
	SubmissionID string `gorm:"size:64"`
	JobID        int64
	ScoreNs      int64 `gorm:"index"`
	SubmittedAt  time.Time
	UpdatedAt    time.Time
}

func (LeaderboardRecord) TableName() string {
	return "leaderboard_entries"
}

// LeaderboardStore 基于 gorm 的排行榜存储
type LeaderboardStore struct {
	db *gorm.DB
}

func NewLeaderboardStore(db *gorm.DB) *LeaderboardStore {
	return &LeaderboardStore{db: db}
}

func (s *LeaderboardStore) Get(ctx context.Context, key model.LeaderboardKey, submitter string) (*model.LeaderboardEntry, error) {
	var rec LeaderboardRecord
	err := s.db.WithContext(ctx).
		Where("operation = ? AND overload = ? AND dsl = ? AND device = ? AND submitter = ?",
			key.Operation, key.Overload, key.DSL, key.Device, submitter).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry := rec.toEntry()
	return &entry, nil
}

func (s *LeaderboardStore) Put(ctx context.Context, entry model.LeaderboardEntry) error {
	rec := entryRecord(entry)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "operation"}, {Name: "overload"}, {Name: "dsl"}, {Name: "device"}, {Name: "submitter"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"submission_id", "job_id", "score_ns", "submitted_at", "updated_at"}),
		}).
		Create(&rec).Error
}

func (s *LeaderboardStore) List(ctx context.Context, key model.LeaderboardKey) ([]model.LeaderboardEntry, error) {
	var recs []LeaderboardRecord
	err := s.db.WithContext(ctx).
		Where("operation = ? AND overload = ? AND dsl = ? AND device = ?",
			key.Operation, key.Overload, key.DSL, key.Device).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	entries := make([]model.LeaderboardEntry, 0, len(recs))
	for i := range recs {
		entries = append(entries, recs[i].toEntry())
	}
	return entries, nil
}

func entryRecord(e model.LeaderboardEntry) LeaderboardRecord {
	return LeaderboardRecord{
		Operation:    e.Key.Operation,
		Overload:     e.Key.Overload,
		DSL:          e.Key.DSL,
		Device:       e.Key.Device,
		Submitter:    e.Submitter,
		SubmissionID: e.SubmissionID,
		JobID:        e.JobID,
		ScoreNs:      int64(e.Score),
		SubmittedAt:  e.SubmittedAt,
	}
}

func (rec *LeaderboardRecord) toEntry() model.LeaderboardEntry {
	return model.LeaderboardEntry{
		Key: model.LeaderboardKey{
			Operation: rec.Operation,
			Overload:  rec.Overload,
			DSL:       rec.DSL,
			Device:    rec.Device,
		},
		Submitter:    rec.Submitter,
		SubmissionID: rec.SubmissionID,
		JobID:        rec.JobID,
		Score:        time.Duration(rec.ScoreNs),
		SubmittedAt:  rec.SubmittedAt,
	}
}

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EvaluationRecord{}, &LeaderboardRecord{})
}
