package service

import (
	"context"
	"fmt"
	"sync"

	"kernel-leaderboard/internal/model"
	judgeErr "kernel-leaderboard/pkg/errors"
)

// ResultStore 评测结果存档
type ResultStore interface {
	SaveResult(ctx context.Context, result *model.EvaluationResult) error
	// GetResult 不存在时返回 ErrCodeNotFound
	GetResult(ctx context.Context, jobID int64) (*model.EvaluationResult, error)
}

// StatusTracker 可选接口：存档支持记录排队中的任务时实现
type StatusTracker interface {
	TrackQueued(ctx context.Context, job *model.EvaluationJob) error
}

// MemoryResultStore 内存存档
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[int64]*model.EvaluationResult
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[int64]*model.EvaluationResult)}
}

func (s *MemoryResultStore) SaveResult(_ context.Context, result *model.EvaluationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *result
	s.results[result.JobID] = &copied
	return nil
}

func (s *MemoryResultStore) GetResult(_ context.Context, jobID int64) (*model.EvaluationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[jobID]
	if !ok {
		return nil, judgeErr.NewNotFoundError(fmt.Sprintf("任务 %d", jobID))
	}
	copied := *result
	return &copied, nil
}
