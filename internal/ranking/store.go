package ranking

import (
	"context"
	"sync"

	"kernel-leaderboard/internal/model"
)

// Store 排行榜存储。每个 (分组, 提交者) 最多一条记录
type Store interface {
	// Get 不存在时返回 nil, nil
	Get(ctx context.Context, key model.LeaderboardKey, submitter string) (*model.LeaderboardEntry, error)
	// Put 插入或覆盖 (分组, 提交者) 的记录
	Put(ctx context.Context, entry model.LeaderboardEntry) error
	// List 返回分组下所有记录，顺序不保证
	List(ctx context.Context, key model.LeaderboardKey) ([]model.LeaderboardEntry, error)
}

// MemoryStore 内存存储
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[model.LeaderboardKey]map[string]model.LeaderboardEntry
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[model.LeaderboardKey]map[string]model.LeaderboardEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key model.LeaderboardKey, submitter string) (*model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key][submitter]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryStore) Put(_ context.Context, entry model.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	board, ok := s.entries[entry.Key]
	if !ok {
		board = make(map[string]model.LeaderboardEntry)
		s.entries[entry.Key] = board
	}
	entry.Rank = 0
	board[entry.Submitter] = entry
	return nil
}

func (s *MemoryStore) List(_ context.Context, key model.LeaderboardKey) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	board := s.entries[key]
	out := make([]model.LeaderboardEntry, 0, len(board))
	for _, entry := range board {
		out = append(out, entry)
	}
	return out, nil
}
