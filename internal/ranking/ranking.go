// Package ranking 维护每个 (operation, overload, dsl, device) 分组的排行榜。
//
// 每个提交者在一个分组下只保留最好成绩。排名在每次读取时按
// 分数升序、提交时间、提交者、提交ID 的全序重新计算，因此排名总是唯一且连续。
package ranking

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"kernel-leaderboard/internal/model"
	judgeErr "kernel-leaderboard/pkg/errors"

	"go.uber.org/zap"
)

// Engine 排行榜引擎
type Engine struct {
	store Store
	locks *keyedLocker
}

// NewEngine 创建排行榜引擎，store 为 nil 时使用内存存储
func NewEngine(store Store) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Engine{store: store, locks: newKeyedLocker()}
}

// Record 记录评测结果。只有 PASSED 且分数严格优于已有成绩时才会更新，
// 返回更新后的条目（带当前排名）；没有更新时返回 nil。
func (e *Engine) Record(ctx context.Context, result *model.EvaluationResult) (*model.LeaderboardEntry, error) {
	if result == nil || result.Outcome != model.StatePassed {
		return nil, nil
	}
	if result.Score <= 0 {
		return nil, judgeErr.NewInvalidParamError("score", fmt.Sprintf("PASSED 结果的分数必须为正: %v", result.Score))
	}

	unlock := e.locks.Lock(result.Key.String())
	defer unlock()

	current, err := e.store.Get(ctx, result.Key, result.Submitter)
	if err != nil {
		return nil, judgeErr.NewStorageError("读取排行榜失败", err)
	}
	if current != nil && result.Score >= current.Score {
		zap.L().Debug("成绩没有提升，排行榜不变",
			zap.String("key", result.Key.String()),
			zap.String("submitter", result.Submitter),
			zap.Duration("score", result.Score),
			zap.Duration("best", current.Score),
		)
		return nil, nil
	}

	entry := model.LeaderboardEntry{
		Key:          result.Key,
		Submitter:    result.Submitter,
		SubmissionID: result.SubmissionID,
		JobID:        result.JobID,
		Score:        result.Score,
		SubmittedAt:  result.SubmittedAt,
	}
	if err := e.store.Put(ctx, entry); err != nil {
		return nil, judgeErr.NewStorageError("写入排行榜失败", err)
	}

	ranked, err := e.rankLocked(ctx, result.Key)
	if err != nil {
		return nil, err
	}
	standing := find(ranked, result.Submitter)

	zap.L().Info("排行榜更新",
		zap.String("key", result.Key.String()),
		zap.String("submitter", result.Submitter),
		zap.Duration("score", result.Score),
		zap.Int("rank", standing.Rank),
	)
	return standing, nil
}

// Leaderboard 返回分组排行榜的一致快照，排名从1开始
func (e *Engine) Leaderboard(ctx context.Context, key model.LeaderboardKey) ([]model.LeaderboardEntry, error) {
	unlock := e.locks.RLock(key.String())
	defer unlock()
	return e.rankLocked(ctx, key)
}

// Standing 提交者在分组中的当前条目，没有成绩时返回 nil
func (e *Engine) Standing(ctx context.Context, key model.LeaderboardKey, submitter string) (*model.LeaderboardEntry, error) {
	board, err := e.Leaderboard(ctx, key)
	if err != nil {
		return nil, err
	}
	return find(board, submitter), nil
}

func (e *Engine) rankLocked(ctx context.Context, key model.LeaderboardKey) ([]model.LeaderboardEntry, error) {
	entries, err := e.store.List(ctx, key)
	if err != nil {
		return nil, judgeErr.NewStorageError("读取排行榜失败", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return less(&entries[i], &entries[j])
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// less 分数升序，其次提交时间早者在前，再按提交者和提交ID保证全序
func less(a, b *model.LeaderboardEntry) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	if a.Submitter != b.Submitter {
		return a.Submitter < b.Submitter
	}
	return a.SubmissionID < b.SubmissionID
}

func find(entries []model.LeaderboardEntry, submitter string) *model.LeaderboardEntry {
	for i := range entries {
		if entries[i].Submitter == submitter {
			entry := entries[i]
			return &entry
		}
	}
	return nil
}

// keyedLocker 按分组加锁，不同分组互不影响；不再使用的锁会被回收
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.RWMutex
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*refLock)}
}

func (k *keyedLocker) acquire(key string) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyedLocker) release(key string, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock 写锁，返回解锁函数
func (k *keyedLocker) Lock(key string) func() {
	l := k.acquire(key)
	l.Lock()
	return func() {
		l.Unlock()
		k.release(key, l)
	}
}

// RLock 读锁，返回解锁函数
func (k *keyedLocker) RLock(key string) func() {
	l := k.acquire(key)
	l.RLock()
	return func() {
		l.RUnlock()
		k.release(key, l)
	}
}
