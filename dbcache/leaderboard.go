package dbcache

import (
	"context"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ts4z/cyclepot/dbnotify"
	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/state"
)

// LeaderboardStorage caches leaderboard reads by size until the scores
// table changes.
type LeaderboardStorage struct {
	next  state.ScoreStorage
	cache *lru.Cache[int, []model.Winner]

	mu         sync.Mutex
	generation int
}

var _ state.ScoreStorage = (*LeaderboardStorage)(nil)
var _ dbnotify.Consumer = (*LeaderboardStorage)(nil)

func NewLeaderboardStorage(size int, next state.ScoreStorage) *LeaderboardStorage {
	cache, err := lru.New[int, []model.Winner](size)
	if err != nil {
		panic(err)
	}
	return &LeaderboardStorage{next: next, cache: cache}
}

func (s *LeaderboardStorage) Close() {
	s.next.Close()
}

func (s *LeaderboardStorage) FetchScore(ctx context.Context, walletAddress string) (*model.ScoreRecord, error) {
	return s.next.FetchScore(ctx, walletAddress)
}

func (s *LeaderboardStorage) CountScores(ctx context.Context) (int, error) {
	return s.next.CountScores(ctx)
}

func (s *LeaderboardStorage) UpsertMaxScore(ctx context.Context, rec *model.ScoreRecord) (bool, error) {
	written, err := s.next.UpsertMaxScore(ctx, rec)
	if written {
		s.invalidate()
	}
	return written, err
}

func (s *LeaderboardStorage) TopWinners(ctx context.Context, n int) ([]model.Winner, error) {
	if w, ok := s.cache.Get(n); ok {
		hit("leaderboard")
		return w, nil
	}
	miss("leaderboard")

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	w, err := s.next.TopWinners(ctx, n)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation {
		s.cache.Add(n, w)
	}
	return w, nil
}

func (s *LeaderboardStorage) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.cache.Purge()
}

func (s *LeaderboardStorage) TableName() string {
	return "scores"
}

func (s *LeaderboardStorage) Consume(_ context.Context, event *dbnotify.NotificationEvent) {
	slog.Debug("leaderboard cache invalidated", "op", event.Op)
	s.invalidate()
}
