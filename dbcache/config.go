package dbcache

import (
	"context"
	"sync"
	"time"

	"github.com/ts4z/cyclepot/dbnotify"
	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/state"
)

const (
	configTTL = 5 * time.Minute
)

type Nower interface {
	Now() time.Time
}

// ConfigStorage caches the allocation config for configTTL, or until the
// row changes.
type ConfigStorage struct {
	clock Nower
	next  state.ConfigStorage

	mu           sync.Mutex
	cachedConfig *model.AllocationConfig
	fetchedAt    time.Time
	generation   int
}

var _ state.ConfigStorage = (*ConfigStorage)(nil)
var _ dbnotify.Consumer = (*ConfigStorage)(nil)

func NewConfigStorage(next state.ConfigStorage, clock Nower) *ConfigStorage {
	return &ConfigStorage{
		next:  next,
		clock: clock,
	}
}

func (s *ConfigStorage) Close() {
	s.next.Close()
}

func (s *ConfigStorage) FetchAllocationConfig(ctx context.Context) (*model.AllocationConfig, error) {
	s.mu.Lock()
	if s.cachedConfig != nil && s.fetchedAt.Add(configTTL).After(s.clock.Now()) {
		cpy := *s.cachedConfig
		s.mu.Unlock()
		hit("config")
		return &cpy, nil
	}
	gen := s.generation
	s.mu.Unlock()

	miss("config")
	config, err := s.next.FetchAllocationConfig(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation {
		cpy := *config
		s.cachedConfig = &cpy
		s.fetchedAt = s.clock.Now()
	}
	return config, nil
}

func (s *ConfigStorage) SaveAllocationConfig(ctx context.Context, config *model.AllocationConfig) error {
	s.invalidate()
	return s.next.SaveAllocationConfig(ctx, config)
}

func (s *ConfigStorage) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.cachedConfig = nil
}

func (s *ConfigStorage) TableName() string {
	return "allocation_config"
}

func (s *ConfigStorage) Consume(_ context.Context, _ *dbnotify.NotificationEvent) {
	s.invalidate()
}
