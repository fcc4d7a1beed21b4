package permission

import (
	"context"

	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/state"
)

// ConfigStorage lets anyone read the allocation config and only admins
// change it.
type ConfigStorage struct {
	next state.ConfigStorage
}

var _ state.ConfigStorage = &ConfigStorage{}

func NewConfigStorage(next state.ConfigStorage) *ConfigStorage {
	return &ConfigStorage{next: next}
}

func (s *ConfigStorage) Close() {
	s.next.Close()
}

func (s *ConfigStorage) FetchAllocationConfig(ctx context.Context) (*model.AllocationConfig, error) {
	return s.next.FetchAllocationConfig(ctx)
}

func (s *ConfigStorage) SaveAllocationConfig(ctx context.Context, c *model.AllocationConfig) error {
	return RequireAdmin(ctx, func() error {
		return s.next.SaveAllocationConfig(ctx, c)
	})
}
