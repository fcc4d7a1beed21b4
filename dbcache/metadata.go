package dbcache

import (
	"context"
	"log"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/state"
)

// MetadataStorage caches cycle history by name.  History records are
// written once, so entries never go stale.
type MetadataStorage struct {
	cache *lru.Cache[string, *model.CycleMetadata]
	next  state.MetadataStorage
}

var _ state.MetadataStorage = (*MetadataStorage)(nil)

func NewMetadataStorage(size int, next state.MetadataStorage) *MetadataStorage {
	cache, err := lru.New[string, *model.CycleMetadata](size)
	if err != nil {
		log.Fatalf("Failed to create MetadataStorage cache: %v", err)
	}
	return &MetadataStorage{cache: cache, next: next}
}

func (s *MetadataStorage) Close() {
	s.next.Close()
}

func (s *MetadataStorage) SaveCycleMetadata(ctx context.Context, m *model.CycleMetadata) (bool, error) {
	return s.next.SaveCycleMetadata(ctx, m)
}

func (s *MetadataStorage) FetchCycleMetadata(ctx context.Context, cycleName string) (*model.CycleMetadata, error) {
	if m, ok := s.cache.Get(cycleName); ok {
		hit("metadata")
		return m, nil
	}
	miss("metadata")
	m, err := s.next.FetchCycleMetadata(ctx, cycleName)
	if err != nil {
		return nil, err
	}
	s.cache.Add(cycleName, m)
	return m, nil
}

func (s *MetadataStorage) ListCycleMetadata(ctx context.Context, offset, limit int) ([]*model.CycleMetadata, error) {
	list, err := s.next.ListCycleMetadata(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		s.cache.Add(m.CycleName, m)
	}
	return list, nil
}
