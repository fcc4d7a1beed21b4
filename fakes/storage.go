package fakes

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"

	"github.com/ts4z/cyclepot/he"
	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/state"
)

// FakeStorage is an in-memory state.EngineStorage.  It records the order
// of mutating calls in Calls, and each Fail* field, when set, is returned
// by the matching method instead of doing any work.
type FakeStorage struct {
	rw sync.Mutex

	cycle    *model.CycleState
	config   *model.AllocationConfig
	defaults *model.AllocationConfig
	scores   map[string]*model.ScoreRecord
	archives map[string]map[string]*model.ArchivedScore
	metadata map[string]*model.CycleMetadata
	intents  map[string]*model.PayoutIntent

	Calls []string

	FailArchive      error
	FailSaveMetadata error
	FailSaveCycle    error
	FailTopWinners   error
}

var _ state.EngineStorage = &FakeStorage{}

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{
		defaults: model.DefaultAllocationConfig(),
		scores:   map[string]*model.ScoreRecord{},
		archives: map[string]map[string]*model.ArchivedScore{},
		metadata: map[string]*model.CycleMetadata{},
		intents:  map[string]*model.PayoutIntent{},
	}
}

func (s *FakeStorage) Close() {}

func (s *FakeStorage) record(call string) {
	s.Calls = append(s.Calls, call)
}

func notFound(f string, args ...any) error {
	return he.New(http.StatusNotFound, fmt.Errorf("%w: %s", state.ErrNotFound, fmt.Sprintf(f, args...)))
}

// PutScore seeds the live leaderboard directly.
func (s *FakeStorage) PutScore(rec model.ScoreRecord) {
	s.rw.Lock()
	defer s.rw.Unlock()
	s.scores[rec.WalletAddress] = &rec
}

// PutCycle seeds the current cycle directly.
func (s *FakeStorage) PutCycle(cs model.CycleState) {
	s.rw.Lock()
	defer s.rw.Unlock()
	s.cycle = &cs
}

// PutAllocationConfig stores c without validating it, like a row written
// by an older release.
func (s *FakeStorage) PutAllocationConfig(c model.AllocationConfig) {
	s.rw.Lock()
	defer s.rw.Unlock()
	s.config = &c
}

// Cycle returns the stored cycle without creating one.
func (s *FakeStorage) Cycle() *model.CycleState {
	s.rw.Lock()
	defer s.rw.Unlock()
	if s.cycle == nil {
		return nil
	}
	cpy := *s.cycle
	return &cpy
}

func (s *FakeStorage) NumScores() int {
	s.rw.Lock()
	defer s.rw.Unlock()
	return len(s.scores)
}

func (s *FakeStorage) CurrentCycle(ctx context.Context, initial *model.CycleState) (*model.CycleState, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	if s.cycle == nil {
		s.record("CreateCycle")
		cpy := *initial
		s.cycle = &cpy
	}
	cpy := *s.cycle
	return &cpy, nil
}

func (s *FakeStorage) SaveCycle(ctx context.Context, cs *model.CycleState) error {
	s.rw.Lock()
	defer s.rw.Unlock()
	if s.FailSaveCycle != nil {
		return s.FailSaveCycle
	}
	if cs.EndTime <= cs.StartTime {
		return fmt.Errorf("cycle must end after it starts (%d <= %d)", cs.EndTime, cs.StartTime)
	}
	s.record("SaveCycle")
	cpy := *cs
	s.cycle = &cpy
	return nil
}

func (s *FakeStorage) FetchAllocationConfig(ctx context.Context) (*model.AllocationConfig, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	if s.config == nil {
		cpy := *s.defaults
		return &cpy, nil
	}
	cpy := *s.config
	return &cpy, nil
}

func (s *FakeStorage) SaveAllocationConfig(ctx context.Context, c *model.AllocationConfig) error {
	if err := c.Validate(); err != nil {
		return he.New(http.StatusBadRequest, err)
	}
	s.rw.Lock()
	defer s.rw.Unlock()
	s.record("SaveAllocationConfig")
	cpy := *c
	s.config = &cpy
	return nil
}

func (s *FakeStorage) FetchScore(ctx context.Context, walletAddress string) (*model.ScoreRecord, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	rec, ok := s.scores[walletAddress]
	if !ok {
		return nil, notFound("no score for %s", walletAddress)
	}
	cpy := *rec
	return &cpy, nil
}

func (s *FakeStorage) UpsertMaxScore(ctx context.Context, rec *model.ScoreRecord) (bool, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	if old, ok := s.scores[rec.WalletAddress]; ok && old.Score >= rec.Score {
		return false, nil
	}
	cpy := *rec
	s.scores[rec.WalletAddress] = &cpy
	return true, nil
}

func (s *FakeStorage) ranked() []*model.ScoreRecord {
	r := make([]*model.ScoreRecord, 0, len(s.scores))
	for _, rec := range s.scores {
		r = append(r, rec)
	}
	sort.Slice(r, func(i, j int) bool {
		if r[i].Score != r[j].Score {
			return r[i].Score > r[j].Score
		}
		if r[i].Timestamp != r[j].Timestamp {
			return r[i].Timestamp < r[j].Timestamp
		}
		return r[i].WalletAddress < r[j].WalletAddress
	})
	return r
}

func (s *FakeStorage) TopWinners(ctx context.Context, n int) ([]model.Winner, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	if s.FailTopWinners != nil {
		return nil, s.FailTopWinners
	}
	winners := []model.Winner{}
	for _, rec := range s.ranked() {
		if len(winners) >= n {
			break
		}
		name := rec.PlayerName
		if name == "" {
			name = "Anonymous"
		}
		winners = append(winners, model.Winner{Address: rec.WalletAddress, Score: rec.Score, Name: name, Timestamp: rec.Timestamp})
	}
	return winners, nil
}

func (s *FakeStorage) CountScores(ctx context.Context) (int, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	return len(s.scores), nil
}

func (s *FakeStorage) ArchiveAndReset(ctx context.Context, name string, cycleStart, cycleEnd, archivedAt int64) (int, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	if s.FailArchive != nil {
		return 0, fmt.Errorf("%w: %v", state.ErrArchiveWriteFailed, s.FailArchive)
	}
	s.record("ArchiveAndReset")
	archive, ok := s.archives[name]
	if !ok {
		archive = map[string]*model.ArchivedScore{}
		s.archives[name] = archive
	}
	for addr, rec := range s.scores {
		archive[addr] = &model.ArchivedScore{
			ScoreRecord: *rec,
			ArchiveName: name,
			ArchivedAt:  archivedAt,
			CycleStart:  cycleStart,
			CycleEnd:    cycleEnd,
		}
	}
	n := len(s.scores)
	s.scores = map[string]*model.ScoreRecord{}
	return n, nil
}

func (s *FakeStorage) FetchArchive(ctx context.Context, name string) ([]*model.ArchivedScore, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	r := []*model.ArchivedScore{}
	for _, a := range s.archives[name] {
		cpy := *a
		r = append(r, &cpy)
	}
	sort.Slice(r, func(i, j int) bool {
		if r[i].Score != r[j].Score {
			return r[i].Score > r[j].Score
		}
		return r[i].Timestamp < r[j].Timestamp
	})
	return r, nil
}

// ArchiveNames lists every archive written so far.
func (s *FakeStorage) ArchiveNames() []string {
	s.rw.Lock()
	defer s.rw.Unlock()
	r := []string{}
	for name := range s.archives {
		r = append(r, name)
	}
	slices.Sort(r)
	return r
}

func (s *FakeStorage) SaveCycleMetadata(ctx context.Context, m *model.CycleMetadata) (bool, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	if s.FailSaveMetadata != nil {
		return false, s.FailSaveMetadata
	}
	s.record("SaveCycleMetadata")
	if _, ok := s.metadata[m.CycleName]; ok {
		return false, nil
	}
	cpy := *m
	s.metadata[m.CycleName] = &cpy
	return true, nil
}

func (s *FakeStorage) FetchCycleMetadata(ctx context.Context, cycleName string) (*model.CycleMetadata, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	m, ok := s.metadata[cycleName]
	if !ok {
		return nil, notFound("no cycle named %q", cycleName)
	}
	cpy := *m
	return &cpy, nil
}

func (s *FakeStorage) ListCycleMetadata(ctx context.Context, offset, limit int) ([]*model.CycleMetadata, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	all := []*model.CycleMetadata{}
	for _, m := range s.metadata {
		cpy := *m
		all = append(all, &cpy)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt > all[j].CreatedAt })
	if offset >= len(all) {
		return []*model.CycleMetadata{}, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *FakeStorage) SavePayoutIntent(ctx context.Context, pi *model.PayoutIntent) error {
	s.rw.Lock()
	defer s.rw.Unlock()
	s.record("SavePayoutIntent")
	if old, ok := s.intents[pi.CycleName]; ok && old.TxHash != "" {
		return nil
	}
	cpy := *pi
	s.intents[pi.CycleName] = &cpy
	return nil
}

func (s *FakeStorage) FetchPayoutIntent(ctx context.Context, cycleName string) (*model.PayoutIntent, error) {
	s.rw.Lock()
	defer s.rw.Unlock()
	pi, ok := s.intents[cycleName]
	if !ok {
		return nil, notFound("no payout intent for %q", cycleName)
	}
	cpy := *pi
	return &cpy, nil
}

func (s *FakeStorage) RecordPayoutTx(ctx context.Context, cycleName string, txHash string) error {
	s.rw.Lock()
	defer s.rw.Unlock()
	pi, ok := s.intents[cycleName]
	if !ok {
		return notFound("no payout intent for %q", cycleName)
	}
	s.record("RecordPayoutTx")
	pi.TxHash = txHash
	return nil
}
