package state

// package state manages persistence.

import (
	"context"
	"errors"

	"github.com/ts4z/cyclepot/model"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrArchiveWriteFailed = errors.New("archive write failed")
)

type Closer interface {
	Close()
}

// CycleStorage holds the single current cycle.
type CycleStorage interface {
	Closer

	// CurrentCycle returns the stored cycle, creating it from initial if
	// none exists.  Concurrent creators converge on whichever row landed
	// first.
	CurrentCycle(ctx context.Context, initial *model.CycleState) (*model.CycleState, error)
	SaveCycle(ctx context.Context, cs *model.CycleState) error
}

// ConfigStorage holds the admin-tunable allocation parameters.  Unset
// fields read back as the storage's defaults.
type ConfigStorage interface {
	Closer

	FetchAllocationConfig(ctx context.Context) (*model.AllocationConfig, error)
	SaveAllocationConfig(ctx context.Context, c *model.AllocationConfig) error
}

// ScoreStorage is the live leaderboard.
type ScoreStorage interface {
	Closer

	FetchScore(ctx context.Context, walletAddress string) (*model.ScoreRecord, error)
	// UpsertMaxScore stores rec unless the wallet already has an equal or
	// higher score.  It reports whether anything was written.
	UpsertMaxScore(ctx context.Context, rec *model.ScoreRecord) (bool, error)
	// TopWinners ranks by score descending, then earliest timestamp.
	TopWinners(ctx context.Context, n int) ([]model.Winner, error)
	CountScores(ctx context.Context) (int, error)
}

// ArchiveStorage moves the live leaderboard into a named archive.
type ArchiveStorage interface {
	Closer

	// ArchiveAndReset copies every live score into the archive and then
	// clears the live leaderboard, atomically.  If the copy fails nothing
	// is deleted and the error wraps ErrArchiveWriteFailed.
	ArchiveAndReset(ctx context.Context, name string, cycleStart, cycleEnd, archivedAt int64) (int, error)
	FetchArchive(ctx context.Context, name string) ([]*model.ArchivedScore, error)
}

// MetadataStorage is the permanent history of completed cycles.
type MetadataStorage interface {
	Closer

	// SaveCycleMetadata writes m if no record exists for its cycle name,
	// and reports whether it did.
	SaveCycleMetadata(ctx context.Context, m *model.CycleMetadata) (bool, error)
	FetchCycleMetadata(ctx context.Context, cycleName string) (*model.CycleMetadata, error)
	ListCycleMetadata(ctx context.Context, offset, limit int) ([]*model.CycleMetadata, error)
}

// IntentStorage remembers payouts that were about to be sent.
type IntentStorage interface {
	Closer

	SavePayoutIntent(ctx context.Context, pi *model.PayoutIntent) error
	FetchPayoutIntent(ctx context.Context, cycleName string) (*model.PayoutIntent, error)
	RecordPayoutTx(ctx context.Context, cycleName string, txHash string) error
}

// EngineStorage is everything the allocation engine touches.
type EngineStorage interface {
	CycleStorage
	ConfigStorage
	ScoreStorage
	ArchiveStorage
	MetadataStorage
	IntentStorage
}
