// Package payout sends a cycle's prize pool to its winners through the
// payment contract.
//
// Allocate is guarded by the contract's own fundsAllocated flag, which is
// the only thing that keeps overlapping invocations from paying twice.
// Reads are retried; the allocation transaction is sent at most once per
// call and never retried here.  A failed payout is retried by the next
// scheduled check.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ts4z/cyclepot/dep"
	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/paytable"
	"github.com/ts4z/cyclepot/retry"
	"github.com/ts4z/cyclepot/varz"
)

const DefaultTimeout = 2 * time.Minute

var (
	ErrAlreadyAllocated        = errors.New("funds already allocated")
	ErrNoFundsToAllocate       = errors.New("no funds to allocate")
	ErrNoWinnersFound          = errors.New("no winners found")
	ErrPayoutTransactionFailed = errors.New("payout transaction failed")
	// ErrTransactionReverted is a mined transaction that did not take
	// effect.  PrizePool implementations wrap it.
	ErrTransactionReverted = errors.New("transaction reverted")
)

var (
	allocationOutcomes = varz.NewCounterVec("allocations_total", "Allocation attempts by outcome.", "outcome")
	lastPoolUSDC       = varz.NewGauge("last_pool_usdc", "Prize pool seen by the last allocation attempt, in USDC.")
)

// PrizePool is the payment contract.
type PrizePool interface {
	FundsAllocated(ctx context.Context) (bool, error)
	// TotalPool is in USDC base units (6 decimals).
	TotalPool(ctx context.Context) (*big.Int, error)
	// AllocateFunds submits one allocation transaction and waits for it
	// to be mined.  It returns the transaction hash.
	AllocateFunds(ctx context.Context, feeBasisPoints int, shares []model.WinnerShare) (string, error)
}

// Storage is what the allocator reads and writes.
type Storage interface {
	FetchAllocationConfig(ctx context.Context) (*model.AllocationConfig, error)
	TopWinners(ctx context.Context, n int) ([]model.Winner, error)
	SavePayoutIntent(ctx context.Context, pi *model.PayoutIntent) error
	RecordPayoutTx(ctx context.Context, cycleName string, txHash string) error
}

type Clock interface {
	Now() time.Time
}

type Config struct {
	PrizePool PrizePool
	Storage   Storage
	Paytable  *paytable.Paytable
	Clock     Clock

	// Timeout bounds the allocation transaction; DefaultTimeout if zero.
	Timeout time.Duration
	// ReadRetry applies to contract reads; retry.DefaultConfig if zero.
	ReadRetry retry.Config
}

type Allocator struct {
	pool      PrizePool
	storage   Storage
	paytable  *paytable.Paytable
	clock     Clock
	timeout   time.Duration
	readRetry retry.Config
}

// Allocation describes a payout that was sent.
type Allocation struct {
	TotalPool      *big.Int
	FeeBasisPoints int
	Winners        []model.Winner
	Shares         []int
	TxHash         string
}

func New(c *Config) *Allocator {
	a := &Allocator{
		pool:      dep.Required(c.PrizePool),
		storage:   dep.Required(c.Storage),
		paytable:  dep.Required(c.Paytable),
		clock:     dep.Required(c.Clock),
		timeout:   c.Timeout,
		readRetry: c.ReadRetry,
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.readRetry.MaxAttempts <= 0 {
		a.readRetry = retry.DefaultConfig()
	}
	return a
}

func (a *Allocator) fundsAllocated(ctx context.Context) (bool, error) {
	var allocated bool
	err := retry.Do(ctx, a.readRetry, func() error {
		var err error
		allocated, err = a.pool.FundsAllocated(ctx)
		return err
	})
	return allocated, err
}

func (a *Allocator) totalPool(ctx context.Context) (*big.Int, error) {
	var pool *big.Int
	err := retry.Do(ctx, a.readRetry, func() error {
		var err error
		pool, err = a.pool.TotalPool(ctx)
		return err
	})
	return pool, err
}

// Shares pairs winners with their basis-point shares.
func Shares(winners []model.Winner, shares []int) []model.WinnerShare {
	r := make([]model.WinnerShare, len(winners))
	for i, w := range winners {
		r[i] = model.WinnerShare{Address: w.Address, PercentageBasisPoints: shares[i]}
	}
	return r
}

// Allocate pays out the pool for cycleName.  The returned errors wrap one of
// this package's sentinels whenever the reason is known.
func (a *Allocator) Allocate(ctx context.Context, cycleName string) (*Allocation, error) {
	alloc, err := a.allocate(ctx, cycleName)
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyAllocated):
		outcome = "already_allocated"
	case errors.Is(err, ErrNoFundsToAllocate):
		outcome = "no_funds"
	case errors.Is(err, ErrNoWinnersFound):
		outcome = "no_winners"
	case errors.Is(err, ErrPayoutTransactionFailed):
		outcome = "tx_failed"
	default:
		outcome = "error"
	}
	allocationOutcomes.WithLabelValues(outcome).Inc()
	return alloc, err
}

func (a *Allocator) allocate(ctx context.Context, cycleName string) (*Allocation, error) {
	slog.Info("starting prize allocation", "cycle", cycleName)

	allocated, err := a.fundsAllocated(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading fundsAllocated: %w", err)
	}
	if allocated {
		slog.Info("funds already allocated for this pool", "cycle", cycleName)
		return nil, ErrAlreadyAllocated
	}

	pool, err := a.totalPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading totalPool: %w", err)
	}
	poolUSDC, _ := model.USDC(pool).Float64()
	lastPoolUSDC.Set(poolUSDC)
	slog.Info("prize pool", "usdc", model.USDC(pool).String())
	if pool == nil || pool.Sign() <= 0 {
		return nil, ErrNoFundsToAllocate
	}

	cfg, err := a.storage.FetchAllocationConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading allocation config: %w", err)
	}

	winners, err := a.storage.TopWinners(ctx, cfg.NumberOfWinners)
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}
	if len(winners) == 0 {
		return nil, ErrNoWinnersFound
	}

	// Fewer players than configured winners pays out over fewer places.
	shares, err := a.paytable.Shares(len(winners), cfg.FeePercentage)
	if err != nil {
		return nil, err
	}
	for i, w := range winners {
		slog.Info("winner", "rank", i+1, "name", w.Name, "score", w.Score, "bps", shares[i])
	}

	intent := &model.PayoutIntent{
		CycleName:      cycleName,
		TotalPool:      pool,
		FeeBasisPoints: cfg.FeePercentage,
		Winners:        winners,
		Shares:         shares,
		CreatedAt:      a.clock.Now().UnixMilli(),
	}
	if err := a.storage.SavePayoutIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("recording payout intent: %w", err)
	}

	txCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	txHash, err := a.pool.AllocateFunds(txCtx, cfg.FeePercentage, Shares(winners, shares))
	if err != nil {
		// A sent transaction whose receipt never arrived may still land.
		if txHash != "" && !errors.Is(err, ErrTransactionReverted) {
			if rerr := a.storage.RecordPayoutTx(ctx, cycleName, txHash); rerr != nil {
				slog.Warn("can't record payout transaction hash", "cycle", cycleName, "tx", txHash, "error", rerr)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrPayoutTransactionFailed, err)
	}
	slog.Info("allocation transaction mined", "cycle", cycleName, "tx", txHash)

	if err := a.storage.RecordPayoutTx(ctx, cycleName, txHash); err != nil {
		// The intent still exists, which is all recovery needs.
		slog.Warn("can't record payout transaction hash", "cycle", cycleName, "tx", txHash, "error", err)
	}

	return &Allocation{
		TotalPool:      pool,
		FeeBasisPoints: cfg.FeePercentage,
		Winners:        winners,
		Shares:         shares,
		TxHash:         txHash,
	}, nil
}

// FromIntent rebuilds the Allocation an earlier invocation sent.
func FromIntent(pi *model.PayoutIntent) *Allocation {
	return &Allocation{
		TotalPool:      pi.TotalPool,
		FeeBasisPoints: pi.FeeBasisPoints,
		Winners:        pi.Winners,
		Shares:         pi.Shares,
		TxHash:         pi.TxHash,
	}
}
