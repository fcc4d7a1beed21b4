// Package cycle decides when a payout cycle is over and rolls the game
// into the next one.
//
// A cycle is Active until its end time and Due from then on.  Checking a
// Due cycle pays out the pool and then, in this order, writes the cycle's
// history record, archives and clears the live leaderboard, and starts a
// new cycle.  Nothing after the payout runs if the payout fails, and no new
// cycle is started if the archive fails.
//
// Invocations (the scheduler, HTTP handlers, the admin CLI) share no memory
// and take no lock.  The contract's fundsAllocated flag keeps overlapping
// checks from paying twice, and the archive name is a pure function of the
// cycle window, so a repeated archive overwrites rather than duplicates.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ts4z/cyclepot/dep"
	"github.com/ts4z/cyclepot/he"
	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/payout"
	"github.com/ts4z/cyclepot/state"
	"github.com/ts4z/cyclepot/textutil"
	"github.com/ts4z/cyclepot/varz"
)

const (
	MessageCompleted        = "Cycle completed and reset"
	MessageForceCompleted   = "Force allocation complete"
	MessageAllocationFailed = "Allocation failed"
)

var (
	checkOutcomes = varz.NewCounterVec("checks_total", "Cycle checks by outcome.", "outcome")
	rollovers     = varz.NewCounter("rollovers_total", "Completed cycle rollovers.")
	recoveries    = varz.NewCounter("recoveries_total", "Rollovers finished from an earlier payout intent.")
)

// Allocator pays out a cycle's pool.
type Allocator interface {
	Allocate(ctx context.Context, cycleName string) (*payout.Allocation, error)
}

type Clock interface {
	Now() time.Time
}

type Config struct {
	Storage   state.EngineStorage
	Allocator Allocator
	Clock     Clock
}

type Orchestrator struct {
	storage   state.EngineStorage
	allocator Allocator
	clock     Clock
}

// Status is a snapshot of the current cycle for display.
type Status struct {
	Cycle      *model.CycleState       `json:"cycle"`
	Now        int64                   `json:"now"`
	Expired    bool                    `json:"expired"`
	Remaining  string                  `json:"remaining"`
	ArchiveAs  string                  `json:"archiveName"`
	Players    int                     `json:"numberOfPlayers"`
	Allocation *model.AllocationConfig `json:"config"`
}

func New(c *Config) *Orchestrator {
	return &Orchestrator{
		storage:   dep.Required(c.Storage),
		allocator: dep.Required(c.Allocator),
		clock:     dep.Required(c.Clock),
	}
}

// ArchiveName names the archive for the cycle running from start to end,
// by UTC calendar date.
func ArchiveName(start, end time.Time) string {
	return fmt.Sprintf("scores_%s_to_%s", textutil.FormatDay(start), textutil.FormatDay(end))
}

// Current returns the stored cycle, starting one now if none exists.
func (o *Orchestrator) Current(ctx context.Context) (*model.CycleState, error) {
	cfg, err := o.storage.FetchAllocationConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't read allocation config: %w", err)
	}
	return o.storage.CurrentCycle(ctx, model.NewCycleState(o.clock.Now(), cfg.CycleDurationDays))
}

func activeMessage(remaining time.Duration) string {
	return fmt.Sprintf("Cycle active. %s remaining", textutil.FormatRemaining(remaining))
}

func failed(err error) *model.CheckResult {
	return &model.CheckResult{Success: false, Message: MessageAllocationFailed, Reason: err.Error()}
}

func record(outcome string) {
	checkOutcomes.WithLabelValues(outcome).Inc()
}

// Check rolls the cycle over if it is Due.  Every failure is reported in
// the result; see CheckErr for the error itself.
func (o *Orchestrator) Check(ctx context.Context) *model.CheckResult {
	r, _ := o.CheckErr(ctx)
	return r
}

// CheckErr is Check, also returning the error behind a failed result.
func (o *Orchestrator) CheckErr(ctx context.Context) (*model.CheckResult, error) {
	cs, err := o.Current(ctx)
	if err != nil {
		slog.Error("can't load current cycle", "error", err)
		record("error")
		return failed(err), err
	}

	now := o.clock.Now()
	if !cs.IsExpired(now) {
		record("active")
		return &model.CheckResult{Success: true, Message: activeMessage(cs.Remaining(now))}, nil
	}

	slog.Info("cycle due", "start", cs.Start(), "end", cs.End())
	if err := o.rollover(ctx, cs); err != nil {
		record("failed")
		return failed(err), err
	}
	record("completed")
	return &model.CheckResult{Success: true, Message: MessageCompleted}, nil
}

// ForceAllocate pays out and rolls over the current cycle whether or not
// it has ended.
func (o *Orchestrator) ForceAllocate(ctx context.Context) (*model.CheckResult, error) {
	cs, err := o.Current(ctx)
	if err != nil {
		record("error")
		return failed(err), err
	}
	slog.Warn("forcing allocation", "start", cs.Start(), "end", cs.End())
	if err := o.rollover(ctx, cs); err != nil {
		record("failed")
		return failed(err), err
	}
	record("forced")
	return &model.CheckResult{Success: true, Message: MessageForceCompleted}, nil
}

func (o *Orchestrator) rollover(ctx context.Context, cs *model.CycleState) error {
	name := ArchiveName(cs.Start(), cs.End())

	alloc, err := o.allocator.Allocate(ctx, name)
	if errors.Is(err, payout.ErrAlreadyAllocated) {
		alloc, err = o.recover(ctx, name)
	}
	if err != nil {
		slog.Error("allocation failed", "cycle", name, "error", err)
		return err
	}

	return o.finish(ctx, cs, name, alloc)
}

// recover picks up a payout that landed during an earlier invocation which
// never got as far as starting the next cycle.
func (o *Orchestrator) recover(ctx context.Context, name string) (*payout.Allocation, error) {
	pi, err := o.storage.FetchPayoutIntent(ctx, name)
	if errors.Is(err, state.ErrNotFound) {
		return nil, payout.ErrAlreadyAllocated
	} else if err != nil {
		return nil, fmt.Errorf("%w, and can't read payout intent: %v", payout.ErrAlreadyAllocated, err)
	}
	slog.Warn("funds already allocated for this cycle; finishing rollover", "cycle", name, "tx", pi.TxHash)
	recoveries.Inc()
	return payout.FromIntent(pi), nil
}

func (o *Orchestrator) finish(ctx context.Context, cs *model.CycleState, name string, alloc *payout.Allocation) error {
	now := o.clock.Now()

	players, err := o.storage.CountScores(ctx)
	if err != nil {
		return fmt.Errorf("can't count players: %w", err)
	}

	md := &model.CycleMetadata{
		CycleName:        name,
		StartDate:        cs.StartTime,
		EndDate:          cs.EndTime,
		PrizePoolUSDC:    model.USDC(alloc.TotalPool),
		NumberOfPlayers:  players,
		NumberOfWinners:  len(alloc.Winners),
		TotalGamesPlayed: players,
		Winners:          model.RankWinners(alloc.Winners),
		TxHash:           alloc.TxHash,
		CreatedAt:        now.UnixMilli(),
	}
	created, err := o.storage.SaveCycleMetadata(ctx, md)
	if err != nil {
		return fmt.Errorf("can't save cycle metadata: %w", err)
	}
	if !created {
		slog.Info("cycle metadata already recorded", "cycle", name)
	}

	// Settle the next window before the leaderboard is cleared.
	cfg, err := o.storage.FetchAllocationConfig(ctx)
	if err != nil {
		return fmt.Errorf("can't read allocation config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("can't start next cycle: %w", err)
	}
	next := model.NewCycleState(now, cfg.CycleDurationDays)

	archived, err := o.storage.ArchiveAndReset(ctx, name, cs.StartTime, cs.EndTime, now.UnixMilli())
	if err != nil {
		return err
	}
	slog.Info("archived leaderboard", "cycle", name, "scores", archived)

	if err := o.storage.SaveCycle(ctx, next); err != nil {
		return fmt.Errorf("can't start next cycle: %w", err)
	}
	rollovers.Inc()
	slog.Info("new cycle started", "start", next.Start(), "end", next.End())
	return nil
}

// SetDuration changes the length of the current cycle, keeping its start,
// and makes it the default for later cycles.
func (o *Orchestrator) SetDuration(ctx context.Context, days float64) (*model.CycleState, error) {
	cfg, err := o.storage.FetchAllocationConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg.CycleDurationDays = days
	if err := cfg.Validate(); err != nil {
		return nil, he.New(http.StatusBadRequest, err)
	}
	cs, err := o.Current(ctx)
	if err != nil {
		return nil, err
	}
	// Cycle first: a refused window leaves the default alone.
	updated := cs.WithDuration(days, o.clock.Now())
	if err := o.storage.SaveCycle(ctx, updated); err != nil {
		return nil, err
	}
	if err := o.storage.SaveAllocationConfig(ctx, cfg); err != nil {
		return nil, err
	}
	slog.Info("cycle duration changed", "days", days, "end", updated.End())
	return updated, nil
}

func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	cs, err := o.Current(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := o.storage.FetchAllocationConfig(ctx)
	if err != nil {
		return nil, err
	}
	players, err := o.storage.CountScores(ctx)
	if err != nil {
		return nil, err
	}
	now := o.clock.Now()
	return &Status{
		Cycle:      cs,
		Now:        now.UnixMilli(),
		Expired:    cs.IsExpired(now),
		Remaining:  textutil.FormatRemaining(cs.Remaining(now)),
		ArchiveAs:  ArchiveName(cs.Start(), cs.End()),
		Players:    players,
		Allocation: cfg,
	}, nil
}
