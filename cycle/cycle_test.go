package cycle_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts4z/cyclepot/cycle"
	"github.com/ts4z/cyclepot/defaults"
	"github.com/ts4z/cyclepot/fakes"
	"github.com/ts4z/cyclepot/he"
	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/payout"
	"github.com/ts4z/cyclepot/retry"
	"github.com/ts4z/cyclepot/state"
	"github.com/ts4z/cyclepot/ts"
)

var cycleStart = time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)

const week = 7 * model.MillisPerDay

type harness struct {
	clock   *clockwork.FakeClock
	storage *fakes.FakeStorage
	pool    *fakes.FakePrizePool
	o       *cycle.Orchestrator
}

func newHarness(t *testing.T, now time.Time, poolBaseUnits int64) *harness {
	t.Helper()
	fc := clockwork.NewFakeClockAt(now)
	clock := ts.NewClock(fc)
	storage := fakes.NewFakeStorage()
	pool := fakes.NewFakePrizePool(poolBaseUnits)
	allocator := payout.New(&payout.Config{
		PrizePool: pool,
		Storage:   storage,
		Paytable:  defaults.CyclePaytable(),
		Clock:     clock,
		Timeout:   time.Second,
		ReadRetry: retry.Config{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	return &harness{
		clock:   fc,
		storage: storage,
		pool:    pool,
		o:       cycle.New(&cycle.Config{Storage: storage, Allocator: allocator, Clock: clock}),
	}
}

func (h *harness) seedWeek() {
	ms := cycleStart.UnixMilli()
	h.storage.PutCycle(model.CycleState{StartTime: ms, EndTime: ms + week, LastUpdated: ms})
	h.storage.PutScore(model.ScoreRecord{WalletAddress: "0xa", Score: 100, Timestamp: ms + 2, PlayerName: "A"})
	h.storage.PutScore(model.ScoreRecord{WalletAddress: "0xb", Score: 100, Timestamp: ms + 1, PlayerName: "B"})
	h.storage.PutScore(model.ScoreRecord{WalletAddress: "0xc", Score: 50, Timestamp: ms + 3, PlayerName: "C"})
}

func TestArchiveName(t *testing.T) {
	for _, tc := range []struct {
		start, end time.Time
		want       string
	}{
		{cycleStart, cycleStart.Add(7 * 24 * time.Hour), "scores_05-01-2025_to_12-01-2025"},
		{time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "scores_31-12-2024_to_01-01-2025"},
		// Local zones don't move the calendar date.
		{time.Date(2025, 3, 1, 1, 0, 0, 0, time.FixedZone("X", 5*3600)), time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC), "scores_28-02-2025_to_02-03-2025"},
	} {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, cycle.ArchiveName(tc.start, tc.end))
		})
	}
}

func TestFirstCycleIsCreatedWithDefaultDuration(t *testing.T) {
	h := newHarness(t, cycleStart, 0)

	cs, err := h.o.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cycleStart.UnixMilli(), cs.StartTime)
	assert.Equal(t, int64(604800000), cs.EndTime-cs.StartTime)
	assert.Equal(t, []string{"CreateCycle"}, h.storage.Calls)

	r := h.o.Check(context.Background())
	assert.True(t, r.Success)
	assert.Equal(t, "Cycle active. 168h 0m remaining", r.Message)
}

func TestCheckActiveDoesNotMutate(t *testing.T) {
	h := newHarness(t, cycleStart.Add(7*24*time.Hour-time.Millisecond), 100_000_000)
	h.seedWeek()

	r, err := h.o.CheckErr(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, "Cycle active. 0h 0m remaining", r.Message)
	assert.Empty(t, h.storage.Calls)
	assert.Equal(t, 0, h.pool.NumCalls())

	h = newHarness(t, cycleStart.Add(7*24*time.Hour-(26*time.Hour+30*time.Minute)), 100_000_000)
	h.seedWeek()
	r = h.o.Check(context.Background())
	assert.Equal(t, "Cycle active. 26h 30m remaining", r.Message)
}

func TestCheckDueRollsOver(t *testing.T) {
	end := cycleStart.Add(7 * 24 * time.Hour)
	h := newHarness(t, end, 100_000_000)
	h.seedWeek()
	ctx := context.Background()

	r, err := h.o.CheckErr(ctx)
	require.NoError(t, err)
	assert.Equal(t, &model.CheckResult{Success: true, Message: cycle.MessageCompleted}, r)

	assert.Equal(t, []string{
		"SavePayoutIntent",
		"RecordPayoutTx",
		"SaveCycleMetadata",
		"ArchiveAndReset",
		"SaveCycle",
	}, h.storage.Calls)

	name := "scores_05-01-2025_to_12-01-2025"
	md, err := h.storage.FetchCycleMetadata(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 3, md.NumberOfPlayers)
	assert.Equal(t, 3, md.NumberOfWinners)
	assert.True(t, md.PrizePoolUSDC.Equal(decimal.NewFromInt(100)), md.PrizePoolUSDC.String())
	require.Len(t, md.Winners, 3)
	assert.Equal(t, model.WinnerRecord{Rank: 1, Address: "0xb", Score: 100, Name: "B"}, md.Winners[0])
	assert.Equal(t, "0xa", md.Winners[1].Address)
	assert.Equal(t, "0xc", md.Winners[2].Address)
	assert.NotEmpty(t, md.TxHash)

	archived, err := h.storage.FetchArchive(ctx, name)
	require.NoError(t, err)
	assert.Len(t, archived, 3)
	assert.Equal(t, 0, h.storage.NumScores())

	next := h.storage.Cycle()
	assert.Equal(t, end.UnixMilli(), next.StartTime)
	assert.Equal(t, int64(week), next.EndTime-next.StartTime)

	// The guard is now set, and the new cycle is active anyway.
	r = h.o.Check(ctx)
	assert.Equal(t, "Cycle active. 168h 0m remaining", r.Message)
	assert.Equal(t, 1, h.pool.NumCalls())
}

func TestNewCycleUsesLiveDuration(t *testing.T) {
	h := newHarness(t, cycleStart.Add(8*24*time.Hour), 100_000_000)
	h.seedWeek()
	require.NoError(t, h.storage.SaveAllocationConfig(context.Background(),
		&model.AllocationConfig{CycleDurationDays: 3, NumberOfWinners: 3, FeePercentage: 1000}))

	r := h.o.Check(context.Background())
	require.True(t, r.Success, r.Reason)
	next := h.storage.Cycle()
	assert.Equal(t, int64(3*model.MillisPerDay), next.EndTime-next.StartTime)
}

func TestEmptyPoolLeavesCycleAlone(t *testing.T) {
	h := newHarness(t, cycleStart.Add(7*24*time.Hour), 0)
	h.seedWeek()

	r, err := h.o.CheckErr(context.Background())
	assert.ErrorIs(t, err, payout.ErrNoFundsToAllocate)
	assert.False(t, r.Success)
	assert.Equal(t, cycle.MessageAllocationFailed, r.Message)
	assert.NotEmpty(t, r.Reason)

	assert.Equal(t, 0, h.pool.NumCalls())
	assert.Empty(t, h.storage.Calls)
	assert.Equal(t, 3, h.storage.NumScores())
	assert.Equal(t, cycleStart.UnixMilli()+week, h.storage.Cycle().EndTime)
}

func TestTransactionFailureLeavesCycleAlone(t *testing.T) {
	h := newHarness(t, cycleStart.Add(7*24*time.Hour), 100_000_000)
	h.seedWeek()
	h.pool.AllocateErr = errors.New("execution reverted")

	_, err := h.o.CheckErr(context.Background())
	assert.ErrorIs(t, err, payout.ErrPayoutTransactionFailed)
	assert.Equal(t, []string{"SavePayoutIntent"}, h.storage.Calls)
	assert.Equal(t, 3, h.storage.NumScores())
	assert.Empty(t, h.storage.ArchiveNames())

	// The next check tries again.
	h.pool.AllocateErr = nil
	r := h.o.Check(context.Background())
	assert.True(t, r.Success, r.Reason)
	assert.Equal(t, 2, h.pool.NumCalls())
}

func TestArchiveFailureStartsNoNewCycle(t *testing.T) {
	h := newHarness(t, cycleStart.Add(7*24*time.Hour), 100_000_000)
	h.seedWeek()
	h.storage.FailArchive = errors.New("disk full")

	r, err := h.o.CheckErr(context.Background())
	assert.ErrorIs(t, err, state.ErrArchiveWriteFailed)
	assert.False(t, r.Success)
	assert.NotContains(t, h.storage.Calls, "SaveCycle")
	assert.Equal(t, 3, h.storage.NumScores())
	assert.Equal(t, cycleStart.UnixMilli(), h.storage.Cycle().StartTime)
}

func TestBadStoredDurationStopsBeforeArchive(t *testing.T) {
	h := newHarness(t, cycleStart.Add(7*24*time.Hour), 100_000_000)
	h.seedWeek()
	h.storage.PutAllocationConfig(model.AllocationConfig{CycleDurationDays: 1e-9, NumberOfWinners: 3, FeePercentage: 1000})

	r, err := h.o.CheckErr(context.Background())
	require.Error(t, err)
	assert.False(t, r.Success)
	assert.Empty(t, h.storage.ArchiveNames())
	assert.Equal(t, 3, h.storage.NumScores())

	// Once the duration is fixed the next check recovers the landed payout.
	require.NoError(t, h.storage.SaveAllocationConfig(context.Background(), model.DefaultAllocationConfig()))
	r = h.o.Check(context.Background())
	require.True(t, r.Success, r.Reason)
	assert.Equal(t, 1, h.pool.NumCalls())
	next := h.storage.Cycle()
	assert.Equal(t, int64(week), next.EndTime-next.StartTime)
}

func TestAlreadyAllocatedWithoutIntentAborts(t *testing.T) {
	h := newHarness(t, cycleStart.Add(7*24*time.Hour), 100_000_000)
	h.seedWeek()
	h.pool.Allocated = true

	r, err := h.o.CheckErr(context.Background())
	assert.ErrorIs(t, err, payout.ErrAlreadyAllocated)
	assert.Equal(t, cycle.MessageAllocationFailed, r.Message)
	assert.Empty(t, h.storage.Calls)
	assert.Equal(t, 0, h.pool.NumCalls())
}

func TestRecoversPayoutThatLandedBeforeRollover(t *testing.T) {
	h := newHarness(t, cycleStart.Add(7*24*time.Hour), 100_000_000)
	h.seedWeek()
	h.pool.AllocateErr = errors.New("timed out waiting for receipt")
	h.pool.Lands = true
	ctx := context.Background()

	r := h.o.Check(ctx)
	require.False(t, r.Success)
	assert.Equal(t, 3, h.storage.NumScores())

	h.clock.Advance(time.Hour)
	r, err := h.o.CheckErr(ctx)
	require.NoError(t, err)
	assert.Equal(t, cycle.MessageCompleted, r.Message)
	assert.Equal(t, 1, h.pool.NumCalls(), "no second transaction")

	md, err := h.storage.FetchCycleMetadata(ctx, "scores_05-01-2025_to_12-01-2025")
	require.NoError(t, err)
	assert.Equal(t, "0xb", md.Winners[0].Address)
	assert.Equal(t, fmt.Sprintf("0x%064x", 1), md.TxHash, "hash of the unconfirmed transaction")
	assert.Equal(t, 0, h.storage.NumScores())
	assert.Equal(t, cycleStart.Add(7*24*time.Hour+time.Hour).UnixMilli(), h.storage.Cycle().StartTime)
}

func TestForceAllocateIgnoresExpiry(t *testing.T) {
	now := cycleStart.Add(2 * 24 * time.Hour)
	h := newHarness(t, now, 5_000_000)
	h.seedWeek()

	r, err := h.o.ForceAllocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cycle.MessageForceCompleted, r.Message)
	assert.Equal(t, []string{"scores_05-01-2025_to_12-01-2025"}, h.storage.ArchiveNames())
	assert.Equal(t, now.UnixMilli(), h.storage.Cycle().StartTime)

	// Same guard as Check; the new cycle has no payout intent.
	h.storage.PutScore(model.ScoreRecord{WalletAddress: "0xd", Score: 1, Timestamp: now.UnixMilli()})
	r, err = h.o.ForceAllocate(context.Background())
	assert.ErrorIs(t, err, payout.ErrAlreadyAllocated)
	assert.False(t, r.Success)
}

func TestSetDuration(t *testing.T) {
	h := newHarness(t, cycleStart.Add(time.Hour), 0)
	h.seedWeek()
	ctx := context.Background()

	cs, err := h.o.SetDuration(ctx, 1.5)
	require.NoError(t, err)
	assert.Equal(t, cycleStart.UnixMilli(), cs.StartTime)
	assert.Equal(t, cycleStart.UnixMilli()+36*60*60*1000, cs.EndTime)
	assert.Equal(t, *cs, *h.storage.Cycle())

	cfg, err := h.storage.FetchAllocationConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.CycleDurationDays)

	_, err = h.o.SetDuration(ctx, 0)
	assert.Equal(t, http.StatusBadRequest, he.Code(err))
	assert.Equal(t, *cs, *h.storage.Cycle())

	_, err = h.o.SetDuration(ctx, 1e-9)
	assert.Equal(t, http.StatusBadRequest, he.Code(err))
	assert.Equal(t, *cs, *h.storage.Cycle())
}

func TestSetDurationKeepsConfigWhenCycleSaveFails(t *testing.T) {
	h := newHarness(t, cycleStart.Add(time.Hour), 0)
	h.seedWeek()
	h.storage.FailSaveCycle = errors.New("connection reset")
	ctx := context.Background()

	_, err := h.o.SetDuration(ctx, 2)
	require.Error(t, err)
	cfg, err := h.storage.FetchAllocationConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultCycleDurationDays, cfg.CycleDurationDays)
	assert.Equal(t, cycleStart.UnixMilli()+week, h.storage.Cycle().EndTime)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, cycleStart.Add(24*time.Hour), 0)
	h.seedWeek()

	st, err := h.o.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Expired)
	assert.Equal(t, "144h 0m", st.Remaining)
	assert.Equal(t, 3, st.Players)
	assert.Equal(t, "scores_05-01-2025_to_12-01-2025", st.ArchiveAs)
	assert.Equal(t, model.DefaultNumberOfWinners, st.Allocation.NumberOfWinners)
}
