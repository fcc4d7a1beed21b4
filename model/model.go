package model

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MillisPerDay = 24 * 60 * 60 * 1000

	// MaxScore is the highest score a client may submit.
	MaxScore = 10000

	// USDCDecimals is the fixed-point scale of on-chain pool amounts.
	USDCDecimals = 6
)

const (
	DefaultCycleDurationDays = 7.0
	DefaultNumberOfWinners   = 3
	DefaultFeePercentage     = 1000

	MaxNumberOfWinners = 10
	MaxFeePercentage   = 5000

	// A cycle lasts at least a minute and at most about ten years.
	MinCycleDurationMillis = 60 * 1000
	MaxCycleDurationDays   = 3650
)

// CycleState is the current payout epoch.  Times are Unix milliseconds.
type CycleState struct {
	StartTime   int64 `json:"startTime"`
	EndTime     int64 `json:"endTime"`
	LastUpdated int64 `json:"lastUpdated"`
}

// DurationMillis converts a (possibly fractional) number of days to
// milliseconds.
func DurationMillis(days float64) int64 {
	return int64(math.Round(days * MillisPerDay))
}

// NewCycleState starts a cycle at now lasting durationDays.
func NewCycleState(now time.Time, durationDays float64) *CycleState {
	ms := now.UnixMilli()
	return &CycleState{
		StartTime:   ms,
		EndTime:     ms + DurationMillis(durationDays),
		LastUpdated: ms,
	}
}

// IsExpired reports whether the cycle is due for payout.
func (cs *CycleState) IsExpired(now time.Time) bool {
	return now.UnixMilli() >= cs.EndTime
}

// Remaining is how long until the cycle ends, never negative.
func (cs *CycleState) Remaining(now time.Time) time.Duration {
	left := cs.EndTime - now.UnixMilli()
	if left < 0 {
		return 0
	}
	return time.Duration(left) * time.Millisecond
}

// WithDuration returns a copy whose end time is recomputed from the
// unchanged start time.
func (cs *CycleState) WithDuration(durationDays float64, now time.Time) *CycleState {
	return &CycleState{
		StartTime:   cs.StartTime,
		EndTime:     cs.StartTime + DurationMillis(durationDays),
		LastUpdated: now.UnixMilli(),
	}
}

func (cs *CycleState) Start() time.Time {
	return time.UnixMilli(cs.StartTime)
}

func (cs *CycleState) End() time.Time {
	return time.UnixMilli(cs.EndTime)
}

// ScoreRecord is one wallet's best score in the live leaderboard.
type ScoreRecord struct {
	WalletAddress string `json:"walletAddress"`
	Score         int    `json:"score"`
	Timestamp     int64  `json:"timestamp"`
	PlayerName    string `json:"playerName"`
	IPAddress     string `json:"-"`
}

// ArchivedScore is a ScoreRecord copied out of the live leaderboard at
// rollover.
type ArchivedScore struct {
	ScoreRecord
	ArchiveName string `json:"archiveName"`
	ArchivedAt  int64  `json:"archivedAt"`
	CycleStart  int64  `json:"cycleStart"`
	CycleEnd    int64  `json:"cycleEnd"`
}

// NormalizeAddress produces the leaderboard key for a wallet.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// PlayerName abbreviates hex wallet addresses as 0x1234...abcd.
func PlayerName(address string) string {
	if strings.HasPrefix(address, "0x") && len(address) > 10 {
		return address[:6] + "..." + address[len(address)-4:]
	}
	return address
}

// Winner is a leaderboard entry eligible for a share of the pool.
type Winner struct {
	Address   string `json:"address"`
	Score     int    `json:"score"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

// WinnerRecord is a ranked winner as kept in cycle history.
type WinnerRecord struct {
	Rank    int    `json:"rank"`
	Address string `json:"address"`
	Score   int    `json:"score"`
	Name    string `json:"name"`
}

// WinnerShare pairs a winner with the basis points sent to the contract.
type WinnerShare struct {
	Address               string `json:"address"`
	PercentageBasisPoints int    `json:"percentageBasisPoints"`
}

// CycleMetadata is the permanent record of a completed cycle.  It is
// written once and never modified.
type CycleMetadata struct {
	CycleName        string          `json:"cycleName"`
	StartDate        int64           `json:"startDate"`
	EndDate          int64           `json:"endDate"`
	PrizePoolUSDC    decimal.Decimal `json:"prizePoolUSDC"`
	NumberOfPlayers  int             `json:"numberOfPlayers"`
	NumberOfWinners  int             `json:"numberOfWinners"`
	TotalGamesPlayed int             `json:"totalGamesPlayed"`
	Winners          []WinnerRecord  `json:"winners"`
	TxHash           string          `json:"txHash,omitempty"`
	CreatedAt        int64           `json:"createdAt"`
}

// RankWinners numbers winners from 1 in the order given.
func RankWinners(winners []Winner) []WinnerRecord {
	r := make([]WinnerRecord, len(winners))
	for i, w := range winners {
		r[i] = WinnerRecord{
			Rank:    i + 1,
			Address: w.Address,
			Score:   w.Score,
			Name:    w.Name,
		}
	}
	return r
}

// USDC converts on-chain base units to a USDC amount.
func USDC(baseUnits *big.Int) decimal.Decimal {
	if baseUnits == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(baseUnits, -USDCDecimals)
}

// AllocationConfig holds the admin-tunable allocation parameters.
type AllocationConfig struct {
	CycleDurationDays float64 `json:"cycleDurationDays"`
	NumberOfWinners   int     `json:"numberOfWinners"`
	FeePercentage     int     `json:"feePercentage"` // basis points
}

func DefaultAllocationConfig() *AllocationConfig {
	return &AllocationConfig{
		CycleDurationDays: DefaultCycleDurationDays,
		NumberOfWinners:   DefaultNumberOfWinners,
		FeePercentage:     DefaultFeePercentage,
	}
}

func (c *AllocationConfig) Validate() error {
	errs := []error{}
	if !(c.CycleDurationDays > 0) || c.CycleDurationDays > MaxCycleDurationDays {
		errs = append(errs, fmt.Errorf("cycleDurationDays must be positive and at most %d, got %v", MaxCycleDurationDays, c.CycleDurationDays))
	} else if DurationMillis(c.CycleDurationDays) < MinCycleDurationMillis {
		errs = append(errs, fmt.Errorf("cycleDurationDays must be at least one minute, got %v", c.CycleDurationDays))
	}
	if c.NumberOfWinners < 1 || c.NumberOfWinners > MaxNumberOfWinners {
		errs = append(errs, fmt.Errorf("numberOfWinners must be 1..%d, got %d", MaxNumberOfWinners, c.NumberOfWinners))
	}
	if c.FeePercentage < 0 || c.FeePercentage > MaxFeePercentage {
		errs = append(errs, fmt.Errorf("feePercentage must be 0..%d basis points, got %d", MaxFeePercentage, c.FeePercentage))
	}
	return errors.Join(errs...)
}

// PayoutIntent is written just before the allocation transaction is sent,
// so a later invocation can finish the rollover if this one dies after the
// transaction lands.
type PayoutIntent struct {
	CycleName      string   `json:"cycleName"`
	TotalPool      *big.Int `json:"totalPool"`
	FeeBasisPoints int      `json:"feeBasisPoints"`
	Winners        []Winner `json:"winners"`
	Shares         []int    `json:"shares"`
	TxHash         string   `json:"txHash,omitempty"`
	CreatedAt      int64    `json:"createdAt"`
}

// CheckResult is what a cycle check reports to its caller.
type CheckResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Reason is the underlying error when Success is false.
	Reason string `json:"reason,omitempty"`
}
