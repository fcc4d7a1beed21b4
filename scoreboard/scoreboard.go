// Package scoreboard accepts score submissions for the live leaderboard.
package scoreboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/ts4z/cyclepot/dep"
	"github.com/ts4z/cyclepot/he"
	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/state"
	"github.com/ts4z/cyclepot/varz"
)

const (
	DefaultMinInterval = 5 * time.Second

	MessageAccepted    = "Score submitted successfully"
	MessageNotImproved = "Score not updated (current score is higher)"
)

var (
	ErrInvalidWallet = he.HTTPCodedErrorf(http.StatusBadRequest, "Invalid wallet address")
	ErrInvalidScore  = he.HTTPCodedErrorf(http.StatusBadRequest, "Invalid score")
	ErrTooSoon       = he.HTTPCodedErrorf(http.StatusTooManyRequests, "Too many submissions. Please wait.")
)

var submissions = varz.NewCounterVec("submissions_total", "Score submissions by outcome.", "outcome")

type Storage interface {
	FetchScore(ctx context.Context, walletAddress string) (*model.ScoreRecord, error)
	UpsertMaxScore(ctx context.Context, rec *model.ScoreRecord) (bool, error)
}

type Clock interface {
	Now() time.Time
}

type Config struct {
	Storage     Storage
	Clock       Clock
	MinInterval time.Duration
}

type Scoreboard struct {
	storage     Storage
	clock       Clock
	minInterval time.Duration
}

// Submission is a client's claim of a score.  Score is a float so that
// non-integers can be rejected rather than silently truncated.
type Submission struct {
	WalletAddress string   `json:"walletAddress"`
	Score         *float64 `json:"score"`
	IPAddress     string   `json:"-"`
}

type Result struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Score        int    `json:"score,omitempty"`
	CurrentScore int    `json:"currentScore,omitempty"`
}

func New(c *Config) *Scoreboard {
	sb := &Scoreboard{
		storage:     dep.Required(c.Storage),
		clock:       dep.Required(c.Clock),
		minInterval: c.MinInterval,
	}
	if sb.minInterval <= 0 {
		sb.minInterval = DefaultMinInterval
	}
	return sb
}

func validScore(f *float64) (int, bool) {
	if f == nil {
		return 0, false
	}
	v := *f
	if math.IsNaN(v) || v != math.Trunc(v) || v < 0 || v > model.MaxScore {
		return 0, false
	}
	return int(v), true
}

// Submit records s if it beats the wallet's best score this cycle.
func (sb *Scoreboard) Submit(ctx context.Context, s *Submission) (*Result, error) {
	address := model.NormalizeAddress(s.WalletAddress)
	if address == "" {
		submissions.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidWallet
	}
	score, ok := validScore(s.Score)
	if !ok {
		submissions.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidScore
	}

	now := sb.clock.Now()
	prev, err := sb.storage.FetchScore(ctx, address)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("can't read score for %s: %w", address, err)
	}
	if prev != nil {
		if now.UnixMilli()-prev.Timestamp < sb.minInterval.Milliseconds() {
			submissions.WithLabelValues("too_soon").Inc()
			return nil, ErrTooSoon
		}
		if score <= prev.Score {
			submissions.WithLabelValues("not_improved").Inc()
			return &Result{Success: false, Message: MessageNotImproved, CurrentScore: prev.Score}, nil
		}
	}

	written, err := sb.storage.UpsertMaxScore(ctx, &model.ScoreRecord{
		WalletAddress: address,
		Score:         score,
		Timestamp:     now.UnixMilli(),
		PlayerName:    model.PlayerName(address),
		IPAddress:     s.IPAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("can't save score for %s: %w", address, err)
	}
	if !written {
		// Lost a race with a higher concurrent submission.
		submissions.WithLabelValues("not_improved").Inc()
		cur, err := sb.storage.FetchScore(ctx, address)
		if err != nil {
			return nil, err
		}
		return &Result{Success: false, Message: MessageNotImproved, CurrentScore: cur.Score}, nil
	}

	slog.Info("score submitted", "wallet", address, "score", score)
	submissions.WithLabelValues("accepted").Inc()
	return &Result{Success: true, Message: MessageAccepted, Score: score}, nil
}
