package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts4z/cyclepot/cycle"
	"github.com/ts4z/cyclepot/fakes"
	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/password"
	"github.com/ts4z/cyclepot/payout"
	"github.com/ts4z/cyclepot/permission"
	"github.com/ts4z/cyclepot/scoreboard"
	"github.com/ts4z/cyclepot/ts"
)

const wallet = "0x1111111111111111111111111111111111111111"

type stubCycles struct {
	result    *model.CheckResult
	err       error
	forced    int
	durations []float64
}

func (s *stubCycles) CheckErr(ctx context.Context) (*model.CheckResult, error) {
	return s.result, s.err
}

func (s *stubCycles) ForceAllocate(ctx context.Context) (*model.CheckResult, error) {
	s.forced++
	return s.result, s.err
}

func (s *stubCycles) Status(ctx context.Context) (*cycle.Status, error) {
	return &cycle.Status{Remaining: "1h 0m"}, nil
}

func (s *stubCycles) SetDuration(ctx context.Context, days float64) (*model.CycleState, error) {
	s.durations = append(s.durations, days)
	return &model.CycleState{}, nil
}

type noAllocator struct{}

func (noAllocator) Allocate(ctx context.Context, cycleName string) (*payout.Allocation, error) {
	return nil, errors.New("not allocating")
}

type harness struct {
	app     *App
	config  *Config
	cycles  *stubCycles
	storage *fakes.FakeStorage
	pool    *fakes.FakePrizePool
	clock   *clockwork.FakeClock
}

func setup(t *testing.T, adminPassword string) *harness {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC))
	clock := ts.NewClock(fc)
	storage := fakes.NewFakeStorage()
	pool := fakes.NewFakePrizePool(1234567)
	bakery, err := permission.NewBakery(&permission.BakeryConfig{Clock: clock})
	require.NoError(t, err)

	cycles := &stubCycles{result: &model.CheckResult{Success: true, Message: "Cycle active. 1h 0m remaining"}}
	c := &Config{
		Cycles:        cycles,
		Scoreboard:    scoreboard.New(&scoreboard.Config{Storage: storage, Clock: clock}),
		Leaderboard:   storage,
		History:       storage,
		Archives:      storage,
		ConfigStorage: storage,
		PrizePool:     pool,
		Bakery:        bakery,
		Clock:         clock,
	}
	if adminPassword != "" {
		hash, err := password.Hash(adminPassword)
		require.NoError(t, err)
		checker, err := password.NewChecker(hash)
		require.NoError(t, err)
		c.PasswordChecker = checker
	}
	return &harness{app: New(c), config: c, cycles: cycles, storage: storage, pool: pool, clock: fc}
}

func (h *harness) do(method, path, body string, mod ...func(*http.Request)) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mod {
		m(r)
	}
	w := httptest.NewRecorder()
	h.app.Handler().ServeHTTP(w, r)
	return w
}

func asAdmin(r *http.Request) {
	r.SetBasicAuth("admin", "sekrit")
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCheckCycle(t *testing.T) {
	h := setup(t, "")
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		w := h.do(method, "/api/check-cycle", "")
		require.Equal(t, http.StatusOK, w.Code)
		got := decode[model.CheckResult](t, w)
		assert.True(t, got.Success)
	}

	h.cycles.result = &model.CheckResult{Success: false, Message: cycle.MessageAllocationFailed, Reason: "no funds"}
	h.cycles.err = errors.New("no funds")
	w := h.do(http.MethodPost, "/api/check-cycle", "")
	assert.Equal(t, http.StatusOK, w.Code, "a failed check is still reported as a result")
	assert.False(t, decode[model.CheckResult](t, w).Success)
}

func TestForceAllocateRequiresAdmin(t *testing.T) {
	h := setup(t, "sekrit")

	w := h.do(http.MethodPost, "/api/force-allocate", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, h.cycles.forced)

	w = h.do(http.MethodPost, "/api/force-allocate", "", func(r *http.Request) { r.SetBasicAuth("admin", "wrong") })
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/force-allocate", "", asAdmin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, h.cycles.forced)

	h.cycles.result = &model.CheckResult{Success: false, Message: cycle.MessageAllocationFailed}
	h.cycles.err = errors.New("boom")
	w = h.do(http.MethodPost, "/api/force-allocate", "", asAdmin)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSubmitScore(t *testing.T) {
	h := setup(t, "")

	w := h.do(http.MethodPost, "/api/scores", `{"walletAddress":"`+wallet+`","score":42}`, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, scoreboard.MessageAccepted, decode[scoreboard.Result](t, w).Message)

	rec, err := h.storage.FetchScore(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, 42, rec.Score)
	assert.Equal(t, "203.0.113.9", rec.IPAddress)

	w = h.do(http.MethodPost, "/api/scores", `{"walletAddress":"`+wallet+`","score":1.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/api/scores", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "can't submit score")
}

func TestLeaderboard(t *testing.T) {
	h := setup(t, "")
	h.storage.PutScore(model.ScoreRecord{WalletAddress: "0xa", Score: 10, Timestamp: 2, PlayerName: "a"})
	h.storage.PutScore(model.ScoreRecord{WalletAddress: "0xb", Score: 30, Timestamp: 1, PlayerName: "b"})

	w := h.do(http.MethodGet, "/api/leaderboard", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Cache-Control"), "max-age=10")
	got := decode[[]model.WinnerRecord](t, w)
	require.Len(t, got, 2)
	assert.Equal(t, model.WinnerRecord{Rank: 1, Address: "0xb", Score: 30, Name: "b"}, got[0])
	assert.Equal(t, 2, got[1].Rank)
}

func TestPoolAndRewards(t *testing.T) {
	h := setup(t, "")
	h.pool.Rewards[wallet] = big.NewInt(2500000)

	w := h.do(http.MethodGet, "/api/pool", "")
	require.Equal(t, http.StatusOK, w.Code)
	pool := decode[poolResponse](t, w)
	assert.Equal(t, poolResponse{TotalPool: "1234567", TotalPoolUSDC: "1.23", FundsAllocated: false}, pool)

	w = h.do(http.MethodGet, "/api/rewards/"+strings.Replace(wallet, "0x", "0X", 1), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2500000", decode[rewardsResponse](t, w).Rewards, "addresses are case-folded")

	w = h.do(http.MethodGet, "/api/rewards/"+wallet, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rewardsResponse{Address: wallet, Rewards: "2500000", RewardsUSDC: "2.5"}, decode[rewardsResponse](t, w))

	h.pool.ReadErr = errors.New("rpc down")
	w = h.do(http.MethodGet, "/api/pool", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHistory(t *testing.T) {
	h := setup(t, "")
	ctx := context.Background()
	name := "scores_05-01-2025_to_12-01-2025"
	h.storage.PutScore(model.ScoreRecord{WalletAddress: wallet, Score: 99, Timestamp: 1})
	_, err := h.storage.ArchiveAndReset(ctx, name, 1, 2, 3)
	require.NoError(t, err)
	_, err = h.storage.SaveCycleMetadata(ctx, &model.CycleMetadata{CycleName: name, NumberOfPlayers: 1})
	require.NoError(t, err)

	w := h.do(http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]*model.CycleMetadata](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, name, list[0].CycleName)

	w = h.do(http.MethodGet, "/api/history/"+name, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")
	got := decode[struct {
		CycleName string                 `json:"cycleName"`
		Scores    []*model.ArchivedScore `json:"scores"`
	}](t, w)
	assert.Equal(t, name, got.CycleName)
	require.Len(t, got.Scores, 1)
	assert.Equal(t, 99, got.Scores[0].Score)

	w = h.do(http.MethodGet, "/api/history/not_a_cycle", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/api/history/scores_01-01-2020_to_08-01-2020", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodGet, "/api/history?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminConfig(t *testing.T) {
	h := setup(t, "sekrit")

	w := h.do(http.MethodGet, "/api/admin/config", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodGet, "/api/admin/config", "", asAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, *model.DefaultAllocationConfig(), decode[model.AllocationConfig](t, w))

	w = h.do(http.MethodPut, "/api/admin/config", `{"numberOfWinners":5}`, asAdmin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	c, err := h.storage.FetchAllocationConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, c.NumberOfWinners)
	assert.Equal(t, model.DefaultFeePercentage, c.FeePercentage, "unnamed fields keep their values")

	w = h.do(http.MethodPut, "/api/admin/config", `{"numberOfWinners":11}`, asAdmin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	c, err = h.storage.FetchAllocationConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, c.NumberOfWinners)
	assert.Empty(t, h.cycles.durations, "duration unchanged")

	w = h.do(http.MethodPut, "/api/admin/config", `{"cycleDurationDays":1e-9}`, asAdmin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.cycles.durations)

	w = h.do(http.MethodPut, "/api/admin/config", `{"cycleDurationDays":2}`, asAdmin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []float64{2}, h.cycles.durations)
}

func TestAdminConfigDurationMovesCycleEnd(t *testing.T) {
	h := setup(t, "sekrit")
	start := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC).UnixMilli()
	h.storage.PutCycle(model.CycleState{StartTime: start, EndTime: start + 7*model.MillisPerDay, LastUpdated: start})
	h.config.Cycles = cycle.New(&cycle.Config{Storage: h.storage, Allocator: noAllocator{}, Clock: h.config.Clock})
	h.app = New(h.config)

	w := h.do(http.MethodPut, "/api/admin/config", `{"cycleDurationDays":1}`, asAdmin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cs := h.storage.Cycle()
	assert.Equal(t, start, cs.StartTime)
	assert.Equal(t, int64(model.MillisPerDay), cs.EndTime-cs.StartTime)
	c, err := h.storage.FetchAllocationConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.CycleDurationDays)
}

func TestLoginCookie(t *testing.T) {
	h := setup(t, "sekrit")

	w := h.do(http.MethodPost, "/api/admin/login", `{"password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/admin/login", `{"password":"sekrit"}`)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, permission.AuthCookieName, cookies[0].Name)

	withCookie := func(r *http.Request) { r.AddCookie(cookies[0]) }
	w = h.do(http.MethodGet, "/api/admin/config", "", withCookie)
	assert.Equal(t, http.StatusOK, w.Code)

	h.clock.Advance(permission.SessionTTL + time.Minute)
	w = h.do(http.MethodGet, "/api/admin/config", "", withCookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginUnconfigured(t *testing.T) {
	h := setup(t, "")
	w := h.do(http.MethodPost, "/api/admin/login", `{"password":"anything"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMiscRoutes(t *testing.T) {
	h := setup(t, "")

	w := h.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/robots.txt", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Disallow: /api/")

	w = h.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/api/cycle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"remaining":"1h 0m"`)

	w = h.do(http.MethodDelete, "/api/leaderboard", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	h := setup(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.app.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
