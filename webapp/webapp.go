package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/ts4z/cyclepot/app/handlers"
	"github.com/ts4z/cyclepot/cycle"
	"github.com/ts4z/cyclepot/dep"
	"github.com/ts4z/cyclepot/he"
	"github.com/ts4z/cyclepot/middleware"
	"github.com/ts4z/cyclepot/middleware/c2ctx"
	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/permission"
	"github.com/ts4z/cyclepot/scoreboard"
	"github.com/ts4z/cyclepot/state"
	"github.com/ts4z/cyclepot/urlpath"
	"github.com/ts4z/cyclepot/varz"
)

const (
	LeaderboardSize = 10
	maxBodyBytes    = 1 << 16
	shutdownTimeout = 10 * time.Second
)

// Cycles is the cycle orchestrator as the web app sees it.
type Cycles interface {
	CheckErr(ctx context.Context) (*model.CheckResult, error)
	ForceAllocate(ctx context.Context) (*model.CheckResult, error)
	Status(ctx context.Context) (*cycle.Status, error)
	SetDuration(ctx context.Context, days float64) (*model.CycleState, error)
}

// PrizePool is the read side of the payment contract.
type PrizePool interface {
	FundsAllocated(ctx context.Context) (bool, error)
	TotalPool(ctx context.Context) (*big.Int, error)
	RewardOf(ctx context.Context, address string) (*big.Int, error)
}

type Submitter interface {
	Submit(ctx context.Context, s *scoreboard.Submission) (*scoreboard.Result, error)
}

type LeaderboardReader interface {
	TopWinners(ctx context.Context, n int) ([]model.Winner, error)
}

type HistoryReader interface {
	FetchCycleMetadata(ctx context.Context, cycleName string) (*model.CycleMetadata, error)
	ListCycleMetadata(ctx context.Context, offset, limit int) ([]*model.CycleMetadata, error)
}

type ArchiveReader interface {
	FetchArchive(ctx context.Context, name string) ([]*model.ArchivedScore, error)
}

type PasswordChecker interface {
	Validate(pw string) error
}

// Config holds the configuration for creating a new App.
type Config struct {
	Cycles        Cycles
	Scoreboard    Submitter
	Leaderboard   LeaderboardReader
	History       HistoryReader
	Archives      ArchiveReader
	ConfigStorage state.ConfigStorage
	PrizePool     PrizePool
	Bakery        *permission.Bakery
	Clock         middleware.Clock

	// Optional.
	PasswordChecker PasswordChecker
	AllowedOrigins  []string
	Health          func(ctx context.Context) error
	// SubmitsPerSecond limits each client's writes; 1 if zero.
	SubmitsPerSecond float64
}

// App is the HTTP API.
type App struct {
	cycles        Cycles
	scoreboard    Submitter
	leaderboard   LeaderboardReader
	history       HistoryReader
	archives      ArchiveReader
	configStorage state.ConfigStorage
	prizePool     PrizePool
	bakery        *permission.Bakery
	checker       PasswordChecker
	clock         middleware.Clock
	health        func(ctx context.Context) error

	mux     *http.ServeMux
	limiter func(http.Handler) http.Handler
	handler http.Handler
}

// New creates a new App with the given configuration.
func New(config *Config) *App {
	app := &App{
		cycles:        dep.Required(config.Cycles),
		scoreboard:    dep.Required(config.Scoreboard),
		leaderboard:   dep.Required(config.Leaderboard),
		history:       dep.Required(config.History),
		archives:      dep.Required(config.Archives),
		configStorage: dep.Required(config.ConfigStorage),
		prizePool:     dep.Required(config.PrizePool),
		bakery:        dep.Required(config.Bakery),
		clock:         dep.Required(config.Clock),
		checker:       config.PasswordChecker,
		health:        config.Health,
		mux:           http.NewServeMux(),
	}

	perSecond := config.SubmitsPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	app.limiter = func(next http.Handler) http.Handler {
		return middleware.NewRateLimiter(&middleware.RateLimiterConfig{
			RequestsPerSecond: perSecond,
			Burst:             5,
			Next:              next,
		})
	}

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	for _, origin := range origins {
		slog.Info("CORS allowing origin", "origin", origin)
	}

	// Stack the handlers together.  The logger sits directly on the mux so
	// that it sees the matched pattern.
	logger := middleware.NewRequestLogger(app.mux, app.clock)
	c2cConfig := &c2ctx.Config{Bakery: app.bakery, Next: logger}
	if app.checker != nil {
		c2cConfig.Checker = app.checker
	}
	corsMW := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	app.handler = corsMW.Handler(c2ctx.Handler(c2cConfig))

	app.InstallHandlers()
	return app
}

// Handler returns the configured HTTP handler.
func (app *App) Handler() http.Handler {
	return app.handler
}

func (app *App) handleFunc(pattern string, handler func(context.Context, http.ResponseWriter, *http.Request)) {
	app.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		handler(r.Context(), w, r)
	})
}

func (app *App) limitedHandleFunc(pattern string, handler func(context.Context, http.ResponseWriter, *http.Request)) {
	app.mux.Handle(pattern, app.limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(r.Context(), w, r)
	})))
}

func (app *App) requiringAdminHandleFunc(pattern string, handler func(context.Context, http.ResponseWriter, *http.Request)) {
	app.handleFunc(pattern, func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		if !permission.IsAdmin(ctx) {
			he.SendErrorToHTTPClient(w, "authorize", permission.ErrPermissionDenied)
			return
		}
		handler(ctx, w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return he.HTTPCodedErrorf(http.StatusBadRequest, "bad request body: %v", err)
	}
	return nil
}

func (app *App) handleCheckCycle(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	result, err := app.cycles.CheckErr(ctx)
	if err != nil {
		slog.Warn("manual cycle check failed", "error", err)
	}
	he.WriteJSON(w, http.StatusOK, result)
}

func (app *App) handleForceAllocate(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	result, err := app.cycles.ForceAllocate(ctx)
	if err != nil {
		he.WriteJSON(w, http.StatusInternalServerError, result)
		return
	}
	he.WriteJSON(w, http.StatusOK, result)
}

func (app *App) handleSubmitScore(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	s := &scoreboard.Submission{}
	if err := decodeBody(w, r, s); err != nil {
		he.SendErrorToHTTPClient(w, "submit score", err)
		return
	}
	s.IPAddress = middleware.RemoteAddr(r)
	result, err := app.scoreboard.Submit(ctx, s)
	if err != nil {
		he.SendErrorToHTTPClient(w, "submit score", err)
		return
	}
	he.WriteJSON(w, http.StatusOK, result)
}

func (app *App) handleLeaderboard(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	winners, err := app.leaderboard.TopWinners(ctx, LeaderboardSize)
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch leaderboard", err)
		return
	}
	he.WriteJSON(w, http.StatusOK, model.RankWinners(winners))
}

func (app *App) handleCycle(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	st, err := app.cycles.Status(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch cycle", err)
		return
	}
	he.WriteJSON(w, http.StatusOK, st)
}

type poolResponse struct {
	TotalPool      string `json:"totalPool"`
	TotalPoolUSDC  string `json:"totalPoolUSDC"`
	FundsAllocated bool   `json:"fundsAllocated"`
}

func (app *App) handlePool(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	pool, err := app.prizePool.TotalPool(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "read prize pool", he.New(http.StatusBadGateway, err))
		return
	}
	allocated, err := app.prizePool.FundsAllocated(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "read prize pool", he.New(http.StatusBadGateway, err))
		return
	}
	he.WriteJSON(w, http.StatusOK, &poolResponse{
		TotalPool:      pool.String(),
		TotalPoolUSDC:  model.USDC(pool).StringFixed(2),
		FundsAllocated: allocated,
	})
}

type rewardsResponse struct {
	Address     string `json:"address"`
	Rewards     string `json:"rewards"`
	RewardsUSDC string `json:"rewardsUSDC"`
}

func (app *App) handleRewards(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	address, err := urlpath.AddressPathValue(r)
	if err != nil {
		he.SendErrorToHTTPClient(w, "parse url", err)
		return
	}
	reward, err := app.prizePool.RewardOf(ctx, address)
	if err != nil {
		he.SendErrorToHTTPClient(w, "read rewards", he.New(http.StatusBadGateway, err))
		return
	}
	he.WriteJSON(w, http.StatusOK, &rewardsResponse{
		Address:     address,
		Rewards:     reward.String(),
		RewardsUSDC: model.USDC(reward).String(),
	})
}

func (app *App) handleHistory(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	offset, limit, err := urlpath.Page(r)
	if err != nil {
		he.SendErrorToHTTPClient(w, "parse query", err)
		return
	}
	list, err := app.history.ListCycleMetadata(ctx, offset, limit)
	if err != nil {
		he.SendErrorToHTTPClient(w, "list cycles", err)
		return
	}
	he.WriteJSON(w, http.StatusOK, list)
}

type cycleHistoryResponse struct {
	*model.CycleMetadata
	Scores []*model.ArchivedScore `json:"scores"`
}

func (app *App) handleCycleHistory(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	name, err := urlpath.CycleNamePathValue(r)
	if err != nil {
		he.SendErrorToHTTPClient(w, "parse url", err)
		return
	}
	md, err := app.history.FetchCycleMetadata(ctx, name)
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch cycle", err)
		return
	}
	scores, err := app.archives.FetchArchive(ctx, name)
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch archive", err)
		return
	}
	he.WriteJSON(w, http.StatusOK, &cycleHistoryResponse{CycleMetadata: md, Scores: scores})
}

func (app *App) handleFetchConfig(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	c, err := app.configStorage.FetchAllocationConfig(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch config", err)
		return
	}
	he.WriteJSON(w, http.StatusOK, c)
}

// handleSaveConfig applies a possibly partial config over the current one.
// A new duration also moves the current cycle's end.
func (app *App) handleSaveConfig(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	c, err := app.configStorage.FetchAllocationConfig(ctx)
	if err != nil {
		he.SendErrorToHTTPClient(w, "fetch config", err)
		return
	}
	previousDays := c.CycleDurationDays
	if err := decodeBody(w, r, c); err != nil {
		he.SendErrorToHTTPClient(w, "save config", err)
		return
	}
	if err := c.Validate(); err != nil {
		he.SendErrorToHTTPClient(w, "save config", he.New(http.StatusBadRequest, err))
		return
	}
	if c.CycleDurationDays != previousDays {
		if _, err := app.cycles.SetDuration(ctx, c.CycleDurationDays); err != nil {
			he.SendErrorToHTTPClient(w, "set cycle duration", err)
			return
		}
	}
	if err := app.configStorage.SaveAllocationConfig(ctx, c); err != nil {
		he.SendErrorToHTTPClient(w, "save config", err)
		return
	}
	slog.Info("allocation config changed", "days", c.CycleDurationDays, "winners", c.NumberOfWinners, "fee", c.FeePercentage)
	he.WriteJSON(w, http.StatusOK, c)
}

func (app *App) handleLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if app.checker == nil {
		he.SendErrorToHTTPClient(w, "log in", he.HTTPCodedErrorf(http.StatusServiceUnavailable, "admin access is not configured"))
		return
	}
	body := struct {
		Password string `json:"password"`
	}{}
	if err := decodeBody(w, r, &body); err != nil {
		he.SendErrorToHTTPClient(w, "log in", err)
		return
	}
	if err := app.checker.Validate(body.Password); err != nil {
		slog.Warn("failed admin login", "remote", middleware.RemoteAddr(r))
		he.SendErrorToHTTPClient(w, "log in", he.New(http.StatusUnauthorized, err))
		return
	}
	if err := app.bakery.BakeCookie(w, &permission.Identity{Admin: true}); err != nil {
		he.SendErrorToHTTPClient(w, "log in", err)
		return
	}
	he.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (app *App) handleHealth(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if app.health != nil {
		if err := app.health(ctx); err != nil {
			he.SendErrorToHTTPClient(w, "check health", he.New(http.StatusServiceUnavailable, err))
			return
		}
	}
	he.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (app *App) InstallHandlers() {
	app.limitedHandleFunc("GET /api/check-cycle", app.handleCheckCycle)
	app.limitedHandleFunc("POST /api/check-cycle", app.handleCheckCycle)

	app.requiringAdminHandleFunc("POST /api/force-allocate", app.handleForceAllocate)

	app.limitedHandleFunc("POST /api/scores", app.handleSubmitScore)

	app.mux.Handle("GET /api/leaderboard", middleware.NewCacheHeaderAdder(&middleware.CacheHeaderAdderConfig{
		Next:   http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { app.handleLeaderboard(r.Context(), w, r) }),
		MaxAge: 10 * time.Second,
	}))

	app.handleFunc("GET /api/cycle", app.handleCycle)

	app.handleFunc("GET /api/pool", app.handlePool)

	app.handleFunc("GET /api/rewards/{address}", app.handleRewards)

	app.handleFunc("GET /api/history", app.handleHistory)

	// Completed cycles never change.
	app.mux.Handle("GET /api/history/{name}", middleware.NewCacheHeaderAdder(&middleware.CacheHeaderAdderConfig{
		Next:      http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { app.handleCycleHistory(r.Context(), w, r) }),
		MaxAge:    24 * time.Hour,
		Immutable: true,
	}))

	app.requiringAdminHandleFunc("GET /api/admin/config", app.handleFetchConfig)
	app.requiringAdminHandleFunc("PUT /api/admin/config", app.handleSaveConfig)

	app.limitedHandleFunc("POST /api/admin/login", app.handleLogin)

	app.handleFunc("POST /api/admin/logout", func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		app.bakery.ClearCookie(w)
		w.WriteHeader(http.StatusNoContent)
	})

	app.mux.Handle("GET /metrics", varz.Handler())

	app.handleFunc("GET /healthz", app.handleHealth)

	app.mux.HandleFunc("GET /robots.txt", handlers.HandleRobotsTXT)
}

// Wrapper to just return the input context.
func contextualizer(ctx context.Context) func(net.Listener) context.Context {
	return func(_ net.Listener) context.Context {
		return ctx
	}
}

// Serve runs the HTTP server on listenAddress until ctx is done.
func (app *App) Serve(ctx context.Context, listenAddress string) error {
	server := &http.Server{
		Addr:              listenAddress,
		Handler:           app.handler,
		BaseContext:       contextualizer(context.WithoutCancel(ctx)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// A forced allocation waits for the transaction to be mined.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	ch := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "address", listenAddress)
		ch <- server.ListenAndServe()
	}()

	select {
	case err := <-ch:
		return fmt.Errorf("http server exited: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-ch; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
