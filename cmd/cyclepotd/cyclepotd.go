package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ts4z/cyclepot/chain"
	"github.com/ts4z/cyclepot/config"
	"github.com/ts4z/cyclepot/cycle"
	"github.com/ts4z/cyclepot/dbcache"
	"github.com/ts4z/cyclepot/dbnotify"
	"github.com/ts4z/cyclepot/dbutil"
	"github.com/ts4z/cyclepot/defaults"
	"github.com/ts4z/cyclepot/logger"
	"github.com/ts4z/cyclepot/password"
	"github.com/ts4z/cyclepot/payout"
	"github.com/ts4z/cyclepot/permission"
	"github.com/ts4z/cyclepot/schedule"
	"github.com/ts4z/cyclepot/scoreboard"
	"github.com/ts4z/cyclepot/state"
	"github.com/ts4z/cyclepot/ts"
	"github.com/ts4z/cyclepot/webapp"
)

const (
	leaderboardCacheSize = 16
	metadataCacheSize    = 256
)

func main() {
	config.Init()
	slog.SetDefault(logger.New(config.Verbose()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := ts.NewRealClock()

	db, err := dbutil.Connect(ctx)
	if err != nil {
		log.Fatalf("can't connect to database: %v", err)
	}
	defer db.Close()
	if err := state.Migrate(db); err != nil {
		log.Fatalf("can't migrate database: %v", err)
	}

	allocationDefaults := config.AllocationDefaults()
	if err := allocationDefaults.Validate(); err != nil {
		log.Fatalf("bad allocation defaults in environment: %v", err)
	}
	// The engine reads and writes the database directly; only the web
	// surface goes through the caches.
	storage := state.NewDBStorage(db, allocationDefaults)

	signer, err := chain.DecryptKeystore(config.KeystoreData(), config.KeystorePassword())
	if errors.Is(err, chain.ErrKeystoreMissing) {
		slog.Warn("no keystore configured; allocations will fail")
	} else if err != nil {
		log.Fatalf("can't load keystore: %v", err)
	}

	contract, err := chain.Dial(ctx, config.RPCURL(), chain.Config{
		ContractAddress: config.ContractAddress(),
		ChainID:         config.ChainID(),
		GasLimit:        config.GasLimit(),
		Signer:          signer,
	})
	if err != nil {
		log.Fatalf("can't bind contract: %v", err)
	}

	allocator := payout.New(&payout.Config{
		PrizePool: contract,
		Storage:   storage,
		Paytable:  defaults.CyclePaytable(),
		Clock:     clock,
		Timeout:   config.PayoutTimeout(),
	})

	orchestrator := cycle.New(&cycle.Config{
		Storage:   storage,
		Allocator: allocator,
		Clock:     clock,
	})

	scheduler, err := schedule.New(&schedule.Config{
		Checker: orchestrator,
		Spec:    config.Schedule(),
		Timeout: config.PayoutTimeout() + time.Minute,
	})
	if err != nil {
		log.Fatalf("can't create scheduler: %v", err)
	}

	leaderboard := dbcache.NewLeaderboardStorage(leaderboardCacheSize, storage)
	history := dbcache.NewMetadataStorage(metadataCacheSize, storage)
	cachedConfig := dbcache.NewConfigStorage(storage, clock)
	listener := dbnotify.NewDBNotifyListener(db, leaderboard, cachedConfig)

	bakery, err := permission.NewBakery(&permission.BakeryConfig{
		Clock:      clock,
		HashKey64:  config.CookieHashKey(),
		BlockKey64: config.CookieBlockKey(),
		Secure:     config.SecureCookies(),
	})
	if err != nil {
		log.Fatalf("can't create bakery: %v", err)
	}

	appConfig := &webapp.Config{
		Cycles:         orchestrator,
		Scoreboard:     scoreboard.New(&scoreboard.Config{Storage: leaderboard, Clock: clock}),
		Leaderboard:    leaderboard,
		History:        history,
		Archives:       storage,
		ConfigStorage:  permission.NewConfigStorage(cachedConfig),
		PrizePool:      contract,
		Bakery:         bakery,
		Clock:          clock,
		AllowedOrigins: config.AllowedOrigins(),
		Health: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	}
	if hash := config.AdminPasswordHash(); hash != "" {
		checker, err := password.NewChecker(hash)
		if err != nil {
			log.Fatalf("can't use admin password hash: %v", err)
		}
		appConfig.PasswordChecker = checker
	} else {
		slog.Warn("no admin password hash configured; admin endpoints are closed")
	}
	app := webapp.New(appConfig)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Serve(gctx, config.ListenAddress()) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return listener.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Fatalf("cyclepotd: %v", err)
	}
	slog.Info("cyclepotd stopped")
}
