package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ts4z/cyclepot/archivecsv"
	"github.com/ts4z/cyclepot/chain"
	"github.com/ts4z/cyclepot/config"
	"github.com/ts4z/cyclepot/cycle"
	"github.com/ts4z/cyclepot/dbutil"
	"github.com/ts4z/cyclepot/defaults"
	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/password"
	"github.com/ts4z/cyclepot/payout"
	"github.com/ts4z/cyclepot/state"
	"github.com/ts4z/cyclepot/textutil"
	"github.com/ts4z/cyclepot/ts"
)

const (
	// these sizes are recommended by the gorilla/securecookie package
	// https://pkg.go.dev/github.com/gorilla/securecookie#New
	hashKeySize  = 32
	blockKeySize = 16
)

var (
	clock = ts.NewRealClock()

	configDays    float64
	configWinners int
	configFee     int

	historyOffset int
	historyLimit  int

	migrateStatusOnly bool
)

var errNoAllocation = errors.New("this command does not allocate")

// readOnlyAllocator stands in for the payout path in commands that only
// look at or adjust the cycle.
type readOnlyAllocator struct{}

func (readOnlyAllocator) Allocate(ctx context.Context, cycleName string) (*payout.Allocation, error) {
	return nil, errNoAllocation
}

func openStorage(ctx context.Context) (*sql.DB, *state.DBStorage) {
	db, err := dbutil.Connect(ctx)
	if err != nil {
		log.Fatalf("can't connect to database: %v", err)
	}
	return db, state.NewDBStorage(db, config.AllocationDefaults())
}

func dialContract(ctx context.Context, withSigner bool) *chain.Contract {
	c := chain.Config{
		ContractAddress: config.ContractAddress(),
		ChainID:         config.ChainID(),
		GasLimit:        config.GasLimit(),
	}
	if withSigner {
		signer, err := chain.DecryptKeystore(config.KeystoreData(), config.KeystorePassword())
		if err != nil {
			log.Fatalf("can't load keystore: %v", err)
		}
		c.Signer = signer
	}
	contract, err := chain.Dial(ctx, config.RPCURL(), c)
	if err != nil {
		log.Fatalf("can't bind contract: %v", err)
	}
	return contract
}

func newOrchestrator(ctx context.Context, storage *state.DBStorage, allocating bool) *cycle.Orchestrator {
	var allocator cycle.Allocator = readOnlyAllocator{}
	if allocating {
		allocator = payout.New(&payout.Config{
			PrizePool: dialContract(ctx, true),
			Storage:   storage,
			Paytable:  defaults.CyclePaytable(),
			Clock:     clock,
			Timeout:   config.PayoutTimeout(),
		})
	}
	return cycle.New(&cycle.Config{
		Storage:   storage,
		Allocator: allocator,
		Clock:     clock,
	})
}

func printResult(r *model.CheckResult, err error) error {
	if r != nil {
		fmt.Printf("%s\n", r.Message)
		if r.Reason != "" {
			fmt.Printf("  reason: %s\n", r.Reason)
		}
	}
	return err
}

func check(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, storage := openStorage(ctx)
	defer db.Close()

	return printResult(newOrchestrator(ctx, storage, true).CheckErr(ctx))
}

func forceAllocate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, storage := openStorage(ctx)
	defer db.Close()

	return printResult(newOrchestrator(ctx, storage, true).ForceAllocate(ctx))
}

func showCycle(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, storage := openStorage(ctx)
	defer db.Close()

	st, err := newOrchestrator(ctx, storage, false).Status(ctx)
	if err != nil {
		return fmt.Errorf("fetching cycle: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "start\t%v\n", st.Cycle.Start().Format(time.RFC3339))
	fmt.Fprintf(w, "end\t%v\n", st.Cycle.End().Format(time.RFC3339))
	if st.Expired {
		fmt.Fprintf(w, "remaining\texpired, awaiting allocation\n")
	} else {
		fmt.Fprintf(w, "remaining\t%s\n", st.Remaining)
	}
	fmt.Fprintf(w, "archive as\t%s\n", st.ArchiveAs)
	fmt.Fprintf(w, "players\t%d\n", st.Players)
	fmt.Fprintf(w, "winners\t%d\n", st.Allocation.NumberOfWinners)
	fmt.Fprintf(w, "fee\t%d bp\n", st.Allocation.FeePercentage)
	w.Flush()
	return nil
}

func setDuration(cmd *cobra.Command, args []string) error {
	days, err := textutil.ParseDays(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, storage := openStorage(ctx)
	defer db.Close()

	cs, err := newOrchestrator(ctx, storage, false).SetDuration(ctx, days)
	if err != nil {
		return fmt.Errorf("setting duration: %w", err)
	}
	fmt.Printf("Cycle duration is now %v days; the current cycle ends %v.\n",
		strconv.FormatFloat(days, 'f', -1, 64), cs.End().Format(time.RFC3339))
	return nil
}

func showConfig(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, storage := openStorage(ctx)
	defer db.Close()

	c, err := storage.FetchAllocationConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetching config: %w", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "cycleDurationDays\t%v\n", c.CycleDurationDays)
	fmt.Fprintf(w, "numberOfWinners\t%d\n", c.NumberOfWinners)
	fmt.Fprintf(w, "feePercentage\t%d\n", c.FeePercentage)
	w.Flush()
	return nil
}

func setConfig(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, storage := openStorage(ctx)
	defer db.Close()

	c, err := storage.FetchAllocationConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetching config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("days") {
		c.CycleDurationDays = configDays
	}
	if flags.Changed("winners") {
		c.NumberOfWinners = configWinners
	}
	if flags.Changed("fee") {
		c.FeePercentage = configFee
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := storage.SaveAllocationConfig(ctx, c); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("Config saved.  A new duration applies from the next cycle; use \"cycle set-duration\" to change the current one.\n")
	return nil
}

func listHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, storage := openStorage(ctx)
	defer db.Close()

	list, err := storage.ListCycleMetadata(ctx, historyOffset, historyLimit)
	if err != nil {
		return fmt.Errorf("listing cycles: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "cycle\tpool\tplayers\twinners\ttx\n")
	for _, m := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", m.CycleName, m.PrizePoolUSDC.StringFixed(2), m.NumberOfPlayers, len(m.Winners), m.TxHash)
	}
	w.Flush()
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, storage := openStorage(ctx)
	defer db.Close()

	m, err := storage.FetchCycleMetadata(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetching cycle %q: %w", args[0], err)
	}
	fmt.Printf("%s: %s USDC, %d players, %d games\n", m.CycleName, m.PrizePoolUSDC.StringFixed(2), m.NumberOfPlayers, m.TotalGamesPlayed)
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	for _, winner := range m.Winners {
		fmt.Fprintf(w, "%s\t%s\t%d\n", textutil.FormatPlace(winner.Rank), winner.Address, winner.Score)
	}
	w.Flush()
	return nil
}

func exportHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, storage := openStorage(ctx)
	defer db.Close()

	scores, err := storage.FetchArchive(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetching archive %q: %w", args[0], err)
	}
	return archivecsv.Write(os.Stdout, scores)
}

func showPool(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	contract := dialContract(ctx, false)

	pool, err := contract.TotalPool(ctx)
	if err != nil {
		return err
	}
	allocated, err := contract.FundsAllocated(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("contract %s: %s USDC, allocated=%v\n", contract.Address(), model.USDC(pool).StringFixed(2), allocated)
	return nil
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pwBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pwBytes), nil
}

func hashPassword(cmd *cobra.Command, args []string) error {
	pw, err := readPassword("Enter password: ")
	if err != nil {
		return err
	}
	if pw == "" {
		return fmt.Errorf("password is required")
	}
	again, err := readPassword("Again: ")
	if err != nil {
		return err
	}
	if pw != again {
		return fmt.Errorf("passwords don't match")
	}

	hash, err := password.Hash(pw)
	if err != nil {
		return err
	}
	fmt.Printf("ADMIN_PASSWORD_HASH=%s\n", hash)
	return nil
}

func generateKey(sz int) ([]byte, error) {
	key := make([]byte, sz)
	_, err := rand.Read(key)
	if err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}

func generateCookieKeys(cmd *cobra.Command, args []string) error {
	hashKey, err := generateKey(hashKeySize)
	if err != nil {
		return fmt.Errorf("generating hash key: %w", err)
	}
	blockKey, err := generateKey(blockKeySize)
	if err != nil {
		return fmt.Errorf("generating block key: %w", err)
	}
	fmt.Printf("COOKIE_HASH_KEY=%s\n", base64.StdEncoding.EncodeToString(hashKey))
	fmt.Printf("COOKIE_BLOCK_KEY=%s\n", base64.StdEncoding.EncodeToString(blockKey))
	return nil
}

func migrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	db, err := dbutil.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if migrateStatusOnly {
		return state.MigrationStatus(db)
	}
	if err := state.Migrate(db); err != nil {
		return err
	}
	slog.Info("database is up to date")
	return nil
}
