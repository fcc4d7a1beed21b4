package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ts4z/cyclepot/dbutil"
	"github.com/ts4z/cyclepot/he"
	"github.com/ts4z/cyclepot/model"
)

// DBStorage keeps engine state in PostgreSQL.
type DBStorage struct {
	db       *sql.DB
	defaults *model.AllocationConfig
}

var _ EngineStorage = &DBStorage{}

// NewDBStorage wraps an open database.  defaults fill in any allocation
// parameter the admin has not set.
func NewDBStorage(db *sql.DB, defaults *model.AllocationConfig) *DBStorage {
	if defaults == nil {
		defaults = model.DefaultAllocationConfig()
	}
	return &DBStorage{db: db, defaults: defaults}
}

func (s *DBStorage) DB() *sql.DB {
	return s.db
}

func (s *DBStorage) Close() {
	s.db.Close()
}

func notFound(f string, args ...any) error {
	return he.New(http.StatusNotFound, fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(f, args...)))
}

const selectCycle = `SELECT start_time, end_time, last_updated FROM cycle_state WHERE id = 1`

func (s *DBStorage) fetchCycle(ctx context.Context) (*model.CycleState, error) {
	cs := &model.CycleState{}
	err := s.db.QueryRowContext(ctx, selectCycle).Scan(&cs.StartTime, &cs.EndTime, &cs.LastUpdated)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func (s *DBStorage) CurrentCycle(ctx context.Context, initial *model.CycleState) (*model.CycleState, error) {
	cs, err := s.fetchCycle(ctx)
	if err == nil {
		return cs, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading cycle state: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO cycle_state (id, start_time, end_time, last_updated) VALUES (1, $1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		initial.StartTime, initial.EndTime, initial.LastUpdated); err != nil {
		return nil, fmt.Errorf("creating cycle state: %w", err)
	}

	// Someone else may have won the race; what's stored is authoritative.
	cs, err = s.fetchCycle(ctx)
	if err != nil {
		return nil, fmt.Errorf("re-reading cycle state: %w", err)
	}
	if cs.StartTime == initial.StartTime {
		slog.Info("created initial cycle", "start", cs.Start(), "end", cs.End())
	}
	return cs, nil
}

func (s *DBStorage) SaveCycle(ctx context.Context, cs *model.CycleState) error {
	if cs.EndTime <= cs.StartTime {
		return fmt.Errorf("cycle must end after it starts (%d <= %d)", cs.EndTime, cs.StartTime)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycle_state (id, start_time, end_time, last_updated) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time, last_updated = EXCLUDED.last_updated`,
		cs.StartTime, cs.EndTime, cs.LastUpdated)
	return err
}

func (s *DBStorage) FetchAllocationConfig(ctx context.Context) (*model.AllocationConfig, error) {
	var (
		days    sql.NullFloat64
		winners sql.NullInt64
		fee     sql.NullInt64
	)
	c := *s.defaults
	err := s.db.QueryRowContext(ctx,
		`SELECT cycle_duration_days, number_of_winners, fee_percentage FROM allocation_config WHERE id = 1`).
		Scan(&days, &winners, &fee)
	if errors.Is(err, sql.ErrNoRows) {
		return &c, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading allocation config: %w", err)
	}

	if days.Valid {
		c.CycleDurationDays = days.Float64
	}
	if winners.Valid {
		c.NumberOfWinners = int(winners.Int64)
	}
	if fee.Valid {
		c.FeePercentage = int(fee.Int64)
	}
	return &c, nil
}

func (s *DBStorage) SaveAllocationConfig(ctx context.Context, c *model.AllocationConfig) error {
	if err := c.Validate(); err != nil {
		return he.New(http.StatusBadRequest, err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO allocation_config (id, cycle_duration_days, number_of_winners, fee_percentage) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET cycle_duration_days = EXCLUDED.cycle_duration_days,
		   number_of_winners = EXCLUDED.number_of_winners, fee_percentage = EXCLUDED.fee_percentage`,
		c.CycleDurationDays, c.NumberOfWinners, c.FeePercentage)
	return err
}

func (s *DBStorage) FetchScore(ctx context.Context, walletAddress string) (*model.ScoreRecord, error) {
	rec := &model.ScoreRecord{}
	err := s.db.QueryRowContext(ctx,
		`SELECT wallet_address, score, timestamp_ms, player_name, ip_address FROM scores WHERE wallet_address = $1`,
		walletAddress).Scan(&rec.WalletAddress, &rec.Score, &rec.Timestamp, &rec.PlayerName, &rec.IPAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("no score for %s", walletAddress)
	} else if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *DBStorage) UpsertMaxScore(ctx context.Context, rec *model.ScoreRecord) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO scores (wallet_address, score, timestamp_ms, player_name, ip_address) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (wallet_address) DO UPDATE SET score = EXCLUDED.score, timestamp_ms = EXCLUDED.timestamp_ms,
		   player_name = EXCLUDED.player_name, ip_address = EXCLUDED.ip_address
		 WHERE scores.score < EXCLUDED.score`,
		rec.WalletAddress, rec.Score, rec.Timestamp, rec.PlayerName, rec.IPAddress)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *DBStorage) TopWinners(ctx context.Context, n int) ([]model.Winner, error) {
	winners := []model.Winner{}
	if n <= 0 {
		return winners, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT wallet_address, score, player_name, timestamp_ms FROM scores
		 ORDER BY score DESC, timestamp_ms ASC, wallet_address ASC LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var w model.Winner
		if err := rows.Scan(&w.Address, &w.Score, &w.Name, &w.Timestamp); err != nil {
			return nil, err
		}
		if w.Name == "" {
			w.Name = "Anonymous"
		}
		winners = append(winners, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return winners, nil
}

func (s *DBStorage) CountScores(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scores`).Scan(&n)
	return n, err
}

func (s *DBStorage) ArchiveAndReset(ctx context.Context, name string, cycleStart, cycleEnd, archivedAt int64) (int, error) {
	tx, err := dbutil.NewTx(ctx, s.db, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrArchiveWriteFailed, err)
	}
	defer tx.MaybeRollback()

	// Writers wait until the copy and the clear are both done, so nothing
	// lands between them and gets deleted unarchived.
	if _, err := tx.Exec(ctx, `LOCK TABLE scores IN EXCLUSIVE MODE`); err != nil {
		return 0, fmt.Errorf("%w: lock: %v", ErrArchiveWriteFailed, err)
	}

	result, err := tx.Exec(ctx,
		`INSERT INTO archived_scores (archive_name, wallet_address, score, timestamp_ms, player_name, ip_address, archived_at, cycle_start, cycle_end)
		 SELECT $1, wallet_address, score, timestamp_ms, player_name, ip_address, $2, $3, $4 FROM scores
		 ON CONFLICT (archive_name, wallet_address) DO UPDATE SET score = EXCLUDED.score, timestamp_ms = EXCLUDED.timestamp_ms,
		   player_name = EXCLUDED.player_name, ip_address = EXCLUDED.ip_address, archived_at = EXCLUDED.archived_at,
		   cycle_start = EXCLUDED.cycle_start, cycle_end = EXCLUDED.cycle_end`,
		name, archivedAt, cycleStart, cycleEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: copy to %s: %v", ErrArchiveWriteFailed, name, err)
	}
	archived, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrArchiveWriteFailed, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM scores`); err != nil {
		return 0, fmt.Errorf("clearing live scores: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrArchiveWriteFailed, err)
	}
	slog.Info("archived live scores", "archive", name, "count", archived)
	return int(archived), nil
}

func (s *DBStorage) FetchArchive(ctx context.Context, name string) ([]*model.ArchivedScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT wallet_address, score, timestamp_ms, player_name, archived_at, cycle_start, cycle_end
		 FROM archived_scores WHERE archive_name = $1 ORDER BY score DESC, timestamp_ms ASC, wallet_address ASC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r := []*model.ArchivedScore{}
	for rows.Next() {
		a := &model.ArchivedScore{ArchiveName: name}
		if err := rows.Scan(&a.WalletAddress, &a.Score, &a.Timestamp, &a.PlayerName, &a.ArchivedAt, &a.CycleStart, &a.CycleEnd); err != nil {
			return nil, err
		}
		r = append(r, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *DBStorage) SaveCycleMetadata(ctx context.Context, m *model.CycleMetadata) (bool, error) {
	bytes, err := json.Marshal(m)
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO cycle_metadata (cycle_name, created_at, model_data) VALUES ($1, $2, $3) ON CONFLICT (cycle_name) DO NOTHING`,
		m.CycleName, m.CreatedAt, bytes)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		slog.Warn("cycle metadata already recorded, keeping the original", "cycle", m.CycleName)
	}
	return n == 1, nil
}

func (s *DBStorage) FetchCycleMetadata(ctx context.Context, cycleName string) (*model.CycleMetadata, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx, `SELECT model_data FROM cycle_metadata WHERE cycle_name = $1`, cycleName).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("no cycle named %q", cycleName)
	} else if err != nil {
		return nil, err
	}
	m := &model.CycleMetadata{}
	if err := json.Unmarshal(bytes, m); err != nil {
		return nil, fmt.Errorf("decoding cycle metadata %q: %w", cycleName, err)
	}
	return m, nil
}

func (s *DBStorage) ListCycleMetadata(ctx context.Context, offset, limit int) ([]*model.CycleMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_data FROM cycle_metadata ORDER BY created_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r := []*model.CycleMetadata{}
	for rows.Next() {
		var bytes []byte
		if err := rows.Scan(&bytes); err != nil {
			return nil, err
		}
		m := &model.CycleMetadata{}
		if err := json.Unmarshal(bytes, m); err != nil {
			slog.Warn("skipping undecodable cycle metadata", "error", err)
			continue
		}
		r = append(r, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *DBStorage) SavePayoutIntent(ctx context.Context, pi *model.PayoutIntent) error {
	bytes, err := json.Marshal(pi)
	if err != nil {
		return err
	}
	// An intent whose transaction was sent is kept; recovery needs the
	// winners that transaction paid.
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO payout_intents (cycle_name, created_at, tx_hash, model_data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cycle_name) DO UPDATE SET created_at = EXCLUDED.created_at, tx_hash = EXCLUDED.tx_hash, model_data = EXCLUDED.model_data
		 WHERE payout_intents.tx_hash = ''`,
		pi.CycleName, pi.CreatedAt, pi.TxHash, bytes)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		slog.Warn("keeping payout intent with a sent transaction", "cycle", pi.CycleName)
	}
	return nil
}

func (s *DBStorage) FetchPayoutIntent(ctx context.Context, cycleName string) (*model.PayoutIntent, error) {
	var (
		bytes  []byte
		txHash string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tx_hash, model_data FROM payout_intents WHERE cycle_name = $1`, cycleName).Scan(&txHash, &bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("no payout intent for %q", cycleName)
	} else if err != nil {
		return nil, err
	}
	pi := &model.PayoutIntent{}
	if err := json.Unmarshal(bytes, pi); err != nil {
		return nil, fmt.Errorf("decoding payout intent %q: %w", cycleName, err)
	}
	// The column is written after the transaction lands; the JSON is not.
	pi.TxHash = txHash
	return pi, nil
}

func (s *DBStorage) RecordPayoutTx(ctx context.Context, cycleName string, txHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE payout_intents SET tx_hash = $2 WHERE cycle_name = $1`, cycleName, txHash)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return notFound("no payout intent for %q", cycleName)
	}
	return nil
}
