package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/greenpoints/internal/domain/model"
	"github.com/okian/greenpoints/pkg/metrics"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// sqliteMigrations are applied in order on open, one statement each.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS balances (
		account_id TEXT PRIMARY KEY,
		balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id             TEXT PRIMARY KEY,
		account_id     TEXT NOT NULL,
		item_reference TEXT NOT NULL,
		item_name      TEXT NOT NULL DEFAULT '',
		proof_digest   TEXT NOT NULL,
		external_score INTEGER NOT NULL,
		awarded_units  INTEGER NOT NULL,
		balance        INTEGER NOT NULL,
		created_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS submissions_by_account ON submissions (account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS distributions (
		id         TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		payload    TEXT NOT NULL
	)`,
}

// SQLiteLedger persists balances in a SQLite database. The database is opened
// with a single connection, so SQLite's write lock serializes every mutation.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLedger opens (creating if needed) the ledger database at path.
func NewSQLiteLedger(ctx context.Context, path string, opts ...Option) (*SQLiteLedger, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite ledger: empty path: %w", model.ErrInvalidArgument)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range sqliteMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite ledger: %w", err)
		}
	}
	return &SQLiteLedger{db: db, now: o.now}, nil
}

// Register implements Ledger.
func (l *SQLiteLedger) Register(ctx context.Context, accountID string) error {
	if accountID == "" {
		return fmt.Errorf("register: empty account id: %w", model.ErrInvalidArgument)
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO balances (account_id, balance, updated_at) VALUES (?, 0, ?)
		 ON CONFLICT(account_id) DO NOTHING`,
		accountID, l.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("register %s: %w", accountID, err)
	}
	return nil
}

// Credit implements Ledger.
func (l *SQLiteLedger) Credit(ctx context.Context, accountID string, units int64) (int64, error) {
	start := time.Now()
	defer func() {
		metrics.RecordLedgerLatency("credit", float64(time.Since(start).Microseconds())/1000)
	}()

	if accountID == "" {
		return 0, fmt.Errorf("credit: empty account id: %w", model.ErrInvalidArgument)
	}
	if units <= 0 {
		return 0, fmt.Errorf("credit %d units: %w", units, model.ErrInvalidArgument)
	}

	var bal int64
	err := l.db.QueryRowContext(ctx,
		`INSERT INTO balances (account_id, balance, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
			balance = balance + excluded.balance,
			updated_at = excluded.updated_at
		 RETURNING balance`,
		accountID, units, l.now().UnixMilli()).Scan(&bal)
	if err != nil {
		return 0, fmt.Errorf("credit %s: %w", accountID, err)
	}
	return bal, nil
}

// CreditSubmission implements Ledger.
func (l *SQLiteLedger) CreditSubmission(ctx context.Context, sub model.Submission) (_ model.Submission, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordLedgerLatency("credit_submission", float64(time.Since(start).Microseconds())/1000)
	}()

	if err := validSubmission(sub); err != nil {
		return model.Submission{}, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Submission{}, fmt.Errorf("credit submission: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO balances (account_id, balance, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
			balance = balance + excluded.balance,
			updated_at = excluded.updated_at
		 RETURNING balance`,
		sub.AccountID, sub.AwardedUnits, l.now().UnixMilli()).Scan(&sub.Balance)
	if err != nil {
		return model.Submission{}, fmt.Errorf("credit %s: %w", sub.AccountID, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO submissions (id, account_id, item_reference, item_name, proof_digest,
			external_score, awarded_units, balance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sub.ID, sub.AccountID, sub.ItemReference, sub.ItemName, sub.ProofDigest,
		sub.ExternalScore, sub.AwardedUnits, sub.Balance, sub.CreatedAt.UTC().UnixNano())
	if err != nil {
		return model.Submission{}, fmt.Errorf("record submission %s: %w", sub.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Submission{}, fmt.Errorf("record submission %s: %w", sub.ID, err)
	}
	if n == 0 {
		err = fmt.Errorf("submission %s: %w", sub.ID, model.ErrDuplicateSubmission)
		return model.Submission{}, err
	}

	if err = tx.Commit(); err != nil {
		return model.Submission{}, fmt.Errorf("credit submission: commit: %w", err)
	}
	return sub, nil
}

// Submissions implements Ledger.
func (l *SQLiteLedger) Submissions(ctx context.Context, accountID string, limit int) ([]model.Submission, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, account_id, item_reference, item_name, proof_digest,
			external_score, awarded_units, balance, created_at
		 FROM submissions WHERE account_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("submissions %s: %w", accountID, err)
	}
	defer rows.Close()

	out := []model.Submission{}
	for rows.Next() {
		var (
			sub     model.Submission
			created int64
		)
		if err := rows.Scan(&sub.ID, &sub.AccountID, &sub.ItemReference, &sub.ItemName, &sub.ProofDigest,
			&sub.ExternalScore, &sub.AwardedUnits, &sub.Balance, &created); err != nil {
			return nil, fmt.Errorf("submissions scan: %w", err)
		}
		sub.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("submissions rows: %w", err)
	}
	return out, nil
}

// SaveDistribution implements Ledger. The event is stored as JSON.
func (l *SQLiteLedger) SaveDistribution(ctx context.Context, evt model.DistributionEvent) error {
	if evt.ID == "" {
		return fmt.Errorf("save distribution: empty id: %w", model.ErrInvalidArgument)
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode distribution %s: %w", evt.ID, err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO distributions (id, started_at, payload) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		evt.ID, evt.StartedAt.UTC().UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("save distribution %s: %w", evt.ID, err)
	}
	return nil
}

// LoadDistributions implements Ledger.
func (l *SQLiteLedger) LoadDistributions(ctx context.Context, limit int) ([]model.DistributionEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT payload FROM distributions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load distributions: %w", err)
	}
	defer rows.Close()

	out := []model.DistributionEvent{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("load distributions scan: %w", err)
		}
		var evt model.DistributionEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			return nil, fmt.Errorf("decode distribution: %w", err)
		}
		if evt.Disbursements == nil {
			evt.Disbursements = map[string]model.Disbursement{}
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load distributions rows: %w", err)
	}
	return out, nil
}

// Balance implements Ledger.
func (l *SQLiteLedger) Balance(ctx context.Context, accountID string) (int64, error) {
	var bal int64
	err := l.db.QueryRowContext(ctx, `SELECT balance FROM balances WHERE account_id = ?`, accountID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", accountID, err)
	}
	return bal, nil
}

// SnapshotAll implements Ledger.
func (l *SQLiteLedger) SnapshotAll(ctx context.Context) (map[string]int64, error) {
	return snapshot(ctx, l.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func snapshot(ctx context.Context, q querier) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT account_id, balance FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id  string
			bal int64
		)
		if err := rows.Scan(&id, &bal); err != nil {
			return nil, fmt.Errorf("snapshot scan: %w", err)
		}
		out[id] = bal
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot rows: %w", err)
	}
	return out, nil
}

// ResetAll implements Ledger.
func (l *SQLiteLedger) ResetAll(ctx context.Context, accountIDs []string) (err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `UPDATE balances SET balance = 0, updated_at = ? WHERE account_id = ?`)
	if err != nil {
		return fmt.Errorf("reset: prepare: %w", err)
	}
	defer stmt.Close()

	now := l.now().UnixMilli()
	for _, id := range accountIDs {
		if _, err = stmt.ExecContext(ctx, now, id); err != nil {
			return fmt.Errorf("reset %s: %w", id, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("reset: commit: %w", err)
	}
	return nil
}

// Drain implements Ledger.
func (l *SQLiteLedger) Drain(ctx context.Context) (_ map[string]int64, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordLedgerLatency("drain", float64(time.Since(start).Microseconds())/1000)
	}()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("drain: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	snap, err := snapshot(ctx, tx)
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE balances SET balance = 0, updated_at = ? WHERE balance <> 0`, l.now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("drain: reset: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("drain: commit: %w", err)
	}
	return snap, nil
}

// Count implements Ledger. Query failures count as zero.
func (l *SQLiteLedger) Count(ctx context.Context) int {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM balances`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
