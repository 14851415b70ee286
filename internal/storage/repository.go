package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"piggysaving/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

// DSN builds the modernc connection string for dbPath.
func DSN(dbPath string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dbPath)
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// NewSQLiteRepositoryFromDB wraps an already migrated connection.
func NewSQLiteRepositoryFromDB(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// FetchSavings returns every saving ordered by date ascending.
func (r *SQLiteRepository) FetchSavings(ctx context.Context) ([]core.SavingRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, date, amount, confirmed FROM records WHERE kind = 'saving' ORDER BY date ASC`)
	if err != nil {
		return nil, persistence("query savings", err)
	}
	defer rows.Close()

	var out []core.SavingRecord
	for rows.Next() {
		var (
			id, date, amount string
			confirmed        bool
		)
		if err := rows.Scan(&id, &date, &amount, &confirmed); err != nil {
			return nil, persistence("scan saving", err)
		}
		rec, err := toSaving(id, date, amount, confirmed)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate savings", err)
	}
	return out, nil
}

// FetchCosts returns every withdrawal ordered by date ascending, then insertion order.
func (r *SQLiteRepository) FetchCosts(ctx context.Context) ([]core.CostRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, date, amount FROM records WHERE kind = 'cost' ORDER BY date ASC, created_at ASC, rowid ASC`)
	if err != nil {
		return nil, persistence("query costs", err)
	}
	defer rows.Close()

	var out []core.CostRecord
	for rows.Next() {
		var id, date, amount string
		if err := rows.Scan(&id, &date, &amount); err != nil {
			return nil, persistence("scan cost", err)
		}
		d, err := core.ParseDate(date)
		if err != nil {
			return nil, persistence("parse cost date", err)
		}
		a, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, persistence("parse cost amount", err)
		}
		out = append(out, core.CostRecord{ID: id, Date: d, Amount: a})
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate costs", err)
	}
	return out, nil
}

// MarkConfirmed confirms the saving for date inside a single transaction.
// Confirming an already confirmed saving is a no-op.
func (r *SQLiteRepository) MarkConfirmed(ctx context.Context, date core.Date) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin transaction", err)
	}
	defer tx.Rollback()

	var (
		id        string
		confirmed bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, confirmed FROM records WHERE date = ? AND kind = 'saving'`, date.String()).
		Scan(&id, &confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("confirm saving %s: %w", date, core.ErrRecordNotFound)
	}
	if err != nil {
		return persistence("lookup saving", err)
	}

	if !confirmed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET confirmed = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
			return persistence("update saving", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistence("commit confirmation", err)
	}

	slog.InfoContext(ctx, "Saving confirmed in SQLite", "id", id, "date", date.String(), "already_confirmed", confirmed)
	return nil
}

// InsertCost persists a withdrawal. A missing ID is filled with a new UUID.
func (r *SQLiteRepository) InsertCost(ctx context.Context, c core.CostRecord) (core.CostRecord, error) {
	if err := c.Validate(); err != nil {
		return core.CostRecord{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO records (id, kind, date, amount) VALUES (?, 'cost', ?, ?)`,
		c.ID, c.Date.String(), c.Amount.String()); err != nil {
		return core.CostRecord{}, persistence("insert cost", err)
	}

	slog.InfoContext(ctx, "Cost saved to SQLite", "id", c.ID, "date", c.Date.String(), "amount", c.Amount.String())
	return c, nil
}

// SeedSaving creates the saving for date unless one already exists. It
// returns the stored record and whether it was created by this call.
func (r *SQLiteRepository) SeedSaving(ctx context.Context, date core.Date, amount decimal.Decimal) (core.SavingRecord, bool, error) {
	rec := core.SavingRecord{ID: uuid.NewString(), Date: date, Amount: amount}
	if err := rec.Validate(); err != nil {
		return core.SavingRecord{}, false, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO records (id, kind, date, amount, confirmed) VALUES (?, 'saving', ?, ?, 0)
		 ON CONFLICT DO NOTHING`,
		rec.ID, date.String(), amount.String())
	if err != nil {
		return core.SavingRecord{}, false, persistence("insert saving", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.SavingRecord{}, false, persistence("insert saving", err)
	}
	if n == 1 {
		slog.InfoContext(ctx, "Saving seeded in SQLite", "id", rec.ID, "date", date.String(), "amount", amount.String())
		return rec, true, nil
	}

	existing, err := r.savingByDate(ctx, date)
	if err != nil {
		return core.SavingRecord{}, false, err
	}
	return existing, false, nil
}

// Last returns the most recent saving.
func (r *SQLiteRepository) Last(ctx context.Context) (core.SavingRecord, error) {
	var (
		id, date, amount string
		confirmed        bool
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, date, amount, confirmed FROM records WHERE kind = 'saving' ORDER BY date DESC LIMIT 1`).
		Scan(&id, &date, &amount, &confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SavingRecord{}, core.ErrRecordNotFound
	}
	if err != nil {
		return core.SavingRecord{}, persistence("query last saving", err)
	}
	return toSaving(id, date, amount, confirmed)
}

// Sum returns the total of confirmed savings. Amounts are stored as text so
// the sum is computed with decimal arithmetic rather than SQL SUM.
func (r *SQLiteRepository) Sum(ctx context.Context) (decimal.Decimal, error) {
	savings, err := r.FetchSavings(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return core.ComputeTotals(savings, nil, decimal.NullDecimal{}).CumulativeSaved, nil
}

func (r *SQLiteRepository) savingByDate(ctx context.Context, date core.Date) (core.SavingRecord, error) {
	var (
		id, d, amount string
		confirmed     bool
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, date, amount, confirmed FROM records WHERE date = ? AND kind = 'saving'`, date.String()).
		Scan(&id, &d, &amount, &confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SavingRecord{}, core.ErrRecordNotFound
	}
	if err != nil {
		return core.SavingRecord{}, persistence("lookup saving", err)
	}
	return toSaving(id, d, amount, confirmed)
}

func toSaving(id, date, amount string, confirmed bool) (core.SavingRecord, error) {
	d, err := core.ParseDate(date)
	if err != nil {
		return core.SavingRecord{}, persistence("parse saving date", err)
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return core.SavingRecord{}, persistence("parse saving amount", err)
	}
	return core.SavingRecord{ID: id, Date: d, Amount: a, Confirmed: confirmed}, nil
}

func persistence(op string, err error) error {
	return &core.PersistenceError{Err: fmt.Errorf("%s: %w", op, err)}
}
