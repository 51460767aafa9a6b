// Package storage is the SQLite persistence gateway.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/gateway"

	_ "modernc.org/sqlite"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// every query method works both standalone and inside RunInTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteRepository struct {
	db *sql.DB
	q  querier
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, q: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RunInTx runs fn against a repository bound to one SQLite transaction.
// SQLite serializes writers, which also closes the balance-check race
// between concurrent transfers off the same account.
func (r *SQLiteRepository) RunInTx(ctx context.Context, fn func(gateway.Gateway) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	scoped := &SQLiteRepository{db: r.db, q: tx}
	if err := fn(scoped); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const accountColumns = `id, name, type, currency, initial_balance, active,
	has_dps, dps_type, dps_amount_type, dps_fixed_amount, dps_percent,
	dps_savings_account_id, dps_start_date, dps_last_run, created_at`

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s: %w", id, gateway.ErrNotFound)
	}
	return a, err
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Type, a.Currency, a.InitialBalance.Units, a.Active,
		a.HasDPS, a.DPSType, a.DPSAmountType, a.DPSFixedAmount.Units,
		a.DPSPercent.String(), a.DPSSavingsAccountID,
		nullTime(a.DPSStartDate), nullTime(a.DPSLastRun), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateAccount(ctx context.Context, a core.Account) error {
	var prevCurrency string
	err := r.q.QueryRowContext(ctx,
		`SELECT currency FROM accounts WHERE id = ?`, a.ID).Scan(&prevCurrency)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("account %s: %w", a.ID, gateway.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	if string(a.Currency) != prevCurrency {
		n, err := r.countTransactions(ctx, a.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return core.ErrCurrencyImmutable
		}
	}

	_, err = r.q.ExecContext(ctx,
		`UPDATE accounts SET name = ?, type = ?, currency = ?, initial_balance = ?,
		 active = ?, has_dps = ?, dps_type = ?, dps_amount_type = ?,
		 dps_fixed_amount = ?, dps_percent = ?, dps_savings_account_id = ?,
		 dps_start_date = ?, dps_last_run = ?
		 WHERE id = ?`,
		a.Name, a.Type, a.Currency, a.InitialBalance.Units,
		a.Active, a.HasDPS, a.DPSType, a.DPSAmountType,
		a.DPSFixedAmount.Units, a.DPSPercent.String(), a.DPSSavingsAccountID,
		nullTime(a.DPSStartDate), nullTime(a.DPSLastRun), a.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAccount(ctx context.Context, id string) error {
	n, err := r.countTransactions(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return core.ErrAccountInUse
	}

	res, err := r.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %s: %w", id, gateway.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) countTransactions(ctx context.Context, accountID string) (int64, error) {
	var n int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = ?`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

const transactionColumns = `seq, id, account_id, type, amount, currency,
	category, date, note, tags, display_code, created_at`

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, gateway.ErrNotFound)
	}
	return tx, err
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, accountID string, f gateway.Filter) ([]core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	var args []any
	if accountID != "" {
		query += ` AND account_id = ?`
		args = append(args, accountID)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if !f.Since.IsZero() {
		query += ` AND date >= ?`
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += ` AND date <= ?`
		args = append(args, f.Until)
	}
	query += ` ORDER BY seq`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx *core.Transaction) error {
	var exists int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE id = ?`, tx.AccountID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check account: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("account %s: %w", tx.AccountID, gateway.ErrNotFound)
	}

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO transactions (id, account_id, type, amount, currency,
		 category, date, note, tags, display_code, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Type, tx.Amount.Units, tx.Currency,
		tx.Category, tx.Date, tx.Note, encodeTags(tx.Tags), tx.DisplayCode, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	// seq is the AUTOINCREMENT rowid assigned by this insert.
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read assigned seq: %w", err)
	}
	tx.Seq = seq
	return nil
}

func (r *SQLiteRepository) InsertAllocation(ctx context.Context, rec core.DonationSavingRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO donation_saving_records
		 (id, transaction_id, mode, mode_value, amount, currency, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TransactionID, rec.Mode, rec.ModeValue.String(),
		rec.Amount.Units, rec.Currency, rec.Status, rec.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "donation_saving_records.transaction_id") {
			return core.ErrAlreadyAllocated
		}
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

const allocationColumns = `id, transaction_id, mode, mode_value, amount, currency, status, created_at`

func (r *SQLiteRepository) GetAllocationByTransaction(ctx context.Context, transactionID string) (core.DonationSavingRecord, bool, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+allocationColumns+` FROM donation_saving_records WHERE transaction_id = ?`,
		transactionID)
	rec, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DonationSavingRecord{}, false, nil
	}
	if err != nil {
		return core.DonationSavingRecord{}, false, err
	}
	return rec, true, nil
}

func (r *SQLiteRepository) GetAllocation(ctx context.Context, id string) (core.DonationSavingRecord, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+allocationColumns+` FROM donation_saving_records WHERE id = ?`, id)
	rec, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DonationSavingRecord{}, fmt.Errorf("allocation %s: %w", id, gateway.ErrNotFound)
	}
	return rec, err
}

func (r *SQLiteRepository) UpdateAllocationStatus(ctx context.Context, id string, status core.AllocationStatus) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE donation_saving_records SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update allocation status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update allocation status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("allocation %s: %w", id, gateway.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListAllocations(ctx context.Context) ([]core.DonationSavingRecord, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+allocationColumns+` FROM donation_saving_records ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []core.DonationSavingRecord
	for rows.Next() {
		rec, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) InsertDPSTransfer(ctx context.Context, rec core.DPSTransferRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO dps_transfers
		 (id, correlator, from_account_id, to_account_id, amount, direction, date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Correlator, rec.FromAccountID, rec.ToAccountID,
		rec.Amount.Units, rec.Direction, rec.Date, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dps transfer: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListDPSTransfers(ctx context.Context, accountID string) ([]core.DPSTransferRecord, error) {
	query := `SELECT id, correlator, from_account_id, to_account_id, amount, direction, date, created_at
		 FROM dps_transfers`
	var args []any
	if accountID != "" {
		query += ` WHERE from_account_id = ? OR to_account_id = ?`
		args = append(args, accountID, accountID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dps transfers: %w", err)
	}
	defer rows.Close()

	var out []core.DPSTransferRecord
	for rows.Next() {
		var rec core.DPSTransferRecord
		if err := rows.Scan(&rec.ID, &rec.Correlator, &rec.FromAccountID, &rec.ToAccountID,
			&rec.Amount.Units, &rec.Direction, &rec.Date, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dps transfer: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateGoal(ctx context.Context, g core.SavingsGoal) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO savings_goals
		 (id, name, target_amount, current_amount, source_account_id, savings_account_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.TargetAmount.Units, g.CurrentAmount.Units,
		g.SourceAccountID, g.SavingsAccountID, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("create goal: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListGoals(ctx context.Context) ([]core.SavingsGoal, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, target_amount, current_amount, source_account_id, savings_account_id, created_at
		 FROM savings_goals ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var out []core.SavingsGoal
	for rows.Next() {
		var g core.SavingsGoal
		if err := rows.Scan(&g.ID, &g.Name, &g.TargetAmount.Units, &g.CurrentAmount.Units,
			&g.SourceAccountID, &g.SavingsAccountID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) AddToGoal(ctx context.Context, id string, delta core.Money) error {
	// The guard in WHERE keeps administrative corrections from driving the
	// accumulated amount below zero.
	res, err := r.q.ExecContext(ctx,
		`UPDATE savings_goals SET current_amount = current_amount + ?
		 WHERE id = ? AND current_amount + ? >= 0`,
		delta.Units, id, delta.Units)
	if err != nil {
		return fmt.Errorf("add to goal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add to goal: %w", err)
	}
	if affected == 0 {
		var n int64
		if err := r.q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM savings_goals WHERE id = ?`, id).Scan(&n); err != nil {
			return fmt.Errorf("add to goal: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("goal %s: %w", id, gateway.ErrNotFound)
		}
		return core.ErrInvalidAmount
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (core.Account, error) {
	var a core.Account
	var percent string
	var startDate, lastRun sql.NullTime
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Currency, &a.InitialBalance.Units, &a.Active,
		&a.HasDPS, &a.DPSType, &a.DPSAmountType, &a.DPSFixedAmount.Units, &percent,
		&a.DPSSavingsAccountID, &startDate, &lastRun, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Account{}, err
		}
		return core.Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.DPSPercent, err = decimal.NewFromString(percent)
	if err != nil {
		return core.Account{}, fmt.Errorf("parse dps percent %q: %w", percent, err)
	}
	if startDate.Valid {
		a.DPSStartDate = startDate.Time
	}
	if lastRun.Valid {
		a.DPSLastRun = lastRun.Time
	}
	return a, nil
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var tx core.Transaction
	var tags string
	err := row.Scan(&tx.Seq, &tx.ID, &tx.AccountID, &tx.Type, &tx.Amount.Units, &tx.Currency,
		&tx.Category, &tx.Date, &tx.Note, &tags, &tx.DisplayCode, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Transaction{}, err
		}
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	tx.Tags = decodeTags(tags)
	return tx, nil
}

func scanAllocation(row rowScanner) (core.DonationSavingRecord, error) {
	var rec core.DonationSavingRecord
	var modeValue string
	err := row.Scan(&rec.ID, &rec.TransactionID, &rec.Mode, &modeValue,
		&rec.Amount.Units, &rec.Currency, &rec.Status, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.DonationSavingRecord{}, err
		}
		return core.DonationSavingRecord{}, fmt.Errorf("scan allocation: %w", err)
	}
	rec.ModeValue, err = decimal.NewFromString(modeValue)
	if err != nil {
		return core.DonationSavingRecord{}, fmt.Errorf("parse mode value %q: %w", modeValue, err)
	}
	return rec, nil
}

// encodeTags packs the tag sequence into one column. Tags are positional, so
// the separator must never reorder or drop elements; empty tags round-trip.
func encodeTags(tags []string) string {
	return strings.Join(tags, "|")
}

func decodeTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "|")
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
