package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"expensetracker/internal/apperrors"
	"expensetracker/internal/core"
	"expensetracker/internal/ports"
)

var (
	_ ports.TransactionStore = (*SQLiteRepository)(nil)
	_ ports.UserStore        = (*SQLiteRepository)(nil)
)

const (
	insertTransactionSQL = `INSERT INTO transactions
		(id, user_id, amount, description, category, type, date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	updateTransactionSQL = `UPDATE transactions
		SET amount = ?, description = ?, category = ?, type = ?, date = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`
	selectTransactionSQL = `SELECT id, amount, description, category, type, date, created_at
		FROM transactions WHERE id = ? AND user_id = ?`
	listTransactionsSQL = `SELECT id, amount, description, category, type, date, created_at
		FROM transactions WHERE user_id = ?
		ORDER BY date DESC, created_at DESC`
	deleteTransactionSQL = `DELETE FROM transactions WHERE id = ? AND user_id = ?`

	insertUserSQL     = `INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`
	userByEmailSQL    = `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`
	userByIDSQL       = `SELECT id, email, password_hash, created_at FROM users WHERE id = ?`
	uniqueViolationIn = "UNIQUE constraint failed"
)

// SQLiteRepository persists users and transactions in a single SQLite file.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Create(ctx context.Context, userID string, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	now := r.now().UTC()
	tx := core.Transaction{ID: uuid.NewString(), CreatedAt: now}.Apply(in)

	_, err := r.db.ExecContext(ctx, insertTransactionSQL,
		tx.ID, userID, tx.Amount, tx.Description, tx.Category, string(tx.Type), tx.Date,
		now.UnixNano(), now.UnixNano())
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", tx.ID,
		"user_id", userID,
		"type", tx.Type,
		"amount", tx.Amount,
		"date", tx.Date)

	return tx, nil
}

func (r *SQLiteRepository) Replace(ctx context.Context, userID, id string, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	res, err := r.db.ExecContext(ctx, updateTransactionSQL,
		in.Amount, in.Description, in.Category, string(in.Type), in.Date, r.now().UTC().UnixNano(),
		id, userID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	} else if n == 0 {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, apperrors.ErrNotFound)
	}

	row := r.db.QueryRowContext(ctx, selectTransactionSQL, id, userID)
	tx, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("reload transaction %s: %w", id, err)
	}
	return tx, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, deleteTransactionSQL, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, listTransactionsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]core.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) error {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, insertUserSQL, u.ID, email, u.PasswordHash, createdAt.UTC().UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), uniqueViolationIn) {
			return fmt.Errorf("user %s: %w", email, apperrors.ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(r.db.QueryRowContext(ctx, userByEmailSQL, email))
	if err != nil {
		return core.User{}, fmt.Errorf("user %s: %w", email, err)
	}
	return u, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (core.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, userByIDSQL, id))
	if err != nil {
		return core.User{}, fmt.Errorf("user %s: %w", id, err)
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		tx        core.Transaction
		txType    string
		createdAt int64
	)
	if err := s.Scan(&tx.ID, &tx.Amount, &tx.Description, &tx.Category, &txType, &tx.Date, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Transaction{}, apperrors.ErrNotFound
		}
		return core.Transaction{}, err
	}
	tx.Type = core.TransactionType(txType)
	tx.CreatedAt = time.Unix(0, createdAt).UTC()
	return tx, nil
}

func scanUser(s scanner) (core.User, error) {
	var (
		u         core.User
		createdAt int64
	)
	if err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.User{}, apperrors.ErrNotFound
		}
		return core.User{}, err
	}
	u.CreatedAt = time.Unix(0, createdAt).UTC()
	return u, nil
}
