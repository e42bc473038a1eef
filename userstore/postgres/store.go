// Package postgres is an [authgate.UserProvider] backed by PostgreSQL
// through database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Schema creates the users table. Email is stored normalized; the unique
// index backs ErrProviderDuplicateEmail.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id                            TEXT PRIMARY KEY,
	email                         TEXT NOT NULL,
	first_name                    TEXT NOT NULL DEFAULT '',
	last_name                     TEXT NOT NULL DEFAULT '',
	password_hash                 TEXT NOT NULL,
	email_verified                BOOLEAN NOT NULL DEFAULT FALSE,
	active                        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at                    TIMESTAMPTZ NOT NULL,
	last_login_at                 TIMESTAMPTZ,
	email_verification_token      TEXT,
	email_verification_expires_at TIMESTAMPTZ,
	password_reset_token          TEXT,
	password_reset_expires_at     TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (email);
CREATE INDEX IF NOT EXISTS users_email_verification_token_idx ON users (email_verification_token);
CREATE INDEX IF NOT EXISTS users_password_reset_token_idx ON users (password_reset_token);
`

const selectColumns = `id, email, first_name, last_name, password_hash, email_verified, active,
	created_at, last_login_at,
	email_verification_token, email_verification_expires_at,
	password_reset_token, password_reset_expires_at`

// Store implements authgate.UserProvider on a *sql.DB.
type Store struct {
	db *sql.DB
}

// New wraps db. The caller owns the connection pool.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres: database connection is required")
	}
	return &Store{db: db}, nil
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (authgate.UserRecord, error) {
	var (
		u                      authgate.UserRecord
		lastLogin              sql.NullTime
		verifyToken, resetTok  sql.NullString
		verifyExpiry, resetExp sql.NullTime
	)
	err := row.Scan(
		&u.UserID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.EmailVerified, &u.Active,
		&u.CreatedAt, &lastLogin,
		&verifyToken, &verifyExpiry,
		&resetTok, &resetExp,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authgate.UserRecord{}, authgate.ErrProviderNotFound
		}
		return authgate.UserRecord{}, fmt.Errorf("postgres: scan user: %w", err)
	}

	if lastLogin.Valid {
		u.LastLoginAt = lastLogin.Time
	}
	if verifyToken.Valid && verifyExpiry.Valid {
		u.EmailVerification.Set(verifyToken.String, verifyExpiry.Time)
	}
	if resetTok.Valid && resetExp.Valid {
		u.PasswordReset.Set(resetTok.String, resetExp.Time)
	}
	return u, nil
}

func tokenArgs(t authgate.AccountToken) (sql.NullString, sql.NullTime) {
	if !t.Pending() {
		return sql.NullString{}, sql.NullTime{}
	}
	return sql.NullString{String: t.Value, Valid: true}, sql.NullTime{Time: t.ExpiresAt, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (authgate.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM users WHERE email = $1`, normalizeEmail(email))
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (authgate.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// FindUserByToken looks the token up by its indexed column.
func (s *Store) FindUserByToken(ctx context.Context, kind authgate.TokenKind, token string) (authgate.UserRecord, error) {
	if token == "" {
		return authgate.UserRecord{}, authgate.ErrProviderNotFound
	}

	var column string
	switch kind {
	case authgate.TokenEmailVerification:
		column = "email_verification_token"
	case authgate.TokenPasswordReset:
		column = "password_reset_token"
	default:
		return authgate.UserRecord{}, authgate.ErrProviderNotFound
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM users WHERE `+column+` = $1`, token)
	return scanUser(row)
}

// CreateUser inserts user. A unique violation on email maps to
// authgate.ErrProviderDuplicateEmail.
func (s *Store) CreateUser(ctx context.Context, user authgate.UserRecord) (authgate.UserRecord, error) {
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	user.Email = normalizeEmail(user.Email)
	verifyToken, verifyExpiry := tokenArgs(user.EmailVerification)
	resetToken, resetExpiry := tokenArgs(user.PasswordReset)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, first_name, last_name, password_hash, email_verified, active,
			created_at, last_login_at,
			email_verification_token, email_verification_expires_at,
			password_reset_token, password_reset_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		user.UserID, user.Email, user.FirstName, user.LastName, user.PasswordHash, user.EmailVerified, user.Active,
		user.CreatedAt, nullTime(user.LastLoginAt),
		verifyToken, verifyExpiry,
		resetToken, resetExpiry,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return authgate.UserRecord{}, authgate.ErrProviderDuplicateEmail
		}
		return authgate.UserRecord{}, fmt.Errorf("postgres: insert user: %w", err)
	}
	return user, nil
}

// UpdateUser locks the row with SELECT ... FOR UPDATE, applies mutate and
// writes every mutable column back in the same transaction. A mutate error
// rolls back.
func (s *Store) UpdateUser(ctx context.Context, userID string, mutate func(*authgate.UserRecord) error) (authgate.UserRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authgate.UserRecord{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	user, err := scanUser(row)
	if err != nil {
		return authgate.UserRecord{}, err
	}

	if err := mutate(&user); err != nil {
		return authgate.UserRecord{}, err
	}
	user.UserID = userID
	user.Email = normalizeEmail(user.Email)
	verifyToken, verifyExpiry := tokenArgs(user.EmailVerification)
	resetToken, resetExpiry := tokenArgs(user.PasswordReset)

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET email = $2, first_name = $3, last_name = $4, password_hash = $5,
			email_verified = $6, active = $7, last_login_at = $8,
			email_verification_token = $9, email_verification_expires_at = $10,
			password_reset_token = $11, password_reset_expires_at = $12
		WHERE id = $1`,
		userID, user.Email, user.FirstName, user.LastName, user.PasswordHash,
		user.EmailVerified, user.Active, nullTime(user.LastLoginAt),
		verifyToken, verifyExpiry,
		resetToken, resetExpiry,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return authgate.UserRecord{}, authgate.ErrProviderDuplicateEmail
		}
		return authgate.UserRecord{}, fmt.Errorf("postgres: update user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return authgate.UserRecord{}, fmt.Errorf("postgres: commit: %w", err)
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
