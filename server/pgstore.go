// Copyright 2025 CiclistaApp Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on a pgx connection pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// InitSchema creates the service tables. Idempotent.
func InitSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		createAccountsSQL :=
			/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS accounts (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL,
	phone          TEXT,
	gender         TEXT,
	email          TEXT NOT NULL UNIQUE,
	birth_date     TEXT,
	password       TEXT,
	device_make    TEXT,
	device_model   TEXT,
	device_serial  TEXT,
	app_version    TEXT,
	created_at     TIMESTAMPTZ DEFAULT now()
)
`
		if _, err := tx.Exec(ctx, createAccountsSQL); err != nil {
			return fmt.Errorf("failed to create accounts table: %w", err)
		}

		createRoutesSQL :=
			/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS routes (
	id             BIGSERIAL PRIMARY KEY,
	account_id     BIGINT NOT NULL REFERENCES accounts(id),
	category       TEXT,
	duration       TEXT,
	track          JSONB,
	created_at     TIMESTAMPTZ DEFAULT now()
)
`
		if _, err := tx.Exec(ctx, createRoutesSQL); err != nil {
			return fmt.Errorf("failed to create routes table: %w", err)
		}

		createIndexSQL := `CREATE INDEX IF NOT EXISTS idx_routes_account_id ON routes(account_id)`
		if _, err := tx.Exec(ctx, createIndexSQL); err != nil {
			return fmt.Errorf("failed to create routes account index: %w", err)
		}

		logger.Info("service tables initialized")
		return nil
	})
}

func (s *PGStore) CreateAccount(ctx context.Context, a *Account) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts
			(name, phone, gender, email, birth_date, password,
			 device_make, device_model, device_serial, app_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, a.Name, a.Phone, a.Gender, a.Email, a.BirthDate, a.Password,
		a.DeviceMake, a.DeviceModel, a.DeviceSerial, a.AppVersion).Scan(&id)
	if err != nil {
		if isPGErrCode(err, "23505") { // unique_violation
			return 0, ErrDuplicateEmail
		}
		return 0, fmt.Errorf("failed to insert account: %w", err)
	}
	return id, nil
}

func (s *PGStore) CreateRoute(ctx context.Context, r *Route) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO routes (account_id, category, duration, track)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, r.AccountID, r.Category, r.Duration, r.Track).Scan(&id)
	if err != nil {
		if isPGErrCode(err, "23503") { // foreign_key_violation
			return 0, ErrUnknownAccount
		}
		return 0, fmt.Errorf("failed to insert route: %w", err)
	}
	return id, nil
}

func (s *PGStore) AccountIDByEmail(ctx context.Context, email string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM accounts WHERE email = $1`, email).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query account by email: %w", err)
	}
	return id, nil
}

func isPGErrCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == code
}
