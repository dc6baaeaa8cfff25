// Copyright 2025 CiclistaApp Authors
// SPDX-License-Identifier: Apache-2.0

// Package localstore provides the on-device SQLite storage for the
// cycling app: registered accounts and recorded routes, each carrying a
// pending-sync marker consumed by the sync engine.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("localstore: not found")

// Account represents one registered rider on this device.
//
// ID is assigned by SQLite and immutable. Email is the lookup key used to
// match this account against its remote counterpart, so it must be
// non-empty for any account that is expected to sync. Pending starts true
// and is flipped to false by the sync engine once the remote service has
// confirmed creation; a non-pending account is never re-submitted.
type Account struct {
	ID        int64
	Name      string
	Phone     string
	Gender    string
	Email     string
	BirthDate string
	Password  string

	// Device fields captured at registration time.
	DeviceMake   string
	DeviceModel  string
	DeviceSerial string
	AppVersion   string

	Pending bool
}

// Route represents one completed tracked ride.
//
// Track holds the serialized ordered geo-point sequence. The store and
// the sync engine treat it as an opaque JSON document; only the recording
// flow interprets it (see TrackPoint).
type Route struct {
	ID        int64
	AccountID int64
	Category  string
	Track     json.RawMessage
	Duration  string
	Pending   bool
}

// Store wraps the SQLite database holding the two local collections.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the local database at path and
// bootstraps the schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one pooled connection avoids
	// SQLITE_BUSY churn and keeps ":memory:" databases stable.
	db.SetMaxOpenConns(1)

	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore initializes the schema on an already-open database.
func NewStore(db *sql.DB) (*Store, error) {
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

// SetLogger replaces the store logger (defaults to slog.Default()).
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// DB exposes the underlying handle for callers that need raw access.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			name           TEXT NOT NULL,
			phone          TEXT,
			gender         TEXT,
			email          TEXT NOT NULL,
			birth_date     TEXT,
			password       TEXT,
			device_make    TEXT,
			device_model   TEXT,
			device_serial  TEXT,
			app_version    TEXT,
			pending_sync   INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS routes (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id     INTEGER NOT NULL,
			category       TEXT,
			track          TEXT,
			duration       TEXT,
			pending_sync   INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (account_id) REFERENCES accounts (id)
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// migrateSchema adds columns introduced after the first release to
// databases created by older app versions. Columns are only ever added,
// never dropped or retyped.
func migrateSchema(db *sql.DB) error {
	type column struct {
		name string
		ddl  string
	}
	migrations := map[string][]column{
		"accounts": {
			{"device_make", "TEXT"},
			{"device_model", "TEXT"},
			{"device_serial", "TEXT"},
			{"app_version", "TEXT"},
			{"pending_sync", "INTEGER NOT NULL DEFAULT 1"},
		},
		"routes": {
			{"pending_sync", "INTEGER NOT NULL DEFAULT 1"},
		},
	}

	for table, cols := range migrations {
		existing, err := tableColumns(db, table)
		if err != nil {
			return err
		}
		for _, col := range cols {
			if existing[col.name] {
				continue
			}
			stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, col.name, col.ddl)
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", table, col.name, err)
			}
		}
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// InsertAccount stores a new account with pending_sync=1 and returns its
// local id.
func (s *Store) InsertAccount(ctx context.Context, a *Account) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts
			(name, phone, gender, email, birth_date, password,
			 device_make, device_model, device_serial, app_version, pending_sync)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, a.Name, a.Phone, a.Gender, a.Email, a.BirthDate, a.Password,
		a.DeviceMake, a.DeviceModel, a.DeviceSerial, a.AppVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read account id: %w", err)
	}
	s.logger.Debug("account stored", "id", id, "email", a.Email)
	return id, nil
}

// InsertRoute stores a completed ride with pending_sync=1 and returns its
// local id. The owning account must exist.
func (s *Store) InsertRoute(ctx context.Context, r *Route) (int64, error) {
	track := r.Track
	if len(track) == 0 {
		track = json.RawMessage("[]")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO routes (account_id, category, track, duration, pending_sync)
		VALUES (?, ?, ?, ?, 1)
	`, r.AccountID, r.Category, string(track), r.Duration)
	if err != nil {
		return 0, fmt.Errorf("failed to insert route: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read route id: %w", err)
	}
	s.logger.Debug("route stored", "id", id, "account_id", r.AccountID, "category", r.Category)
	return id, nil
}

// ListAccounts returns all accounts in insertion order.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

// ListPendingAccounts returns accounts not yet confirmed by the remote
// service, in insertion order.
func (s *Store) ListPendingAccounts(ctx context.Context) ([]Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE pending_sync = 1 ORDER BY id`)
}

const accountColumns = `id, name, phone, gender, email, birth_date, password,
	device_make, device_model, device_serial, app_version, pending_sync`

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		a       Account
		pending int

		phone, gender, birthDate, password                sql.NullString
		deviceMake, deviceModel, deviceSerial, appVersion sql.NullString
	)
	err := row.Scan(&a.ID, &a.Name, &phone, &gender, &a.Email, &birthDate, &password,
		&deviceMake, &deviceModel, &deviceSerial, &appVersion, &pending)
	if err != nil {
		return Account{}, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Phone = phone.String
	a.Gender = gender.String
	a.BirthDate = birthDate.String
	a.Password = password.String
	a.DeviceMake = deviceMake.String
	a.DeviceModel = deviceModel.String
	a.DeviceSerial = deviceSerial.String
	a.AppVersion = appVersion.String
	a.Pending = pending == 1
	return a, nil
}

// AccountByCredentials returns the account matching the given email and
// password, or ErrNotFound. Used by the login flow.
func (s *Store) AccountByCredentials(ctx context.Context, email, password string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE email = ? AND password = ? LIMIT 1
	`, email, password)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListRoutes returns all routes in insertion order.
func (s *Store) ListRoutes(ctx context.Context) ([]Route, error) {
	return s.queryRoutes(ctx, `SELECT `+routeColumns+` FROM routes ORDER BY id`)
}

// ListRoutesByAccount returns the routes recorded under one account.
func (s *Store) ListRoutesByAccount(ctx context.Context, accountID int64) ([]Route, error) {
	return s.queryRoutes(ctx, `SELECT `+routeColumns+` FROM routes WHERE account_id = ? ORDER BY id`, accountID)
}

// ListPendingRoutes returns routes not yet confirmed by the remote
// service, in insertion order.
func (s *Store) ListPendingRoutes(ctx context.Context) ([]Route, error) {
	return s.queryRoutes(ctx, `SELECT `+routeColumns+` FROM routes WHERE pending_sync = 1 ORDER BY id`)
}

const routeColumns = `id, account_id, category, track, duration, pending_sync`

func (s *Store) queryRoutes(ctx context.Context, query string, args ...any) ([]Route, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var routes []Route
	for rows.Next() {
		var (
			r        Route
			pending  int
			category sql.NullString
			track    sql.NullString
			duration sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.AccountID, &category, &track, &duration, &pending); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		r.Category = category.String
		if track.Valid {
			r.Track = json.RawMessage(track.String)
		}
		r.Duration = duration.String
		r.Pending = pending == 1
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// MarkAccountSynced clears the pending flag for one account. The row will
// never be selected for upload again.
func (s *Store) MarkAccountSynced(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE accounts SET pending_sync = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark account %d synced: %w", id, err)
	}
	return nil
}

// MarkRouteSynced clears the pending flag for one route.
func (s *Store) MarkRouteSynced(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE routes SET pending_sync = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark route %d synced: %w", id, err)
	}
	return nil
}

// Reset wipes both collections. Administrative escape hatch, not part of
// the sync flow.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM routes`); err != nil {
		return fmt.Errorf("failed to clear routes: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("failed to clear accounts: %w", err)
	}
	s.logger.Info("local database cleared")
	return nil
}
