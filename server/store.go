// Copyright 2025 CiclistaApp Authors
// SPDX-License-Identifier: Apache-2.0

// Package server is the reference implementation of the routes service
// that devices sync against: account creation, route creation, and
// account lookup by email, backed by Postgres.
package server

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors mapped to HTTP statuses by the handlers.
var (
	ErrDuplicateEmail = errors.New("email already registered")
	ErrUnknownAccount = errors.New("unknown account")
	ErrNotFound       = errors.New("not found")
)

// Account is the server-side account row.
type Account struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Email     string `json:"email"`
	BirthDate string `json:"birth_date,omitempty"`
	Password  string `json:"password,omitempty"`

	DeviceMake   string `json:"device_make,omitempty"`
	DeviceModel  string `json:"device_model,omitempty"`
	DeviceSerial string `json:"device_serial,omitempty"`
	AppVersion   string `json:"app_version,omitempty"`
}

// Route is the server-side route row. Track is stored as JSONB.
type Route struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	Category  string          `json:"category"`
	Duration  string          `json:"duration"`
	Track     json.RawMessage `json:"track"`
}

// Store is the persistence boundary of the service. PGStore is the
// production implementation; tests use an in-memory fake.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) (int64, error)
	CreateRoute(ctx context.Context, r *Route) (int64, error)
	AccountIDByEmail(ctx context.Context, email string) (int64, error)
}
