// Copyright 2025 CiclistaApp Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncengine pushes locally recorded accounts and routes to the
// remote routes service. Sync is one-directional: pending rows flow from
// the local store to the service, and confirmed rows are durably marked
// so they are never re-sent. The engine holds no persistent state of its
// own; the only cross-call state is a per-engine busy guard that rejects
// overlapping passes.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/CissaMalheiros/CiclistaApp/localstore"
	"github.com/CissaMalheiros/CiclistaApp/remote"
)

// ErrSyncInProgress is returned when a pass is requested while another
// pass is still running. The second caller is rejected, never queued.
var ErrSyncInProgress = errors.New("sync pass already in progress")

// Store is the slice of the local store the engine needs.
// *localstore.Store satisfies it.
type Store interface {
	ListAccounts(ctx context.Context) ([]localstore.Account, error)
	ListPendingAccounts(ctx context.Context) ([]localstore.Account, error)
	ListPendingRoutes(ctx context.Context) ([]localstore.Route, error)
	MarkAccountSynced(ctx context.Context, id int64) error
	MarkRouteSynced(ctx context.Context, id int64) error
}

// Remote is the slice of the routes service the engine consumes.
// *remote.Client satisfies it.
type Remote interface {
	CreateAccount(ctx context.Context, account *remote.AccountUpload) error
	CreateRoute(ctx context.Context, route *remote.RouteUpload) error
	AccountIDByEmail(ctx context.Context, email string) (int64, error)
}

// Outcome is the three-way result of a pass.
type Outcome int

const (
	// OutcomeSynced means both phases completed without an abort.
	OutcomeSynced Outcome = iota
	// OutcomeNothingToSync means no pending rows existed at pass start.
	OutcomeNothingToSync
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSynced:
		return "synced"
	case OutcomeNothingToSync:
		return "nothing-to-sync"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Report summarizes a completed pass. RoutesDeferred counts routes left
// pending because their owning account's remote identity could not be
// resolved; they are retried on the next pass.
type Report struct {
	Outcome        Outcome
	AccountsPushed int
	RoutesPushed   int
	RoutesDeferred int
}

// PushError reports the first item whose remote creation failed. The
// failure aborts the whole pass: remaining pending items are untouched.
type PushError struct {
	Entity  string // "account" or "route"
	LocalID int64
	Email   string // account email, or the route owner's email
	Err     error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("failed to sync %s %d (%s): %v", e.Entity, e.LocalID, e.Email, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// Engine orchestrates sync passes against a local store and the remote
// routes service.
type Engine struct {
	store  Store
	remote Remote
	logger *slog.Logger
	busy   atomic.Bool
}

// New creates an engine. A nil logger falls back to slog.Default().
func New(store Store, rc Remote, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, remote: rc, logger: logger}
}

// RunPass executes one synchronization pass.
//
// At most one pass runs at a time: a call made while another pass is
// in-flight returns ErrSyncInProgress immediately without touching the
// store. Within a pass, all pending accounts are pushed (in store order)
// before any route; the first push failure aborts the entire pass and is
// returned as a *PushError, leaving every remaining item pending. Routes
// whose owner cannot be resolved to a remote identity are skipped, not
// failed, and stay pending for a later pass.
func (e *Engine) RunPass(ctx context.Context) (Report, error) {
	if !e.busy.CompareAndSwap(false, true) {
		e.logger.Debug("sync pass requested while another is running")
		return Report{}, ErrSyncInProgress
	}
	defer e.busy.Store(false)

	pendingAccounts, err := e.store.ListPendingAccounts(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list pending accounts: %w", err)
	}
	pendingRoutes, err := e.store.ListPendingRoutes(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list pending routes: %w", err)
	}

	// Checked once, up front, before any network activity.
	if len(pendingAccounts) == 0 && len(pendingRoutes) == 0 {
		e.logger.Debug("nothing to sync")
		return Report{Outcome: OutcomeNothingToSync}, nil
	}

	e.logger.Info("sync pass starting",
		"pending_accounts", len(pendingAccounts),
		"pending_routes", len(pendingRoutes))

	var rep Report
	if err := e.pushAccounts(ctx, pendingAccounts, &rep); err != nil {
		return Report{}, err
	}
	if err := e.pushRoutes(ctx, pendingRoutes, &rep); err != nil {
		return Report{}, err
	}

	rep.Outcome = OutcomeSynced
	e.logger.Info("sync pass completed",
		"accounts_pushed", rep.AccountsPushed,
		"routes_pushed", rep.RoutesPushed,
		"routes_deferred", rep.RoutesDeferred)
	return rep, nil
}

func (e *Engine) pushAccounts(ctx context.Context, pending []localstore.Account, rep *Report) error {
	for i := range pending {
		acct := &pending[i]
		if err := e.remote.CreateAccount(ctx, accountUpload(acct)); err != nil {
			return &PushError{Entity: "account", LocalID: acct.ID, Email: acct.Email, Err: err}
		}
		if err := e.store.MarkAccountSynced(ctx, acct.ID); err != nil {
			return fmt.Errorf("failed to mark account %d synced: %w", acct.ID, err)
		}
		rep.AccountsPushed++
		e.logger.Debug("account synced", "id", acct.ID, "email", acct.Email)
	}
	return nil
}

func (e *Engine) pushRoutes(ctx context.Context, pending []localstore.Route, rep *Report) error {
	if len(pending) == 0 {
		return nil
	}

	// One owner lookup table for the whole phase.
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	byID := make(map[int64]*localstore.Account, len(accounts))
	for i := range accounts {
		byID[accounts[i].ID] = &accounts[i]
	}

	for i := range pending {
		rt := &pending[i]
		owner, ok := byID[rt.AccountID]
		if !ok {
			// Owner missing locally: leave the route pending and move on.
			rep.RoutesDeferred++
			e.logger.Debug("route owner not found locally, deferring",
				"route_id", rt.ID, "account_id", rt.AccountID)
			continue
		}

		remoteID, err := e.remote.AccountIDByEmail(ctx, owner.Email)
		if err != nil {
			// Lookup failure and not-found are equally non-fatal; the
			// route stays pending and is retried on the next pass.
			rep.RoutesDeferred++
			e.logger.Debug("remote identity unresolved, deferring route",
				"route_id", rt.ID, "email", owner.Email, "error", err)
			continue
		}

		track := rt.Track
		if len(track) == 0 {
			track = json.RawMessage("[]")
		}
		if !json.Valid(track) {
			return &PushError{Entity: "route", LocalID: rt.ID, Email: owner.Email,
				Err: errors.New("stored track is not valid JSON")}
		}

		upload := &remote.RouteUpload{
			AccountID: remoteID,
			Category:  rt.Category,
			Duration:  rt.Duration,
			Track:     track,
		}
		if err := e.remote.CreateRoute(ctx, upload); err != nil {
			return &PushError{Entity: "route", LocalID: rt.ID, Email: owner.Email, Err: err}
		}
		if err := e.store.MarkRouteSynced(ctx, rt.ID); err != nil {
			return fmt.Errorf("failed to mark route %d synced: %w", rt.ID, err)
		}
		rep.RoutesPushed++
		e.logger.Debug("route synced", "id", rt.ID, "remote_account_id", remoteID)
	}
	return nil
}

func accountUpload(a *localstore.Account) *remote.AccountUpload {
	return &remote.AccountUpload{
		Name:         a.Name,
		Phone:        a.Phone,
		Gender:       a.Gender,
		Email:        a.Email,
		BirthDate:    a.BirthDate,
		Password:     a.Password,
		DeviceMake:   a.DeviceMake,
		DeviceModel:  a.DeviceModel,
		DeviceSerial: a.DeviceSerial,
		AppVersion:   a.AppVersion,
	}
}

// RunPassFunc adapts RunPass to the callback surface used by the app's
// sync button: exactly one of the three callbacks fires per invocation,
// and no error ever propagates past this method. Nil callbacks are
// allowed.
func (e *Engine) RunPassFunc(ctx context.Context, onSuccess, onError, onNothingToSync func(msg string)) {
	rep, err := e.RunPass(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		if onError != nil {
			onError("sync already in progress")
		}
	case err != nil:
		if onError != nil {
			onError("sync failed: " + err.Error())
		}
	case rep.Outcome == OutcomeNothingToSync:
		if onNothingToSync != nil {
			onNothingToSync("everything is already synced")
		}
	default:
		if onSuccess != nil {
			onSuccess(fmt.Sprintf("sync completed: %d accounts and %d routes pushed",
				rep.AccountsPushed, rep.RoutesPushed))
		}
	}
}
