package syncengine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CissaMalheiros/CiclistaApp/localstore"
	"github.com/CissaMalheiros/CiclistaApp/remote"
)

// stubStore drives edge cases that the real SQLite store cannot easily
// produce, such as an orphaned route or a failing pending query.
type stubStore struct {
	accounts        []localstore.Account
	pendingAccounts []localstore.Account
	pendingRoutes   []localstore.Route

	listPendingAccountsErr error

	markedAccounts []int64
	markedRoutes   []int64
}

func (s *stubStore) ListAccounts(ctx context.Context) ([]localstore.Account, error) {
	return s.accounts, nil
}

func (s *stubStore) ListPendingAccounts(ctx context.Context) ([]localstore.Account, error) {
	return s.pendingAccounts, s.listPendingAccountsErr
}

func (s *stubStore) ListPendingRoutes(ctx context.Context) ([]localstore.Route, error) {
	return s.pendingRoutes, nil
}

func (s *stubStore) MarkAccountSynced(ctx context.Context, id int64) error {
	s.markedAccounts = append(s.markedAccounts, id)
	return nil
}

func (s *stubStore) MarkRouteSynced(ctx context.Context, id int64) error {
	s.markedRoutes = append(s.markedRoutes, id)
	return nil
}

// stubRemote records calls without any network.
type stubRemote struct {
	createdAccounts []string
	createdRoutes   []int64
	lookupIDs       map[string]int64
}

func (r *stubRemote) CreateAccount(ctx context.Context, a *remote.AccountUpload) error {
	r.createdAccounts = append(r.createdAccounts, a.Email)
	return nil
}

func (r *stubRemote) CreateRoute(ctx context.Context, rt *remote.RouteUpload) error {
	r.createdRoutes = append(r.createdRoutes, rt.AccountID)
	return nil
}

func (r *stubRemote) AccountIDByEmail(ctx context.Context, email string) (int64, error) {
	id, ok := r.lookupIDs[email]
	if !ok {
		return 0, remote.ErrAccountNotFound
	}
	return id, nil
}

func TestOrphanedRouteIsSkipped(t *testing.T) {
	store := &stubStore{
		accounts: []localstore.Account{{ID: 1, Email: "a@x.com"}},
		pendingRoutes: []localstore.Route{
			{ID: 10, AccountID: 99}, // owner does not exist locally
			{ID: 11, AccountID: 1},
		},
	}
	rc := &stubRemote{lookupIDs: map[string]int64{"a@x.com": 42}}
	eng := New(store, rc, nil)

	rep, err := eng.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSynced, rep.Outcome)
	require.Equal(t, 1, rep.RoutesDeferred)
	require.Equal(t, 1, rep.RoutesPushed)
	require.Equal(t, []int64{11}, store.markedRoutes)
	require.Equal(t, []int64{42}, rc.createdRoutes)
}

func TestPassLevelStoreFailure(t *testing.T) {
	boom := errors.New("disk exploded")
	store := &stubStore{listPendingAccountsErr: boom}
	eng := New(store, &stubRemote{}, nil)

	_, err := eng.RunPass(context.Background())
	require.ErrorIs(t, err, boom)

	// Guard must be released even after a pass-level failure.
	store.listPendingAccountsErr = nil
	rep, err := eng.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeNothingToSync, rep.Outcome)
}

func TestInvalidStoredTrackIsFatal(t *testing.T) {
	store := &stubStore{
		accounts:      []localstore.Account{{ID: 1, Email: "a@x.com"}},
		pendingRoutes: []localstore.Route{{ID: 10, AccountID: 1, Track: []byte("{not json")}},
	}
	rc := &stubRemote{lookupIDs: map[string]int64{"a@x.com": 42}}
	eng := New(store, rc, nil)

	_, err := eng.RunPass(context.Background())
	var pushErr *PushError
	require.ErrorAs(t, err, &pushErr)
	require.Equal(t, "route", pushErr.Entity)
	require.Empty(t, rc.createdRoutes)
	require.Empty(t, store.markedRoutes)
}

func TestAccountsPushedBeforeRoutes(t *testing.T) {
	store := &stubStore{
		accounts:        []localstore.Account{{ID: 1, Email: "a@x.com"}},
		pendingAccounts: []localstore.Account{{ID: 1, Email: "a@x.com"}},
		pendingRoutes:   []localstore.Route{{ID: 10, AccountID: 1}},
	}
	rc := &stubRemote{lookupIDs: map[string]int64{"a@x.com": 42}}
	eng := New(store, rc, nil)

	rep, err := eng.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.AccountsPushed)
	require.Equal(t, 1, rep.RoutesPushed)
	require.Equal(t, []string{"a@x.com"}, rc.createdAccounts)
	require.Equal(t, []int64{1}, store.markedAccounts)
}
