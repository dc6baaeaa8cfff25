package syncengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CissaMalheiros/CiclistaApp/localstore"
	"github.com/CissaMalheiros/CiclistaApp/remote"
)

// fakeService is a scriptable in-memory stand-in for the routes service.
// Accounts become resolvable by email only once created (or pre-seeded),
// which mirrors the real service's lookup behavior.
type fakeService struct {
	mu       sync.Mutex
	accounts map[string]int64
	nextID   int64

	accountCalls int
	lookupCalls  int
	routeCalls   int

	failAccountCreate bool
	failRouteOnCall   int // 1-based index of the route call to fail; 0 = never

	routeBodies []remote.RouteUpload

	server *httptest.Server
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	f := &fakeService{accounts: make(map[string]int64), nextID: 1}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeService) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/accounts":
		f.accountCalls++
		if f.failAccountCreate {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		var body remote.AccountUpload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if _, exists := f.accounts[body.Email]; !exists {
			f.accounts[body.Email] = f.nextID
			f.nextID++
		}
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/accounts/by-email/"):
		f.lookupCalls++
		email := strings.TrimPrefix(r.URL.Path, "/accounts/by-email/")
		id, ok := f.accounts[email]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]int64{"id": id})

	case r.Method == http.MethodPost && r.URL.Path == "/routes":
		f.routeCalls++
		if f.failRouteOnCall != 0 && f.routeCalls >= f.failRouteOnCall {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		var body remote.RouteUpload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		f.routeBodies = append(f.routeBodies, body)
		w.WriteHeader(http.StatusCreated)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeService) calls() (accounts, lookups, routes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountCalls, f.lookupCalls, f.routeCalls
}

func newTestEngine(t *testing.T) (*Engine, *localstore.Store, *fakeService) {
	t.Helper()
	store, err := localstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := newFakeService(t)
	eng := New(store, remote.NewClient(svc.server.URL, nil), nil)
	return eng, store, svc
}

func seedAccountWithRoute(t *testing.T, store *localstore.Store, email string) (acctID, routeID int64) {
	t.Helper()
	ctx := context.Background()
	acctID, err := store.InsertAccount(ctx, &localstore.Account{Name: "Rider", Email: email})
	require.NoError(t, err)
	routeID, err = store.InsertRoute(ctx, &localstore.Route{
		AccountID: acctID,
		Category:  "road",
		Track:     json.RawMessage(`[{"lat":-27.0,"lon":-48.6}]`),
		Duration:  "00:30:00",
	})
	require.NoError(t, err)
	return acctID, routeID
}

func TestPassHappyPath(t *testing.T) {
	eng, store, svc := newTestEngine(t)
	ctx := context.Background()
	svc.nextID = 42

	seedAccountWithRoute(t, store, "a@x.com")

	rep, err := eng.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeSynced, rep.Outcome)
	require.Equal(t, 1, rep.AccountsPushed)
	require.Equal(t, 1, rep.RoutesPushed)
	require.Equal(t, 0, rep.RoutesDeferred)

	// The route was attached to the resolved remote identity.
	require.Len(t, svc.routeBodies, 1)
	require.Equal(t, int64(42), svc.routeBodies[0].AccountID)

	// Both rows are durably marked.
	pendingAccounts, err := store.ListPendingAccounts(ctx)
	require.NoError(t, err)
	require.Empty(t, pendingAccounts)
	pendingRoutes, err := store.ListPendingRoutes(ctx)
	require.NoError(t, err)
	require.Empty(t, pendingRoutes)

	// Follow-up pass: nothing to sync, zero network calls.
	a0, l0, r0 := svc.calls()
	rep, err = eng.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeNothingToSync, rep.Outcome)
	a1, l1, r1 := svc.calls()
	require.Equal(t, a0, a1)
	require.Equal(t, l0, l1)
	require.Equal(t, r0, r1)
}

func TestAccountPushFailureAbortsWholePass(t *testing.T) {
	eng, store, svc := newTestEngine(t)
	ctx := context.Background()
	svc.failAccountCreate = true

	acctID, _ := seedAccountWithRoute(t, store, "a@x.com")

	_, err := eng.RunPass(ctx)
	require.Error(t, err)
	var pushErr *PushError
	require.ErrorAs(t, err, &pushErr)
	require.Equal(t, "account", pushErr.Entity)
	require.Equal(t, acctID, pushErr.LocalID)
	require.Equal(t, "a@x.com", pushErr.Email)

	// Both rows stay pending; the route phase was never reached.
	pendingAccounts, err := store.ListPendingAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, pendingAccounts, 1)
	pendingRoutes, err := store.ListPendingRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, pendingRoutes, 1)

	_, lookups, routes := svc.calls()
	require.Zero(t, lookups, "no identity lookup after an account-phase abort")
	require.Zero(t, routes, "no route push after an account-phase abort")
}

func TestAccountFailureBlocksLaterAccounts(t *testing.T) {
	eng, store, svc := newTestEngine(t)
	ctx := context.Background()

	// First account syncs fine, then the service starts failing.
	first, err := store.InsertAccount(ctx, &localstore.Account{Name: "A", Email: "a@x.com"})
	require.NoError(t, err)
	rep, err := eng.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.AccountsPushed)

	svc.failAccountCreate = true
	second, err := store.InsertAccount(ctx, &localstore.Account{Name: "B", Email: "b@x.com"})
	require.NoError(t, err)
	third, err := store.InsertAccount(ctx, &localstore.Account{Name: "C", Email: "c@x.com"})
	require.NoError(t, err)

	_, err = eng.RunPass(ctx)
	require.Error(t, err)

	// Items before the failure keep their synced mark, items at and
	// after it stay pending.
	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	byID := map[int64]bool{}
	for _, a := range accounts {
		byID[a.ID] = a.Pending
	}
	require.False(t, byID[first])
	require.True(t, byID[second])
	require.True(t, byID[third])
}

func TestRoutePushFailureFailFastContainment(t *testing.T) {
	eng, store, svc := newTestEngine(t)
	ctx := context.Background()

	acctID, err := store.InsertAccount(ctx, &localstore.Account{Name: "A", Email: "a@x.com"})
	require.NoError(t, err)
	var routeIDs []int64
	for i := 0; i < 3; i++ {
		id, err := store.InsertRoute(ctx, &localstore.Route{
			AccountID: acctID,
			Track:     json.RawMessage(`[]`),
		})
		require.NoError(t, err)
		routeIDs = append(routeIDs, id)
	}

	svc.failRouteOnCall = 2 // second route push fails

	_, err = eng.RunPass(ctx)
	require.Error(t, err)
	var pushErr *PushError
	require.ErrorAs(t, err, &pushErr)
	require.Equal(t, "route", pushErr.Entity)
	require.Equal(t, routeIDs[1], pushErr.LocalID)

	// Route 1 is synced, routes 2 and 3 are pending and untouched.
	pending, err := store.ListPendingRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, routeIDs[1], pending[0].ID)
	require.Equal(t, routeIDs[2], pending[1].ID)

	// The abort happened before route 3 was ever attempted.
	_, _, routes := svc.calls()
	require.Equal(t, 2, routes)

	// The account itself synced and is not re-sent on the retry pass.
	svc.failRouteOnCall = 0
	rep, err := eng.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rep.AccountsPushed)
	require.Equal(t, 2, rep.RoutesPushed)
}

func TestDeferredIdentityResolution(t *testing.T) {
	eng, store, svc := newTestEngine(t)
	ctx := context.Background()

	// The account is already marked synced locally but the remote
	// service does not know it yet (for example it was wiped server
	// side), so the lookup misses.
	acctID, routeID := seedAccountWithRoute(t, store, "a@x.com")
	require.NoError(t, store.MarkAccountSynced(ctx, acctID))

	rep, err := eng.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeSynced, rep.Outcome)
	require.Equal(t, 1, rep.RoutesDeferred)
	require.Equal(t, 0, rep.RoutesPushed)

	pending, err := store.ListPendingRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, routeID, pending[0].ID)

	// Once the identity resolves, the next pass pushes the route.
	svc.mu.Lock()
	svc.accounts["a@x.com"] = 7
	svc.mu.Unlock()

	rep, err = eng.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.RoutesPushed)
	require.Equal(t, int64(7), svc.routeBodies[0].AccountID)

	pending, err = store.ListPendingRoutes(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestDeferredRouteDoesNotFailOtherwiseCleanPass(t *testing.T) {
	eng, store, svc := newTestEngine(t)
	ctx := context.Background()

	// Account A is resolvable, account B is not.
	aID, err := store.InsertAccount(ctx, &localstore.Account{Name: "A", Email: "a@x.com"})
	require.NoError(t, err)
	bID, err := store.InsertAccount(ctx, &localstore.Account{Name: "B", Email: "b@x.com"})
	require.NoError(t, err)
	require.NoError(t, store.MarkAccountSynced(ctx, bID))
	_, err = store.InsertRoute(ctx, &localstore.Route{AccountID: aID, Track: json.RawMessage(`[]`)})
	require.NoError(t, err)
	_, err = store.InsertRoute(ctx, &localstore.Route{AccountID: bID, Track: json.RawMessage(`[]`)})
	require.NoError(t, err)

	rep, err := eng.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeSynced, rep.Outcome)
	require.Equal(t, 1, rep.RoutesPushed)
	require.Equal(t, 1, rep.RoutesDeferred)
	_ = svc
}

func TestMutualExclusion(t *testing.T) {
	store, err := localstore.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.InsertAccount(ctx, &localstore.Account{Name: "A", Email: "a@x.com"})
	require.NoError(t, err)

	// The account push blocks until released so the first pass stays
	// in-flight while we try to start a second one.
	entered := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	eng := New(store, remote.NewClient(server.URL, nil), nil)

	done := make(chan error, 1)
	go func() {
		_, err := eng.RunPass(ctx)
		done <- err
	}()

	<-entered
	_, err = eng.RunPass(ctx)
	require.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	require.NoError(t, <-done)

	// The guard is released once the first pass finishes.
	rep, err := eng.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeNothingToSync, rep.Outcome)
}

func TestGuardReleasedAfterFailure(t *testing.T) {
	eng, store, svc := newTestEngine(t)
	ctx := context.Background()
	svc.failAccountCreate = true

	seedAccountWithRoute(t, store, "a@x.com")

	_, err := eng.RunPass(ctx)
	require.Error(t, err)

	// A failed pass must not leave the engine busy.
	svc.failAccountCreate = false
	rep, err := eng.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeSynced, rep.Outcome)
}

func TestRunPassFuncOutcomes(t *testing.T) {
	eng, store, svc := newTestEngine(t)
	ctx := context.Background()

	var success, failure, nothing []string
	onSuccess := func(msg string) { success = append(success, msg) }
	onError := func(msg string) { failure = append(failure, msg) }
	onNothing := func(msg string) { nothing = append(nothing, msg) }

	eng.RunPassFunc(ctx, onSuccess, onError, onNothing)
	require.Len(t, nothing, 1)

	seedAccountWithRoute(t, store, "a@x.com")
	svc.failAccountCreate = true
	eng.RunPassFunc(ctx, onSuccess, onError, onNothing)
	require.Len(t, failure, 1)
	require.Contains(t, failure[0], "a@x.com")

	svc.failAccountCreate = false
	eng.RunPassFunc(ctx, onSuccess, onError, onNothing)
	require.Len(t, success, 1)
	require.Contains(t, success[0], "1 accounts")

	// Callbacks may be nil.
	eng.RunPassFunc(ctx, nil, nil, nil)
}
