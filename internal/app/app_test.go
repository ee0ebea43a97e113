package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/artisanhub/internal/domain/cart"
	"github.com/example/artisanhub/internal/domain/session"
	"github.com/example/artisanhub/internal/migration"
	"github.com/example/artisanhub/internal/notify"
	"github.com/example/artisanhub/internal/remote"
	"github.com/example/artisanhub/internal/remote/mocks"
	"github.com/example/artisanhub/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenStore struct {
	*mocks.MockStore
	mu    sync.Mutex
	token string
}

func (s *tokenStore) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *tokenStore) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

type captured struct {
	mu     sync.Mutex
	events []notify.Event
}

func capture(bus *notify.Bus) *captured {
	c := &captured{}
	bus.Subscribe(func(ev notify.Event) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, ev)
	})
	return c
}

func (c *captured) ofType(typ notify.Type) []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.Event
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newClient(t *testing.T, shared *storage.MemoryStore, origin string, store remote.Store, clearOnLogout bool) *App {
	t.Helper()
	a, err := New(context.Background(), Deps{
		LongLived:         shared.View(origin),
		Remote:            store,
		RemoteTimeout:     time.Second,
		Origin:            origin,
		ClearCartOnLogout: clearOnLogout,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

var ana = session.Identity{ID: "user-1", Email: "ana@example.com", DisplayName: "Ana"}

func mug() cart.Product {
	return cart.Product{ID: "mug", Title: "Mug", Price: decimal.NewFromInt(12)}
}

func TestNew_GuestIsReady(t *testing.T) {
	a := newClient(t, storage.NewMemoryStore(), "tab-a", nil, false)

	_, ok := a.Session.GetUser()
	assert.False(t, ok)
	assert.Empty(t, a.Cart.Snapshot().Lines)
	assert.Equal(t, "tab-a", a.Origin())
}

func TestNew_RequiresLongLivedTier(t *testing.T) {
	_, err := New(context.Background(), Deps{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestLogin_MigratesBeforeAuthChanged(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockStore()
	store.SeedCart("user-1", remote.LineRecord{ProductID: "mug", Quantity: 3})
	a := newClient(t, storage.NewMemoryStore(), "tab-a", store, false)
	_, err := a.Cart.Add(ctx, mug(), 2)
	require.NoError(t, err)
	_, err = a.Wishlist.Add(ctx, "vase")
	require.NoError(t, err)
	events := capture(a.Bus)

	require.NoError(t, a.Session.SetUser(ctx, ana, true))
	a.Flush()

	auth := events.ofType(notify.AuthChanged)
	require.Len(t, auth, 1)
	assert.Equal(t, notify.KindLogin, auth[0].Kind)
	rep, ok := auth[0].Payload.(migration.Report)
	require.True(t, ok)
	assert.Equal(t, 1, rep.GuestLines)
	assert.Equal(t, 1, rep.WishlistAdded)

	events.mu.Lock()
	last := events.events[len(events.events)-1]
	events.mu.Unlock()
	assert.Equal(t, notify.AuthChanged, last.Type, "auth-changed comes after the cart update")

	snap := a.Cart.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 5, snap.Lines[0].Quantity)
	assert.Equal(t, "user-1", snap.Owner)
	assert.Equal(t, 5, store.Cart("user-1")[0].Quantity)
	assert.Equal(t, []string{"vase"}, a.Wishlist.Items())
}

func TestLogin_SetsRemoteToken(t *testing.T) {
	ctx := context.Background()
	store := &tokenStore{MockStore: mocks.NewMockStore()}
	a := newClient(t, storage.NewMemoryStore(), "tab-a", store, false)

	require.NoError(t, a.Session.SetUser(ctx, ana, true, session.WithToken("tok-1")))
	assert.Equal(t, "tok-1", store.current())

	a.Session.Logout(ctx)
	assert.Empty(t, store.current())
}

func TestLogout_KeepsCartByDefault(t *testing.T) {
	ctx := context.Background()
	a := newClient(t, storage.NewMemoryStore(), "tab-a", nil, false)
	require.NoError(t, a.Session.SetUser(ctx, ana, true))
	_, err := a.Cart.Add(ctx, mug(), 2)
	require.NoError(t, err)
	_, err = a.Wishlist.Add(ctx, "vase")
	require.NoError(t, err)
	require.NoError(t, a.History.Record(ctx, "bowl"))

	a.Session.Logout(ctx)

	snap := a.Cart.Snapshot()
	assert.Empty(t, snap.Owner)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 2, snap.Lines[0].Quantity)
	assert.Empty(t, a.Wishlist.Items())
	assert.Empty(t, a.History.Items())
}

func TestLogout_ClearCartPolicy(t *testing.T) {
	ctx := context.Background()
	a := newClient(t, storage.NewMemoryStore(), "tab-a", nil, true)
	require.NoError(t, a.Session.SetUser(ctx, ana, true))
	_, err := a.Cart.Add(ctx, mug(), 2)
	require.NoError(t, err)

	a.Session.Logout(ctx)

	assert.Empty(t, a.Cart.Snapshot().Lines)
}

func TestLogoutThenLogin_DoesNotDoubleCart(t *testing.T) {
	ctx := context.Background()
	a := newClient(t, storage.NewMemoryStore(), "tab-a", mocks.NewMockStore(), false)
	require.NoError(t, a.Session.SetUser(ctx, ana, true))
	_, err := a.Cart.Add(ctx, mug(), 2)
	require.NoError(t, err)

	a.Session.Logout(ctx)
	require.NoError(t, a.Session.SetUser(ctx, ana, true))

	snap := a.Cart.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 2, snap.Lines[0].Quantity)
}

func TestRestart_RehydratesSessionAndCart(t *testing.T) {
	ctx := context.Background()
	shared := storage.NewMemoryStore()
	store := mocks.NewMockStore()
	first := newClient(t, shared, "tab-a", store, false)
	require.NoError(t, first.Session.SetUser(ctx, ana, true))
	_, err := first.Cart.Add(ctx, mug(), 3)
	require.NoError(t, err)
	first.Close()

	second := newClient(t, shared, "tab-b", store, false)

	assert.Equal(t, "user-1", second.Session.UserID())
	snap := second.Cart.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 3, snap.Lines[0].Quantity)
}

func TestRestart_ForgottenSessionIsGuest(t *testing.T) {
	ctx := context.Background()
	shared := storage.NewMemoryStore()
	first := newClient(t, shared, "tab-a", nil, false)
	require.NoError(t, first.Session.SetUser(ctx, ana, false))

	second := newClient(t, shared, "tab-b", nil, false)

	assert.Empty(t, second.Session.UserID())
}

// ============================================
// Cross-client changes
// ============================================

func TestCrossClient_CartChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shared := storage.NewMemoryStore()
	a := newClient(t, shared, "tab-a", nil, false)
	b := newClient(t, shared, "tab-b", nil, false)
	stop, err := b.Watch(ctx)
	require.NoError(t, err)
	defer stop()

	_, err = a.Cart.Add(ctx, mug(), 4)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		lines := b.Cart.Snapshot().Lines
		return len(lines) == 1 && lines[0].Quantity == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCrossClient_LoginAndLogout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shared := storage.NewMemoryStore()
	a := newClient(t, shared, "tab-a", nil, false)
	b := newClient(t, shared, "tab-b", nil, false)
	events := capture(b.Bus)
	stop, err := b.Watch(ctx)
	require.NoError(t, err)
	defer stop()

	_, err = a.Cart.Add(ctx, mug(), 1)
	require.NoError(t, err)
	require.NoError(t, a.Session.SetUser(ctx, ana, true))

	assert.Eventually(t, func() bool {
		lines := b.Cart.Snapshot().Lines
		return b.Session.UserID() == "user-1" && b.Cart.Owner() == "user-1" && len(lines) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, events.ofType(notify.AuthChanged))

	a.Session.Logout(ctx)

	assert.Eventually(t, func() bool {
		return b.Session.UserID() == "" && b.Cart.Owner() == ""
	}, 2*time.Second, 10*time.Millisecond)
}

type plainTier struct{ storage.Tier }

func TestRun_RequiresWatchableTier(t *testing.T) {
	a, err := New(context.Background(), Deps{
		LongLived: plainTier{storage.NewMemoryStore().View("x")},
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	defer a.Close()

	assert.ErrorIs(t, a.Run(context.Background()), ErrNoWatcher)
}
