package cart

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/example/artisanhub/internal/notify"
	"github.com/example/artisanhub/internal/remote"
	"github.com/example/artisanhub/internal/remote/mocks"
	"github.com/example/artisanhub/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type owner struct {
	mu sync.Mutex
	id string
}

func (o *owner) UserID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

func (o *owner) set(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.id = id
}

type events struct {
	mu  sync.Mutex
	got []notify.Event
}

func (e *events) Publish(ev notify.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) kinds() []notify.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]notify.Kind, 0, len(e.got))
	for _, ev := range e.got {
		out = append(out, ev.Kind)
	}
	return out
}

type harness struct {
	shared *storage.MemoryStore
	local  *storage.MemoryView
	owner  *owner
	remote *mocks.MockStore
	repl   *remote.Replicator
	events *events
	ledger *Ledger
}

func newHarness(t *testing.T, userID string) *harness {
	t.Helper()
	shared := storage.NewMemoryStore()
	h := &harness{
		shared: shared,
		local:  shared.View("tab-a"),
		owner:  &owner{id: userID},
		remote: mocks.NewMockStore(),
		repl:   remote.NewReplicator(time.Second, zerolog.Nop()),
		events: &events{},
	}
	t.Cleanup(h.repl.Close)
	h.ledger = h.newLedger(h.local)
	return h
}

func (h *harness) newLedger(local storage.Tier) *Ledger {
	return NewLedger(Options{
		Local:      local,
		Owner:      h.owner,
		Remote:     h.remote,
		Replicator: h.repl,
		Publisher:  h.events,
		Origin:     "tab-a",
		Timeout:    time.Second,
		Logger:     zerolog.Nop(),
	})
}

func product(id string, price string) Product {
	return Product{ID: id, Title: "Item " + id, Price: decimal.RequireFromString(price), SellerRef: "seller-1"}
}

type qty struct {
	id string
	n  int
}

func assertQuantities(t *testing.T, want []qty, lines []Line) {
	t.Helper()
	got := make([]qty, 0, len(lines))
	for _, l := range lines {
		got = append(got, qty{l.ProductID, l.Quantity})
	}
	assert.Equal(t, want, got)
}

func assertRemote(t *testing.T, want []qty, records []remote.LineRecord) {
	t.Helper()
	lines := make([]Line, 0, len(records))
	for _, r := range records {
		lines = append(lines, FromRecord(r))
	}
	assertQuantities(t, want, lines)
}

// ============================================
// Mutations
// ============================================

func TestAdd_MergesByProductID(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.ledger.Add(ctx, product("mug", "12.00"), 2)
	require.NoError(t, err)
	_, err = h.ledger.Add(ctx, product("vase", "40.00"), 1)
	require.NoError(t, err)
	before := len(h.ledger.Snapshot().Lines)

	snap, err := h.ledger.Add(ctx, product("mug", "12.00"), 3)
	require.NoError(t, err)

	assert.Len(t, snap.Lines, before)
	assertQuantities(t, []qty{{"mug", 5}, {"vase", 1}}, snap.Lines)
}

func TestAdd_KeepsPriceAtAddTime(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.ledger.Add(ctx, Product{ID: "mug", Title: "Mug", Price: decimal.RequireFromString("10")}, 1)
	require.NoError(t, err)
	snap, err := h.ledger.Add(ctx, Product{ID: "mug", Title: "Mug (new)", Price: decimal.RequireFromString("14")}, 1)
	require.NoError(t, err)

	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "Mug", snap.Lines[0].Title)
	assert.True(t, decimal.RequireFromString("10").Equal(snap.Lines[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("20").Equal(snap.AmountDue))
}

func TestAdd_ClampsQuantity(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.ledger.Add(ctx, product("mug", "1"), 0)
	require.NoError(t, err)
	snap, err := h.ledger.Add(ctx, product("bowl", "1"), -4)
	require.NoError(t, err)

	assertQuantities(t, []qty{{"mug", 1}, {"bowl", 1}}, snap.Lines)
}

func TestAdd_RequiresProductID(t *testing.T) {
	h := newHarness(t, "")

	_, err := h.ledger.Add(context.Background(), Product{Title: "nameless"}, 1)

	assert.ErrorIs(t, err, ErrInvalidProduct)
	assert.Empty(t, h.ledger.Snapshot().Lines)
}

func TestSetQuantity_ZeroOrNegativeRemoves(t *testing.T) {
	for _, n := range []int{0, -5} {
		h := newHarness(t, "")
		ctx := context.Background()
		_, err := h.ledger.Add(ctx, product("mug", "3"), 2)
		require.NoError(t, err)

		snap, err := h.ledger.SetQuantity(ctx, "mug", n)

		require.NoError(t, err)
		assert.Empty(t, snap.Lines, "quantity %d", n)
	}
}

func TestSetQuantity_Updates(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	_, err := h.ledger.Add(ctx, product("mug", "3"), 2)
	require.NoError(t, err)

	snap, err := h.ledger.SetQuantity(ctx, "mug", 7)

	require.NoError(t, err)
	assertQuantities(t, []qty{{"mug", 7}}, snap.Lines)
}

func TestSetQuantity_AbsentIsNoop(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	snap, err := h.ledger.SetQuantity(ctx, "ghost", 3)

	require.NoError(t, err)
	assert.Empty(t, snap.Lines)
	assert.Empty(t, h.events.kinds())
}

func TestRemove_AbsentIsNoop(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	_, err := h.ledger.Add(ctx, product("mug", "3"), 1)
	require.NoError(t, err)

	snap, err := h.ledger.Remove(ctx, "ghost")

	require.NoError(t, err)
	assertQuantities(t, []qty{{"mug", 1}}, snap.Lines)
	assert.Equal(t, []notify.Kind{notify.KindAdd}, h.events.kinds())
}

func TestTotal_MatchesIndependentSum(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	ids := []string{"a", "b", "c", "d", "e"}
	prices := map[string]string{"a": "0.99", "b": "12.50", "c": "7.25", "d": "100", "e": "3.33"}

	for i := 0; i < 300; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(3) {
		case 0:
			_, err := h.ledger.Add(ctx, product(id, prices[id]), rng.Intn(5)-1)
			require.NoError(t, err)
		case 1:
			_, err := h.ledger.Remove(ctx, id)
			require.NoError(t, err)
		case 2:
			_, err := h.ledger.SetQuantity(ctx, id, rng.Intn(6)-2)
			require.NoError(t, err)
		}

		snap := h.ledger.Snapshot()
		want := decimal.Zero
		count := 0
		seen := map[string]bool{}
		for _, l := range snap.Lines {
			require.False(t, seen[l.ProductID], "duplicate line %s", l.ProductID)
			require.GreaterOrEqual(t, l.Quantity, 1)
			seen[l.ProductID] = true
			want = want.Add(decimal.RequireFromString(prices[l.ProductID]).Mul(decimal.NewFromInt(int64(l.Quantity))))
			count += l.Quantity
		}
		total := h.ledger.Total()
		require.True(t, want.Equal(total.AmountDue), "step %d: want %s got %s", i, want, total.AmountDue)
		require.Equal(t, count, total.ItemCount)
	}
}

func TestMutations_PersistLocally(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	_, err := h.ledger.Add(ctx, product("mug", "3"), 2)
	require.NoError(t, err)
	_, err = h.ledger.Add(ctx, product("vase", "9"), 1)
	require.NoError(t, err)
	_, err = h.ledger.SetQuantity(ctx, "mug", 4)
	require.NoError(t, err)

	st, err := ReadStored(ctx, h.local, storage.KeyCart, zerolog.Nop())
	require.NoError(t, err)
	assertQuantities(t, []qty{{"mug", 4}, {"vase", 1}}, st.Lines)
}

func TestMutations_PublishCartChanged(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	_, _ = h.ledger.Add(ctx, product("mug", "3"), 1)
	_, _ = h.ledger.SetQuantity(ctx, "mug", 2)
	_, _ = h.ledger.Remove(ctx, "mug")

	assert.Equal(t, []notify.Kind{notify.KindAdd, notify.KindQuantity, notify.KindRemove}, h.events.kinds())
	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	snap, ok := h.events.got[1].Payload.(Snapshot)
	require.True(t, ok)
	assert.Equal(t, 2, snap.ItemCount)
	assert.Equal(t, notify.CartChanged, h.events.got[1].Type)
}

// ============================================
// Replication
// ============================================

func TestReplicatesUserMutations(t *testing.T) {
	h := newHarness(t, "user-1")
	ctx := context.Background()
	require.NoError(t, h.ledger.Load(ctx))

	_, _ = h.ledger.Add(ctx, product("mug", "3"), 2)
	_, _ = h.ledger.Add(ctx, product("vase", "9"), 1)
	_, _ = h.ledger.SetQuantity(ctx, "mug", 5)
	_, _ = h.ledger.Remove(ctx, "vase")
	h.repl.Drain()

	assertRemote(t, []qty{{"mug", 5}}, h.remote.Cart("user-1"))
	h.remote.Reset()
}

func TestGuestNeverReplicates(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, _ = h.ledger.Add(ctx, product("mug", "3"), 2)
	require.NoError(t, h.ledger.Persist(ctx))
	h.repl.Drain()

	assert.Zero(t, h.remote.UpsertCount())
}

func TestRemoteFailure_LoadKeepsLocalState(t *testing.T) {
	h := newHarness(t, "user-1")
	ctx := context.Background()
	require.NoError(t, h.ledger.Load(ctx))

	h.remote.SetUnavailable(true)
	_, err := h.ledger.Add(ctx, product("X", "10"), 1)
	require.NoError(t, err, "remote failure must not surface")

	require.NoError(t, h.ledger.Load(ctx))

	snap := h.ledger.Snapshot()
	assertQuantities(t, []qty{{"X", 1}}, snap.Lines)
	assert.True(t, decimal.NewFromInt(10).Equal(snap.AmountDue))
}

func TestRemoteFailure_LocalIsReplicatedOnceReachable(t *testing.T) {
	h := newHarness(t, "user-1")
	ctx := context.Background()
	h.remote.SeedCart("user-1", remote.LineRecord{ProductID: "old", Quantity: 1})
	require.NoError(t, h.ledger.Load(ctx))

	h.remote.SetUnavailable(true)
	_, _ = h.ledger.Remove(ctx, "old")
	_, _ = h.ledger.Add(ctx, product("X", "10"), 2)
	h.repl.Drain()
	h.remote.SetUnavailable(false)

	require.NoError(t, h.ledger.Load(ctx))
	h.repl.Drain()

	assertQuantities(t, []qty{{"X", 2}}, h.ledger.Snapshot().Lines)
	assertRemote(t, []qty{{"X", 2}}, h.remote.Cart("user-1"))

	// the next load trusts the remote again
	h.remote.SeedCart("user-1", remote.LineRecord{ProductID: "Y", Quantity: 3})
	require.NoError(t, h.ledger.Load(ctx))
	assertQuantities(t, []qty{{"Y", 3}}, h.ledger.Snapshot().Lines)
}

func TestLoad_PrefersReachableRemote(t *testing.T) {
	h := newHarness(t, "user-1")
	ctx := context.Background()
	require.NoError(t, WriteStored(ctx, h.local, "cart_user-1", Stored{Lines: []Line{{ProductID: "local", Quantity: 1}}}))
	h.remote.SeedCart("user-1",
		remote.LineRecord{ProductID: "a", Quantity: 2, UnitPrice: decimal.RequireFromString("5")},
		remote.LineRecord{ProductID: "b", Quantity: 1, UnitPrice: decimal.RequireFromString("1.5")},
	)

	require.NoError(t, h.ledger.Load(ctx))

	snap := h.ledger.Snapshot()
	assertQuantities(t, []qty{{"a", 2}, {"b", 1}}, snap.Lines)
	assert.Equal(t, "user-1", snap.Owner)
	assert.True(t, decimal.RequireFromString("11.5").Equal(snap.AmountDue))

	st, err := ReadStored(ctx, h.local, "cart_user-1", zerolog.Nop())
	require.NoError(t, err)
	assertQuantities(t, []qty{{"a", 2}, {"b", 1}}, st.Lines)
}

func TestLoad_FallsBackToLocalWhenRemoteUnreachable(t *testing.T) {
	h := newHarness(t, "user-1")
	ctx := context.Background()
	require.NoError(t, WriteStored(ctx, h.local, "cart_user-1", Stored{Lines: []Line{{ProductID: "local", Quantity: 3}}}))
	h.remote.SetUnavailable(true)

	require.NoError(t, h.ledger.Load(ctx))

	assertQuantities(t, []qty{{"local", 3}}, h.ledger.Snapshot().Lines)
}

func TestLoad_GuestReadsLocalOnly(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	require.NoError(t, WriteStored(ctx, h.local, storage.KeyCart, Stored{Lines: []Line{{ProductID: "g", Quantity: 2}}}))

	require.NoError(t, h.ledger.Load(ctx))

	assertQuantities(t, []qty{{"g", 2}}, h.ledger.Snapshot().Lines)
	assert.Empty(t, h.remote.ListCalls)
}

func TestLoad_CorruptLocalIsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not json", `{"lines":[`},
		{"zero quantity", `{"lines":[{"productId":"a","quantity":0,"unitPrice":"1"}]}`},
		{"duplicate", `{"lines":[{"productId":"a","quantity":1},{"productId":"a","quantity":2}]}`},
		{"negative price", `{"lines":[{"productId":"a","quantity":1,"unitPrice":"-1"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "")
			ctx := context.Background()
			require.NoError(t, h.local.Set(ctx, storage.KeyCart, tt.value))

			require.NoError(t, h.ledger.Load(ctx))

			assert.Empty(t, h.ledger.Snapshot().Lines)
			_, ok, err := h.local.Get(ctx, storage.KeyCart)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

// ============================================
// Cross-client changes
// ============================================

func TestOnExternalChange_ReloadsFromStorage(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	other := h.newLedger(h.shared.View("tab-b"))
	require.NoError(t, other.Load(ctx))

	_, _ = h.ledger.Add(ctx, product("local-only", "1"), 9)
	_, _ = other.Add(ctx, product("mug", "3"), 2)
	_, _ = other.Add(ctx, product("vase", "5"), 1)

	handled := h.ledger.OnExternalChange(ctx, storage.ChangeEvent{Key: storage.KeyCart, Origin: "tab-b"})

	require.True(t, handled)
	st, err := ReadStored(ctx, h.local, storage.KeyCart, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, len(st.Lines), len(h.ledger.Snapshot().Lines))
	assertQuantities(t, []qty{{"mug", 2}, {"vase", 1}}, h.ledger.Snapshot().Lines)

	h.events.mu.Lock()
	last := h.events.got[len(h.events.got)-1]
	h.events.mu.Unlock()
	assert.Equal(t, notify.KindExternal, last.Kind)
	assert.Equal(t, "tab-b", last.Origin)
}

func TestOnExternalChange_IgnoresOtherKeys(t *testing.T) {
	h := newHarness(t, "user-1")
	ctx := context.Background()
	require.NoError(t, h.ledger.Load(ctx))

	assert.False(t, h.ledger.OnExternalChange(ctx, storage.ChangeEvent{Key: storage.KeyCart}))
	assert.False(t, h.ledger.OnExternalChange(ctx, storage.ChangeEvent{Key: "cart_user-2"}))
	assert.False(t, h.ledger.OnExternalChange(ctx, storage.ChangeEvent{Key: storage.KeyWishlist}))
	assert.True(t, h.ledger.OnExternalChange(ctx, storage.ChangeEvent{Key: "cart_user-1"}))
}

// ============================================
// Clear / Replace / Rescope
// ============================================

func TestClear_EmptiesLocalAndRemote(t *testing.T) {
	h := newHarness(t, "user-1")
	ctx := context.Background()
	require.NoError(t, h.ledger.Load(ctx))
	_, _ = h.ledger.Add(ctx, product("mug", "3"), 2)
	_, _ = h.ledger.Add(ctx, product("vase", "9"), 1)

	require.NoError(t, h.ledger.Clear(ctx))
	h.repl.Drain()

	assert.Empty(t, h.ledger.Snapshot().Lines)
	assert.Empty(t, h.remote.Cart("user-1"))
	st, err := ReadStored(ctx, h.local, "cart_user-1", zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, st.Lines)
}

func TestReplaceThenSync(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.remote.SeedCart("user-1", remote.LineRecord{ProductID: "stale", Quantity: 1})

	require.NoError(t, h.ledger.Replace(ctx, "user-1", []Line{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 1}}))
	h.ledger.Sync()
	h.repl.Drain()

	assert.Equal(t, "user-1", h.ledger.Owner())
	assertRemote(t, []qty{{"a", 2}, {"b", 1}}, h.remote.Cart("user-1"))
	st, err := ReadStored(ctx, h.local, "cart_user-1", zerolog.Nop())
	require.NoError(t, err)
	assertQuantities(t, []qty{{"a", 2}, {"b", 1}}, st.Lines)
}

func TestRescope_KeepsCartAsGuest(t *testing.T) {
	h := newHarness(t, "user-1")
	ctx := context.Background()
	require.NoError(t, h.ledger.Load(ctx))
	_, _ = h.ledger.Add(ctx, product("mug", "3"), 2)

	h.owner.set("")
	require.NoError(t, h.ledger.Rescope(ctx, "user-1", false))

	assert.Equal(t, "", h.ledger.Owner())
	assertQuantities(t, []qty{{"mug", 2}}, h.ledger.Snapshot().Lines)
	st, err := ReadStored(ctx, h.local, storage.KeyCart, zerolog.Nop())
	require.NoError(t, err)
	assertQuantities(t, []qty{{"mug", 2}}, st.Lines)
	assert.Equal(t, "user-1", st.InheritedFrom)

	// the user's own cart stays for the next login
	userCart, err := ReadStored(ctx, h.local, "cart_user-1", zerolog.Nop())
	require.NoError(t, err)
	assertQuantities(t, []qty{{"mug", 2}}, userCart.Lines)
}

func TestRescope_Clear(t *testing.T) {
	h := newHarness(t, "user-1")
	ctx := context.Background()
	require.NoError(t, h.ledger.Load(ctx))
	_, _ = h.ledger.Add(ctx, product("mug", "3"), 2)

	h.owner.set("")
	require.NoError(t, h.ledger.Rescope(ctx, "user-1", true))

	assert.Empty(t, h.ledger.Snapshot().Lines)
	st, err := ReadStored(ctx, h.local, storage.KeyCart, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, st.Lines)
	assert.Empty(t, st.InheritedFrom)
}
