package cart

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/artisanhub/internal/notify"
	"github.com/example/artisanhub/internal/remote"
	"github.com/example/artisanhub/internal/storage"
	"github.com/rs/zerolog"
)

// Options configures a Ledger. Remote and Replicator may be nil, in which
// case the ledger is local-only.
type Options struct {
	Local      storage.Tier
	Owner      storage.Owner
	Remote     remote.Store
	Replicator *remote.Replicator
	Publisher  notify.Publisher
	Origin     string
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// Ledger is the cart of the current actor. Local storage is written on every
// mutation and is the source of truth; the remote store is a replica
// written through the replicator while a user is logged in.
type Ledger struct {
	local     storage.Tier
	owner     storage.Owner
	remote    remote.Store
	repl      *remote.Replicator
	publisher notify.Publisher
	origin    string
	timeout   time.Duration
	logger    zerolog.Logger

	mu            sync.Mutex
	userID        string
	lines         []Line
	inheritedFrom string

	// set when a remote write fails; the next Load trusts local storage
	stale atomic.Bool
}

func NewLedger(opts Options) *Ledger {
	l := &Ledger{
		local:     opts.Local,
		owner:     opts.Owner,
		remote:    opts.Remote,
		repl:      opts.Replicator,
		publisher: opts.Publisher,
		origin:    opts.Origin,
		timeout:   opts.Timeout,
		logger:    opts.Logger.With().Str("component", "cart").Logger(),
		lines:     []Line{},
	}
	if l.publisher == nil {
		l.publisher = notify.Discard{}
	}
	if l.timeout <= 0 {
		l.timeout = remote.DefaultTimeout
	}
	if l.remote != nil && l.repl == nil {
		l.repl = remote.NewReplicator(l.timeout, opts.Logger)
	}
	if l.repl != nil {
		l.repl.OnFailure(func(string, error) { l.stale.Store(true) })
	}
	return l
}

func (l *Ledger) key() string {
	return storage.ScopedKey(storage.KeyCart, l.userID)
}

// Add puts quantity of product into the cart. A product already present has
// its quantity increased and keeps the title and price it was first added
// with. Quantities below 1 are treated as 1.
func (l *Ledger) Add(ctx context.Context, p Product, quantity int) (Snapshot, error) {
	if p.ID == "" {
		return l.Snapshot(), ErrInvalidProduct
	}
	if quantity < 1 {
		quantity = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var changed Line
	found := false
	for i := range l.lines {
		if l.lines[i].ProductID == p.ID {
			l.lines[i].Quantity += quantity
			changed = l.lines[i]
			found = true
			break
		}
	}
	if !found {
		changed = Line{
			ProductID: p.ID,
			Title:     p.Title,
			UnitPrice: p.Price,
			Quantity:  quantity,
			ImageRef:  p.ImageRef,
			SellerRef: p.SellerRef,
		}
		l.lines = append(l.lines, changed)
	}

	if err := l.writeLocal(ctx); err != nil {
		return snapshotOf(l.userID, l.lines), err
	}
	l.replicateUpsert(changed)
	return l.publish(notify.KindAdd), nil
}

// Remove deletes the line for productID. An absent product is a no-op.
func (l *Ledger) Remove(ctx context.Context, productID string) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeLocked(ctx, productID)
}

func (l *Ledger) removeLocked(ctx context.Context, productID string) (Snapshot, error) {
	idx := l.indexOf(productID)
	if idx < 0 {
		return snapshotOf(l.userID, l.lines), nil
	}
	l.lines = append(l.lines[:idx:idx], l.lines[idx+1:]...)

	if err := l.writeLocal(ctx); err != nil {
		return snapshotOf(l.userID, l.lines), err
	}
	l.replicateDelete(productID)
	return l.publish(notify.KindRemove), nil
}

// SetQuantity changes the quantity of an existing line. Quantities of zero
// or less remove the line; an absent product is a no-op.
func (l *Ledger) SetQuantity(ctx context.Context, productID string, quantity int) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if quantity <= 0 {
		return l.removeLocked(ctx, productID)
	}
	idx := l.indexOf(productID)
	if idx < 0 {
		return snapshotOf(l.userID, l.lines), nil
	}
	l.lines[idx].Quantity = quantity

	if err := l.writeLocal(ctx); err != nil {
		return snapshotOf(l.userID, l.lines), err
	}
	l.replicateUpsert(l.lines[idx])
	return l.publish(notify.KindQuantity), nil
}

func (l *Ledger) indexOf(productID string) int {
	for i := range l.lines {
		if l.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (l *Ledger) Total() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Total(l.lines)
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return snapshotOf(l.userID, l.lines)
}

// Owner returns the user id the in-memory lines belong to
func (l *Ledger) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userID
}

// Persist writes the cart to local storage and schedules a full replication
// of it to the remote store. A remote failure is never returned.
func (l *Ledger) Persist(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writeLocal(ctx); err != nil {
		return err
	}
	l.syncLocked()
	return nil
}

// Sync schedules a full replication of the current lines
func (l *Ledger) Sync() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncLocked()
}

// Load replaces the in-memory cart for the current owner. A logged-in user
// reads the remote store when it is reachable and local storage otherwise;
// a guest always reads local storage. After a failed remote write local
// storage wins and is replicated back.
func (l *Ledger) Load(ctx context.Context) error {
	userID := ""
	if l.owner != nil {
		userID = l.owner.UserID()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.userID = userID

	if userID != "" && l.remote != nil {
		l.repl.Drain()
		if l.stale.Swap(false) {
			l.logger.Warn().Str("user_id", userID).Msg("remote cart may be behind, using local cart")
			if err := l.readLocal(ctx); err != nil {
				return err
			}
			l.syncLocked()
			l.publish(notify.KindLoad)
			return nil
		}

		lines, err := l.fetchRemote(ctx, userID)
		if err == nil {
			l.lines = lines
			l.inheritedFrom = ""
			if err := l.writeLocal(ctx); err != nil {
				return err
			}
			l.publish(notify.KindLoad)
			return nil
		}
		l.logger.Warn().Err(err).Str("user_id", userID).Msg("remote cart unavailable, showing local cart")
	}

	if err := l.readLocal(ctx); err != nil {
		return err
	}
	l.publish(notify.KindLoad)
	return nil
}

// LoadLocal replaces the in-memory cart for the current owner from local
// storage only
func (l *Ledger) LoadLocal(ctx context.Context) error {
	userID := ""
	if l.owner != nil {
		userID = l.owner.UserID()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.userID = userID
	if err := l.readLocal(ctx); err != nil {
		return err
	}
	l.publish(notify.KindLoad)
	return nil
}

func (l *Ledger) fetchRemote(ctx context.Context, userID string) ([]Line, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	records, err := l.remote.ListCartLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	lines := make([]Line, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if r.ProductID == "" || r.Quantity < 1 || seen[r.ProductID] {
			l.logger.Warn().Str("product_id", r.ProductID).Msg("skipping invalid remote cart line")
			continue
		}
		seen[r.ProductID] = true
		lines = append(lines, FromRecord(r))
	}
	return lines, nil
}

// OnExternalChange reloads the cart from local storage when another client
// wrote this owner's cart key. It reports whether the key was relevant.
func (l *Ledger) OnExternalChange(ctx context.Context, ev storage.ChangeEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev.Key != l.key() {
		return false
	}
	if err := l.readLocal(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("failed to reload cart after external change")
		return true
	}
	out := notify.Event{
		Type:    notify.CartChanged,
		Kind:    notify.KindExternal,
		Origin:  ev.Origin,
		UserID:  l.userID,
		Payload: snapshotOf(l.userID, l.lines),
	}
	l.publisher.Publish(out)
	return true
}

// Clear empties the cart, e.g. after checkout
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := l.lines
	l.lines = []Line{}
	l.inheritedFrom = ""
	if err := l.writeLocal(ctx); err != nil {
		return err
	}
	for _, line := range removed {
		l.replicateDelete(line.ProductID)
	}
	l.publish(notify.KindClear)
	return nil
}

// Replace installs lines as the cart of userID and writes them locally.
// Nothing is replicated; call Sync for that.
func (l *Ledger) Replace(ctx context.Context, userID string, lines []Line) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.userID = userID
	l.lines = copyLines(lines)
	l.inheritedFrom = ""
	if err := l.writeLocal(ctx); err != nil {
		return err
	}
	l.publish(notify.KindReplace)
	return nil
}

// Rescope moves the in-memory cart to the current owner after a logout.
// Unless clear is set the lines are kept and remembered as inherited from
// previousUserID; the user's own stored cart is left in place.
func (l *Ledger) Rescope(ctx context.Context, previousUserID string, clear bool) error {
	userID := ""
	if l.owner != nil {
		userID = l.owner.UserID()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.userID = userID
	l.inheritedFrom = ""
	if clear {
		l.lines = []Line{}
	} else if len(l.lines) > 0 {
		l.inheritedFrom = previousUserID
	}
	if err := l.writeLocal(ctx); err != nil {
		return err
	}
	l.publish(notify.KindReplace)
	return nil
}

func (l *Ledger) readLocal(ctx context.Context) error {
	st, err := ReadStored(ctx, l.local, l.key(), l.logger)
	if err != nil {
		return fmt.Errorf("failed to load cart: %w", err)
	}
	l.lines = st.Lines
	l.inheritedFrom = st.InheritedFrom
	return nil
}

func (l *Ledger) writeLocal(ctx context.Context) error {
	st := Stored{Lines: l.lines, InheritedFrom: l.inheritedFrom}
	if err := WriteStored(ctx, l.local, l.key(), st); err != nil {
		return fmt.Errorf("failed to persist cart: %w", err)
	}
	return nil
}

func (l *Ledger) publish(kind notify.Kind) Snapshot {
	snap := snapshotOf(l.userID, l.lines)
	l.publisher.Publish(notify.Event{
		Type:    notify.CartChanged,
		Kind:    kind,
		Origin:  l.origin,
		UserID:  l.userID,
		Payload: snap,
	})
	return snap
}

func (l *Ledger) replicates() bool {
	return l.userID != "" && l.remote != nil
}

func (l *Ledger) replicateUpsert(line Line) {
	if !l.replicates() {
		return
	}
	userID, rec := l.userID, line.Record()
	l.repl.Enqueue("upsert cart line "+rec.ProductID, func(ctx context.Context) error {
		return l.remote.UpsertCartLine(ctx, userID, rec)
	})
}

func (l *Ledger) replicateDelete(productID string) {
	if !l.replicates() {
		return
	}
	userID := l.userID
	l.repl.Enqueue("delete cart line "+productID, func(ctx context.Context) error {
		return l.remote.DeleteCartLine(ctx, userID, productID)
	})
}

// syncLocked makes the remote cart equal to the current lines
func (l *Ledger) syncLocked() {
	if !l.replicates() {
		return
	}
	userID, lines := l.userID, copyLines(l.lines)
	l.repl.Enqueue("sync cart", func(ctx context.Context) error {
		existing, err := l.remote.ListCartLines(ctx, userID)
		if err != nil {
			return err
		}
		keep := make(map[string]bool, len(lines))
		for _, line := range lines {
			keep[line.ProductID] = true
		}
		for _, rec := range existing {
			if keep[rec.ProductID] {
				continue
			}
			if err := l.remote.DeleteCartLine(ctx, userID, rec.ProductID); err != nil {
				return err
			}
		}
		for _, line := range lines {
			if err := l.remote.UpsertCartLine(ctx, userID, line.Record()); err != nil {
				return err
			}
		}
		return nil
	})
}
