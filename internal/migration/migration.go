package migration

import (
	"context"
	"errors"
	"time"

	"github.com/example/artisanhub/internal/domain/cart"
	"github.com/example/artisanhub/internal/domain/history"
	"github.com/example/artisanhub/internal/domain/wishlist"
	"github.com/example/artisanhub/internal/remote"
	"github.com/example/artisanhub/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrNoUser = errors.New("migration: user id is required")

// Report summarizes one guest to user migration
type Report struct {
	UserID string `json:"userId"`
	// GuestLines is the number of guest cart lines carried over
	GuestLines int `json:"guestLines"`
	// MergedLines counts guest lines whose product was already in the user's cart
	MergedLines   int  `json:"mergedLines"`
	CartLines     int  `json:"cartLines"`
	WishlistAdded int  `json:"wishlistAdded"`
	HistoryLen    int  `json:"historyLen"`
	RemoteUsed    bool `json:"remoteUsed"`
}

// Options wires a Migrator. Remote and Replicator may be nil.
type Options struct {
	Local      storage.Tier
	Remote     remote.Store
	Replicator *remote.Replicator
	Ledger     *cart.Ledger
	Wishlist   *wishlist.Wishlist
	History    *history.History
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// Migrator merges the guest cart, wishlist and view history into a user's
// records at login and deletes the guest copies
type Migrator struct {
	local    storage.Tier
	remote   remote.Store
	repl     *remote.Replicator
	ledger   *cart.Ledger
	wishlist *wishlist.Wishlist
	history  *history.History
	timeout  time.Duration
	logger   zerolog.Logger
}

func New(opts Options) *Migrator {
	if opts.Timeout <= 0 {
		opts.Timeout = remote.DefaultTimeout
	}
	return &Migrator{
		local:    opts.Local,
		remote:   opts.Remote,
		repl:     opts.Replicator,
		ledger:   opts.Ledger,
		wishlist: opts.Wishlist,
		history:  opts.History,
		timeout:  opts.Timeout,
		logger:   opts.Logger.With().Str("component", "migration").Logger(),
	}
}

// MergeLines folds guest into user. Lines of a product both carts hold get
// the summed quantity, or the larger one when the guest cart was inherited
// from this same user at logout. Other guest lines are appended in order.
func MergeLines(user, guest []cart.Line, inherited bool) ([]cart.Line, int) {
	out := make([]cart.Line, len(user), len(user)+len(guest))
	copy(out, user)
	index := make(map[string]int, len(out))
	for i, l := range out {
		index[l.ProductID] = i
	}

	matched := 0
	for _, g := range guest {
		i, ok := index[g.ProductID]
		if !ok {
			index[g.ProductID] = len(out)
			out = append(out, g)
			continue
		}
		matched++
		if inherited {
			out[i].Quantity = max(out[i].Quantity, g.Quantity)
		} else {
			out[i].Quantity += g.Quantity
		}
	}
	return out, matched
}

type inputs struct {
	guest      cart.Stored
	userLines  []cart.Line
	remoteUsed bool

	guestWishlist []string
	userWishlist  []string
	guestHistory  []string
	userHistory   []string
}

// Run migrates guest state into userID. Running it again without new guest
// activity leaves the user's records unchanged. An unreachable remote store
// is not an error; only local storage failures are returned.
func (m *Migrator) Run(ctx context.Context, userID string) (Report, error) {
	if userID == "" {
		return Report{}, ErrNoUser
	}
	if m.repl != nil {
		m.repl.Drain()
	}

	in, err := m.read(ctx, userID)
	if err != nil {
		return Report{}, err
	}

	merged, matched := MergeLines(in.userLines, in.guest.Lines, in.guest.InheritedFrom == userID)
	if err := m.ledger.Replace(ctx, userID, merged); err != nil {
		return Report{}, err
	}
	if len(in.guest.Lines) > 0 || !in.remoteUsed {
		m.ledger.Sync()
	}

	wish, added := wishlist.Union(in.userWishlist, in.guestWishlist)
	if err := m.wishlist.Replace(ctx, userID, wish); err != nil {
		return Report{}, err
	}

	hist := history.Merge(in.guestHistory, in.userHistory)
	if err := m.history.Replace(ctx, userID, hist); err != nil {
		return Report{}, err
	}

	for _, key := range []string{storage.KeyCart, storage.KeyWishlist, storage.KeyViewHistory} {
		if err := m.local.Remove(ctx, key); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("failed to delete guest record")
		}
	}

	rep := Report{
		UserID:        userID,
		GuestLines:    len(in.guest.Lines),
		MergedLines:   matched,
		CartLines:     len(merged),
		WishlistAdded: added,
		HistoryLen:    len(hist),
		RemoteUsed:    in.remoteUsed,
	}
	m.logger.Info().
		Str("user_id", userID).
		Int("guest_lines", rep.GuestLines).
		Int("merged_lines", rep.MergedLines).
		Int("wishlist_added", rep.WishlistAdded).
		Bool("remote_used", rep.RemoteUsed).
		Msg("guest state migrated")
	return rep, nil
}

func (m *Migrator) read(ctx context.Context, userID string) (inputs, error) {
	var in inputs
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		st, err := cart.ReadStored(gctx, m.local, storage.KeyCart, m.logger)
		in.guest = st
		return err
	})
	g.Go(func() error {
		lines, used, err := m.userCart(gctx, userID)
		in.userLines, in.remoteUsed = lines, used
		return err
	})
	g.Go(func() error {
		var err error
		if in.guestWishlist, err = wishlist.Read(gctx, m.local, storage.KeyWishlist, m.logger); err != nil {
			return err
		}
		in.userWishlist, err = wishlist.Read(gctx, m.local, storage.ScopedKey(storage.KeyWishlist, userID), m.logger)
		return err
	})
	g.Go(func() error {
		var err error
		if in.guestHistory, err = history.Read(gctx, m.local, storage.KeyViewHistory, m.logger); err != nil {
			return err
		}
		in.userHistory, err = history.Read(gctx, m.local, storage.ScopedKey(storage.KeyViewHistory, userID), m.logger)
		return err
	})

	if err := g.Wait(); err != nil {
		return inputs{}, err
	}
	return in, nil
}

// userCart prefers the remote cart and falls back to the local copy
func (m *Migrator) userCart(ctx context.Context, userID string) ([]cart.Line, bool, error) {
	if m.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, m.timeout)
		records, err := m.remote.ListCartLines(rctx, userID)
		cancel()
		if err == nil {
			lines := make([]cart.Line, 0, len(records))
			seen := make(map[string]bool, len(records))
			for _, r := range records {
				if r.ProductID == "" || r.Quantity < 1 || seen[r.ProductID] {
					continue
				}
				seen[r.ProductID] = true
				lines = append(lines, cart.FromRecord(r))
			}
			return lines, true, nil
		}
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("remote cart unavailable, migrating with local data")
	}

	st, err := cart.ReadStored(ctx, m.local, storage.ScopedKey(storage.KeyCart, userID), m.logger)
	if err != nil {
		return nil, false, err
	}
	return st.Lines, false, nil
}
