package wishlist

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/example/artisanhub/internal/storage"
	"github.com/rs/zerolog"
)

var ErrInvalidProduct = errors.New("product id is required")

// Items is the stored form of a wishlist
type Items []string

func (it *Items) Validate() error {
	seen := make(map[string]bool, len(*it))
	for _, id := range *it {
		if id == "" {
			return ErrInvalidProduct
		}
		if seen[id] {
			return fmt.Errorf("duplicate product id %s", id)
		}
		seen[id] = true
	}
	return nil
}

// Wishlist is an ordered set of product ids kept in the long-lived tier
// under the owner's key
type Wishlist struct {
	local  storage.Tier
	owner  storage.Owner
	logger zerolog.Logger

	mu     sync.Mutex
	userID string
	items  []string
}

func New(local storage.Tier, owner storage.Owner, logger zerolog.Logger) *Wishlist {
	return &Wishlist{
		local:  local,
		owner:  owner,
		logger: logger.With().Str("component", "wishlist").Logger(),
		items:  []string{},
	}
}

func (w *Wishlist) key() string {
	return storage.ScopedKey(storage.KeyWishlist, w.userID)
}

// Load reads the wishlist of the current owner
func (w *Wishlist) Load(ctx context.Context) error {
	userID := w.owner.UserID()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.userID = userID
	items, err := Read(ctx, w.local, w.key(), w.logger)
	if err != nil {
		return err
	}
	w.items = items
	return nil
}

// Add appends productID unless present and reports whether it was added
func (w *Wishlist) Add(ctx context.Context, productID string) (bool, error) {
	if productID == "" {
		return false, ErrInvalidProduct
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if slices.Contains(w.items, productID) {
		return false, nil
	}
	w.items = append(w.items, productID)
	return true, w.write(ctx)
}

// Remove deletes productID. An absent id is a no-op.
func (w *Wishlist) Remove(ctx context.Context, productID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := slices.Index(w.items, productID)
	if idx < 0 {
		return nil
	}
	w.items = slices.Delete(w.items, idx, idx+1)
	return w.write(ctx)
}

// Toggle adds or removes productID and reports whether it is now present
func (w *Wishlist) Toggle(ctx context.Context, productID string) (bool, error) {
	if w.Contains(productID) {
		return false, w.Remove(ctx, productID)
	}
	return w.Add(ctx, productID)
}

func (w *Wishlist) Contains(productID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Contains(w.items, productID)
}

func (w *Wishlist) Items() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.items)
}

// Replace installs items as the wishlist of userID
func (w *Wishlist) Replace(ctx context.Context, userID string, items []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.userID = userID
	w.items = slices.Clone(items)
	return w.write(ctx)
}

// Reset empties the in-memory wishlist and rescopes it to the current owner.
// Stored wishlists are left alone.
func (w *Wishlist) Reset() {
	userID := w.owner.UserID()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.userID = userID
	w.items = []string{}
}

// OnExternalChange reloads when another client wrote this owner's wishlist
func (w *Wishlist) OnExternalChange(ctx context.Context, ev storage.ChangeEvent) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ev.Key != w.key() {
		return false
	}
	items, err := Read(ctx, w.local, w.key(), w.logger)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to reload wishlist after external change")
		return true
	}
	w.items = items
	return true
}

func (w *Wishlist) write(ctx context.Context) error {
	if err := storage.SetJSON(ctx, w.local, w.key(), Items(w.items)); err != nil {
		return fmt.Errorf("failed to persist wishlist: %w", err)
	}
	return nil
}

// Read loads the wishlist stored under key, treating corrupt data as empty
func Read(ctx context.Context, tier storage.Tier, key string, logger zerolog.Logger) ([]string, error) {
	var items Items
	_, err := storage.GetJSON(ctx, tier, key, &items)
	if errors.Is(err, storage.ErrCorrupt) {
		logger.Warn().Err(err).Str("key", key).Msg("stored wishlist is corrupt, treating as empty")
		if rmErr := tier.Remove(ctx, key); rmErr != nil {
			logger.Warn().Err(rmErr).Str("key", key).Msg("failed to clear corrupt wishlist")
		}
		return []string{}, nil
	}
	if err != nil {
		return []string{}, fmt.Errorf("failed to load wishlist: %w", err)
	}
	if items == nil {
		return []string{}, nil
	}
	return items, nil
}

// Union returns existing followed by the ids of incoming it lacks, and how
// many were added
func Union(existing, incoming []string) ([]string, int) {
	out := slices.Clone(existing)
	if out == nil {
		out = []string{}
	}
	added := 0
	for _, id := range incoming {
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
		added++
	}
	return out, added
}
