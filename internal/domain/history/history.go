package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/example/artisanhub/internal/storage"
	"github.com/rs/zerolog"
)

// MaxEntries bounds the view history
const MaxEntries = 50

var ErrInvalidProduct = errors.New("product id is required")

type Entries []string

func (e *Entries) Validate() error {
	for _, id := range *e {
		if id == "" {
			return ErrInvalidProduct
		}
	}
	return nil
}

// History is the most-recent-first list of viewed product ids
type History struct {
	local  storage.Tier
	owner  storage.Owner
	logger zerolog.Logger

	mu      sync.Mutex
	userID  string
	entries []string
}

func New(local storage.Tier, owner storage.Owner, logger zerolog.Logger) *History {
	return &History{
		local:   local,
		owner:   owner,
		logger:  logger.With().Str("component", "history").Logger(),
		entries: []string{},
	}
}

func (h *History) key() string {
	return storage.ScopedKey(storage.KeyViewHistory, h.userID)
}

// Merge concatenates recent and older, keeps the first occurrence of each
// id and truncates to MaxEntries
func Merge(recent, older []string) []string {
	out := make([]string, 0, min(len(recent)+len(older), MaxEntries))
	seen := make(map[string]bool)
	for _, list := range [][]string{recent, older} {
		for _, id := range list {
			if id == "" || seen[id] {
				continue
			}
			if len(out) == MaxEntries {
				return out
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Record moves productID to the front
func (h *History) Record(ctx context.Context, productID string) error {
	if productID == "" {
		return ErrInvalidProduct
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = Merge([]string{productID}, h.entries)
	return h.write(ctx)
}

func (h *History) Items() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.entries)
}

func (h *History) Load(ctx context.Context) error {
	userID := h.owner.UserID()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userID = userID
	entries, err := Read(ctx, h.local, h.key(), h.logger)
	if err != nil {
		return err
	}
	h.entries = entries
	return nil
}

// Replace installs entries as the history of userID
func (h *History) Replace(ctx context.Context, userID string, entries []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userID = userID
	h.entries = Merge(entries, nil)
	return h.write(ctx)
}

// Reset empties the in-memory history and rescopes it to the current owner
func (h *History) Reset() {
	userID := h.owner.UserID()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userID = userID
	h.entries = []string{}
}

func (h *History) OnExternalChange(ctx context.Context, ev storage.ChangeEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Key != h.key() {
		return false
	}
	entries, err := Read(ctx, h.local, h.key(), h.logger)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to reload view history after external change")
		return true
	}
	h.entries = entries
	return true
}

func (h *History) write(ctx context.Context) error {
	if err := storage.SetJSON(ctx, h.local, h.key(), Entries(h.entries)); err != nil {
		return fmt.Errorf("failed to persist view history: %w", err)
	}
	return nil
}

// Read loads the history stored under key. Corrupt data is cleared and
// read as empty; oversized or duplicated lists are normalized.
func Read(ctx context.Context, tier storage.Tier, key string, logger zerolog.Logger) ([]string, error) {
	var entries Entries
	_, err := storage.GetJSON(ctx, tier, key, &entries)
	if errors.Is(err, storage.ErrCorrupt) {
		logger.Warn().Err(err).Str("key", key).Msg("stored view history is corrupt, treating as empty")
		if rmErr := tier.Remove(ctx, key); rmErr != nil {
			logger.Warn().Err(rmErr).Str("key", key).Msg("failed to clear corrupt view history")
		}
		return []string{}, nil
	}
	if err != nil {
		return []string{}, fmt.Errorf("failed to load view history: %w", err)
	}
	return Merge(entries, nil), nil
}
