package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/artisanhub/internal/remote"
	"github.com/example/artisanhub/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidProduct = errors.New("product id is required")
	errDuplicateLine  = errors.New("duplicate product id")
	errBadQuantity    = errors.New("quantity must be positive")
	errNegativePrice  = errors.New("unit price must not be negative")
)

// Product is what a caller adds to the cart. Its title, price and
// references are copied into the line at add time.
type Product struct {
	ID        string
	Title     string
	Price     decimal.Decimal
	ImageRef  string
	SellerRef string
}

// Line is one product in the cart
type Line struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	ImageRef  string          `json:"imageRef,omitempty"`
	SellerRef string          `json:"sellerRef,omitempty"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l Line) Record() remote.LineRecord {
	return remote.LineRecord{
		ProductID: l.ProductID,
		Quantity:  l.Quantity,
		Title:     l.Title,
		UnitPrice: l.UnitPrice,
		ImageRef:  l.ImageRef,
		SellerRef: l.SellerRef,
	}
}

func FromRecord(r remote.LineRecord) Line {
	return Line{
		ProductID: r.ProductID,
		Title:     r.Title,
		UnitPrice: r.UnitPrice,
		Quantity:  r.Quantity,
		ImageRef:  r.ImageRef,
		SellerRef: r.SellerRef,
	}
}

// Totals are derived from the lines and never stored
type Totals struct {
	ItemCount int             `json:"itemCount"`
	AmountDue decimal.Decimal `json:"amountDue"`
}

func Total(lines []Line) Totals {
	t := Totals{AmountDue: decimal.Zero}
	for _, l := range lines {
		t.ItemCount += l.Quantity
		t.AmountDue = t.AmountDue.Add(l.Subtotal())
	}
	return t
}

// Snapshot is the cart as published to renderers
type Snapshot struct {
	Owner     string          `json:"owner,omitempty"`
	Lines     []Line          `json:"lines"`
	ItemCount int             `json:"itemCount"`
	AmountDue decimal.Decimal `json:"amountDue"`
}

func snapshotOf(owner string, lines []Line) Snapshot {
	t := Total(lines)
	return Snapshot{
		Owner:     owner,
		Lines:     copyLines(lines),
		ItemCount: t.ItemCount,
		AmountDue: t.AmountDue,
	}
}

func copyLines(lines []Line) []Line {
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}

// Stored is the persisted form of a cart. InheritedFrom is set on a guest
// cart that was kept when that user logged out.
type Stored struct {
	Lines         []Line    `json:"lines"`
	InheritedFrom string    `json:"inheritedFrom,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (s *Stored) Validate() error {
	seen := make(map[string]bool, len(s.Lines))
	for _, l := range s.Lines {
		switch {
		case l.ProductID == "":
			return ErrInvalidProduct
		case l.Quantity < 1:
			return fmt.Errorf("%s: %w", l.ProductID, errBadQuantity)
		case l.UnitPrice.IsNegative():
			return fmt.Errorf("%s: %w", l.ProductID, errNegativePrice)
		case seen[l.ProductID]:
			return fmt.Errorf("%s: %w", l.ProductID, errDuplicateLine)
		}
		seen[l.ProductID] = true
	}
	return nil
}

// ReadStored loads the cart stored under key. A corrupt value is logged,
// removed and reported as an empty cart; only tier failures are returned.
func ReadStored(ctx context.Context, tier storage.Tier, key string, logger zerolog.Logger) (Stored, error) {
	var st Stored
	_, err := storage.GetJSON(ctx, tier, key, &st)
	if errors.Is(err, storage.ErrCorrupt) {
		logger.Warn().Err(err).Str("key", key).Msg("stored cart is corrupt, treating as empty")
		if rmErr := tier.Remove(ctx, key); rmErr != nil {
			logger.Warn().Err(rmErr).Str("key", key).Msg("failed to clear corrupt cart")
		}
		return Stored{Lines: []Line{}}, nil
	}
	if err != nil {
		return Stored{Lines: []Line{}}, err
	}
	if st.Lines == nil {
		st.Lines = []Line{}
	}
	return st, nil
}

// WriteStored persists lines under key
func WriteStored(ctx context.Context, tier storage.Tier, key string, st Stored) error {
	if st.Lines == nil {
		st.Lines = []Line{}
	}
	st.UpdatedAt = time.Now().UTC()
	return storage.SetJSON(ctx, tier, key, st)
}
