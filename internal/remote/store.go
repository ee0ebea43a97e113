package remote

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("remote: not found")
	ErrConflict     = errors.New("remote: already exists")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrUnavailable  = errors.New("remote: unavailable")
	ErrInvalidUser  = errors.New("remote: email and password hash are required")
	ErrInvalidLine  = errors.New("remote: product_id and a positive quantity are required")
)

// Store is the hosted backend. The cart core treats it as a best-effort replica.
type Store interface {
	// GetUser looks a user up by id or by email
	GetUser(ctx context.Context, key string) (*UserRecord, error)
	CreateUser(ctx context.Context, data NewUser) (*UserRecord, error)
	UpsertCartLine(ctx context.Context, userID string, line LineRecord) error
	DeleteCartLine(ctx context.Context, userID, productID string) error
	// ListCartLines returns a user's lines in the order they were first added
	ListCartLines(ctx context.Context, userID string) ([]LineRecord, error)
}

// UserRecord is a stored user
type UserRecord struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	IsArtisan    bool      `json:"isArtisan"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewUser is the input to CreateUser. Database-backed stores only accept
// PasswordHash; Password travels to the edge API, which hashes it.
type NewUser struct {
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IsArtisan    bool   `json:"isArtisan"`
	Password     string `json:"password,omitempty"`
	PasswordHash string `json:"-"`
}

// LineRecord is one replicated cart line, including the add-time snapshot
type LineRecord struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	ImageRef  string          `json:"imageRef,omitempty"`
	SellerRef string          `json:"sellerRef,omitempty"`
}

func (l LineRecord) valid() bool {
	return l.ProductID != "" && l.Quantity > 0
}

// NormalizeEmail lower-cases and trims an email for lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsEmailKey reports whether a GetUser key is an email rather than an id
func IsEmailKey(key string) bool {
	return strings.Contains(key, "@")
}
