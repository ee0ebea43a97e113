package storage

import (
	"context"
	"strings"
	"time"
)

// Record keys. User-owned records are suffixed with the user id after login.
const (
	KeyCurrentUser = "currentUser"
	KeyCart        = "cart"
	KeyWishlist    = "wishlist"
	KeyViewHistory = "viewHistory"
	KeyPreferences = "preferences"
)

// Tier is a durable key-value storage tier
type Tier interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// ChangeEvent describes a write made to a shared tier by some origin
type ChangeEvent struct {
	Key     string    `json:"key"`
	Origin  string    `json:"origin"`
	Removed bool      `json:"removed"`
	At      time.Time `json:"at"`
}

// Watchable is a tier shared between origins that reports writes made by
// other origins. The subscription is active when Watch returns.
type Watchable interface {
	Watch(ctx context.Context, fn func(ChangeEvent)) (stop func(), err error)
}

// Owner reports whose user-scoped records are current. An empty id is the guest.
type Owner interface {
	UserID() string
}

// ScopedKey returns the per-user variant of a record key, or base for a guest
func ScopedKey(base, userID string) string {
	if userID == "" {
		return base
	}
	return base + "_" + userID
}

// BaseKey strips the user suffix from a scoped key
func BaseKey(key string) string {
	base, _, _ := strings.Cut(key, "_")
	return base
}
