package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/example/artisanhub/internal/remote"
	"github.com/google/uuid"
)

// MockStore is an in-memory remote.Store for testing
type MockStore struct {
	mu     sync.RWMutex
	users  map[string]*remote.UserRecord
	emails map[string]string
	carts  map[string][]remote.LineRecord

	// Unavailable makes every call fail with remote.ErrUnavailable
	Unavailable bool

	// For tracking calls in tests
	UpsertCalls []UpsertCall
	DeleteCalls []DeleteCall
	ListCalls   []string

	GetUserErr error
	UpsertErr  error
	DeleteErr  error
	ListErr    error

	// UpsertCallback runs before an upsert is applied, e.g. to block it
	UpsertCallback func(ctx context.Context, userID string, line remote.LineRecord) error
}

// UpsertCall records parameters passed to UpsertCartLine
type UpsertCall struct {
	UserID string
	Line   remote.LineRecord
}

// DeleteCall records parameters passed to DeleteCartLine
type DeleteCall struct {
	UserID    string
	ProductID string
}

var _ remote.Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		users:  make(map[string]*remote.UserRecord),
		emails: make(map[string]string),
		carts:  make(map[string][]remote.LineRecord),
	}
}

// SetUnavailable toggles the unreachable state
func (m *MockStore) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unavailable = v
}

func (m *MockStore) GetUser(ctx context.Context, key string) (*remote.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Unavailable {
		return nil, remote.ErrUnavailable
	}
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	id := key
	if remote.IsEmailKey(key) {
		id = m.emails[remote.NormalizeEmail(key)]
	}
	u, ok := m.users[id]
	if !ok {
		return nil, remote.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *MockStore) CreateUser(ctx context.Context, data remote.NewUser) (*remote.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unavailable {
		return nil, remote.ErrUnavailable
	}
	email := remote.NormalizeEmail(data.Email)
	if email == "" || data.PasswordHash == "" {
		return nil, remote.ErrInvalidUser
	}
	if _, exists := m.emails[email]; exists {
		return nil, remote.ErrConflict
	}
	u := &remote.UserRecord{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  data.DisplayName,
		IsArtisan:    data.IsArtisan,
		PasswordHash: data.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[u.ID] = u
	m.emails[email] = u.ID
	copied := *u
	return &copied, nil
}

func (m *MockStore) UpsertCartLine(ctx context.Context, userID string, line remote.LineRecord) error {
	m.mu.Lock()
	m.UpsertCalls = append(m.UpsertCalls, UpsertCall{UserID: userID, Line: line})
	callback := m.UpsertCallback
	m.mu.Unlock()

	if callback != nil {
		if err := callback(ctx, userID, line); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unavailable {
		return remote.ErrUnavailable
	}
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	lines := m.carts[userID]
	for i := range lines {
		if lines[i].ProductID == line.ProductID {
			lines[i] = line
			return nil
		}
	}
	m.carts[userID] = append(lines, line)
	return nil
}

func (m *MockStore) DeleteCartLine(ctx context.Context, userID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, DeleteCall{UserID: userID, ProductID: productID})
	if m.Unavailable {
		return remote.ErrUnavailable
	}
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	lines := m.carts[userID]
	for i := range lines {
		if lines[i].ProductID == productID {
			m.carts[userID] = append(lines[:i:i], lines[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MockStore) ListCartLines(ctx context.Context, userID string) ([]remote.LineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls = append(m.ListCalls, userID)
	if m.Unavailable {
		return nil, remote.ErrUnavailable
	}
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]remote.LineRecord, len(m.carts[userID]))
	copy(out, m.carts[userID])
	return out, nil
}

// SeedUser stores a user directly, bypassing validation
func (m *MockStore) SeedUser(u remote.UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := u
	m.users[u.ID] = &copied
	m.emails[remote.NormalizeEmail(u.Email)] = u.ID
}

// SeedCart replaces a user's remote cart
func (m *MockStore) SeedCart(userID string, lines ...remote.LineRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = append([]remote.LineRecord(nil), lines...)
}

// Cart returns a copy of a user's remote cart
func (m *MockStore) Cart(userID string) []remote.LineRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]remote.LineRecord, len(m.carts[userID]))
	copy(out, m.carts[userID])
	return out
}

// UpsertCount returns the number of UpsertCartLine calls
func (m *MockStore) UpsertCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.UpsertCalls)
}

// Reset clears recorded calls
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls = nil
	m.DeleteCalls = nil
	m.ListCalls = nil
}
