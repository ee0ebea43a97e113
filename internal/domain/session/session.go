package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/artisanhub/internal/notify"
	"github.com/example/artisanhub/internal/storage"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidIdentity = errors.New("session: identity id is required")
)

// Identity is the authenticated user
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	IsArtisan   bool   `json:"isArtisan"`
}

// Record is what the session tiers hold under the currentUser key
type Record struct {
	User    *Identity `json:"user"`
	Token   string    `json:"token,omitempty"`
	SavedAt time.Time `json:"savedAt"`
}

func (r *Record) Validate() error {
	if r.User == nil || strings.TrimSpace(r.User.ID) == "" {
		return ErrInvalidIdentity
	}
	return nil
}

// LoginHook runs after a login is persisted and before auth-changed(login)
// is emitted. A non-nil result is attached to the notification.
type LoginHook func(ctx context.Context, user Identity) any

// LogoutHook runs after the session is cleared and before auth-changed(logout)
type LogoutHook func(ctx context.Context, previous *Identity)

// Store owns the current identity. The record lives in exactly one of two
// tiers: longLived when the user asked to be remembered, tab otherwise.
type Store struct {
	longLived storage.Tier
	tab       storage.Tier
	origin    string
	publisher notify.Publisher
	logger    zerolog.Logger

	mu       sync.RWMutex
	user     *Identity
	token    string
	remember bool
	prefs    Preferences

	hookMu      sync.Mutex
	loginHooks  []LoginHook
	logoutHooks []LogoutHook
}

var _ storage.Owner = (*Store)(nil)

func NewStore(longLived, tab storage.Tier, origin string, publisher notify.Publisher, logger zerolog.Logger) *Store {
	if publisher == nil {
		publisher = notify.Discard{}
	}
	return &Store{
		longLived: longLived,
		tab:       tab,
		origin:    origin,
		publisher: publisher,
		logger:    logger.With().Str("component", "session").Logger(),
		prefs:     newPreferences(),
	}
}

func (s *Store) OnLogin(h LoginHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.loginHooks = append(s.loginHooks, h)
}

func (s *Store) OnLogout(h LogoutHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.logoutHooks = append(s.logoutHooks, h)
}

// LoginOption customizes SetUser
type LoginOption func(*Record)

// WithToken stores the remote access token alongside the identity
func WithToken(token string) LoginOption {
	return func(r *Record) { r.Token = token }
}

// SetUser persists user into the tier chosen by remember, clears the other
// tier, runs the login hooks and emits auth-changed(login). It fails only
// when the chosen tier cannot be written.
func (s *Store) SetUser(ctx context.Context, user Identity, remember bool, opts ...LoginOption) error {
	if strings.TrimSpace(user.ID) == "" {
		return ErrInvalidIdentity
	}

	rec := Record{User: &user, SavedAt: time.Now().UTC()}
	for _, opt := range opts {
		opt(&rec)
	}

	target, other := s.tab, s.longLived
	if remember {
		target, other = s.longLived, s.tab
	}
	if err := storage.SetJSON(ctx, target, storage.KeyCurrentUser, rec); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	if err := other.Remove(ctx, storage.KeyCurrentUser); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear session from the other tier")
	}

	s.mu.Lock()
	u := user
	s.user = &u
	s.token = rec.Token
	s.remember = remember
	s.mu.Unlock()

	s.logger.Info().Str("user_id", user.ID).Bool("remember", remember).Msg("user logged in")

	var payload any
	for _, h := range s.hooks() {
		if res := h(ctx, user); res != nil && payload == nil {
			payload = res
		}
	}

	s.publisher.Publish(notify.Event{
		Type:    notify.AuthChanged,
		Kind:    notify.KindLogin,
		Origin:  s.origin,
		UserID:  user.ID,
		Email:   user.Email,
		Payload: payload,
	})
	return nil
}

func (s *Store) hooks() []LoginHook {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return append([]LoginHook(nil), s.loginHooks...)
}

func (s *Store) logoutHooksCopy() []LogoutHook {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return append([]LogoutHook(nil), s.logoutHooks...)
}

// GetUser returns the cached identity without reading storage
func (s *Store) GetUser() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return Identity{}, false
	}
	return *s.user, true
}

func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Remembered reports whether the session is held by the long-lived tier
func (s *Store) Remembered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remember
}

func (s *Store) Origin() string {
	return s.origin
}

// Logout clears the identity from memory and both tiers, resets
// preferences, runs the logout hooks and emits auth-changed(logout).
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	previous := s.user
	s.user = nil
	s.token = ""
	s.remember = false
	s.prefs = newPreferences()
	s.mu.Unlock()

	s.clearTiers(ctx)
	if err := s.longLived.Remove(ctx, storage.KeyPreferences); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear preferences")
	}

	for _, h := range s.logoutHooksCopy() {
		h(ctx, previous)
	}

	ev := notify.Event{Type: notify.AuthChanged, Kind: notify.KindLogout, Origin: s.origin}
	if previous != nil {
		ev.UserID = previous.ID
		ev.Email = previous.Email
		s.logger.Info().Str("user_id", previous.ID).Msg("user logged out")
	}
	s.publisher.Publish(ev)
}

func (s *Store) clearTiers(ctx context.Context) {
	for _, tier := range []storage.Tier{s.tab, s.longLived} {
		if err := tier.Remove(ctx, storage.KeyCurrentUser); err != nil {
			s.logger.Warn().Err(err).Msg("failed to clear session")
		}
	}
}

// Rehydrate reads the session and preferences once at startup. The
// tab-scoped record wins when both tiers hold one.
func (s *Store) Rehydrate(ctx context.Context) {
	rec, remember := s.readRecord(ctx)
	prefs := s.readPreferences(ctx)

	s.mu.Lock()
	s.apply(rec, remember)
	s.prefs = prefs
	s.mu.Unlock()

	if rec != nil {
		s.logger.Info().Str("user_id", rec.User.ID).Bool("remember", remember).Msg("session restored")
	}
}

// apply must be called with mu held
func (s *Store) apply(rec *Record, remember bool) {
	if rec == nil {
		s.user, s.token, s.remember = nil, "", false
		return
	}
	u := *rec.User
	s.user, s.token, s.remember = &u, rec.Token, remember
}

func (s *Store) readRecord(ctx context.Context) (*Record, bool) {
	for _, tier := range []storage.Tier{s.tab, s.longLived} {
		var rec Record
		ok, err := storage.GetJSON(ctx, tier, storage.KeyCurrentUser, &rec)
		if errors.Is(err, storage.ErrCorrupt) {
			s.logger.Warn().Err(err).Msg("stored session is corrupt, continuing as guest")
			s.clearTiers(ctx)
			return nil, false
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to read session")
			continue
		}
		if ok {
			return &rec, tier == s.longLived
		}
	}
	return nil, false
}

// OnExternalChange re-reads the session after another client wrote the
// shared tier and re-emits auth-changed. It reports whether the current
// user id changed. Keys other than currentUser and preferences are ignored.
func (s *Store) OnExternalChange(ctx context.Context, ev storage.ChangeEvent) bool {
	switch ev.Key {
	case storage.KeyPreferences:
		prefs := s.readPreferences(ctx)
		s.mu.Lock()
		s.prefs = prefs
		s.mu.Unlock()
		return false
	case storage.KeyCurrentUser:
	default:
		return false
	}

	rec, remember := s.readRecord(ctx)

	s.mu.Lock()
	before := ""
	if s.user != nil {
		before = s.user.ID
	}
	s.apply(rec, remember)
	after := ""
	if s.user != nil {
		after = s.user.ID
	}
	s.mu.Unlock()

	out := notify.Event{Type: notify.AuthChanged, Kind: notify.KindLogout, Origin: ev.Origin}
	if rec != nil {
		out.Kind = notify.KindLogin
		out.UserID = rec.User.ID
		out.Email = rec.User.Email
	}
	s.logger.Debug().Str("origin", ev.Origin).Str("user_id", after).Msg("session changed by another client")
	s.publisher.Publish(out)

	return before != after
}
