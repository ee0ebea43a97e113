package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/artisanhub/internal/domain/cart"
	"github.com/example/artisanhub/internal/domain/history"
	"github.com/example/artisanhub/internal/domain/session"
	"github.com/example/artisanhub/internal/domain/wishlist"
	"github.com/example/artisanhub/internal/migration"
	"github.com/example/artisanhub/internal/notify"
	"github.com/example/artisanhub/internal/remote"
	"github.com/example/artisanhub/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrNoWatcher = errors.New("app: long-lived tier does not report changes")

// TokenSetter is implemented by remote stores that authenticate with the
// session's access token
type TokenSetter interface {
	SetToken(token string)
}

// Deps are the collaborators of one client process
type Deps struct {
	// LongLived is shared with other client processes of the same origin
	LongLived storage.Tier
	// Tab is private to this process; a fresh MemoryStore view when nil
	Tab storage.Tier
	// Remote is optional; without it the client is local-only
	Remote            remote.Store
	RemoteTimeout     time.Duration
	Origin            string
	ClearCartOnLogout bool
	Logger            zerolog.Logger
}

// App is one client process: the session, the cart and the guest to user
// migration wired together
type App struct {
	Session  *session.Store
	Cart     *cart.Ledger
	Wishlist *wishlist.Wishlist
	History  *history.History
	Migrator *migration.Migrator
	Bus      *notify.Bus

	deps   Deps
	repl   *remote.Replicator
	logger zerolog.Logger
}

// New builds and rehydrates every component. The returned App is ready to
// serve; there is nothing to wait for afterwards.
func New(ctx context.Context, deps Deps) (*App, error) {
	if deps.LongLived == nil {
		return nil, errors.New("app: long-lived tier is required")
	}
	if deps.Origin == "" {
		deps.Origin = uuid.NewString()
	}
	if deps.Tab == nil {
		deps.Tab = storage.NewMemoryStore().View(deps.Origin)
	}
	if deps.RemoteTimeout <= 0 {
		deps.RemoteTimeout = remote.DefaultTimeout
	}

	logger := deps.Logger.With().Str("origin", deps.Origin).Logger()
	a := &App{
		Bus:    notify.NewBus(),
		deps:   deps,
		logger: logger.With().Str("component", "app").Logger(),
	}
	if deps.Remote != nil {
		a.repl = remote.NewReplicator(deps.RemoteTimeout, logger)
	}

	a.Session = session.NewStore(deps.LongLived, deps.Tab, deps.Origin, a.Bus, logger)
	a.Cart = cart.NewLedger(cart.Options{
		Local:      deps.LongLived,
		Owner:      a.Session,
		Remote:     deps.Remote,
		Replicator: a.repl,
		Publisher:  a.Bus,
		Origin:     deps.Origin,
		Timeout:    deps.RemoteTimeout,
		Logger:     logger,
	})
	a.Wishlist = wishlist.New(deps.LongLived, a.Session, logger)
	a.History = history.New(deps.LongLived, a.Session, logger)
	a.Migrator = migration.New(migration.Options{
		Local:      deps.LongLived,
		Remote:     deps.Remote,
		Replicator: a.repl,
		Ledger:     a.Cart,
		Wishlist:   a.Wishlist,
		History:    a.History,
		Timeout:    deps.RemoteTimeout,
		Logger:     logger,
	})

	a.Session.OnLogin(a.onLogin)
	a.Session.OnLogout(a.onLogout)

	a.Session.Rehydrate(ctx)
	a.applyToken()
	if err := a.reload(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.logger.Info().Str("user_id", a.Session.UserID()).Msg("client ready")
	return a, nil
}

func (a *App) onLogin(ctx context.Context, user session.Identity) any {
	a.applyToken()
	rep, err := a.Migrator.Run(ctx, user.ID)
	if err != nil {
		a.logger.Warn().Err(err).Str("user_id", user.ID).Msg("migration failed, loading user records as stored")
		if err := a.reload(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("failed to load user records")
		}
		return nil
	}
	return rep
}

func (a *App) onLogout(ctx context.Context, previous *session.Identity) {
	a.applyToken()
	a.Wishlist.Reset()
	a.History.Reset()
	prevID := ""
	if previous != nil {
		prevID = previous.ID
	}
	if err := a.Cart.Rescope(ctx, prevID, a.deps.ClearCartOnLogout); err != nil {
		a.logger.Warn().Err(err).Msg("failed to rescope cart after logout")
	}
}

func (a *App) applyToken() {
	if ts, ok := a.deps.Remote.(TokenSetter); ok {
		ts.SetToken(a.Session.Token())
	}
}

func (a *App) reload(ctx context.Context) error {
	if err := a.Cart.Load(ctx); err != nil {
		return fmt.Errorf("failed to load cart: %w", err)
	}
	if err := a.Wishlist.Load(ctx); err != nil {
		return fmt.Errorf("failed to load wishlist: %w", err)
	}
	if err := a.History.Load(ctx); err != nil {
		return fmt.Errorf("failed to load view history: %w", err)
	}
	return nil
}

// HandleChange applies a write another client made to the long-lived tier
func (a *App) HandleChange(ctx context.Context, ev storage.ChangeEvent) {
	switch storage.BaseKey(ev.Key) {
	case storage.KeyCurrentUser, storage.KeyPreferences:
		if !a.Session.OnExternalChange(ctx, ev) {
			return
		}
		// the other client already wrote the records we switch to
		a.applyToken()
		if err := a.Cart.LoadLocal(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("failed to reload cart after session change")
		}
		if err := a.Wishlist.Load(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("failed to reload wishlist after session change")
		}
		if err := a.History.Load(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("failed to reload view history after session change")
		}
	case storage.KeyCart:
		a.Cart.OnExternalChange(ctx, ev)
	case storage.KeyWishlist:
		a.Wishlist.OnExternalChange(ctx, ev)
	case storage.KeyViewHistory:
		a.History.OnExternalChange(ctx, ev)
	}
}

// Run follows changes made by other clients until ctx is done
func (a *App) Run(ctx context.Context) error {
	stop, err := a.Watch(ctx)
	if err != nil {
		return err
	}
	defer stop()

	<-ctx.Done()
	return nil
}

// Watch starts following changes in the background and returns once the
// subscription is active
func (a *App) Watch(ctx context.Context) (stop func(), err error) {
	w, ok := a.deps.LongLived.(storage.Watchable)
	if !ok {
		return nil, ErrNoWatcher
	}
	stop, err = w.Watch(ctx, func(ev storage.ChangeEvent) {
		a.HandleChange(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch long-lived tier: %w", err)
	}
	return stop, nil
}

func (a *App) Origin() string {
	return a.deps.Origin
}

// Flush waits for queued remote writes
func (a *App) Flush() {
	if a.repl != nil {
		a.repl.Drain()
	}
}

// Close finishes queued remote writes
func (a *App) Close() {
	if a.repl != nil {
		a.repl.Close()
	}
}
