package account

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinicportal/portal/internal/platform/livequery"
	"github.com/clinicportal/portal/internal/platform/notification"
	"github.com/clinicportal/portal/internal/platform/websocket"
)

// DeactivatedMessage is shown to a user whose account is switched off while
// they are signed in.
const DeactivatedMessage = "Your account has been deactivated by the administrator."

// Blocker rejects every token of a blocked user.
type Blocker interface {
	Block(uid string) bool
	Unblock(uid string) bool
}

// SessionCloser reaches a user's live connections.
type SessionCloser interface {
	websocket.EventPublisher
	DisconnectUser(uid string) int
}

// Notices leaves an inbox notice for a user.
type Notices interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

// WatcherDropper stops a user's background watchers.
type WatcherDropper interface {
	Drop(uid string)
}

// DeactivationGuard signs users out the moment their record turns inactive.
// It follows the users collection on the change feed.
type DeactivationGuard struct {
	feed     *livequery.Feed
	users    Repository
	blocker  Blocker
	sessions SessionCloser
	watchers WatcherDropper
	notices  Notices
	logger   zerolog.Logger

	mu       sync.Mutex
	enforced map[string]bool
}

// NewDeactivationGuard builds a guard. watchers and notices may be nil.
func NewDeactivationGuard(feed *livequery.Feed, users Repository, blocker Blocker, sessions SessionCloser, watchers WatcherDropper, notices Notices, logger zerolog.Logger) *DeactivationGuard {
	return &DeactivationGuard{
		feed:     feed,
		users:    users,
		blocker:  blocker,
		sessions: sessions,
		watchers: watchers,
		notices:  notices,
		logger:   logger.With().Str("component", "deactivation-guard").Logger(),
		enforced: make(map[string]bool),
	}
}

// Seed blocks every user already inactive so the block survives restarts.
// It returns the number of users blocked.
func (g *DeactivationGuard) Seed(ctx context.Context) (int, error) {
	users, err := g.users.ListInactive(ctx)
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, u := range users {
		g.blocker.Block(u.UID)
		g.enforced[u.UID] = true
	}
	return len(users), nil
}

// Run follows user changes until ctx is cancelled.
func (g *DeactivationGuard) Run(ctx context.Context) error {
	sub := g.feed.Subscribe(livequery.Filter{
		Collection: livequery.Users,
		Types:      []livequery.ChangeType{livequery.Added, livequery.Modified},
	})
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-sub.C:
			if !ok {
				return nil
			}
			g.Handle(ctx, change)
		}
	}
}

// Handle applies one users change.
func (g *DeactivationGuard) Handle(ctx context.Context, change livequery.Change) {
	u, err := g.users.GetByUID(ctx, change.ID)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		g.logger.Error().Err(err).Str("uid", change.ID).Msg("load user for status check failed")
		return
	}

	if u.IsInactive() {
		g.enforce(ctx, u.UID)
		return
	}

	g.mu.Lock()
	was := g.enforced[u.UID]
	delete(g.enforced, u.UID)
	g.mu.Unlock()
	if g.blocker.Unblock(u.UID) || was {
		g.logger.Info().Str("uid", u.UID).Msg("account reactivated")
	}
}

func (g *DeactivationGuard) enforce(ctx context.Context, uid string) {
	g.blocker.Block(uid)

	g.mu.Lock()
	already := g.enforced[uid]
	g.enforced[uid] = true
	g.mu.Unlock()
	if already {
		return
	}

	if g.notices != nil {
		// Stored even when the user has no live session.
		if _, err := g.notices.SendFromTemplate(ctx, notification.TplAccountDeactivated, nil, uid); err != nil {
			g.logger.Debug().Err(err).Str("uid", uid).Msg("deactivation notice not delivered")
		}
	}

	data, _ := json.Marshal(map[string]string{"message": DeactivatedMessage})
	topic := websocket.UserTopic(uid)
	if err := g.sessions.Publish(ctx, websocket.Event{
		Type:  websocket.EventAccountDeactivated,
		Topic: topic,
		Data:  data,
	}); err != nil {
		g.logger.Warn().Err(err).Str("uid", uid).Msg("publish deactivation event failed")
	}
	closed := g.sessions.DisconnectUser(uid)
	if g.watchers != nil {
		g.watchers.Drop(uid)
	}
	g.logger.Info().Str("uid", uid).Int("connections", closed).Msg("signed out deactivated user")
}

// IsEnforced reports whether uid is currently signed out by the guard.
func (g *DeactivationGuard) IsEnforced(uid string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enforced[uid]
}
