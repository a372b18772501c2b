// Package livequery turns PostgreSQL change notifications into document
// subscriptions. Row triggers call pg_notify with a small JSON envelope, a
// single Feed holds the LISTEN connection and fans each change out to the
// subscriptions whose filter matches.
package livequery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ChangeType mirrors the document change kinds of a live query.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Removed  ChangeType = "removed"
)

// Collection names emitted by the notify trigger.
const (
	Users        = "users"
	Appointments = "appointments"
	ChatMessages = "chat_messages"
)

// Change is a single document change. The document itself is not carried;
// subscribers refetch it by ID.
type Change struct {
	Collection string     `json:"collection"`
	Type       ChangeType `json:"type"`
	ID         string     `json:"id"`
	Owner      string     `json:"owner"`
}

// ParseChange decodes a notification payload.
func ParseChange(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if c.Collection == "" || c.ID == "" {
		return Change{}, fmt.Errorf("decode change: missing collection or id in %q", payload)
	}
	switch c.Type {
	case Added, Modified, Removed:
	default:
		return Change{}, fmt.Errorf("decode change: unknown type %q", c.Type)
	}
	return c, nil
}

// Filter selects changes. Empty fields match everything.
type Filter struct {
	Collection string
	Owner      string
	Types      []ChangeType
}

// Matches reports whether c passes the filter.
func (f Filter) Matches(c Change) bool {
	if f.Collection != "" && f.Collection != c.Collection {
		return false
	}
	if f.Owner != "" && f.Owner != c.Owner {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == c.Type {
			return true
		}
	}
	return false
}

// Listener is one dedicated connection in LISTEN mode.
type Listener interface {
	// WaitForNotification blocks until a payload arrives or ctx is done.
	WaitForNotification(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Source opens listeners for a notification channel.
type Source interface {
	Listen(ctx context.Context, channel string) (Listener, error)
}

// Subscription receives the changes matching its filter on C.
type Subscription struct {
	C <-chan Change

	ch     chan Change
	filter Filter
	feed   *Feed
	once   sync.Once
}

// Close detaches the subscription from the feed and closes C. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.remove(s)
	})
}

// Feed fans change notifications out to subscriptions.
type Feed struct {
	source  Source
	channel string
	logger  zerolog.Logger

	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	connected atomic.Bool
	dropped   atomic.Int64

	// BufferSize is the capacity of each subscription channel.
	BufferSize int
	// MinBackoff and MaxBackoff bound the reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// NewFeed creates a feed listening on channel.
func NewFeed(source Source, channel string, logger zerolog.Logger) *Feed {
	return &Feed{
		source:     source,
		channel:    channel,
		logger:     logger.With().Str("component", "livequery").Str("channel", channel).Logger(),
		subs:       make(map[*Subscription]struct{}),
		BufferSize: 64,
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

// Subscribe registers a new subscription. It receives changes published after
// this call returns.
func (f *Feed) Subscribe(filter Filter) *Subscription {
	size := f.BufferSize
	if size <= 0 {
		size = 1
	}
	ch := make(chan Change, size)
	s := &Subscription{C: ch, ch: ch, filter: filter, feed: f}

	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	return s
}

func (f *Feed) remove(s *Subscription) {
	f.mu.Lock()
	delete(f.subs, s)
	close(s.ch)
	f.mu.Unlock()
}

// SubscriberCount returns the number of open subscriptions.
func (f *Feed) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Dropped returns how many deliveries were discarded because a subscriber
// buffer was full.
func (f *Feed) Dropped() int64 {
	return f.dropped.Load()
}

// Dispatch delivers c to every matching subscription without blocking.
func (f *Feed) Dispatch(c Change) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for s := range f.subs {
		if !s.filter.Matches(c) {
			continue
		}
		select {
		case s.ch <- c:
		default:
			f.dropped.Add(1)
			f.logger.Warn().
				Str("collection", c.Collection).
				Str("id", c.ID).
				Str("owner", c.Owner).
				Msg("subscriber buffer full, change dropped")
		}
	}
}

// Name implements db.Probe.
func (f *Feed) Name() string { return "livequery" }

// Healthy reports whether the LISTEN connection is up.
func (f *Feed) Healthy() bool { return f.connected.Load() }

// Run holds the LISTEN connection until ctx is cancelled, reconnecting with
// capped exponential backoff. It returns nil on cancellation.
func (f *Feed) Run(ctx context.Context) error {
	backoff := f.MinBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		l, err := f.source.Listen(ctx, f.channel)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Error().Err(err).Dur("retry_in", backoff).Msg("listen failed")
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, f.MaxBackoff)
			continue
		}

		f.connected.Store(true)
		backoff = f.MinBackoff
		f.logger.Info().Msg("change feed connected")

		err = f.consume(ctx, l)
		f.connected.Store(false)

		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if cerr := l.Close(closeCtx); cerr != nil {
			f.logger.Debug().Err(cerr).Msg("close listener")
		}
		cancel()

		if ctx.Err() != nil {
			return nil
		}
		f.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("change feed disconnected")
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff, f.MaxBackoff)
	}
}

func (f *Feed) consume(ctx context.Context, l Listener) error {
	for {
		payload, err := l.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		c, err := ParseChange(payload)
		if err != nil {
			f.logger.Warn().Err(err).Msg("ignoring malformed change notification")
			continue
		}
		f.Dispatch(c)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next <= 0 {
		next = time.Millisecond
	}
	if max > 0 && next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
