// Package notification keeps each user's in-app notification inbox. Alerts
// are rendered from templates, stored with an expiry, and pushed to the
// user's realtime channel through a Publisher.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound  = errors.New("notification not found")
	ErrForbidden = errors.New("notification belongs to another user")
)

// ---------------------------------------------------------------------------
// Notification Types
// ---------------------------------------------------------------------------

// Kind groups notifications the way the portal shows them.
type Kind string

const (
	KindChat        Kind = "chat"
	KindAppointment Kind = "appointment"
	KindInfo        Kind = "info"
	KindAccount     Kind = "account"
)

// Notification is a single inbox entry.
type Notification struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"type"`
	Recipient  string    `json:"recipient"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Link       string    `json:"link,omitempty"`
	Icon       string    `json:"icon,omitempty"`
	TemplateID string    `json:"template_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Delivered  bool      `json:"delivered"`
	Error      string    `json:"error,omitempty"`
}

// Publisher pushes a stored notification to the recipient's live sessions.
type Publisher interface {
	PublishNotification(ctx context.Context, n *Notification) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template is a reusable alert with {{key}} placeholders in Title and Message.
type Template struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
	Icon    string `json:"icon,omitempty"`
}

// Built-in template ids.
const (
	TplChatMessage            = "chat-message"
	TplChatMessagePlain       = "chat-message-plain"
	TplAppointmentConfirmed   = "appointment-confirmed"
	TplAppointmentDeclined    = "appointment-declined"
	TplAppointmentRescheduled = "appointment-rescheduled"
	TplAppointmentCompleted   = "appointment-completed"
	TplCancellationApproved   = "cancellation-approved"
	TplCancellationDeclined   = "cancellation-declined"
	TplRefundProcessed        = "refund-processed"
	TplAccountDeactivated     = "account-deactivated"
)

// TemplateEngine holds templates by id.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates an engine with the portal alerts registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TplChatMessage,
			Kind:    KindChat,
			Title:   "New Message",
			Message: "{{sender_name}}: {{message}}",
			Link:    "/auth/chat",
			Icon:    "fas fa-comment-dots",
		},
		{
			ID:      TplChatMessagePlain,
			Kind:    KindChat,
			Title:   "New Message",
			Message: "{{message}}",
			Link:    "/auth/chat",
			Icon:    "fas fa-comment-dots",
		},
		{
			ID:      TplAppointmentConfirmed,
			Kind:    KindAppointment,
			Title:   "Appointment Confirmed! ✅",
			Message: "Your appointment on {{date}} at {{time}} has been confirmed.",
			Link:    "/auth/appointment",
			Icon:    "fas fa-check-circle",
		},
		{
			ID:      TplAppointmentDeclined,
			Kind:    KindAppointment,
			Title:   "Appointment Declined ❌",
			Message: "Your appointment request for {{date}} at {{time}} was declined.",
			Link:    "/auth/appointment",
			Icon:    "fas fa-times-circle",
		},
		{
			ID:      TplAppointmentRescheduled,
			Kind:    KindAppointment,
			Title:   "Appointment Rescheduled 📅",
			Message: "Your appointment has been rescheduled to {{date}} at {{time}}.",
			Link:    "/auth/appointment",
			Icon:    "fas fa-calendar-alt",
		},
		{
			ID:      TplAppointmentCompleted,
			Kind:    KindAppointment,
			Title:   "Appointment Completed ✓",
			Message: "Your appointment on {{date}} has been marked as completed.",
			Link:    "/auth/appointment",
			Icon:    "fas fa-check-double",
		},
		{
			ID:      TplCancellationApproved,
			Kind:    KindAppointment,
			Title:   "Cancellation Approved",
			Message: "Your cancellation request for {{date}} at {{time}} has been approved.",
			Link:    "/auth/appointment",
			Icon:    "fas fa-ban",
		},
		{
			ID:      TplCancellationDeclined,
			Kind:    KindAppointment,
			Title:   "Cancellation Declined",
			Message: "Your cancellation request was declined. Appointment on {{date}} at {{time}} remains scheduled.",
			Link:    "/auth/appointment",
			Icon:    "fas fa-exclamation-triangle",
		},
		{
			ID:      TplRefundProcessed,
			Kind:    KindAppointment,
			Title:   "Refund Processed 💰",
			Message: "Your refund of {{amount}} has been processed.",
			Link:    "/auth/appointment",
			Icon:    "fas fa-money-bill-wave",
		},
		{
			ID:      TplAccountDeactivated,
			Kind:    KindAccount,
			Title:   "Account Deactivated",
			Message: "Your account has been deactivated by the administrator.",
			Icon:    "fas fa-user-slash",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// Lookup returns a copy of the template with id.
func (e *TemplateEngine) Lookup(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	if !ok {
		return Template{}, false
	}
	return *t, true
}

// Render fills the template's placeholders from data in a single pass, so
// substituted values are never expanded again. Unknown placeholders are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, message string, err error) {
	t, ok := e.Lookup(templateID)
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Title), r.Replace(t.Message), nil
}

// ---------------------------------------------------------------------------
// Notification Manager
// ---------------------------------------------------------------------------

// NotificationManager stores notifications and publishes them.
type NotificationManager struct {
	publisher Publisher
	templates *TemplateEngine
	ttl       time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	mu            sync.RWMutex
	notifications map[string]*Notification
}

// NewNotificationManager constructs a manager. A nil publisher stores
// notifications without pushing them.
func NewNotificationManager(pub Publisher, tpl *TemplateEngine, ttl time.Duration, logger zerolog.Logger) *NotificationManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &NotificationManager{
		publisher:     pub,
		templates:     tpl,
		ttl:           ttl,
		logger:        logger.With().Str("component", "notification").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
		notifications: make(map[string]*Notification),
	}
}

// Send assigns an id and timestamps, stores a copy of n, then publishes it.
// A publish failure is recorded on n and the stored copy and returned, but
// the notification stays in the inbox.
func (m *NotificationManager) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("notification recipient is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Kind == "" {
		n.Kind = KindInfo
	}
	now := m.now()
	n.CreatedAt = now
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = now.Add(m.ttl)
	}

	stored := *n
	m.mu.Lock()
	m.notifications[n.ID] = &stored
	m.mu.Unlock()

	if m.publisher == nil {
		return nil
	}

	pubErr := m.publisher.PublishNotification(ctx, n)
	if pubErr != nil {
		n.Error = pubErr.Error()
	} else {
		n.Delivered = true
	}

	m.mu.Lock()
	stored.Error = n.Error
	stored.Delivered = n.Delivered
	m.mu.Unlock()

	if pubErr != nil {
		m.logger.Warn().Err(pubErr).Str("recipient", n.Recipient).Str("id", n.ID).Msg("publish notification failed")
		return fmt.Errorf("publish notification: %w", pubErr)
	}
	return nil
}

// SendFromTemplate renders a template for recipient and sends it.
func (m *NotificationManager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	title, message, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	tpl, _ := m.templates.Lookup(templateID)

	n := &Notification{
		Kind:       tpl.Kind,
		Recipient:  recipient,
		Title:      title,
		Message:    message,
		Link:       tpl.Link,
		Icon:       tpl.Icon,
		TemplateID: templateID,
	}
	if err := m.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// Get returns a copy of the notification with id.
func (m *NotificationManager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// ListByRecipient returns copies of the recipient's unexpired notifications,
// newest first, up to limit.
func (m *NotificationManager) ListByRecipient(_ context.Context, recipient string, limit int) ([]*Notification, error) {
	now := m.now()

	m.mu.RLock()
	result := make([]*Notification, 0)
	for _, n := range m.notifications {
		if n.Recipient == recipient && now.Before(n.ExpiresAt) {
			cp := *n
			result = append(result, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Dismiss removes a notification owned by recipient.
func (m *NotificationManager) Dismiss(_ context.Context, recipient, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	if n.Recipient != recipient {
		return ErrForbidden
	}
	delete(m.notifications, id)
	return nil
}

// Sweep drops expired notifications and returns how many were removed.
func (m *NotificationManager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, n := range m.notifications {
		if !now.Before(n.ExpiresAt) {
			delete(m.notifications, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired notifications every interval until ctx is cancelled.
func (m *NotificationManager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug().Int("removed", n).Msg("swept expired notifications")
			}
		}
	}
}

// Stats summarises the stored notifications.
type Stats struct {
	Total     int          `json:"total"`
	Delivered int          `json:"delivered"`
	Failed    int          `json:"failed"`
	ByKind    map[Kind]int `json:"by_kind"`
}

// NotificationStats returns counts grouped by kind and delivery state.
func (m *NotificationManager) NotificationStats(_ context.Context) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{ByKind: make(map[Kind]int)}
	for _, n := range m.notifications {
		stats.Total++
		stats.ByKind[n.Kind]++
		if n.Delivered {
			stats.Delivered++
		}
		if n.Error != "" {
			stats.Failed++
		}
	}
	return stats
}
