package alerts

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicportal/portal/internal/domain/chat"
	"github.com/clinicportal/portal/internal/domain/scheduling"
	"github.com/clinicportal/portal/internal/platform/livequery"
)

// Deps are the collaborators every watcher shares.
type Deps struct {
	Feed         *livequery.Feed
	Messages     MessageSource
	Appointments AppointmentSource
	Notifier     Notifier
}

// Watcher follows one user's chat and appointments and raises alerts for
// changes that happen after it started. Seen sets keep each message and
// each appointment state from alerting twice.
type Watcher struct {
	uid    string
	deps   Deps
	logger zerolog.Logger

	mu               sync.Mutex
	seenMessages     map[uuid.UUID]struct{}
	seenAppointments map[string]struct{}
	known            map[uuid.UUID]appointmentState

	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}
}

func newWatcher(uid string, deps Deps, logger zerolog.Logger) *Watcher {
	return &Watcher{
		uid:              uid,
		deps:             deps,
		logger:           logger.With().Str("uid", uid).Logger(),
		seenMessages:     make(map[uuid.UUID]struct{}),
		seenAppointments: make(map[string]struct{}),
		known:            make(map[uuid.UUID]appointmentState),
		ready:            make(chan struct{}),
		done:             make(chan struct{}),
	}
}

// Start subscribes to the feed and primes the seen sets in the background.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	sub := w.deps.Feed.Subscribe(livequery.Filter{Owner: w.uid})
	go w.run(ctx, sub)
}

// Ready is closed once priming has finished.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Stop ends the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context, sub *livequery.Subscription) {
	defer close(w.done)
	defer sub.Close()

	w.prime(ctx)
	close(w.ready)

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub.C:
			if !ok {
				return
			}
			w.handle(ctx, change)
		}
	}
}

// prime marks the most recent messages and appointments as seen without
// alerting. Changes that arrive meanwhile wait in the subscription.
func (w *Watcher) prime(ctx context.Context) {
	msgs, err := w.deps.Messages.List(ctx, w.uid, PrimeLimit)
	if err != nil {
		w.logger.Error().Err(err).Msg("Chat notification listener error")
	}
	appts, _, err := w.deps.Appointments.ListByPatient(ctx, w.uid, PrimeLimit, 0)
	if err != nil {
		w.logger.Error().Err(err).Msg("Appointment notification listener error")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		w.seenMessages[m.ID] = struct{}{}
	}
	for _, a := range appts {
		w.seenAppointments[a.StatusKey()] = struct{}{}
		w.known[a.ID] = stateOf(a)
	}
}

func (w *Watcher) handle(ctx context.Context, change livequery.Change) {
	id, err := uuid.Parse(change.ID)
	if err != nil {
		return
	}
	switch change.Collection {
	case livequery.ChatMessages:
		if change.Type == livequery.Added {
			w.handleMessage(ctx, id)
		}
	case livequery.Appointments:
		switch change.Type {
		case livequery.Added:
			w.rememberAppointment(ctx, id)
		case livequery.Modified:
			w.handleAppointment(ctx, id)
		case livequery.Removed:
			w.mu.Lock()
			delete(w.known, id)
			w.mu.Unlock()
		}
	}
}

func (w *Watcher) handleMessage(ctx context.Context, id uuid.UUID) {
	m, err := w.deps.Messages.Get(ctx, id)
	if errors.Is(err, chat.ErrNotFound) {
		return
	}
	if err != nil {
		w.logger.Error().Err(err).Str("message_id", id.String()).Msg("Chat notification listener error")
		return
	}
	if !m.FromAdmin() {
		return
	}

	w.mu.Lock()
	_, seen := w.seenMessages[m.ID]
	w.seenMessages[m.ID] = struct{}{}
	w.mu.Unlock()
	if seen {
		return
	}

	tpl, data := chatTemplate(m)
	w.notify(ctx, tpl, data)
}

// rememberAppointment records a newly booked appointment so later changes
// can be compared with it. Booking itself raises no alert.
func (w *Watcher) rememberAppointment(ctx context.Context, id uuid.UUID) {
	a, err := w.deps.Appointments.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, scheduling.ErrNotFound) {
			w.logger.Error().Err(err).Str("appointment_id", id.String()).Msg("Appointment notification listener error")
		}
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seenAppointments[a.StatusKey()] = struct{}{}
	w.known[a.ID] = stateOf(a)
}

func (w *Watcher) handleAppointment(ctx context.Context, id uuid.UUID) {
	a, err := w.deps.Appointments.Get(ctx, id)
	if errors.Is(err, scheduling.ErrNotFound) {
		return
	}
	if err != nil {
		w.logger.Error().Err(err).Str("appointment_id", id.String()).Msg("Appointment notification listener error")
		return
	}

	key := a.StatusKey()
	w.mu.Lock()
	if _, seen := w.seenAppointments[key]; seen {
		w.mu.Unlock()
		return
	}
	w.seenAppointments[key] = struct{}{}
	prev, known := w.known[a.ID]
	w.known[a.ID] = stateOf(a)
	w.mu.Unlock()

	if tpl := chooseTemplate(prev, known, a); tpl != "" {
		w.notify(ctx, tpl, appointmentData(a))
	}
}

func (w *Watcher) notify(ctx context.Context, tpl string, data map[string]string) {
	n, err := w.deps.Notifier.SendFromTemplate(ctx, tpl, data, w.uid)
	if err != nil {
		// The notification stays in the inbox when only the push failed.
		w.logger.Warn().Err(err).Str("template", tpl).Msg("deliver alert failed")
		return
	}
	w.logger.Debug().Str("template", tpl).Str("notification_id", n.ID).Msg("alert sent")
}
