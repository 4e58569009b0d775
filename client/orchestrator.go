package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"
	log "github.com/sirupsen/logrus"

	"github.com/campushub/notify/client/store"
	"github.com/campushub/notify/models"
)

// NoticesChangedTopic is published on the local bus whenever the read state
// changes, so badge counters can refresh without re-fetching themselves.
const NoticesChangedTopic = "notices:changed"

const dismissedMarkerKey = "unread-popup-dismissed"

// OrchestratorConfig tunes the unread-notice orchestration.
type OrchestratorConfig struct {
	Role string
	// DashboardViews are the views on which a realtime notice triggers the
	// authoritative re-fetch and popup.
	DashboardViews []string
	// Debounce coalesces realtime bursts into one re-fetch.
	Debounce time.Duration
	// InitialDelay postpones the first unread check after Start.
	InitialDelay time.Duration
	// PollInterval drives the periodic convergence fetch. Zero disables it.
	PollInterval time.Duration
}

// Callbacks are the UI hooks the orchestrator drives. Either may be nil.
type Callbacks struct {
	// ShowPopup presents the interruptive unread-notices affordance.
	ShowPopup func(notices []models.Notice)
	// ShowAlert presents a non-blocking transient alert for one notice.
	ShowAlert func(notice models.Notice)
}

// Orchestrator decides, across the initial load, the poll path and the
// realtime push path, when to surface the unread-notices popup: once per
// session, unless new information arrives. Both delivery paths resolve to
// a re-fetch of the authoritative unread list; a push payload is never
// trusted as the final truth for the unread count.
type Orchestrator struct {
	api       *API
	conn      *ConnManager
	cache     *NoticeCache
	session   store.KV
	bus       *EventBus.Bus
	config    OrchestratorConfig
	callbacks Callbacks

	// fetchSeq orders authoritative fetches: a response is applied only if
	// no newer fetch has been issued, so a slow poll cannot clobber
	// fresher push-driven state.
	fetchSeq uint64

	mu       sync.Mutex
	view     string
	handle   *Handle
	debounce *time.Timer
	cancel   context.CancelFunc
	started  bool
}

func NewOrchestrator(api *API, conn *ConnManager, cache *NoticeCache, session store.KV, bus *EventBus.Bus, config OrchestratorConfig, callbacks Callbacks) *Orchestrator {
	if config.Debounce <= 0 {
		config.Debounce = 800 * time.Millisecond
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 500 * time.Millisecond
	}
	return &Orchestrator{
		api:       api,
		conn:      conn,
		cache:     cache,
		session:   session,
		bus:       bus,
		config:    config,
		callbacks: callbacks,
	}
}

// Start acquires the shared connection and schedules the initial unread
// check. A role outside the notice audience makes the whole orchestrator
// a no-op.
func (o *Orchestrator) Start(token string) {
	if !models.ReceivesNotices(o.config.Role) {
		return
	}

	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.handle = o.conn.Acquire(token, func(event Event) { o.onEvent(ctx, event) })
	o.mu.Unlock()

	time.AfterFunc(o.config.InitialDelay, func() {
		if ctx.Err() != nil {
			return
		}
		notices, err := o.fetchUnread(ctx)
		if err != nil {
			log.Warnf("Orchestrator: initial unread check failed: %s", err.Error())
			return
		}
		if len(notices) > 0 && !o.dismissed() {
			o.showPopup(notices)
		}
	})

	if o.config.PollInterval > 0 {
		go o.pollLoop(ctx)
	}
}

// Stop releases the shared connection and discards in-flight work.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	handle := o.handle
	cancel := o.cancel
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
	o.handle = nil
	o.cancel = nil
	o.started = false
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		handle.Close()
	}
}

// SetView records the active view, deciding whether realtime notices
// qualify for the popup path.
func (o *Orchestrator) SetView(view string) {
	o.mu.Lock()
	o.view = view
	o.mu.Unlock()
}

// Dismiss records that the popup was shown and closed for this session.
func (o *Orchestrator) Dismiss() {
	if err := o.session.Set(dismissedMarkerKey, []byte("true")); err != nil {
		log.Warnf("Orchestrator: could not persist the dismissal marker: %s", err.Error())
	}
}

// MarkAllRead clears the unread state server-side and broadcasts the change
// locally. Any notice arriving concurrently wins on the next authoritative
// fetch; there is no merge.
func (o *Orchestrator) MarkAllRead(ctx context.Context) error {
	if err := o.api.MarkAllRead(ctx); err != nil {
		return err
	}
	o.cache.Write([]models.Notice{})
	if o.bus != nil {
		bus := *o.bus
		bus.Publish(NoticesChangedTopic)
	}
	return nil
}

// Refresh is the poll-path entry point, called on an interval and on
// window focus. It converges the cache even when realtime events were
// missed; a fetch failure degrades to the cached snapshot.
func (o *Orchestrator) Refresh(ctx context.Context) []models.Notice {
	notices, err := o.fetchUnread(ctx)
	if err != nil {
		log.Debugf("Orchestrator: poll fetch failed, serving cache: %s", err.Error())
		return o.cache.Read()
	}
	return notices
}

func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) onEvent(ctx context.Context, event Event) {
	if event.Type != EventNotice || event.Notice == nil {
		return
	}

	if o.callbacks.ShowAlert != nil {
		o.callbacks.ShowAlert(*event.Notice)
	}

	o.mu.Lock()
	qualifies := o.viewQualifiesLocked()
	if !qualifies {
		o.mu.Unlock()
		return
	}
	// Coalesce bursts: one re-fetch per quiet window, however many events.
	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.debounce = time.AfterFunc(o.config.Debounce, func() {
		if ctx.Err() != nil {
			return
		}
		notices, err := o.fetchUnread(ctx)
		if err != nil {
			log.Warnf("Orchestrator: unread re-fetch failed: %s", err.Error())
			return
		}
		// New information overrides a prior dismissal.
		if len(notices) > 0 {
			o.showPopup(notices)
		}
	})
	o.mu.Unlock()
}

func (o *Orchestrator) viewQualifiesLocked() bool {
	if len(o.config.DashboardViews) == 0 {
		return true
	}
	for _, view := range o.config.DashboardViews {
		if view == o.view {
			return true
		}
	}
	return false
}

// fetchUnread fetches the authoritative unread list and overwrites the
// cache. A response that lost the race to a newer fetch is discarded.
func (o *Orchestrator) fetchUnread(ctx context.Context) ([]models.Notice, error) {
	seq := atomic.AddUint64(&o.fetchSeq, 1)
	notices, err := o.api.Notices(ctx, true, 1, 50)
	if err != nil {
		return nil, err
	}
	if atomic.LoadUint64(&o.fetchSeq) != seq {
		// A fresher fetch was issued while this one was in flight.
		return o.cache.Read(), nil
	}
	o.cache.Write(notices)
	if o.bus != nil {
		bus := *o.bus
		bus.Publish(NoticesChangedTopic)
	}
	return notices, nil
}

func (o *Orchestrator) dismissed() bool {
	_, ok := o.session.Get(dismissedMarkerKey)
	return ok
}

func (o *Orchestrator) showPopup(notices []models.Notice) {
	if o.callbacks.ShowPopup != nil {
		o.callbacks.ShowPopup(notices)
	}
}
