package client

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/campushub/notify/models"
)

// Event is one occurrence on the realtime channel, relayed verbatim to
// every registered consumer in the order the transport produced it.
type Event struct {
	Type   string // EventConnect, EventDisconnect, EventError, EventNotice, EventPing
	Notice *models.Notice
	Err    string
}

const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "error"
	EventNotice     = "notice:new"
	EventPing       = "ping"
)

// State is the shared connection state every consumer observes. Transport
// errors become Err here, never panics.
type State struct {
	Connected bool
	Err       string
}

// Stream is one live connection to the server. Recv blocks until the next
// event or a transport error; Close unblocks a pending Recv.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// DialFunc opens a Stream authenticated with the given token. It must
// honor ctx cancellation both while dialing and for pending Recv calls.
type DialFunc func(ctx context.Context, token string) (Stream, error)

// Listener receives relayed events. Called from the connection goroutine,
// so implementations must not block.
type Listener func(Event)

// Handle is one consumer's claim on the shared connection. Closing it
// releases the claim; the last release tears the transport down.
type Handle struct {
	manager  *ConnManager
	listener Listener
	once     sync.Once
}

// Close releases the claim and blocks until teardown is complete when it
// was the last one. Must not be called from inside a Listener.
func (h *Handle) Close() {
	h.once.Do(func() { h.manager.release(h) })
}

// ConnManager owns at most one live transport shared by any number of
// consumers. Consumers register through Acquire and observe connection
// state reactively; the manager reconnects with capped exponential backoff
// for as long as a consumer is registered and a token is available.
// Acquiring with a different token tears the transport down and recreates
// it, so a stale credential is never kept in use.
type ConnManager struct {
	dial        DialFunc
	backoffBase time.Duration
	backoffMax  time.Duration

	mu      sync.Mutex
	handles map[*Handle]struct{}
	token   string
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConnManager creates a manager that is not yet connected. Construct one
// per process at startup and hand it to consumers.
func NewConnManager(dial DialFunc) *ConnManager {
	return &ConnManager{
		dial:        dial,
		backoffBase: time.Second,
		backoffMax:  30 * time.Second,
		handles:     make(map[*Handle]struct{}),
	}
}

// SetBackoff tunes the reconnect delays. Call before the first Acquire.
func (m *ConnManager) SetBackoff(base, max time.Duration) {
	m.backoffBase = base
	m.backoffMax = max
}

// Acquire registers a consumer. The first acquire (or one with a changed
// token) starts the transport; subsequent ones share it.
func (m *ConnManager) Acquire(token string, listener Listener) *Handle {
	handle := &Handle{manager: m, listener: listener}

	m.mu.Lock()
	m.handles[handle] = struct{}{}
	tokenChanged := m.token != "" && m.token != token
	m.token = token

	var wait chan struct{}
	if tokenChanged && m.cancel != nil {
		// Teardown first: there must never be two live transports.
		m.cancel()
		wait = m.done
		m.cancel = nil
		m.done = nil
	}
	m.mu.Unlock()

	if wait != nil {
		<-wait
	}

	m.mu.Lock()
	if m.cancel == nil && m.token != "" && len(m.handles) > 0 {
		m.start()
	}
	m.mu.Unlock()

	return handle
}

// State returns the current shared connection state.
func (m *ConnManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnManager) release(handle *Handle) {
	m.mu.Lock()
	delete(m.handles, handle)
	var wait chan struct{}
	if len(m.handles) == 0 && m.cancel != nil {
		m.cancel()
		wait = m.done
		m.cancel = nil
		m.done = nil
	}
	m.mu.Unlock()

	if wait != nil {
		<-wait
	}
}

// start launches the connection loop. Caller holds m.mu.
func (m *ConnManager) start() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go m.run(ctx, m.token, done)
}

func (m *ConnManager) run(ctx context.Context, token string, done chan struct{}) {
	defer close(done)
	delay := m.backoffBase
	for {
		stream, err := m.dial(ctx, token)
		if ctx.Err() != nil {
			if stream != nil {
				stream.Close()
			}
			return
		}
		if err != nil {
			m.setState(State{Connected: false, Err: err.Error()})
			m.emit(Event{Type: EventError, Err: err.Error()})
			if !m.sleep(ctx, delay) {
				return
			}
			delay = m.nextDelay(delay)
			continue
		}

		delay = m.backoffBase
		m.setState(State{Connected: true})
		m.emit(Event{Type: EventConnect})

		// Unblock Recv when the loop is being torn down.
		recvDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				stream.Close()
			case <-recvDone:
			}
		}()

		for {
			event, err := stream.Recv()
			if err != nil {
				break
			}
			m.emit(event)
		}
		close(recvDone)
		stream.Close()

		if ctx.Err() != nil {
			return
		}
		m.setState(State{Connected: false, Err: "connection lost"})
		m.emit(Event{Type: EventDisconnect, Err: "connection lost"})
		log.Debugf("ConnManager: connection lost, reconnecting in %v", delay)
		if !m.sleep(ctx, delay) {
			return
		}
		delay = m.nextDelay(delay)
	}
}

func (m *ConnManager) nextDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > m.backoffMax {
		delay = m.backoffMax
	}
	return delay
}

func (m *ConnManager) sleep(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *ConnManager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// emit relays one event to every current consumer, in order. The listener
// snapshot is taken under the lock but calls happen outside it, so the
// manager state stays reachable while a listener runs.
func (m *ConnManager) emit(event Event) {
	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.handles))
	for handle := range m.handles {
		listeners = append(listeners, handle.listener)
	}
	m.mu.Unlock()
	for _, listener := range listeners {
		listener(event)
	}
}
