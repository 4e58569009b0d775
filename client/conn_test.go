package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campushub/notify/models"
)

type fakeStream struct {
	events  chan Event
	closed  chan struct{}
	once    sync.Once
	onClose func()
}

func (s *fakeStream) Recv() (Event, error) {
	select {
	case event := <-s.events:
		return event, nil
	case <-s.closed:
		return Event{}, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *fakeStream) push(event Event) {
	s.events <- event
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failures int
	live     int
	maxLive  int
	streams  []*fakeStream
	tokens   []string
}

func (d *fakeDialer) dial(ctx context.Context, token string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.tokens = append(d.tokens, token)
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial refused")
	}
	stream := &fakeStream{events: make(chan Event, 32), closed: make(chan struct{})}
	stream.onClose = func() {
		d.mu.Lock()
		d.live--
		d.mu.Unlock()
	}
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	d.streams = append(d.streams, stream)
	return stream, nil
}

func (d *fakeDialer) counts() (dials, live, maxLive int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials, d.live, d.maxLive
}

func (d *fakeDialer) lastStream() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was not met in time")
}

func noticeEvent(title string) Event {
	return Event{Type: EventNotice, Notice: &models.Notice{Title: title}}
}

func TestSingleTransportSharedAcrossConsumers(t *testing.T) {
	dialer := &fakeDialer{}
	manager := NewConnManager(dialer.dial)

	nop := func(Event) {}
	h1 := manager.Acquire("token-a", nop)
	h2 := manager.Acquire("token-a", nop)
	h3 := manager.Acquire("token-a", nop)

	waitFor(t, func() bool { _, live, _ := dialer.counts(); return live == 1 })
	dials, _, maxLive := dialer.counts()
	require.Equal(t, 1, dials)
	require.Equal(t, 1, maxLive)

	h1.Close()
	h2.Close()
	_, live, _ := dialer.counts()
	require.Equal(t, 1, live)

	h3.Close()
	_, live, _ = dialer.counts()
	require.Equal(t, 0, live)

	// A fresh acquire after full release creates exactly one new transport.
	h4 := manager.Acquire("token-a", nop)
	defer h4.Close()
	waitFor(t, func() bool { dials, live, _ := dialer.counts(); return dials == 2 && live == 1 })
	_, _, maxLive = dialer.counts()
	require.Equal(t, 1, maxLive)
}

func TestTokenChangeTearsDownAndRecreates(t *testing.T) {
	dialer := &fakeDialer{}
	manager := NewConnManager(dialer.dial)

	nop := func(Event) {}
	h1 := manager.Acquire("token-a", nop)
	waitFor(t, func() bool { _, live, _ := dialer.counts(); return live == 1 })

	h2 := manager.Acquire("token-b", nop)
	waitFor(t, func() bool { dials, _, _ := dialer.counts(); return dials == 2 })
	waitFor(t, func() bool { _, live, _ := dialer.counts(); return live == 1 })

	// Never two simultaneously live transports.
	_, _, maxLive := dialer.counts()
	require.Equal(t, 1, maxLive)

	dialer.mu.Lock()
	tokens := append([]string(nil), dialer.tokens...)
	dialer.mu.Unlock()
	require.Equal(t, []string{"token-a", "token-b"}, tokens)

	h1.Close()
	h2.Close()
}

func TestEventsRelayedVerbatimInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	manager := NewConnManager(dialer.dial)

	var mu sync.Mutex
	var received []Event
	handle := manager.Acquire("token-a", func(event Event) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
	})
	defer handle.Close()

	waitFor(t, func() bool { return manager.State().Connected })

	stream := dialer.lastStream()
	stream.push(noticeEvent("first"))
	stream.push(noticeEvent("second"))
	stream.push(noticeEvent("third"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 4
	})
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, EventConnect, received[0].Type)
	require.Equal(t, "first", received[1].Notice.Title)
	require.Equal(t, "second", received[2].Notice.Title)
	require.Equal(t, "third", received[3].Notice.Title)
}

func TestDialFailureRetriesWithBackoffAndExposesError(t *testing.T) {
	dialer := &fakeDialer{failures: 2}
	manager := NewConnManager(dialer.dial)
	manager.SetBackoff(10*time.Millisecond, 40*time.Millisecond)

	handle := manager.Acquire("token-a", func(Event) {})
	defer handle.Close()

	waitFor(t, func() bool { return manager.State().Err != "" || manager.State().Connected })
	require.False(t, manager.State().Connected)
	require.Equal(t, "dial refused", manager.State().Err)

	waitFor(t, func() bool { return manager.State().Connected })
	dials, live, _ := dialer.counts()
	require.Equal(t, 3, dials)
	require.Equal(t, 1, live)
}

func TestTransportFailureReconnectsInPlace(t *testing.T) {
	dialer := &fakeDialer{}
	manager := NewConnManager(dialer.dial)
	manager.SetBackoff(10*time.Millisecond, 40*time.Millisecond)

	var mu sync.Mutex
	var types []string
	handle := manager.Acquire("token-a", func(event Event) {
		mu.Lock()
		types = append(types, event.Type)
		mu.Unlock()
	})
	defer handle.Close()

	waitFor(t, func() bool { return manager.State().Connected })

	// Kill the transport; the manager must reconnect with the same token.
	dialer.lastStream().Close()

	waitFor(t, func() bool { dials, _, _ := dialer.counts(); return dials == 2 })
	waitFor(t, func() bool { return manager.State().Connected })

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{EventConnect, EventDisconnect, EventConnect}, types)
}
