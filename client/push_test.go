package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	caps         Capabilities
	permission   Permission
	promptResult Permission
	prompts      int
	registerErr  error
	subscribeErr error
	current      *PlatformSubscription
}

func supportedCaps() Capabilities {
	return Capabilities{
		SupportsBackgroundDelivery:      true,
		SupportsStructuredNotifications: true,
		SupportsPushTransport:           true,
	}
}

func (p *fakePlatform) Capabilities() Capabilities { return p.caps }
func (p *fakePlatform) Permission() Permission     { return p.permission }

func (p *fakePlatform) RequestPermission(ctx context.Context) (Permission, error) {
	p.prompts++
	p.permission = p.promptResult
	return p.promptResult, nil
}

func (p *fakePlatform) EnsureRegistration(ctx context.Context) error { return p.registerErr }

func (p *fakePlatform) Subscription(ctx context.Context) (*PlatformSubscription, error) {
	return p.current, nil
}

func (p *fakePlatform) Subscribe(ctx context.Context, serverKey string) (*PlatformSubscription, error) {
	if p.subscribeErr != nil {
		return nil, p.subscribeErr
	}
	p.current = &PlatformSubscription{Endpoint: "https://push.example/device", P256dh: "p", Auth: "a"}
	return p.current, nil
}

func (p *fakePlatform) Unsubscribe(ctx context.Context) error {
	p.current = nil
	return nil
}

func (p *fakePlatform) DeviceInfo() map[string]string {
	return map[string]string{"platform": "test"}
}

// pushAPIServer fakes the server registry endpoints and records calls.
type pushAPIServer struct {
	mu           sync.Mutex
	keyFetches   int
	subscribes   []map[string]interface{}
	unsubscribes []string
	failNext     bool
}

func newPushAPIServer(t *testing.T) (*pushAPIServer, *API) {
	t.Helper()
	s := &pushAPIServer{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failNext {
			s.failNext = false
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/push/key":
			s.keyFetches++
			json.NewEncoder(w).Encode(map[string]string{"publicKey": "server-vapid-key"})
		case "/push/subscribe":
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			s.subscribes = append(s.subscribes, body)
			w.Write([]byte("{}"))
		case "/push/unsubscribe":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			s.unsubscribes = append(s.unsubscribes, body["endpoint"])
			w.Write([]byte(`{"success":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return s, NewAPI(server.URL, nil)
}

func TestSubscribeHappyPath(t *testing.T) {
	server, api := newPushAPIServer(t)
	platform := &fakePlatform{caps: supportedCaps(), permission: PermissionDefault, promptResult: PermissionGranted}
	controller := NewPushController(api, platform)

	require.True(t, controller.Supported())
	require.NoError(t, controller.Subscribe(context.Background()))

	require.Equal(t, PermissionGranted, platform.Permission())
	require.Equal(t, 1, platform.prompts)
	require.Equal(t, SubscriptionPresent, controller.State())

	server.mu.Lock()
	defer server.mu.Unlock()
	require.Len(t, server.subscribes, 1)
	require.Equal(t, "https://push.example/device", server.subscribes[0]["endpoint"])
}

func TestSubscribeAbortsWhenPermissionDenied(t *testing.T) {
	server, api := newPushAPIServer(t)
	platform := &fakePlatform{caps: supportedCaps(), permission: PermissionDefault, promptResult: PermissionDenied}
	controller := NewPushController(api, platform)

	require.Error(t, controller.Subscribe(context.Background()))
	require.Equal(t, SubscriptionAbsent, controller.State())

	server.mu.Lock()
	defer server.mu.Unlock()
	require.Empty(t, server.subscribes)
}

func TestSubscribeRollsBackOnPlatformFailure(t *testing.T) {
	_, api := newPushAPIServer(t)
	platform := &fakePlatform{
		caps:         supportedCaps(),
		permission:   PermissionGranted,
		subscribeErr: errors.New("platform refused"),
	}
	controller := NewPushController(api, platform)

	require.Error(t, controller.Subscribe(context.Background()))
	require.Equal(t, SubscriptionAbsent, controller.State())
}

func TestSubscribeRollsBackOnRegistryFailure(t *testing.T) {
	server, api := newPushAPIServer(t)
	platform := &fakePlatform{caps: supportedCaps(), permission: PermissionGranted}
	controller := NewPushController(api, platform)

	// Memoize the key first, then fail the registry upsert.
	_, err := controller.ServerKey(context.Background())
	require.NoError(t, err)
	server.mu.Lock()
	server.failNext = true
	server.mu.Unlock()

	require.Error(t, controller.Subscribe(context.Background()))
	require.Equal(t, SubscriptionAbsent, controller.State())
}

func TestServerKeyIsMemoized(t *testing.T) {
	server, api := newPushAPIServer(t)
	controller := NewPushController(api, &fakePlatform{caps: supportedCaps(), permission: PermissionGranted})

	for i := 0; i < 3; i++ {
		key, err := controller.ServerKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "server-vapid-key", key)
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	require.Equal(t, 1, server.keyFetches)
}

func TestUnsupportedPlatformIsANoOp(t *testing.T) {
	server, api := newPushAPIServer(t)
	platform := &fakePlatform{caps: Capabilities{}, permission: PermissionDefault}
	controller := NewPushController(api, platform)

	require.False(t, controller.Supported())
	require.NoError(t, controller.Subscribe(context.Background()))
	require.NoError(t, controller.Unsubscribe(context.Background()))
	require.NoError(t, controller.Sync(context.Background()))
	require.Equal(t, SubscriptionAbsent, controller.State())
	require.Zero(t, platform.prompts)

	server.mu.Lock()
	defer server.mu.Unlock()
	require.Empty(t, server.subscribes)
	require.Empty(t, server.unsubscribes)
}

func TestUnsubscribeSurvivesRegistryFailure(t *testing.T) {
	server, api := newPushAPIServer(t)
	platform := &fakePlatform{
		caps:       supportedCaps(),
		permission: PermissionGranted,
		current:    &PlatformSubscription{Endpoint: "https://push.example/device", P256dh: "p", Auth: "a"},
	}
	controller := NewPushController(api, platform)
	controller.setState(SubscriptionPresent)

	server.mu.Lock()
	server.failNext = true
	server.mu.Unlock()

	// The platform cancellation stands even though the registry call failed.
	require.NoError(t, controller.Unsubscribe(context.Background()))
	require.Equal(t, SubscriptionAbsent, controller.State())
	require.Nil(t, platform.current)
}

func TestSyncRepairsRegistryWithoutPrompting(t *testing.T) {
	server, api := newPushAPIServer(t)
	platform := &fakePlatform{
		caps:       supportedCaps(),
		permission: PermissionGranted,
		current:    &PlatformSubscription{Endpoint: "https://push.example/device", P256dh: "p", Auth: "a"},
	}
	controller := NewPushController(api, platform)

	require.NoError(t, controller.Sync(context.Background()))
	require.Equal(t, SubscriptionPresent, controller.State())
	require.Zero(t, platform.prompts)

	server.mu.Lock()
	defer server.mu.Unlock()
	require.Len(t, server.subscribes, 1)
}

func TestSyncWithoutPermissionStaysAbsent(t *testing.T) {
	server, api := newPushAPIServer(t)
	platform := &fakePlatform{caps: supportedCaps(), permission: PermissionDefault}
	controller := NewPushController(api, platform)

	require.NoError(t, controller.Sync(context.Background()))
	require.Equal(t, SubscriptionAbsent, controller.State())

	server.mu.Lock()
	defer server.mu.Unlock()
	require.Empty(t, server.subscribes)
}
