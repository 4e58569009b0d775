package client

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Permission is the platform notification permission state.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// SubscriptionState tells whether a platform subscription currently exists.
type SubscriptionState string

const (
	SubscriptionAbsent  SubscriptionState = "absent"
	SubscriptionPresent SubscriptionState = "present"
)

// Capabilities is the structured capability probe. Platform divergence is
// isolated behind this one adapter.
type Capabilities struct {
	SupportsBackgroundDelivery      bool
	SupportsStructuredNotifications bool
	SupportsPushTransport           bool
}

// PlatformSubscription is the key material a platform subscription exposes.
type PlatformSubscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

// Platform adapts the browser/device push primitives. RequestPermission is
// only honored by real platforms inside a user gesture; the controller
// never tries to work around that.
type Platform interface {
	Capabilities() Capabilities
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	// EnsureRegistration obtains or confirms the background-delivery registration.
	EnsureRegistration(ctx context.Context) error
	// Subscription returns the existing platform subscription, or nil.
	Subscription(ctx context.Context) (*PlatformSubscription, error)
	// Subscribe creates a platform subscription seeded with the server key.
	Subscribe(ctx context.Context, serverKey string) (*PlatformSubscription, error)
	Unsubscribe(ctx context.Context) error
	DeviceInfo() map[string]string
}

// PushController mediates between platform permission, the server key and
// the server-side subscription registry. Failures come back as error values
// meant for user-facing warnings; nothing here panics, and on an
// unsupported platform every operation is a no-op.
type PushController struct {
	api      *API
	platform Platform

	supported bool

	mu        sync.Mutex
	serverKey string
	state     SubscriptionState
}

// NewPushController probes the platform once. Call Sync afterwards to
// repair any half-registered state from a previous run.
func NewPushController(api *API, platform Platform) *PushController {
	caps := platform.Capabilities()
	supported := caps.SupportsBackgroundDelivery && caps.SupportsStructuredNotifications && caps.SupportsPushTransport
	return &PushController{
		api:       api,
		platform:  platform,
		supported: supported,
		state:     SubscriptionAbsent,
	}
}

// Supported reports whether the platform can do background push at all.
func (c *PushController) Supported() bool {
	return c.supported
}

// State returns the local subscription state, which the UI treats as the
// source of truth.
func (c *PushController) State() SubscriptionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerKey returns the VAPID public key, fetching it once and memoizing.
func (c *PushController) ServerKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverKey != "" {
		return c.serverKey, nil
	}
	key, err := c.api.ServerKey(ctx)
	if err != nil {
		return "", err
	}
	c.serverKey = key
	return key, nil
}

// Subscribe runs the full subscribe sequence. Must be called from a direct
// user action so the permission prompt is honored. A failure after the
// permission step rolls local state back to absent; there is no silent retry.
func (c *PushController) Subscribe(ctx context.Context) error {
	if !c.supported {
		return nil
	}

	serverKey, err := c.ServerKey(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch the server push key: %w", err)
	}

	permission := c.platform.Permission()
	if permission != PermissionGranted {
		permission, err = c.platform.RequestPermission(ctx)
		if err != nil {
			return fmt.Errorf("permission request failed: %w", err)
		}
	}
	if permission != PermissionGranted {
		return fmt.Errorf("notification permission was not granted")
	}

	if err := c.platform.EnsureRegistration(ctx); err != nil {
		c.setState(SubscriptionAbsent)
		return fmt.Errorf("could not register the background worker: %w", err)
	}

	subscription, err := c.platform.Subscribe(ctx, serverKey)
	if err != nil {
		c.setState(SubscriptionAbsent)
		return fmt.Errorf("could not create the push subscription: %w", err)
	}

	if err := c.api.Subscribe(ctx, *subscription, c.platform.DeviceInfo()); err != nil {
		c.setState(SubscriptionAbsent)
		return fmt.Errorf("could not register the subscription with the server: %w", err)
	}

	c.setState(SubscriptionPresent)
	return nil
}

// Unsubscribe cancels the platform subscription, then deactivates it in the
// server registry. The registry call is informational for delivery
// targeting; its failure does not undo the local cancellation.
func (c *PushController) Unsubscribe(ctx context.Context) error {
	if !c.supported {
		return nil
	}

	subscription, err := c.platform.Subscription(ctx)
	if err != nil {
		return fmt.Errorf("could not read the platform subscription: %w", err)
	}

	if err := c.platform.Unsubscribe(ctx); err != nil {
		return fmt.Errorf("could not cancel the push subscription: %w", err)
	}
	c.setState(SubscriptionAbsent)

	if subscription != nil {
		if err := c.api.Unsubscribe(ctx, subscription.Endpoint); err != nil {
			log.Warnf("PushController: server unsubscribe failed, registry will self-correct on delivery failure: %s", err.Error())
		}
	}
	return nil
}

// Sync re-asserts an existing platform subscription into the server
// registry without prompting the user. It repairs the (granted, absent
// server record) inconsistency left by a previous partial failure.
func (c *PushController) Sync(ctx context.Context) error {
	if !c.supported {
		return nil
	}
	if c.platform.Permission() != PermissionGranted {
		c.setState(SubscriptionAbsent)
		return nil
	}

	subscription, err := c.platform.Subscription(ctx)
	if err != nil {
		return fmt.Errorf("could not read the platform subscription: %w", err)
	}
	if subscription == nil {
		c.setState(SubscriptionAbsent)
		return nil
	}

	if err := c.api.Subscribe(ctx, *subscription, c.platform.DeviceInfo()); err != nil {
		// Keep the local state: the platform subscription exists and the
		// registry converges on the next sync.
		log.Warnf("PushController: could not re-assert subscription with the server: %s", err.Error())
	}
	c.setState(SubscriptionPresent)
	return nil
}

func (c *PushController) setState(state SubscriptionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
