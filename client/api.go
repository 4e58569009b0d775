package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/campushub/notify/models"
)

// API is the REST client for the notice and push-subscription endpoints.
type API struct {
	base string
	http *http.Client

	mu    sync.RWMutex
	token string
}

type serverKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

type noticesResponse struct {
	Notices []models.Notice `json:"notices"`
}

// NewAPI creates a client rooted at base (e.g. https://school.example/api).
func NewAPI(base string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &API{base: strings.TrimRight(base, "/"), http: httpClient}
}

// SetToken swaps the bearer token, e.g. after an account switch.
func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

// Token returns the current bearer token.
func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// ServerKey fetches the VAPID public key.
func (a *API) ServerKey(ctx context.Context) (string, error) {
	var resp serverKeyResponse
	if err := a.do(ctx, http.MethodGet, "/push/key", nil, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

// Subscribe upserts the platform subscription into the server registry.
func (a *API) Subscribe(ctx context.Context, sub PlatformSubscription, deviceInfo map[string]string) error {
	body := map[string]interface{}{
		"endpoint": sub.Endpoint,
		"keys":     map[string]string{"p256dh": sub.P256dh, "auth": sub.Auth},
	}
	if deviceInfo != nil {
		body["deviceInfo"] = deviceInfo
	}
	return a.do(ctx, http.MethodPost, "/push/subscribe", body, nil)
}

// Unsubscribe deactivates the endpoint server-side. Idempotent.
func (a *API) Unsubscribe(ctx context.Context, endpoint string) error {
	return a.do(ctx, http.MethodPost, "/push/unsubscribe", map[string]string{"endpoint": endpoint}, nil)
}

// Notices lists notices for the authenticated account.
func (a *API) Notices(ctx context.Context, unreadOnly bool, page int, limit int) ([]models.Notice, error) {
	path := "/notices?page=" + strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)
	if unreadOnly {
		path += "&unreadOnly=true"
	}
	var resp noticesResponse
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notices, nil
}

// MarkRead records a read receipt for one notice.
func (a *API) MarkRead(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodPost, "/notices/read", map[string]string{"id": id}, nil)
}

// MarkAllRead records read receipts for every unread notice.
func (a *API) MarkAllRead(ctx context.Context) error {
	return a.do(ctx, http.MethodPost, "/notices/read-all", nil, nil)
}

func (a *API) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
