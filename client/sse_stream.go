package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/campushub/notify/models"
)

// sseMessage mirrors the server's wire envelope.
type sseMessage struct {
	Event  string         `json:"event"`
	Notice *models.Notice `json:"notice,omitempty"`
}

type sseStream struct {
	resp   *http.Response
	reader *bufio.Reader
}

// RealtimeBase derives the event-stream base URL from the API base by
// stripping its path suffix, e.g. https://host/api -> https://host.
func RealtimeBase(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil {
		return apiBase
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// DialSSE returns a DialFunc connecting to the server's event stream. The
// bearer token is passed in the handshake; the server rejects stale tokens
// there, which callers observe as a connect error.
func DialSSE(apiBase string, httpClient *http.Client) DialFunc {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	eventsURL := RealtimeBase(apiBase) + "/events"
	return func(ctx context.Context, token string) (Stream, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, eventsURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("event stream handshake rejected: %s", resp.Status)
		}
		return &sseStream{resp: resp, reader: bufio.NewReader(resp.Body)}, nil
	}
}

// Recv reads one server-sent event. Events arrive strictly in the order
// the server wrote them.
func (s *sseStream) Recv() (Event, error) {
	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "data: ") {
			data.WriteString(strings.TrimPrefix(line, "data: "))
			continue
		}
		if line == "" && data.Len() > 0 {
			var msg sseMessage
			if err := json.Unmarshal([]byte(data.String()), &msg); err != nil {
				// Skip frames we cannot parse; the poll path converges anyway.
				data.Reset()
				continue
			}
			return Event{Type: msg.Event, Notice: msg.Notice}, nil
		}
	}
}

func (s *sseStream) Close() error {
	return s.resp.Body.Close()
}
