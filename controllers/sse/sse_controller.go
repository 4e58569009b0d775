package sse

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"gorm.io/gorm"

	"github.com/campushub/notify/models"
	"github.com/campushub/notify/services"
	"github.com/campushub/notify/utils"
)

// This creates a permanent connection between the authenticated client browsers and the app.
// They would reconnect automatically if they get disconnected, change network or IP.
// Each connected browser tab holds exactly one stream; the client library is
// in charge of sharing it between UI consumers.
// New notices published on the in-process bus are relayed to every connected
// client whose role is part of the notice audience. No replay is done for
// clients that connect late; they converge through the REST notice listing.

type clientAuthorizationStatus struct {
	ownerID  string
	role     string
	sourceIP string
	since    time.Time
}

// SSEMessage is the wire envelope for one event on the stream.
type SSEMessage struct {
	Event  string         `json:"event"`
	Notice *models.Notice `json:"notice,omitempty"`
}

type SSEBroker struct {
	clientsChannels map[chan []byte]clientAuthorizationStatus
	clientsMutex    *sync.Mutex
	bus             *EventBus.Bus
}

func (b *SSEBroker) publish(roles []string, message SSEMessage) {
	b.clientsMutex.Lock()
	defer b.clientsMutex.Unlock()
	data, _ := json.Marshal(&message)
	for s, clientStatus := range b.clientsChannels {
		if roles != nil {
			// Push to the audience roles only
			for _, role := range roles {
				if clientStatus.role == role {
					b.send(s, data)
					break
				}
			}
		} else { // Push to every client
			b.send(s, data)
		}
	}
}

// send never blocks the broker: a client whose buffer is full has the event
// dropped and catches up through the REST notice listing.
func (b *SSEBroker) send(channel chan []byte, data []byte) {
	select {
	case channel <- data:
	default:
	}
}

func (b *SSEBroker) eventBusPublishNotice(notice models.Notice) {
	b.publish(models.NoticeRoles, SSEMessage{Event: "notice:new", Notice: &notice})
}

func (b *SSEBroker) subscribe(clientStatus clientAuthorizationStatus) chan []byte {
	b.clientsMutex.Lock()
	defer b.clientsMutex.Unlock()

	channel := make(chan []byte, 16)
	b.clientsChannels[channel] = clientStatus

	return channel
}

// unsubscribe removes a client from the broker pool
func (b *SSEBroker) unsubscribe(channel chan []byte) {
	b.clientsMutex.Lock()
	defer b.clientsMutex.Unlock()

	close(channel)
	delete(b.clientsChannels, channel)
}

type SSEController struct {
	db     *gorm.DB
	config *models.Config
	broker *SSEBroker
}

// New creates an instance of the controller and sets its DB handle
func New(db *gorm.DB, config *models.Config, bus *EventBus.Bus) *SSEController {
	return &SSEController{
		db:     db,
		config: config,
		broker: &SSEBroker{
			clientsChannels: make(map[chan []byte]clientAuthorizationStatus),
			clientsMutex:    new(sync.Mutex),
			bus:             bus,
		},
	}
}

// Start relays freshly created notices to connected clients and ensures each
// client receives a periodic ping to maintain the connection.
// The ping also aims at signalling potential corporate proxies that they should not close the connection.
func (s *SSEController) Start() {
	go func() {
		eventBus := *s.broker.bus
		eventBus.Subscribe(services.NoticeTopic, s.broker.eventBusPublishNotice)
		for {
			// Try keeping the connection alive by sending a periodic message
			s.broker.publish(nil, SSEMessage{Event: "ping"})
			time.Sleep(28e9) // 28s
		}
	}()
}

func (s *SSEController) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var identity = r.Context().Value("identity").(string)
	var role, _ = r.Context().Value("role").(string)

	// Make sure that the writer supports flushing.
	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Println("SSEController: HTTP streaming unsupported")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sourceIP := utils.New(s.config).GetClientIP(r)
	clientStatus := clientAuthorizationStatus{ownerID: identity, role: role, sourceIP: sourceIP, since: time.Now()}
	channel := s.broker.subscribe(clientStatus)
	defer s.broker.unsubscribe(channel)
	log.Printf("Added new SSE client %s (%s) connecting from %s", identity, role, sourceIP)

	// Set the headers related to event streaming.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")
	// Commit the handshake right away; clients block on the response headers.
	flusher.Flush()

	for {
		select {
		case msg := <-channel:
			_, _ = fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-r.Context().Done():
			log.Printf("Removed SSE client %s connecting from %s", identity, sourceIP)
			return
		}
	}
}
