package routes

import (
	"net/http"
	"os"

	"github.com/asaskevich/EventBus"
	"github.com/gorilla/handlers"
	"gorm.io/gorm"

	noticeController "github.com/campushub/notify/controllers/notice"
	pushController "github.com/campushub/notify/controllers/push"
	sseController "github.com/campushub/notify/controllers/sse"
	"github.com/campushub/notify/models"
	"github.com/campushub/notify/services"
)

func New(config *models.Config, db *gorm.DB, bus *EventBus.Bus) http.Handler {
	tokenSigningKey := []byte(config.SigningKey)
	tokenHandler := NewTokenHandler(config)

	registry := services.NewSubscriptionRegistry(db, config)
	sender := services.NewPushSender(db, config, registry)
	notices := services.NewNoticeManager(db, config, bus, sender)

	mux := http.NewServeMux()

	pushC := pushController.New(db, config, registry)
	mux.Handle("/api/push/key",
		handlers.LoggingHandler(
			os.Stdout,
			http.HandlerFunc(tokenHandler.TokenMiddleware(tokenSigningKey, pushC.GetServerKey)),
		),
	)
	mux.Handle("/api/push/subscribe",
		handlers.LoggingHandler(
			os.Stdout,
			http.HandlerFunc(tokenHandler.TokenMiddleware(tokenSigningKey, pushC.Subscribe)),
		),
	)
	mux.Handle("/api/push/unsubscribe",
		handlers.LoggingHandler(
			os.Stdout,
			http.HandlerFunc(tokenHandler.TokenMiddleware(tokenSigningKey, pushC.Unsubscribe)),
		),
	)

	noticeC := noticeController.New(db, config, notices)
	mux.Handle("/api/notices",
		handlers.LoggingHandler(
			os.Stdout,
			http.HandlerFunc(tokenHandler.TokenMiddleware(tokenSigningKey, func(w http.ResponseWriter, r *http.Request) {
				switch r.Method {
				case http.MethodGet:
					noticeC.List(w, r)
				case http.MethodPost:
					noticeC.Create(w, r)
				default:
					http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
				}
			})),
		),
	)
	mux.Handle("/api/notices/read",
		handlers.LoggingHandler(
			os.Stdout,
			http.HandlerFunc(tokenHandler.TokenMiddleware(tokenSigningKey, noticeC.MarkRead)),
		),
	)
	mux.Handle("/api/notices/read-all",
		handlers.LoggingHandler(
			os.Stdout,
			http.HandlerFunc(tokenHandler.TokenMiddleware(tokenSigningKey, noticeC.MarkAllRead)),
		),
	)

	// The event stream is not wrapped in the logging handler: it would only
	// flush its access log line when the stream ends.
	sseC := sseController.New(db, config, bus)
	sseC.Start()
	mux.HandleFunc("/events", tokenHandler.TokenMiddleware(tokenSigningKey, sseC.HandleEvents))

	return mux
}
