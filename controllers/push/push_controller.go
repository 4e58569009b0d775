package push

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"

	"github.com/campushub/notify/models"
	"github.com/campushub/notify/services"
	"github.com/campushub/notify/utils"
)

// PushController exposes the subscription registry over HTTP: the VAPID
// public key, the subscribe upsert and the idempotent unsubscribe.
type PushController struct {
	db       *gorm.DB
	config   *models.Config
	registry *services.SubscriptionRegistry
}

type keyInfo struct {
	PublicKey string `json:"publicKey"`
}

type subscribeRequest struct {
	Endpoint   string                  `json:"endpoint"`
	Keys       models.SubscriptionKeys `json:"keys"`
	DeviceInfo json.RawMessage         `json:"deviceInfo"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// New creates an instance of the controller and sets its DB handle
func New(db *gorm.DB, config *models.Config, registry *services.SubscriptionRegistry) *PushController {
	return &PushController{db: db, config: config, registry: registry}
}

// GetServerKey returns the VAPID public key browsers need to create a
// platform subscription.
func (u *PushController) GetServerKey(w http.ResponseWriter, r *http.Request) {
	if !u.config.EnablePush {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	utils.JSONResponse(w, keyInfo{PublicKey: u.config.VapidPublicKey}, http.StatusOK)
}

// Subscribe registers or refreshes the caller's push subscription for the
// device that sent the request.
func (u *PushController) Subscribe(w http.ResponseWriter, r *http.Request) {
	ownerID, role, ok := callerIdentity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, u.config.MaxBodySize) // Refuse request with big body
	var body subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if body.Endpoint == "" {
		http.Error(w, "endpoint is required", http.StatusBadRequest)
		return
	}

	subscription, err := u.registry.Upsert(ownerID, role, body.Endpoint, body.Keys, string(body.DeviceInfo))
	if err != nil {
		if errors.Is(err, services.ErrMissingKeys) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("PushController: Error saving subscription for %s: %s", ownerID, err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	utils.JSONResponse(w, subscription, http.StatusOK)
}

// Unsubscribe deactivates the endpoint. Calling it for an unknown or
// already-inactive endpoint still succeeds.
func (u *PushController) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := callerIdentity(r); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, u.config.MaxBodySize)
	var body unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := u.registry.Deactivate(body.Endpoint); err != nil {
		log.Printf("PushController: Error deactivating subscription: %s", err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	utils.JSONResponse(w, map[string]bool{"success": true}, http.StatusOK)
}

func callerIdentity(r *http.Request) (uuid.UUID, string, bool) {
	identity, identityOk := r.Context().Value("identity").(string)
	role, roleOk := r.Context().Value("role").(string)
	if !identityOk || !roleOk {
		return uuid.Nil, "", false
	}
	ownerID, err := uuid.FromString(identity)
	if err != nil {
		return uuid.Nil, "", false
	}
	return ownerID, role, true
}
