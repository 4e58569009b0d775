package notice

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"

	"github.com/campushub/notify/models"
	"github.com/campushub/notify/services"
	"github.com/campushub/notify/utils"
)

// NoticeController exposes the notice listing and read-state mutations, plus
// notice creation for the admin roles.
type NoticeController struct {
	db      *gorm.DB
	config  *models.Config
	notices *services.NoticeManager
}

type listResponse struct {
	Notices []models.Notice `json:"notices"`
}

type createRequest struct {
	Title       string `json:"title"`
	Message     string `json:"message"`
	IsImportant bool   `json:"isImportant"`
}

type markReadRequest struct {
	ID string `json:"id"`
}

// New creates an instance of the controller and sets its DB handle
func New(db *gorm.DB, config *models.Config, notices *services.NoticeManager) *NoticeController {
	return &NoticeController{db: db, config: config, notices: notices}
}

// List returns the caller's notices. Supports unreadOnly, page and limit
// query parameters.
func (n *NoticeController) List(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := callerIdentity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	query := r.URL.Query()
	unreadOnly := query.Get("unreadOnly") == "true"
	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))

	notices, err := n.notices.List(ownerID, unreadOnly, page, limit)
	if err != nil {
		log.Printf("NoticeController: Error listing notices for %s: %s", ownerID, err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if notices == nil {
		notices = []models.Notice{}
	}
	utils.JSONResponse(w, listResponse{Notices: notices}, http.StatusOK)
}

// Create stores a new notice. Only the admin roles may author notices.
func (n *NoticeController) Create(w http.ResponseWriter, r *http.Request) {
	_, role, ok := callerIdentity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if role != models.RolePrincipal && role != models.RoleSuperAdmin {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, n.config.MaxBodySize)
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if body.Title == "" || body.Message == "" {
		http.Error(w, "title and message are required", http.StatusBadRequest)
		return
	}

	notice, err := n.notices.Create(body.Title, body.Message, body.IsImportant)
	if err != nil {
		log.Printf("NoticeController: Error creating notice: %s", err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	utils.JSONResponse(w, notice, http.StatusCreated)
}

// MarkRead records a read receipt for one notice.
func (n *NoticeController) MarkRead(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := callerIdentity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, n.config.MaxBodySize)
	var body markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	noticeID, err := uuid.FromString(body.ID)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := n.notices.MarkRead(ownerID, noticeID); err != nil {
		log.Printf("NoticeController: Error marking notice %s read: %s", noticeID, err.Error())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	utils.JSONResponse(w, map[string]bool{"success": true}, http.StatusOK)
}

// MarkAllRead records read receipts for all of the caller's unread notices.
func (n *NoticeController) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ownerID, _, ok := callerIdentity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := n.notices.MarkAllRead(ownerID); err != nil {
		log.Printf("NoticeController: Error marking all notices read for %s: %s", ownerID, err.Error())
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
