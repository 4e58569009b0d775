package services

import (
	"github.com/asaskevich/EventBus"
	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campushub/notify/models"
)

// NoticeTopic is the in-process bus topic carrying freshly created notices
// to the realtime event stream.
const NoticeTopic = "notice:new"

// NoticeManager owns notice creation, listing and per-account read state.
type NoticeManager struct {
	db     *gorm.DB
	config *models.Config
	bus    *EventBus.Bus
	sender *PushSender
}

func NewNoticeManager(db *gorm.DB, config *models.Config, bus *EventBus.Bus, sender *PushSender) *NoticeManager {
	return &NoticeManager{db: db, config: config, bus: bus, sender: sender}
}

// Create stores a new notice, announces it on the bus for connected
// realtime clients and fans it out to background push endpoints.
// Push delivery is best effort; a failure there never fails the creation.
func (m *NoticeManager) Create(title string, message string, isImportant bool) (*models.Notice, error) {
	notice := models.Notice{Title: title, Message: message, IsImportant: isImportant}
	if result := m.db.Create(&notice); result.Error != nil {
		return nil, result.Error
	}
	log.Infof("NoticeManager: created notice %s", notice.ID)

	bus := *m.bus
	bus.Publish(NoticeTopic, notice)

	go func() {
		if _, err := m.sender.NotifyNewNotice(&notice); err != nil {
			log.Errorf("NoticeManager: push fan-out failed for notice %s: %s", notice.ID, err.Error())
		}
	}()

	return &notice, nil
}

// List returns notices for an account, newest first, with the per-account
// read flag filled in. Page numbers start at 1.
func (m *NoticeManager) List(ownerID uuid.UUID, unreadOnly bool, page int, limit int) ([]models.Notice, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = m.config.NoticePageSize
	}

	readIDs := m.db.Model(&models.NoticeReceipt{}).Select("notice_id").Where("owner_id = ?", ownerID)

	var notices []models.Notice
	query := m.db.Order("created_at desc").Offset((page - 1) * limit).Limit(limit)
	if unreadOnly {
		query = query.Where("id NOT IN (?)", readIDs)
	}
	if result := query.Find(&notices); result.Error != nil {
		return nil, result.Error
	}

	if !unreadOnly && len(notices) > 0 {
		var receipts []models.NoticeReceipt
		if result := m.db.Where("owner_id = ?", ownerID).Find(&receipts); result.Error != nil {
			return nil, result.Error
		}
		read := make(map[uuid.UUID]bool, len(receipts))
		for _, receipt := range receipts {
			read[receipt.NoticeID] = true
		}
		for i := range notices {
			notices[i].IsReadByUser = read[notices[i].ID]
		}
	}
	return notices, nil
}

// MarkRead records a read receipt for one notice. Already-read is not an error.
func (m *NoticeManager) MarkRead(ownerID uuid.UUID, noticeID uuid.UUID) error {
	var notice models.Notice
	if result := m.db.First(&notice, "id = ?", noticeID); result.Error != nil {
		return result.Error
	}
	receipt := models.NoticeReceipt{NoticeID: noticeID, OwnerID: ownerID}
	result := m.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt)
	return result.Error
}

// MarkAllRead records read receipts for every notice the account has not read yet.
func (m *NoticeManager) MarkAllRead(ownerID uuid.UUID) error {
	readIDs := m.db.Model(&models.NoticeReceipt{}).Select("notice_id").Where("owner_id = ?", ownerID)

	var unread []models.Notice
	if result := m.db.Where("id NOT IN (?)", readIDs).Find(&unread); result.Error != nil {
		return result.Error
	}
	if len(unread) == 0 {
		return nil
	}

	receipts := make([]models.NoticeReceipt, 0, len(unread))
	for _, notice := range unread {
		receipts = append(receipts, models.NoticeReceipt{NoticeID: notice.ID, OwnerID: ownerID})
	}
	result := m.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipts)
	return result.Error
}
