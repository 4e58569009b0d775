package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// Notice is a school-wide announcement. Immutable once created except for
// the per-viewer read state kept in NoticeReceipt.
type Notice struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	IsImportant bool      `json:"isImportant"`
	CreatedAt   time.Time `json:"createdAt"`

	// IsReadByUser is filled per request for the asking account, never stored.
	IsReadByUser bool `gorm:"-" json:"isReadByUser"`
}

// BeforeCreate ensures the model has an ID before saving it
func (notice *Notice) BeforeCreate(scope *gorm.DB) error {
	if notice.ID != uuid.Nil {
		return nil
	}
	uuid, err := uuid.NewV4()
	if err != nil {
		return err
	}
	notice.ID = uuid
	return nil
}

// NoticeReceipt records that an account has read a notice.
type NoticeReceipt struct {
	NoticeID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	CreatedAt time.Time
}
