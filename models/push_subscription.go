package models

import (
	"time"

	"github.com/gofrs/uuid"
)

// PushSubscription is one (account, device) registration against a browser
// push service. The endpoint is globally unique: a browser install that
// re-subscribes, possibly under a different account, updates the existing
// row instead of inserting a duplicate.
type PushSubscription struct {
	Endpoint   string    `gorm:"primaryKey" json:"endpoint"`
	OwnerID    uuid.UUID `gorm:"type:uuid;index:idx_owner_role_active,priority:1" json:"ownerId"`
	Role       string    `gorm:"index:idx_owner_role_active,priority:2" json:"role"`
	P256dh     string    `json:"p256dh"`
	Auth       string    `json:"-"` // encrypted at rest
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	IsActive   bool      `gorm:"index;index:idx_owner_role_active,priority:3" json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SubscriptionKeys is the asymmetric key material a browser hands out with
// a push subscription. Both parts are required to encrypt payloads.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}
