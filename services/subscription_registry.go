package services

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campushub/notify/models"
)

// ErrMissingKeys is returned when a subscription is registered without its
// full asymmetric key material.
var ErrMissingKeys = errors.New("subscription requires both p256dh and auth keys")

// SubscriptionRegistry persists one push registration per (account, device)
// endpoint. It never sends notifications itself.
type SubscriptionRegistry struct {
	db     *gorm.DB
	config *models.Config
}

// NewSubscriptionRegistry creates an instance of SubscriptionRegistry and sets its DB handle
func NewSubscriptionRegistry(db *gorm.DB, config *models.Config) *SubscriptionRegistry {
	return &SubscriptionRegistry{db: db, config: config}
}

// Upsert stores the subscription keyed on its endpoint. A browser install
// re-registers its endpoint every time its worker activates, and the same
// device may be reused by a different account, so an existing row has its
// owner, role, keys and device info overwritten and is reactivated.
func (m *SubscriptionRegistry) Upsert(ownerID uuid.UUID, role string, endpoint string, keys models.SubscriptionKeys, deviceInfo string) (*models.PushSubscription, error) {
	if keys.P256dh == "" || keys.Auth == "" {
		return nil, ErrMissingKeys
	}

	dp := NewDataProtector(m.config)
	encryptedAuth, err := dp.Encrypt(keys.Auth)
	if err != nil {
		return nil, err
	}

	subscription := models.PushSubscription{
		Endpoint:   endpoint,
		OwnerID:    ownerID,
		Role:       role,
		P256dh:     keys.P256dh,
		Auth:       encryptedAuth,
		DeviceInfo: deviceInfo,
		IsActive:   true,
	}
	result := m.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_id", "role", "p256dh", "auth", "device_info", "is_active", "updated_at",
		}),
	}).Create(&subscription)
	if result.Error != nil {
		return nil, result.Error
	}
	log.Infof("SubscriptionRegistry: registered push endpoint for %s (%s)", ownerID, role)

	return &subscription, nil
}

// Deactivate flags the endpoint inactive. Rows are kept around rather than
// deleted so a later re-subscribe from the same install is an update.
// Unknown or already-inactive endpoints are not an error.
func (m *SubscriptionRegistry) Deactivate(endpoint string) error {
	result := m.db.Model(&models.PushSubscription{}).
		Where("endpoint = ?", endpoint).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Infof("SubscriptionRegistry: deactivated push endpoint")
	}
	return nil
}

// ListActive returns the active subscriptions for an account, optionally
// narrowed to one role. Delivery targeting uses this.
func (m *SubscriptionRegistry) ListActive(ownerID uuid.UUID, role string) ([]models.PushSubscription, error) {
	var subscriptions []models.PushSubscription
	query := m.db.Where("owner_id = ? AND is_active = ?", ownerID, true)
	if role != "" {
		query = query.Where("role = ?", role)
	}
	if result := query.Find(&subscriptions); result.Error != nil {
		return nil, result.Error
	}
	return subscriptions, nil
}

// ListActiveForRoles returns all active subscriptions whose role is in the
// audience. Used when a notice fans out to every device of a role set.
func (m *SubscriptionRegistry) ListActiveForRoles(roles []string) ([]models.PushSubscription, error) {
	var subscriptions []models.PushSubscription
	if result := m.db.Where("role IN ? AND is_active = ?", roles, true).Find(&subscriptions); result.Error != nil {
		return nil, result.Error
	}
	return subscriptions, nil
}
