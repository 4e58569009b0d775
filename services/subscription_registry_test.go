package services

import (
	"fmt"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/campushub/notify/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))
	require.NoError(t, db.AutoMigrate(&models.Notice{}))
	require.NoError(t, db.AutoMigrate(&models.NoticeReceipt{}))
	require.NoError(t, db.AutoMigrate(&models.PushSubscription{}))
	return db
}

func newTestConfig() *models.Config {
	var config models.Config
	config = config.New()
	config.EncryptionKey = "0123456789abcdef0123456789abcdef"
	config.EnablePush = false
	return &config
}

func testKeys() models.SubscriptionKeys {
	return models.SubscriptionKeys{P256dh: "p256dh-key", Auth: "auth-secret"}
}

func TestUpsertRejectsMissingKeyMaterial(t *testing.T) {
	registry := NewSubscriptionRegistry(newTestDB(t), newTestConfig())
	owner, _ := uuid.NewV4()

	_, err := registry.Upsert(owner, models.RoleStudent, "https://push.example/ep1", models.SubscriptionKeys{P256dh: "only-half"}, "")
	require.ErrorIs(t, err, ErrMissingKeys)

	_, err = registry.Upsert(owner, models.RoleStudent, "https://push.example/ep1", models.SubscriptionKeys{Auth: "only-half"}, "")
	require.ErrorIs(t, err, ErrMissingKeys)
}

func TestUpsertIsIdempotentOnEndpoint(t *testing.T) {
	db := newTestDB(t)
	registry := NewSubscriptionRegistry(db, newTestConfig())
	owner, _ := uuid.NewV4()

	_, err := registry.Upsert(owner, models.RoleStudent, "https://push.example/ep1", models.SubscriptionKeys{P256dh: "first", Auth: "a1"}, "")
	require.NoError(t, err)
	_, err = registry.Upsert(owner, models.RoleStudent, "https://push.example/ep1", models.SubscriptionKeys{P256dh: "second", Auth: "a2"}, "")
	require.NoError(t, err)

	var subscriptions []models.PushSubscription
	require.NoError(t, db.Find(&subscriptions).Error)
	require.Len(t, subscriptions, 1)
	require.Equal(t, "second", subscriptions[0].P256dh)
	require.True(t, subscriptions[0].IsActive)
}

func TestUpsertReassignsEndpointToNewOwner(t *testing.T) {
	db := newTestDB(t)
	registry := NewSubscriptionRegistry(db, newTestConfig())
	user1, _ := uuid.NewV4()
	user2, _ := uuid.NewV4()

	// User 1 subscribes on the device, logs out; user 2 logs in on the same
	// device and the browser re-subscribes with the same endpoint.
	_, err := registry.Upsert(user1, models.RoleTeacher, "https://push.example/shared", testKeys(), "")
	require.NoError(t, err)
	_, err = registry.Upsert(user2, models.RoleStudent, "https://push.example/shared", testKeys(), "")
	require.NoError(t, err)

	var subscriptions []models.PushSubscription
	require.NoError(t, db.Find(&subscriptions).Error)
	require.Len(t, subscriptions, 1)
	require.Equal(t, user2, subscriptions[0].OwnerID)
	require.Equal(t, models.RoleStudent, subscriptions[0].Role)
}

func TestDeactivateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	registry := NewSubscriptionRegistry(db, newTestConfig())
	owner, _ := uuid.NewV4()

	_, err := registry.Upsert(owner, models.RoleStudent, "https://push.example/ep1", testKeys(), "")
	require.NoError(t, err)

	require.NoError(t, registry.Deactivate("https://push.example/ep1"))
	require.NoError(t, registry.Deactivate("https://push.example/ep1"))
	require.NoError(t, registry.Deactivate("https://push.example/never-seen"))

	var subscriptions []models.PushSubscription
	require.NoError(t, db.Find(&subscriptions).Error)
	require.Len(t, subscriptions, 1)
	require.False(t, subscriptions[0].IsActive)
}

func TestListActiveFiltersByOwnerRoleAndState(t *testing.T) {
	db := newTestDB(t)
	registry := NewSubscriptionRegistry(db, newTestConfig())
	owner, _ := uuid.NewV4()
	other, _ := uuid.NewV4()

	_, err := registry.Upsert(owner, models.RoleStudent, "https://push.example/ep1", testKeys(), "")
	require.NoError(t, err)
	_, err = registry.Upsert(owner, models.RoleStudent, "https://push.example/ep2", testKeys(), "")
	require.NoError(t, err)
	_, err = registry.Upsert(other, models.RoleTeacher, "https://push.example/ep3", testKeys(), "")
	require.NoError(t, err)
	require.NoError(t, registry.Deactivate("https://push.example/ep2"))

	active, err := registry.ListActive(owner, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "https://push.example/ep1", active[0].Endpoint)

	none, err := registry.ListActive(owner, models.RoleTeacher)
	require.NoError(t, err)
	require.Empty(t, none)

	audience, err := registry.ListActiveForRoles(models.NoticeRoles)
	require.NoError(t, err)
	require.Len(t, audience, 2)
}

func TestUpsertEncryptsAuthSecretAtRest(t *testing.T) {
	db := newTestDB(t)
	config := newTestConfig()
	registry := NewSubscriptionRegistry(db, config)
	owner, _ := uuid.NewV4()

	_, err := registry.Upsert(owner, models.RoleStudent, "https://push.example/ep1", testKeys(), "")
	require.NoError(t, err)

	var subscription models.PushSubscription
	require.NoError(t, db.First(&subscription).Error)
	require.NotEqual(t, "auth-secret", subscription.Auth)

	decrypted, err := NewDataProtector(config).Decrypt(subscription.Auth)
	require.NoError(t, err)
	require.Equal(t, "auth-secret", decrypted)
}
