package services

import (
	"encoding/json"

	"github.com/SherClockHolmes/webpush-go"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/campushub/notify/models"
)

// PushSender delivers notice payloads to the browser push endpoints of the
// notice audience. Endpoints rejected by the push provider are deactivated
// in the registry so delivery converges on live devices only.
type PushSender struct {
	db       *gorm.DB
	config   *models.Config
	registry *SubscriptionRegistry
}

// pushPayload is what the background worker script receives once the push
// provider has decrypted the message for it.
type pushPayload struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Icon     string            `json:"icon,omitempty"`
	Badge    string            `json:"badge,omitempty"`
	Data     map[string]string `json:"data"`
	Tag      string            `json:"tag"`
	Renotify bool              `json:"renotify"`
	Vibrate  []int             `json:"vibrate,omitempty"`
}

func NewPushSender(db *gorm.DB, config *models.Config, registry *SubscriptionRegistry) *PushSender {
	return &PushSender{db: db, config: config, registry: registry}
}

// NotifyNewNotice sends the notice to every active subscription of the
// notice audience roles. Returns how many deliveries were attempted.
func (n *PushSender) NotifyNewNotice(notice *models.Notice) (int, error) {
	if !n.config.EnablePush {
		return 0, nil
	}
	subscriptions, err := n.registry.ListActiveForRoles(models.NoticeRoles)
	if err != nil {
		return 0, err
	}

	icon := ""
	if n.config.LogoURL != nil {
		icon = n.config.LogoURL.String()
	}
	payload := pushPayload{
		Title:    notice.Title,
		Body:     notice.Message,
		Icon:     icon,
		Badge:    icon,
		Data:     map[string]string{"url": "/notices"},
		Tag:      "notice-" + notice.ID.String(),
		Renotify: notice.IsImportant,
	}
	if notice.IsImportant {
		payload.Vibrate = []int{200, 100, 200}
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	dp := NewDataProtector(n.config)
	sent := 0
	deactivatedCount := 0
	for i := range subscriptions {
		subscription := &subscriptions[i]
		auth, err := dp.Decrypt(subscription.Auth)
		if err != nil {
			log.Errorf("PushSender: could not decrypt auth secret for a subscription of %s: %s", subscription.OwnerID, err.Error())
			continue
		}
		target := &webpush.Subscription{
			Endpoint: subscription.Endpoint,
			Keys:     webpush.Keys{P256dh: subscription.P256dh, Auth: auth},
		}
		resp, err := webpush.SendNotification(jsonPayload, target, &webpush.Options{
			Subscriber:      n.config.AdminEmail,
			VAPIDPublicKey:  n.config.VapidPublicKey,
			VAPIDPrivateKey: n.config.VapidPrivateKey,
			TTL:             60,
		})
		if err != nil {
			log.Errorf("PushSender: delivery failed for a subscription of %s: %s", subscription.OwnerID, err.Error())
			continue
		}
		resp.Body.Close()

		// The push provider signals that the subscription is no longer active, so flag it.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			if err := n.registry.Deactivate(subscription.Endpoint); err != nil {
				log.Errorf("PushSender: could not deactivate expired endpoint: %s", err.Error())
			} else {
				deactivatedCount++
			}
			continue
		}
		sent++
	}
	if deactivatedCount > 0 {
		log.Infof("PushSender: deactivated %d expired push subscriptions", deactivatedCount)
	}
	return sent, nil
}
