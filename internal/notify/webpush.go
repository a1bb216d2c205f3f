package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"tradewire/internal/models"

	"github.com/SherClockHolmes/webpush-go"
)

// WebPushConfig carries the VAPID keypair and the subscriber contact the
// push service requires.
type WebPushConfig struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
}

// WebPushSender delivers notifications through the Web Push protocol to the
// user's browser subscription (the desktop surface of the client).
type WebPushSender struct {
	cfg WebPushConfig
	sub *webpush.Subscription
}

// NewWebPushSender parses the serialized subscription the browser handed
// over at login.
func NewWebPushSender(cfg WebPushConfig, subscriptionJSON []byte) (*WebPushSender, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal(subscriptionJSON, &sub); err != nil {
		return nil, fmt.Errorf("invalid push subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, fmt.Errorf("push subscription has no endpoint")
	}
	if cfg.TTL == 0 {
		cfg.TTL = 60
	}
	return &WebPushSender{cfg: cfg, sub: &sub}, nil
}

// Push sends the notification body to the subscription endpoint.
func (s *WebPushSender) Push(ctx context.Context, n models.Notification) error {
	body, err := json.Marshal(map[string]string{
		"title":    n.Title,
		"message":  n.Message,
		"priority": string(n.Priority),
	})
	if err != nil {
		return err
	}

	urgency := webpush.UrgencyNormal
	if n.Priority == models.PriorityUrgent {
		urgency = webpush.UrgencyHigh
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, s.sub, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
		Urgency:         urgency,
	})
	if err != nil {
		return fmt.Errorf("webpush send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webpush send: HTTP %d", resp.StatusCode)
	}
	return nil
}
