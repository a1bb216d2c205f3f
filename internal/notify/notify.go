// Package notify aggregates server-pushed notifications into a bounded feed
// with an unread counter, and gates delivery of high-priority notifications
// to the OS/browser level.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"tradewire/internal/events"
	"tradewire/internal/models"
	"tradewire/internal/transport"
)

// FeedCap bounds the in-memory feed; the oldest entries beyond it drop.
const FeedCap = 20

// Permission mirrors the platform notification permission state.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Prompter asks the user for notification permission when it is still in
// its default state.
type Prompter interface {
	RequestPermission(ctx context.Context) (Permission, error)
}

// Pusher delivers a notification at the OS/browser level.
type Pusher interface {
	Push(ctx context.Context, n models.Notification) error
}

// Emitter is the transport surface the aggregator round-trips through.
type Emitter interface {
	EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error)
}

// Aggregator keeps the notification feed (newest first, capped) and the
// unread counter. The counter is maintained independently of the list and is
// incremented once per push with no dedup by id; that drift risk follows the
// server contract as observed.
type Aggregator struct {
	conn     Emitter
	pusher   Pusher
	prompter Prompter
	log      *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	feed       []models.Notification
	unread     int
	permission Permission
}

func NewAggregator(conn Emitter, pusher Pusher, prompter Prompter, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		conn:       conn,
		pusher:     pusher,
		prompter:   prompter,
		log:        log,
		now:        time.Now,
		permission: PermissionDefault,
	}
}

// Attach subscribes the aggregator to notification and order pushes.
func (a *Aggregator) Attach(registry *events.Registry) {
	registry.On(events.KindNewNotification, "notify", func(ev events.Event) {
		var n models.Notification
		if ev.Decode(&n) != nil {
			return
		}
		a.Push(n)
		a.deliver(context.Background(), n)
	})
	registry.On(events.KindNewOrder, "notify", func(ev events.Event) {
		var order models.Order
		if ev.Decode(&order) != nil {
			return
		}
		n := orderNotification(order, "New order")
		a.Push(n)
		a.deliver(context.Background(), n)
	})
	for kind, title := range map[events.Kind]string{
		events.KindOrderStatusUpdate: "Order status updated",
		events.KindOrderAssigned:     "Order assigned",
		events.KindOrderDelivered:    "Order delivered",
		events.KindOrderDisputed:     "Order disputed",
		events.KindOrderReturn:       "Order return requested",
	} {
		registry.On(kind, "notify", func(ev events.Event) {
			var order models.Order
			if ev.Decode(&order) != nil {
				return
			}
			n := orderNotification(order, title)
			a.Push(n)
			a.deliver(context.Background(), n)
		})
	}
	registry.On(events.KindNotificationRead, "notify", func(ev events.Event) {
		var payload struct {
			NotificationID string `json:"notificationId"`
		}
		if ev.Decode(&payload) == nil {
			a.markReadLocal(payload.NotificationID)
		}
	})
	registry.On(events.KindAllNotificationsRead, "notify", func(events.Event) {
		a.markAllReadLocal()
	})
	registry.On(events.KindUnreadCountUpdated, "notify", func(ev events.Event) {
		var payload struct {
			Count int `json:"count"`
		}
		if ev.Decode(&payload) == nil {
			a.setUnread(payload.Count)
		}
	})
}

// Push prepends a notification to the feed, dropping the oldest entry past
// the cap, and increments the unread counter unconditionally.
func (a *Aggregator) Push(n models.Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.feed = append([]models.Notification{n}, a.feed...)
	if len(a.feed) > FeedCap {
		a.feed = a.feed[:FeedCap]
	}
	a.unread++
}

// Feed returns a copy of the feed, newest first.
func (a *Aggregator) Feed() []models.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Notification(nil), a.feed...)
}

// UnreadCount returns the independent unread counter.
func (a *Aggregator) UnreadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unread
}

// MarkRead round-trips through the transport and flips the local copy only
// after the server acknowledges success.
func (a *Aggregator) MarkRead(ctx context.Context, id string) error {
	_, err := a.conn.EmitWithAck(ctx, transport.EventMarkNotificationRead, map[string]string{"notificationId": id})
	if err != nil {
		return err
	}
	a.markReadLocal(id)
	return nil
}

// MarkAllRead round-trips through the transport and zeroes the counter on
// acknowledged success.
func (a *Aggregator) MarkAllRead(ctx context.Context) error {
	_, err := a.conn.EmitWithAck(ctx, transport.EventMarkAllRead, map[string]any{})
	if err != nil {
		return err
	}
	a.markAllReadLocal()
	return nil
}

// RefreshUnread asks the server for the authoritative unread count.
func (a *Aggregator) RefreshUnread(ctx context.Context) (int, error) {
	payload, err := a.conn.EmitWithAck(ctx, transport.EventGetUnreadCount, map[string]any{})
	if err != nil {
		return 0, err
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return 0, err
	}
	a.setUnread(body.Count)
	return body.Count, nil
}

// SendTest asks the server to loop back a test notification.
func (a *Aggregator) SendTest(ctx context.Context, title, message string) error {
	_, err := a.conn.EmitWithAck(ctx, transport.EventTestNotification, map[string]string{
		"title":   title,
		"message": message,
	})
	return err
}

// SetPermission installs a known permission state (e.g. restored from a
// previous run).
func (a *Aggregator) SetPermission(p Permission) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.permission = p
}

// deliver pushes the notification at the OS level, gated on priority and
// permission. A default permission state triggers a one-time prompt; the
// notification is shown only if the user grants it inline.
func (a *Aggregator) deliver(ctx context.Context, n models.Notification) {
	if n.Priority != models.PriorityHigh && n.Priority != models.PriorityUrgent {
		return
	}
	if a.pusher == nil {
		return
	}

	a.mu.Lock()
	perm := a.permission
	a.mu.Unlock()

	if perm == PermissionDefault && a.prompter != nil {
		granted, err := a.prompter.RequestPermission(ctx)
		if err != nil {
			a.log.Warn("permission prompt failed", "error", err)
			return
		}
		a.mu.Lock()
		a.permission = granted
		perm = granted
		a.mu.Unlock()
	}

	if perm != PermissionGranted {
		return
	}
	if err := a.pusher.Push(ctx, n); err != nil {
		a.log.Warn("push delivery failed", "notification", n.ID, "error", err)
	}
}

func (a *Aggregator) markReadLocal(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.feed {
		if a.feed[i].ID == id && !a.feed[i].Read {
			a.feed[i].Read = true
			a.feed[i].ReadAt = a.now()
			if a.unread > 0 {
				a.unread--
			}
			return
		}
	}
	// Not in the capped feed anymore; the counter still moves.
	if a.unread > 0 {
		a.unread--
	}
}

func (a *Aggregator) markAllReadLocal() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.feed {
		if !a.feed[i].Read {
			a.feed[i].Read = true
			a.feed[i].ReadAt = a.now()
		}
	}
	a.unread = 0
}

func (a *Aggregator) setUnread(count int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if count < 0 {
		count = 0
	}
	a.unread = count
}

func orderNotification(order models.Order, title string) models.Notification {
	return models.Notification{
		ID:       "order-" + order.ID + "-" + order.Status,
		Title:    title,
		Message:  "Order " + order.ID + ": " + order.Status,
		Priority: models.PriorityHigh,
	}
}
