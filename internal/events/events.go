package events

import (
	"encoding/json"
	"sync"
)

// Kind is the closed set of event kinds a subscriber can react to. Transport
// frames carry the same names on the wire.
type Kind string

const (
	KindConnect              Kind = "connect"
	KindDisconnect           Kind = "disconnect"
	KindConnectError         Kind = "connect_error"
	KindOnlineUsers          Kind = "onlineUsers"
	KindUserStatusChanged    Kind = "userStatusChanged"
	KindMessage              Kind = "message"
	KindTyping               Kind = "typing"
	KindConversationJoined   Kind = "conversation_joined"
	KindNewNotification      Kind = "new_notification"
	KindNewOrder             Kind = "new_order"
	KindOrderStatusUpdate    Kind = "order_status_update"
	KindOrderAssigned        Kind = "order_assigned"
	KindOrderDelivered       Kind = "order_delivered"
	KindOrderDisputed        Kind = "order_disputed"
	KindOrderReturn          Kind = "order_return"
	KindNotificationRead     Kind = "notification_marked_read"
	KindAllNotificationsRead Kind = "all_notifications_marked_read"
	KindUnreadCountUpdated   Kind = "unread_count_updated"
	KindReconnect            Kind = "reconnect"
	KindReconnectFailed      Kind = "reconnect_failed"
)

// Event is one inbound push, decoded lazily by whoever cares about it.
type Event struct {
	Kind    Kind
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Handler reacts to one dispatched event. Handlers run synchronously in
// arrival order on the dispatching goroutine.
type Handler func(Event)

type registration struct {
	key string
	fn  Handler
}

// Registry is the subscribe/unsubscribe layer between the transport and any
// number of application consumers. A handler is keyed by (kind, key):
// registering the same pair again replaces the previous handler instead of
// accumulating a duplicate.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind][]registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind][]registration)}
}

// On registers fn for the given kind under key. A second On with the same
// (kind, key) replaces the first in place, keeping its dispatch position.
func (r *Registry) On(kind Kind, key string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.handlers[kind]
	for i, reg := range regs {
		if reg.key == key {
			regs[i].fn = fn
			return
		}
	}
	r.handlers[kind] = append(regs, registration{key: key, fn: fn})
}

// Off detaches the handler registered under (kind, key). Unknown pairs are a
// no-op.
func (r *Registry) Off(kind Kind, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.handlers[kind]
	for i, reg := range regs {
		if reg.key == key {
			r.handlers[kind] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(r.handlers[kind]) == 0 {
		delete(r.handlers, kind)
	}
}

// RemoveAll tears down registrations for the given kinds, or everything when
// called with no arguments. Afterwards no handler reference is retained.
func (r *Registry) RemoveAll(kinds ...Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(kinds) == 0 {
		r.handlers = make(map[Kind][]registration)
		return
	}
	for _, kind := range kinds {
		delete(r.handlers, kind)
	}
}

// Len reports the number of live registrations across all kinds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, regs := range r.handlers {
		n += len(regs)
	}
	return n
}

// Dispatch delivers the event to every handler registered for its kind, in
// registration order. Events from a single connection arrive here in wire
// order, so subscribers observe that same order.
func (r *Registry) Dispatch(ev Event) {
	r.mu.RLock()
	regs := make([]registration, len(r.handlers[ev.Kind]))
	copy(regs, r.handlers[ev.Kind])
	r.mu.RUnlock()

	for _, reg := range regs {
		reg.fn(ev)
	}
}
