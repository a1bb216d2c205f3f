// Package presence maintains the online-user set and per-conversation typing
// sets from server pushes.
package presence

import (
	"sort"
	"sync"

	"tradewire/internal/events"
	"tradewire/internal/models"
)

// Tracker holds who is online and who is typing where. The online set is
// rebuilt wholesale on an onlineUsers snapshot and patched incrementally on
// userStatusChanged; both paths are idempotent under repeated events.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]bool
	typing map[string]map[string]bool
}

func NewTracker() *Tracker {
	return &Tracker{
		online: make(map[string]bool),
		typing: make(map[string]map[string]bool),
	}
}

// Attach subscribes the tracker to the presence pushes.
func (t *Tracker) Attach(registry *events.Registry) {
	registry.On(events.KindOnlineUsers, "presence", func(ev events.Event) {
		var ids []string
		if ev.Decode(&ids) == nil {
			t.ReplaceOnline(ids)
		}
	})
	registry.On(events.KindUserStatusChanged, "presence", func(ev events.Event) {
		var change models.UserStatusChange
		if ev.Decode(&change) == nil {
			t.SetStatus(change.UserID, change.IsOnline)
		}
	})
	registry.On(events.KindTyping, "presence", func(ev events.Event) {
		var typing models.TypingEvent
		if ev.Decode(&typing) == nil {
			t.SetTyping(typing.ConversationID, typing.UserID, typing.IsTyping)
		}
	})
}

// ReplaceOnline installs an authoritative snapshot of the online set.
func (t *Tracker) ReplaceOnline(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.online = make(map[string]bool, len(ids))
	for _, id := range ids {
		t.online[id] = true
	}
}

// SetStatus applies an incremental online/offline change.
func (t *Tracker) SetStatus(userID string, isOnline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isOnline {
		t.online[userID] = true
	} else {
		delete(t.online, userID)
	}
}

// IsOnline reports whether the user is currently online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID]
}

// OnlineUsers returns the online set, sorted for stable output.
func (t *Tracker) OnlineUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetTyping adds or removes a user from a conversation's typing set. A
// conversation whose last typist stops keeps an empty set; "nobody typing"
// is the empty set, not a deleted key.
func (t *Tracker) SetTyping(conversationID, userID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.typing[conversationID]
	if !ok {
		set = make(map[string]bool)
		t.typing[conversationID] = set
	}
	if isTyping {
		set[userID] = true
	} else {
		delete(set, userID)
	}
}

// TypingUsers returns who is typing in a conversation, sorted.
func (t *Tracker) TypingUsers(conversationID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.typing[conversationID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
