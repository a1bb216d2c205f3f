package session

import (
	"sync"

	"tradewire/internal/models"
)

// Transcript is the bounded, ordered message history of one conversation.
// Entries are keyed by the message's transcript key (temp id until the
// server confirms, stable id after); a key is never present twice.
type Transcript struct {
	maxRecords int

	mu      sync.RWMutex
	records []models.Message
	index   map[string]int
}

func NewTranscript(maxRecords int) *Transcript {
	if maxRecords <= 0 {
		maxRecords = 200
	}
	return &Transcript{
		maxRecords: maxRecords,
		index:      make(map[string]int),
	}
}

// Append adds a message unless its key is already present. It reports
// whether the message was added.
func (t *Transcript) Append(msg models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := msg.TranscriptKey()
	if key == "" {
		return false
	}
	if _, exists := t.index[key]; exists {
		return false
	}

	t.records = append(t.records, msg)
	if len(t.records) > t.maxRecords {
		dropped := t.records[0]
		t.records = t.records[1:]
		delete(t.index, dropped.TranscriptKey())
		for k := range t.index {
			t.index[k]--
		}
	}
	t.index[key] = len(t.records) - 1
	return true
}

// Merge reconciles an inbound server message with the transcript: an entry
// with the same stable id is updated in place, an optimistic entry matching
// the carried temp id is confirmed, anything else is appended. Duplicates
// are rejected rather than appended twice.
func (t *Transcript) Merge(msg models.Message) bool {
	t.mu.Lock()
	if msg.ID != "" {
		if i, exists := t.index[msg.ID]; exists {
			t.records[i] = msg
			t.mu.Unlock()
			return false
		}
	}
	if msg.TempID != "" {
		if i, exists := t.index[msg.TempID]; exists {
			if msg.ID != "" {
				t.mu.Unlock()
				t.Confirm(msg.TempID, msg)
				return false
			}
			t.records[i] = msg
			t.mu.Unlock()
			return false
		}
	}
	t.mu.Unlock()
	return t.Append(msg)
}

// Confirm replaces the optimistic copy under tempID with the
// server-confirmed message. The temp key is retired; the stable id takes
// over as the transcript key.
func (t *Transcript) Confirm(tempID string, confirmed models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, exists := t.index[tempID]
	if !exists {
		return false
	}
	delete(t.index, tempID)
	confirmed.TempID = ""
	t.records[i] = confirmed
	t.index[confirmed.TranscriptKey()] = i
	return true
}

// SetStatus moves the message under key through the status machine,
// validating the transition.
func (t *Transcript) SetStatus(key string, to models.MessageStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, exists := t.index[key]
	if !exists {
		return models.ErrNotFound
	}
	return t.records[i].SetStatus(to)
}

// Get returns the message stored under key.
func (t *Transcript) Get(key string) (models.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i, exists := t.index[key]
	if !exists {
		return models.Message{}, false
	}
	return t.records[i], true
}

// Messages returns the transcript in order, oldest first.
func (t *Transcript) Messages() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.Message(nil), t.records...)
}

// Len reports the number of transcript entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
