package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

const (
	// EventFolderChanged fires when a folder's contents changed after a sync.
	EventFolderChanged EventType = "folder_changed"
	// EventNewMessage fires once per newly synced message.
	EventNewMessage EventType = "new_message"
	// EventSyncStarted fires when a sync run begins for an account.
	EventSyncStarted EventType = "sync_started"
	// EventSyncFinished fires when a sync run completes or fails.
	EventSyncFinished EventType = "sync_finished"
	// EventAuthRequired fires when an account transitions to reauth_required.
	EventAuthRequired EventType = "auth_required"
)

// Event is a single notification delivered to subscribers.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	AccountID uint                   `json:"account_id"`
	FolderID  uint                   `json:"folder_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Bus fans events out to subscribers. Slow subscribers lose events rather
// than block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan Event),
	}
}

// Publish delivers an event to every subscriber.
func (b *Bus) Publish(eventType EventType, accountID, folderID uint, payload map[string]interface{}) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		AccountID: accountID,
		FolderID:  folderID,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// subscriber is not keeping up, drop
		}
	}
}

// Subscribe registers a new subscriber and returns its channel and an
// unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
