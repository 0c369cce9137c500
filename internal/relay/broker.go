package relay

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
)

const subscriberBufSize = 256

// Lifecycle event types.
const (
	EventSessionStarted = "session_started"
	EventAttached       = "attached"
	EventAttachFailed   = "attach_failed"
	EventClicked        = "clicked"
	EventReattach       = "reattach"
	EventSessionEnded   = "session_ended"
	EventRelayMessage   = "relay_message"
)

// Event is a single lifecycle event sent to SSE clients.
type Event struct {
	Type      string     `json:"type"`
	TabID     tabs.TabID `json:"tab_id"`
	SessionID string     `json:"session_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Action    string     `json:"action,omitempty"`
	X         float64    `json:"x,omitempty"`
	Y         float64    `json:"y,omitempty"`
	Error     string     `json:"error,omitempty"`
	Time      time.Time  `json:"time"`
}

// Payload is the SSE data line for the event.
func (e Event) Payload() string {
	b, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Broker fans out events to all subscribed SSE clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
