package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies operator feed events.
type EventType string

const (
	EventEntry   EventType = "ENTRY"
	EventExit    EventType = "EXIT"
	EventUnknown EventType = "UNKNOWN_DETECTED"
)

// Event is one item on the operator feed.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	RollNo     string    `json:"roll_no,omitempty"`
	PeriodID   string    `json:"period_id,omitempty"`
	PeriodName string    `json:"period_name,omitempty"`
	Distance   float64   `json:"distance,omitempty"`
	At         time.Time `json:"at"`
}

func newEvent(t EventType, at time.Time) Event {
	return Event{
		ID:   fmt.Sprintf("evt_%s", uuid.NewString()),
		Type: t,
		At:   at,
	}
}

// EventLog is a bounded ring of recent events. Safe for concurrent
// use.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
	max    int
}

// NewEventLog creates a log holding at most max events.
func NewEventLog(max int) *EventLog {
	if max <= 0 {
		max = 200
	}
	return &EventLog{max: max}
}

// Append adds an event, evicting the oldest if full.
func (l *EventLog) Append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, e)
	if len(l.events) > l.max {
		l.events = l.events[len(l.events)-l.max:]
	}
}

// Recent returns up to n most recent events, newest first.
func (l *EventLog) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}

	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = l.events[len(l.events)-1-i]
	}
	return out
}

// Broadcaster fans events out to subscribers. Slow subscribers drop
// events rather than stalling the capture loop.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]chan Event)}
}

// Subscribe creates a new buffered event channel and returns its ID
// for later unsubscription.
func (b *Broadcaster) Subscribe() (string, chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Event, 16)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers an event to all subscribers without blocking.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
