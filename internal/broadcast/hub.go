// Package broadcast fans seat changes out to live viewers of a trip.
package broadcast

import (
	"sync"
	"sync/atomic"
	"time"
)

type EventType string

const (
	SeatHeld      EventType = "seat_held"
	SeatConfirmed EventType = "seat_confirmed"
	SeatFreed     EventType = "seat_freed"
)

type Event struct {
	Type      EventType `json:"type"`
	TripID    int64     `json:"trip_id"`
	Seat      string    `json:"seat"`
	BookingID int64     `json:"booking_id,omitempty"`
	At        time.Time `json:"at"`
}

// Hub is the subscribe/publish contract shared by the in-process and Redis
// implementations. Delivery is best effort and events are never persisted.
type Hub interface {
	Subscribe(tripID int64) <-chan Event
	Unsubscribe(tripID int64, ch <-chan Event)
	Publish(tripID int64, ev Event)
}

const DefaultBuffer = 16

// MemoryHub delivers within one process only. A subscriber whose buffer is
// full misses the event; the publisher never waits.
type MemoryHub struct {
	buffer int

	mu      sync.RWMutex
	subs    map[int64]map[<-chan Event]chan Event
	dropped atomic.Int64
}

func NewMemoryHub(buffer int) *MemoryHub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &MemoryHub{buffer: buffer, subs: map[int64]map[<-chan Event]chan Event{}}
}

func (h *MemoryHub) Subscribe(tripID int64) <-chan Event {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	set, ok := h.subs[tripID]
	if !ok {
		set = map[<-chan Event]chan Event{}
		h.subs[tripID] = set
	}
	set[ch] = ch
	h.mu.Unlock()
	return ch
}

// Unsubscribe closes the channel. The trip entry goes away with its last
// subscriber.
func (h *MemoryHub) Unsubscribe(tripID int64, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[tripID]
	if !ok {
		return
	}
	c, ok := set[ch]
	if !ok {
		return
	}
	delete(set, ch)
	close(c)
	if len(set) == 0 {
		delete(h.subs, tripID)
	}
}

func (h *MemoryHub) Publish(tripID int64, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.subs[tripID] {
		select {
		case c <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers reports the live subscriber count for a trip.
func (h *MemoryHub) Subscribers(tripID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tripID])
}

func (h *MemoryHub) Trips() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *MemoryHub) Dropped() int64 {
	return h.dropped.Load()
}
