package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Hub delivers events to in-process subscribers of a project.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[string]chan Event
}

func NewHub() *Hub {
	return &Hub{
		subs: map[uuid.UUID]map[string]chan Event{},
	}
}

// Subscribe registers a buffered channel for projectID. The returned
// function unsubscribes and closes the channel.
func (h *Hub) Subscribe(projectID uuid.UUID, buf int) (string, <-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subID := uuid.NewString()
	if _, ok := h.subs[projectID]; !ok {
		h.subs[projectID] = map[string]chan Event{}
	}
	ch := make(chan Event, buf)
	h.subs[projectID][subID] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		projectSubs, ok := h.subs[projectID]
		if !ok {
			return
		}
		c, ok := projectSubs[subID]
		if !ok {
			return
		}
		delete(projectSubs, subID)
		close(c)
		if len(projectSubs) == 0 {
			delete(h.subs, projectID)
		}
	}
	return subID, ch, unsubscribe
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (h *Hub) Publish(_ context.Context, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	projectSubs, ok := h.subs[ev.ProjectID]
	if !ok {
		return
	}
	for _, ch := range projectSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of subscribers of projectID.
func (h *Hub) Subscribers(projectID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[projectID])
}
