package handlers

import (
	"net/http"
	"time"

	"veostudio/internal/events"
	"veostudio/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	feedBuffer     = 64
	feedWriteWait  = 10 * time.Second
	feedPingPeriod = 30 * time.Second
)

// Feed handles GET /projects/{id}/feed.
// It upgrades to a websocket, sends the current project and scene states
// and then streams every state change of the project.
func (h *Handlers) Feed(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Invalid project id", http.StatusBadRequest)
		return
	}
	// Subscribe before the snapshot so no change between the two is lost.
	_, feed, unsubscribe := h.hub.Subscribe(projectID, feedBuffer)
	defer unsubscribe()

	p, scenes, err := h.gen.Project(r.Context(), accountID, projectID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()
	log := logger.FromContext(r.Context(), h.logger).With("project_id", projectID)

	snapshot := make([]events.Event, 0, len(scenes)+1)
	snapshot = append(snapshot, events.ProjectUpdated(p))
	for i := range scenes {
		snapshot = append(snapshot, events.SceneUpdated(&scenes[i]))
	}
	for _, ev := range snapshot {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
	}

	// The feed is one-way; reading only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn("feed connection error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-feed:
			if !ok {
				conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(feedWriteWait))
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				log.Warn("feed write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev events.Event) error {
	conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	return conn.WriteJSON(ev)
}
