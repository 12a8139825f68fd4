// Package events fans committed state changes out to feed subscribers.
package events

import (
	"context"
	"time"

	"veostudio/internal/store"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeSceneUpdated   = "scene.updated"
	TypeProjectUpdated = "project.updated"
)

// Event is a state change of a scene or project.
type Event struct {
	Type                 string     `json:"type"`
	ProjectID            uuid.UUID  `json:"projectId"`
	SceneID              *uuid.UUID `json:"sceneId,omitempty"`
	Status               string     `json:"status"`
	RetryCount           *int       `json:"retryCount,omitempty"`
	ScenesCompletedCount *int       `json:"scenesCompletedCount,omitempty"`
	ArtifactURL          *string    `json:"artifactUrl,omitempty"`
	ErrorMessage         *string    `json:"errorMessage,omitempty"`
	At                   time.Time  `json:"at"`
}

// Publisher delivers events. Implementations must not block the caller.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// SceneUpdated builds the event for sc's current state.
func SceneUpdated(sc *store.Scene) Event {
	id := sc.ID
	retries := sc.RetryCount
	return Event{
		Type:         TypeSceneUpdated,
		ProjectID:    sc.ProjectID,
		SceneID:      &id,
		Status:       string(sc.Status),
		RetryCount:   &retries,
		ArtifactURL:  sc.ArtifactURL,
		ErrorMessage: sc.ErrorMessage,
		At:           time.Now().UTC(),
	}
}

// ProjectUpdated builds the event for p's current state.
func ProjectUpdated(p *store.Project) Event {
	completed := p.ScenesCompletedCount
	return Event{
		Type:                 TypeProjectUpdated,
		ProjectID:            p.ID,
		Status:               string(p.Status),
		ScenesCompletedCount: &completed,
		ArtifactURL:          p.FinalArtifactURL,
		ErrorMessage:         p.ErrorMessage,
		At:                   time.Now().UTC(),
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
