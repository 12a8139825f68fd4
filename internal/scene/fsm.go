// Package scene holds the scene lifecycle state machine. Every status
// change of a scene goes through Apply, which validates the transition
// against a single table and sets the fields that belong to it.
package scene

import (
	"errors"
	"fmt"
	"time"

	"veostudio/internal/store"

	"github.com/shopspring/decimal"
)

// MaxRetries bounds the number of failed generation attempts per scene.
const MaxRetries = 3

// Event is a lifecycle trigger.
type Event string

const (
	EventQueue      Event = "queue"      // pending/failed -> queued
	EventRegenerate Event = "regenerate" // completed -> queued
	EventDispatched Event = "dispatched" // queued -> processing
	EventComplete   Event = "complete"   // queued/processing -> completed
	EventFail       Event = "fail"       // queued/processing -> failed
)

var (
	// ErrIllegalTransition is returned for an event the current status does not accept.
	ErrIllegalTransition = errors.New("illegal scene transition")

	// ErrRetryLimitExceeded is returned when a failed scene has used all retries.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrMissingErrorMessage is returned when failing without a diagnostic.
	ErrMissingErrorMessage = errors.New("failed transition requires an error message")

	// ErrMissingArtifact is returned when completing without an artifact URL.
	ErrMissingArtifact = errors.New("completed transition requires an artifact url")
)

var transitions = map[store.SceneStatus]map[Event]store.SceneStatus{
	store.SceneStatusPending: {
		EventQueue: store.SceneStatusQueued,
	},
	store.SceneStatusQueued: {
		EventDispatched: store.SceneStatusProcessing,
		EventComplete:   store.SceneStatusCompleted,
		EventFail:       store.SceneStatusFailed,
	},
	store.SceneStatusProcessing: {
		EventComplete: store.SceneStatusCompleted,
		EventFail:     store.SceneStatusFailed,
	},
	store.SceneStatusCompleted: {
		EventRegenerate: store.SceneStatusQueued,
	},
	store.SceneStatusFailed: {
		EventQueue: store.SceneStatusQueued,
	},
}

// Next returns the status that event leads to from status.
func Next(status store.SceneStatus, event Event) (store.SceneStatus, error) {
	next, ok := transitions[status][event]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, status)
	}
	return next, nil
}

// Transition carries the data an event needs.
type Transition struct {
	Event        Event
	At           time.Time
	Cost         decimal.Decimal // queue, regenerate
	ArtifactURL  string          // complete
	ThumbnailURL string          // complete, optional
	ProcessingMs *int64          // complete, optional
	ErrorMessage string          // fail
	// CountAttempt advances RetryCount on fail. Compensated dispatch
	// failures leave it unchanged.
	CountAttempt bool
}

// Apply validates t against sc and mutates sc into the new state. It
// returns the previous status for use as the compare-and-set guard.
func Apply(sc *store.Scene, t Transition) (store.SceneStatus, error) {
	from := sc.Status
	next, err := Next(from, t.Event)
	if err != nil {
		return from, err
	}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}

	switch t.Event {
	case EventQueue:
		if from == store.SceneStatusFailed && sc.RetryCount >= MaxRetries {
			return from, fmt.Errorf("%w: %d of %d attempts used", ErrRetryLimitExceeded, sc.RetryCount, MaxRetries)
		}
		sc.GenerationCost = t.Cost
		sc.ErrorMessage = nil
		sc.ProcessingStartedAt = nil
		sc.ProcessingCompletedAt = nil

	case EventRegenerate:
		sc.GenerationCost = t.Cost
		sc.ErrorMessage = nil
		sc.ProcessingStartedAt = nil
		sc.ProcessingCompletedAt = nil

	case EventDispatched:
		at := t.At
		sc.ProcessingStartedAt = &at

	case EventComplete:
		if t.ArtifactURL == "" {
			return from, ErrMissingArtifact
		}
		url := t.ArtifactURL
		at := t.At
		sc.ArtifactURL = &url
		sc.ErrorMessage = nil
		sc.ProcessingCompletedAt = &at
		if t.ThumbnailURL != "" {
			thumb := t.ThumbnailURL
			sc.ThumbnailURL = &thumb
		}
		if t.ProcessingMs != nil {
			sc.ProcessingTimeMs = t.ProcessingMs
		}

	case EventFail:
		if t.ErrorMessage == "" {
			return from, ErrMissingErrorMessage
		}
		msg := t.ErrorMessage
		at := t.At
		sc.ErrorMessage = &msg
		sc.ProcessingCompletedAt = &at
		if t.CountAttempt && sc.RetryCount < MaxRetries {
			sc.RetryCount++
		}
	}

	sc.Status = next
	return from, nil
}

// InFlight reports whether the status holds an active dispatch.
func InFlight(status store.SceneStatus) bool {
	return status == store.SceneStatusQueued || status == store.SceneStatusProcessing
}

// Exhausted reports whether a failed scene can no longer be retried.
func Exhausted(sc *store.Scene) bool {
	return sc.Status == store.SceneStatusFailed && sc.RetryCount >= MaxRetries
}
