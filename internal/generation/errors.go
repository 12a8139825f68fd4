package generation

import (
	"errors"
	"fmt"

	"veostudio/internal/scene"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrMissingScript  = errors.New("scene has no script")
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAlreadyInProgress is returned when the scene already has an
	// active dispatch.
	ErrAlreadyInProgress = errors.New("scene generation already in progress")

	// ErrAlreadyCompleted is returned for completed scenes unless
	// regeneration is forced.
	ErrAlreadyCompleted = errors.New("scene already completed")

	// ErrProjectStitching is returned while the project's scenes are being
	// stitched.
	ErrProjectStitching = errors.New("project is being stitched")

	ErrRetryLimitExceeded = scene.ErrRetryLimitExceeded

	// ErrDispatchTimeout and ErrDispatchRejected are returned after the
	// dispatch was compensated.
	ErrDispatchTimeout  = errors.New("dispatch timed out")
	ErrDispatchRejected = errors.New("dispatch rejected")

	// ErrInvalidOutcome is returned for callbacks that cannot be applied,
	// such as a success without an artifact.
	ErrInvalidOutcome = errors.New("invalid callback outcome")

	// ErrStitchNotNeeded is returned when a stitch is requested for a
	// project that is not waiting for one.
	ErrStitchNotNeeded = errors.New("project is not awaiting stitching")

	// ErrStitchNotReady is returned when a stitching project lacks
	// completed scene artifacts.
	ErrStitchNotReady = errors.New("project scenes are not ready for stitching")
)

// RetryLimitError reports the attempts a failed scene has used.
type RetryLimitError struct {
	RetryCount int
	MaxRetries int
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("retry limit exceeded: %d of %d attempts used", e.RetryCount, e.MaxRetries)
}

func (e *RetryLimitError) Is(target error) bool {
	return target == ErrRetryLimitExceeded
}
