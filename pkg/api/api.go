// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`

	// Set for insufficient_funds.
	Required  string `json:"required,omitempty"`
	Available string `json:"available,omitempty"`

	// Set for retry_limit_exceeded.
	RetryCount *int `json:"retryCount,omitempty"`
	MaxRetries *int `json:"maxRetries,omitempty"`
}

// Machine-readable error codes.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeMissingScript      = "missing_script"
	CodeAlreadyInProgress  = "already_in_progress"
	CodeAlreadyCompleted   = "already_completed"
	CodeProjectStitching   = "project_stitching"
	CodeRetryLimitExceeded = "retry_limit_exceeded"
	CodeInsufficientFunds  = "insufficient_funds"
	CodeDispatchTimeout    = "dispatch_timeout"
	CodeDispatchRejected   = "dispatch_rejected"
	CodeLedgerHalted       = "ledger_halted"
	CodeLedgerCorrupted    = "ledger_corrupted"
	CodeUnavailable        = "unavailable"
	CodeUpstreamFailed     = "upstream_failed"
	CodeInternal           = "internal"
)

// GenerateRequest is the optional body of POST /scenes/{id}/generate.
type GenerateRequest struct {
	ForceRegenerate bool `json:"forceRegenerate"`
}

// GenerateResponse is returned for a dispatched scene.
type GenerateResponse struct {
	SceneID      string `json:"sceneId"`
	QueueEntryID string `json:"queueEntryId"`
	Status       string `json:"status"`
	Cost         string `json:"cost"`
	NewBalance   string `json:"newBalance"`
}

// BulkGenerateRequest is the body of POST /scenes/bulk-generate.
type BulkGenerateRequest struct {
	SceneIDs []string `json:"sceneIds"`
}

// BulkGenerateItem is the outcome for one scene of a bulk request.
type BulkGenerateItem struct {
	SceneID string            `json:"sceneId"`
	Result  *GenerateResponse `json:"result,omitempty"`
	Error   *ErrorResponse    `json:"error,omitempty"`
}

// BulkGenerateResponse lists outcomes in request order.
type BulkGenerateResponse struct {
	Results    []BulkGenerateItem `json:"results"`
	Dispatched int                `json:"dispatched"`
	Failed     int                `json:"failed"`
}

// GenerationCallbackRequest is sent by the generation worker. Both
// camelCase and snake_case field names are accepted.
type GenerationCallbackRequest struct {
	SceneID               string `json:"sceneId"`
	SceneIDSnake          string `json:"scene_id"`
	QueueEntryID          string `json:"queueEntryId"`
	QueueEntryIDSnake     string `json:"queue_entry_id"`
	Attempt               int    `json:"attempt"`
	Status                string `json:"status"`
	VideoURL              string `json:"videoUrl"`
	VideoURLSnake         string `json:"video_url"`
	ArtifactURL           string `json:"artifactUrl"`
	ThumbnailURL          string `json:"thumbnailUrl"`
	ThumbnailURLSnake     string `json:"thumbnail_url"`
	ErrorMessage          string `json:"errorMessage"`
	ErrorMessageSnake     string `json:"error_message"`
	ProcessingTimeMs      *int64 `json:"processingTimeMs"`
	ProcessingTimeMsSnake *int64 `json:"processing_time_ms"`
}

// Normalize folds the snake_case aliases into the camelCase fields.
func (r *GenerationCallbackRequest) Normalize() {
	pick := func(dst *string, alts ...string) {
		for _, a := range alts {
			if *dst != "" {
				return
			}
			*dst = a
		}
	}
	pick(&r.SceneID, r.SceneIDSnake)
	pick(&r.QueueEntryID, r.QueueEntryIDSnake)
	pick(&r.VideoURL, r.VideoURLSnake, r.ArtifactURL)
	pick(&r.ThumbnailURL, r.ThumbnailURLSnake)
	pick(&r.ErrorMessage, r.ErrorMessageSnake)
	if r.ProcessingTimeMs == nil {
		r.ProcessingTimeMs = r.ProcessingTimeMsSnake
	}
}

// CallbackResponse reports what a callback changed.
type CallbackResponse struct {
	Applied         bool   `json:"applied"`
	Status          string `json:"status,omitempty"`
	RetryCount      int    `json:"retryCount"`
	Refunded        bool   `json:"refunded"`
	StitchTriggered bool   `json:"stitchTriggered"`
}

// AckResponse is returned by the dispatch acknowledgement endpoint.
type AckResponse struct {
	Acked bool `json:"acked"`
}

// StitchCallbackRequest is sent by the stitcher.
type StitchCallbackRequest struct {
	ProjectID        string `json:"projectId"`
	Status           string `json:"status"`
	FinalArtifactURL string `json:"finalArtifactUrl,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
}

// StitchCallbackResponse reports whether the result was applied.
type StitchCallbackResponse struct {
	Applied bool `json:"applied"`
}

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	Title             string  `json:"title"`
	CharacterImageURL *string `json:"characterImageUrl,omitempty"`
}

// SceneResponse represents a scene in API responses.
type SceneResponse struct {
	ID               string  `json:"id"`
	ProjectID        string  `json:"projectId"`
	Index            int     `json:"index"`
	ScriptText       string  `json:"scriptText"`
	CameraMovement   string  `json:"cameraMovement"`
	CameraTier       string  `json:"cameraTier"`
	Status           string  `json:"status"`
	RetryCount       int     `json:"retryCount"`
	GenerationCost   string  `json:"generationCost"`
	ArtifactURL      *string `json:"artifactUrl,omitempty"`
	ThumbnailURL     *string `json:"thumbnailUrl,omitempty"`
	ErrorMessage     *string `json:"errorMessage,omitempty"`
	ProcessingTimeMs *int64  `json:"processingTimeMs,omitempty"`
}

// ProjectResponse represents a project with its scenes.
type ProjectResponse struct {
	ID                   string          `json:"id"`
	Title                string          `json:"title"`
	Status               string          `json:"status"`
	SceneCount           int             `json:"sceneCount"`
	ScenesCompletedCount int             `json:"scenesCompletedCount"`
	FinalArtifactURL     *string         `json:"finalArtifactUrl,omitempty"`
	ErrorMessage         *string         `json:"errorMessage,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	Scenes               []SceneResponse `json:"scenes"`
}

// UpdateSceneRequest is the body of PATCH /scenes/{id}. Absent fields are
// left unchanged.
type UpdateSceneRequest struct {
	ScriptText     *string `json:"scriptText,omitempty"`
	CameraMovement *string `json:"cameraMovement,omitempty"`
	CameraTier     *string `json:"cameraTier,omitempty"`
}

// ReorderScenesRequest is the body of POST /projects/{id}/reorder.
type ReorderScenesRequest struct {
	SceneIDs []string `json:"sceneIds"`
}

// QueueEntryResponse represents a queue entry.
type QueueEntryResponse struct {
	ID           string     `json:"id"`
	SceneID      string     `json:"sceneId"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	Cost         string     `json:"cost"`
	Kind         string     `json:"kind"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	WebhookAckAt *time.Time `json:"webhookAckAt,omitempty"`
}

// QueueResponse lists a project's queue entries by priority.
type QueueResponse struct {
	Entries []QueueEntryResponse `json:"entries"`
}

// BalanceResponse is returned by GET /credits.
type BalanceResponse struct {
	AccountID          string `json:"accountId"`
	Balance            string `json:"balance"`
	TotalVideosCreated int    `json:"totalVideosCreated"`
	LedgerHalted       bool   `json:"ledgerHalted"`
}

// LedgerEntryResponse represents a ledger entry.
type LedgerEntryResponse struct {
	ID           string    `json:"id"`
	Seq          int64     `json:"seq"`
	Amount       string    `json:"amount"`
	BalanceAfter string    `json:"balanceAfter"`
	Kind         string    `json:"kind"`
	Description  *string   `json:"description,omitempty"`
	ReferenceID  *string   `json:"referenceId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// LedgerResponse is a page of entries, newest first.
type LedgerResponse struct {
	Entries []LedgerEntryResponse `json:"entries"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// CreditPackage is a purchasable credit bundle.
type CreditPackage struct {
	ID         string `json:"id"`
	PriceCents int64  `json:"priceCents"`
	Credits    string `json:"credits"`
	Bonus      string `json:"bonus"`
	Total      string `json:"total"`
}

// PackagesResponse lists credit packages by price.
type PackagesResponse struct {
	Packages []CreditPackage `json:"packages"`
}

// PaymentConfirmation is sent by the payment provider webhook.
type PaymentConfirmation struct {
	AccountID         string `json:"accountId"`
	Amount            string `json:"amount,omitempty"`
	Bonus             string `json:"bonus,omitempty"`
	ExternalPaymentID string `json:"externalPaymentId"`
	PackageID         string `json:"packageId,omitempty"`
}

// PaymentResponse reports the balance after a confirmation.
type PaymentResponse struct {
	Balance   string `json:"balance"`
	Duplicate bool   `json:"duplicate"`
}

// CreateAccountRequest is sent by the signup hook.
type CreateAccountRequest struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email"`
}

// CreateAccountResponse reports whether the account was new.
type CreateAccountResponse struct {
	AccountID string `json:"accountId"`
	Created   bool   `json:"created"`
	Balance   string `json:"balance"`
}

// VerifyLedgerResponse is returned by the ledger verification endpoints.
type VerifyLedgerResponse struct {
	AccountID  string `json:"accountId"`
	Consistent bool   `json:"consistent"`
	Halted     bool   `json:"halted"`
}

// SuggestionsRequest is the optional body of POST /scenes/{id}/suggestions.
type SuggestionsRequest struct {
	ProjectContext string `json:"projectContext,omitempty"`
}

// SuggestionsResponse carries script ideas and the charge.
type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
	Cost        string   `json:"cost"`
	Balance     string   `json:"balance"`
}

// ThumbnailResponse carries the stored thumbnail and the charge.
type ThumbnailResponse struct {
	ThumbnailURL string `json:"thumbnailUrl"`
	Cost         string `json:"cost"`
	Balance      string `json:"balance"`
}
