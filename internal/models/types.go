package models

import (
	"time"

	"github.com/google/uuid"
)

// VideoSource is the caller-supplied video input after validation.
// Exactly one of the three variants is set.
type VideoSource struct {
	Upload     *UploadSource
	BucketURL  string
	YouTubeURL string
}

// UploadSource carries an uploaded video part.
type UploadSource struct {
	Data         []byte
	DeclaredMime string
	FileName     string
}

// MaterializedVideo is the analyzable form of a VideoSource: either a local
// scratch file owned by the current request, or a remote reference passed
// through to the model provider.
type MaterializedVideo struct {
	FilePath  string // set for local files
	RemoteURL string // set for pass-through references (YouTube)
	MimeType  string
	FileName  string
}

// IsRemote reports whether the video is referenced by URL rather than held locally.
func (m MaterializedVideo) IsRemote() bool {
	return m.RemoteURL != ""
}

// ValidatorCheck is one pass/fail entry in the model's response.
type ValidatorCheck struct {
	Description string `json:"description"`
	Result      bool   `json:"result"`
}

// ModelResponse is the sanitized structured output of the model.
type ModelResponse struct {
	Validators []ValidatorCheck `json:"validators"`
	Confidence float64          `json:"confidence"` // 0-1 fraction
}

// PolicyThreshold is a pair of percentage thresholds converting a
// ModelResponse into a binary decision.
type PolicyThreshold struct {
	MinValidatorsPassed int `json:"minValidatorsPassed"` // 0-100 percent
	MinConfidence       int `json:"minConfidence"`       // 0-100 percent
}

// Decision is the evaluated outcome for one analysis.
type Decision struct {
	Result     bool             `json:"result"`
	Confidence float64          `json:"confidence"`
	Validators []ValidatorCheck `json:"validators"`
}

// Milestone categories match the fixed database enumeration.
const (
	CategorySocial     = "SOCIAL"
	CategoryLanguage   = "LANGUAGE"
	CategoryFineMotor  = "FINE_MOTOR"
	CategoryGrossMotor = "GROSS_MOTOR"
)

// Milestone is a developmental checkpoint being assessed.
type Milestone struct {
	ID       int64
	Name     string
	Category string
	PolicyID *int64
}

// Validator is a named pass/fail check belonging to one milestone.
type Validator struct {
	ID          int64
	MilestoneID int64
	Description string
}

// Policy is a stored threshold pair; at most one row is the default.
type Policy struct {
	ID                  int64
	MinValidatorsPassed int
	MinConfidence       int
	IsDefault           bool
}

// Threshold returns the policy's thresholds as a PolicyThreshold value.
func (p Policy) Threshold() PolicyThreshold {
	return PolicyThreshold{
		MinValidatorsPassed: p.MinValidatorsPassed,
		MinConfidence:       p.MinConfidence,
	}
}

// SystemPrompt is one row of the append-only prompt history. The current
// prompt is the row with the highest id.
type SystemPrompt struct {
	ID      int64
	Content string
}

// Model identifies a provider model. At most one row is active at a time,
// enforced at the storage layer.
type Model struct {
	ID       int64
	Name     string
	IsActive bool
}

// APIKey is a caller credential for the HTTP API.
type APIKey struct {
	ID         int64
	Key        string
	UserID     string
	Name       string
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Invocation statuses recorded in the audit trail.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// ResponseStat is one append-only audit record of a pipeline run.
// Foreign references are weak (by id) and optional.
type ResponseStat struct {
	ID               int64     `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	RequestID        string    `json:"requestId"`
	Status           string    `json:"status"`
	HTTPStatus       int       `json:"httpStatus"`
	ErrorCode        *string   `json:"errorCode,omitempty"`
	APIKeyID         *int64    `json:"apiKeyId,omitempty"`
	MilestoneID      *int64    `json:"milestoneId,omitempty"`
	SystemPromptID   *int64    `json:"systemPromptId,omitempty"`
	PolicyID         *int64    `json:"policyId,omitempty"`
	ModelName        *string   `json:"modelName,omitempty"`
	TotalTokenCount  *int64    `json:"totalTokenCount,omitempty"`
	Result           *bool     `json:"result,omitempty"`
	ConfidencePct    *int      `json:"confidence,omitempty"` // integer percentage 0-100
	ValidatorsTotal  *int      `json:"validatorsTotal,omitempty"`
	ValidatorsPassed *int      `json:"validatorsPassed,omitempty"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
}

// AnalyzeTaskPayload is the queued form of an analysis request. Only URL
// sources are accepted over the queue; uploads stay on the synchronous path.
type AnalyzeTaskPayload struct {
	RequestID   string `json:"requestId"`
	MilestoneID string `json:"milestoneId"`
	VideoURL    string `json:"videoUrl"`
	APIKeyID    *int64 `json:"apiKeyId,omitempty"`
}

// NewRequestID generates a unique request identifier.
func NewRequestID() string {
	return uuid.New().String()
}
