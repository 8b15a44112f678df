package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnavailable is returned when the underlying store failed a read or
// write. Callers must surface it rather than swallow it: a lost write here
// can mean a lost interview.
var ErrUnavailable = errors.New("storage unavailable")

// Interview lifecycle statuses. A record is created as draft, becomes
// completed when the respondent flow finishes, and submitted once the
// remote sink has acknowledged it.
const (
	StatusDraft     = "draft"
	StatusCompleted = "completed"
	StatusSubmitted = "submitted"
)

// Survey question types.
const (
	QuestionSingleChoice   = "single_choice"
	QuestionMultipleChoice = "multiple_choice"
	QuestionText           = "text"
	QuestionNumber         = "number"
)

// Interview is one respondent's answers to one survey, captured on-device.
// Answer values are a string (text and single-choice), a float64 (number),
// or a []string / []any of option labels (multiple-choice); the permissive
// typing matches what survives a JSON round-trip through the store.
type Interview struct {
	ID               string         `json:"id"`
	SurveyID         string         `json:"survey_id"`
	InterviewerID    string         `json:"interviewer_id"`
	RespondentName   string         `json:"respondent_name,omitempty"`
	RespondentAge    int            `json:"respondent_age,omitempty"`
	RespondentGender string         `json:"respondent_gender,omitempty"`
	Latitude         float64        `json:"latitude"`
	Longitude        float64        `json:"longitude"`
	Accuracy         float64        `json:"accuracy"`
	Answers          map[string]any `json:"answers"`
	Status           string         `json:"status"`
	IsOffline        bool           `json:"is_offline"`
	Synced           bool           `json:"offline_synced"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// SurveyQuestion is one question within a survey's question set. Questions
// are immutable once capture against the survey has begun.
type SurveyQuestion struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Type     string   `json:"type"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required"`
}

// Survey is read-only reference data authored on the admin surface and
// cached locally so questions render offline. The target area is a circle:
// center plus radius in meters.
type Survey struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	City         string           `json:"city,omitempty"`
	CenterLat    float64          `json:"center_lat"`
	CenterLng    float64          `json:"center_lng"`
	RadiusMeters float64          `json:"radius_meters"`
	Status       string           `json:"status"`
	Questions    []SurveyQuestion `json:"questions"`
	Goal         int              `json:"goal,omitempty"`
	Completed    int              `json:"completed,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// PendingSync is the persisted pending-sync index: interview ids not yet
// acknowledged by the remote sink, plus the time of the last sync attempt.
// It is derived state; the interviews' synced flags are authoritative.
type PendingSync struct {
	Interviews      []string   `json:"interviews"`
	LastSyncAttempt *time.Time `json:"last_sync_attempt"`
}

// Key namespaces within the store.
const (
	interviewKeyPrefix = "interviews_"
	surveyKeyPrefix    = "surveys_"
	pendingSyncKey     = "pending_sync"
)

// InterviewKey returns the store key for an interview id.
func InterviewKey(id string) string { return interviewKeyPrefix + id }

// SurveyKey returns the store key for a survey id.
func SurveyKey(id string) string { return surveyKeyPrefix + id }
