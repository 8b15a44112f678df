// Package capture drives one interview session: geofence validation,
// respondent intake, question-by-question answer collection with autosave,
// and completion handoff to the sync ledger.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/londonpesquisas/fieldsync/internal/geo"
	"github.com/londonpesquisas/fieldsync/internal/ledger"
	"github.com/londonpesquisas/fieldsync/internal/storage"
)

// Flow states.
type State string

const (
	StateLocating        State = "locating"
	StateValidated       State = "validated"
	StateInProgress      State = "in_progress"
	StateCompleted       State = "completed"
	StateLocationInvalid State = "location_invalid"
	StateLocationError   State = "location_error"
)

// ErrLocationUnavailable: the platform could not produce a position
// (permission denied, no fix, timeout). Recoverable by retrying Locate.
var ErrLocationUnavailable = errors.New("location unavailable")

// ErrLocationOutOfArea: a position was obtained but lies outside the
// survey's permitted radius. Recoverable by relocating and retrying.
var ErrLocationOutOfArea = errors.New("location outside survey area")

// ErrInvalidTransition is returned for an operation not permitted in the
// flow's current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Position is a device position in signed decimal degrees with accuracy in
// meters.
type Position struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationOptions bound a position request.
type LocationOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// LocationProvider produces one-shot device positions. Implementations must
// honor ctx cancellation and the options' timeout.
type LocationProvider interface {
	Current(ctx context.Context, opts LocationOptions) (Position, error)
}

// SurveyProvider resolves survey reference data (satisfied by
// survey.Provider).
type SurveyProvider interface {
	Get(ctx context.Context, id string) (storage.Survey, error)
}

// Respondent is the optional demographics collected before the questions.
type Respondent struct {
	Name   string
	Age    int
	Gender string
}

// Deps are the collaborators a Flow is constructed with. Everything is
// injected; a Flow holds no global state.
type Deps struct {
	Store         *storage.Store
	Ledger        *ledger.Ledger
	Surveys       SurveyProvider
	Location      LocationProvider
	InterviewerID string
	Options       LocationOptions
	Logger        *slog.Logger
}

// Flow is a single interview capture session. Methods are safe for
// concurrent use, though a session is normally driven by one user.
//
//	locating -> validated -> in_progress -> completed
//	     |  \-> location_invalid / location_error -> (retry) locating
type Flow struct {
	deps Deps

	mu        sync.Mutex
	state     State
	survey    storage.Survey
	hasSurvey bool
	position  *Position
	interview *storage.Interview
}

// New creates a Flow in the locating state.
func New(deps Deps) *Flow {
	if deps.Options.Timeout <= 0 {
		deps.Options.Timeout = 10 * time.Second
	}
	if deps.Options.MaxAge <= 0 {
		deps.Options.MaxAge = 60 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Flow{deps: deps, state: StateLocating}
}

// State returns the flow's current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Survey returns the survey loaded by Locate; the bool is false before the
// first successful load.
func (f *Flow) Survey() (storage.Survey, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.survey, f.hasSurvey
}

// Interview returns a copy of the session's interview record; the bool is
// false before Start.
func (f *Flow) Interview() (storage.Interview, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.interview == nil {
		return storage.Interview{}, false
	}
	return copyInterview(*f.interview), true
}

// Locate acquires the device position and validates it against the survey's
// target area. On success the flow is validated; a position outside the
// area leaves it in location_invalid, and a platform failure in
// location_error — both retryable by calling Locate again. Cancelling ctx
// aborts the position request.
func (f *Flow) Locate(ctx context.Context, surveyID string) error {
	f.mu.Lock()
	switch f.state {
	case StateInProgress, StateCompleted:
		f.mu.Unlock()
		return fmt.Errorf("locate in state %s: %w", f.state, ErrInvalidTransition)
	}
	f.state = StateLocating
	f.mu.Unlock()

	sv, err := f.deps.Surveys.Get(ctx, surveyID)
	if err != nil {
		// Unknown question set is blocking, not a retry loop condition.
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, f.deps.Options.Timeout)
	defer cancel()
	pos, err := f.deps.Location.Current(ctx, f.deps.Options)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.survey = sv
	f.hasSurvey = true

	if err != nil {
		f.state = StateLocationError
		return fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	point := geo.Point{Lat: pos.Lat, Lng: pos.Lng}
	center := geo.Point{Lat: sv.CenterLat, Lng: sv.CenterLng}
	if !geo.WithinArea(point, center, sv.RadiusMeters) {
		f.state = StateLocationInvalid
		return fmt.Errorf("%w: %.0fm from center, radius %.0fm",
			ErrLocationOutOfArea, geo.Distance(point, center), sv.RadiusMeters)
	}

	f.position = &pos
	f.state = StateValidated
	f.deps.Logger.Info("location validated", "survey_id", sv.ID, "accuracy_m", pos.Accuracy)
	return nil
}

// Start records respondent demographics and creates the interview draft in
// the store. Only valid from the validated state.
func (f *Flow) Start(respondent Respondent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateValidated {
		return fmt.Errorf("start in state %s: %w", f.state, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	iv := storage.Interview{
		ID:               uuid.New().String(),
		SurveyID:         f.survey.ID,
		InterviewerID:    f.deps.InterviewerID,
		RespondentName:   respondent.Name,
		RespondentAge:    respondent.Age,
		RespondentGender: respondent.Gender,
		Latitude:         f.position.Lat,
		Longitude:        f.position.Lng,
		Accuracy:         f.position.Accuracy,
		Answers:          map[string]any{},
		Status:           storage.StatusDraft,
		IsOffline:        true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := f.deps.Store.SaveInterview(iv); err != nil {
		return err
	}

	f.interview = &iv
	f.state = StateInProgress
	f.deps.Logger.Info("interview started", "interview_id", iv.ID, "survey_id", iv.SurveyID)
	return nil
}

// Answer records the answer for a question and autosaves the draft. Answers
// are overwritable; back-navigation simply answers the same question again.
// If the autosave write fails, the answer is kept in memory and the error
// surfaced, so the next Answer or Complete retries the write.
func (f *Flow) Answer(questionID string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateInProgress {
		return fmt.Errorf("answer in state %s: %w", f.state, ErrInvalidTransition)
	}

	q, ok := f.questionLocked(questionID)
	if !ok {
		return fmt.Errorf("question %q is not part of survey %s", questionID, f.survey.ID)
	}
	if err := checkAnswer(q, value); err != nil {
		return err
	}

	f.interview.Answers[questionID] = value
	f.interview.UpdatedAt = time.Now().UTC()
	return f.deps.Store.SaveInterview(*f.interview)
}

// UnansweredRequired lists required questions with no recorded answer.
// Completion is not blocked on it; the capture surface decides whether to
// enforce.
func (f *Flow) UnansweredRequired() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.interview == nil {
		return nil
	}
	var missing []string
	for _, q := range f.survey.Questions {
		if !q.Required {
			continue
		}
		if _, ok := f.interview.Answers[q.ID]; !ok {
			missing = append(missing, q.ID)
		}
	}
	return missing
}

// Complete finishes the interview: stamps the completion time, persists the
// record and hands its id to the pending-sync ledger. The flow's terminal
// state; subsequent lifecycle belongs to the sync engine.
func (f *Flow) Complete() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateInProgress {
		return fmt.Errorf("complete in state %s: %w", f.state, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	f.interview.Status = storage.StatusCompleted
	f.interview.CompletedAt = &now
	f.interview.UpdatedAt = now
	if err := f.deps.Store.SaveInterview(*f.interview); err != nil {
		// Record stays in progress; the next Complete retries the write.
		f.interview.Status = storage.StatusDraft
		f.interview.CompletedAt = nil
		return err
	}

	f.state = StateCompleted
	f.deps.Logger.Info("interview completed", "interview_id", f.interview.ID, "answers", len(f.interview.Answers))

	if err := f.deps.Ledger.MarkPending(f.interview.ID); err != nil {
		// The record is stored with synced=false, so a ledger rebuild will
		// re-index it; still surfaced because it delays sync.
		return fmt.Errorf("indexing interview for sync: %w", err)
	}
	return nil
}

func (f *Flow) questionLocked(id string) (storage.SurveyQuestion, bool) {
	for _, q := range f.survey.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return storage.SurveyQuestion{}, false
}

// checkAnswer verifies the value's shape against the question type. Option
// membership is enforced for choice questions; free text and numbers are
// only type-checked.
func checkAnswer(q storage.SurveyQuestion, value any) error {
	switch q.Type {
	case storage.QuestionSingleChoice:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("question %q expects one option label, got %T", q.ID, value)
		}
		if !hasOption(q.Options, s) {
			return fmt.Errorf("question %q has no option %q", q.ID, s)
		}
	case storage.QuestionMultipleChoice:
		labels, err := optionLabels(value)
		if err != nil {
			return fmt.Errorf("question %q: %w", q.ID, err)
		}
		for _, s := range labels {
			if !hasOption(q.Options, s) {
				return fmt.Errorf("question %q has no option %q", q.ID, s)
			}
		}
	case storage.QuestionText:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("question %q expects text, got %T", q.ID, value)
		}
	case storage.QuestionNumber:
		switch value.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("question %q expects a number, got %T", q.ID, value)
		}
	}
	return nil
}

// optionLabels normalizes a multiple-choice value: []string directly, or
// []any of strings as produced by a JSON round-trip.
func optionLabels(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		labels := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expects option labels, got %T element", item)
			}
			labels = append(labels, s)
		}
		return labels, nil
	default:
		return nil, fmt.Errorf("expects a set of option labels, got %T", value)
	}
}

func hasOption(options []string, label string) bool {
	for _, o := range options {
		if o == label {
			return true
		}
	}
	return false
}

func copyInterview(iv storage.Interview) storage.Interview {
	answers := make(map[string]any, len(iv.Answers))
	for k, v := range iv.Answers {
		answers[k] = v
	}
	iv.Answers = answers
	return iv
}
