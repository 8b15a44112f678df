// Package api exposes the daemon's local REST surface: health and sync
// status, manual sync triggering, connectivity hints, survey lookup, and the
// interview session lifecycle.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/londonpesquisas/fieldsync/internal/capture"
	"github.com/londonpesquisas/fieldsync/internal/ledger"
	"github.com/londonpesquisas/fieldsync/internal/storage"
	"github.com/londonpesquisas/fieldsync/internal/survey"
	"github.com/londonpesquisas/fieldsync/internal/syncer"
)

const maxRequestBodySize = 1 << 20 // 1MB

var validate = validator.New()

// SyncTrigger starts a sync pass (satisfied by syncer.Engine).
type SyncTrigger interface {
	SyncPending(ctx context.Context) (syncer.Result, error)
}

// Connectivity reports and accepts reachability state (satisfied by
// syncer.Monitor).
type Connectivity interface {
	Online() bool
	Notify(online bool)
}

// PositionFeed accepts device position fixes (satisfied by location.Cache).
type PositionFeed interface {
	Set(pos capture.Position)
}

type Deps struct {
	Store         *storage.Store
	Ledger        *ledger.Ledger
	Surveys       capture.SurveyProvider
	Location      capture.LocationProvider
	Syncer        SyncTrigger
	Monitor       Connectivity
	Feed          PositionFeed
	InterviewerID string
	Options       capture.LocationOptions
	Token         string
}

func NewHandler(deps Deps) http.Handler {
	reg := newSessionRegistry()

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))
		r.Get("/pending", handleListPending(deps))
		r.Post("/sync", handleSync(deps))
		r.Delete("/data", handleClearData(deps))
		r.Post("/connectivity", handleConnectivity(deps))
		r.Get("/surveys/{id}", handleGetSurvey(deps))
		if deps.Feed != nil {
			r.Put("/location", handlePutLocation(deps))
		}

		r.Post("/sessions", handleCreateSession(deps, reg))
		r.Get("/sessions/{id}", handleGetSession(reg))
		r.Post("/sessions/{id}/locate", handleLocateSession(reg))
		r.Post("/sessions/{id}/start", handleStartSession(reg))
		r.Put("/sessions/{id}/answers/{questionID}", handleAnswer(reg))
		r.Post("/sessions/{id}/complete", handleCompleteSession(reg))
		r.Delete("/sessions/{id}", handleDeleteSession(reg))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type statusResponse struct {
	Online                  bool    `json:"online"`
	PendingCount            int     `json:"pending_count"`
	LastSyncAttempt         *string `json:"last_sync_attempt"`
	OldestPendingAgeSeconds *int64  `json:"oldest_pending_age_seconds"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Online:       deps.Monitor.Online(),
			PendingCount: deps.Ledger.PendingCount(),
		}
		if at := deps.Ledger.LastAttempt(); at != nil {
			s := at.UTC().Format(time.RFC3339)
			resp.LastSyncAttempt = &s
		}
		if age, ok := deps.Ledger.OldestPendingAge(time.Now().UTC()); ok {
			secs := int64(age / time.Second)
			resp.OldestPendingAgeSeconds = &secs
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleListPending(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := deps.Ledger.PendingIDs()
		pending := make([]storage.Interview, 0, len(ids))
		for _, id := range ids {
			iv, err := deps.Store.GetInterview(id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load interview %s: %v", id, err)
				return
			}
			pending = append(pending, iv)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pending)
	}
}

func handleSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Syncer.SyncPending(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "sync failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

// handleClearData wipes the local store, unsynced interviews included. The
// CLI gates this behind an explicit confirmation flag.
func handleClearData(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.ClearAll(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear storage: %v", err)
			return
		}
		if err := deps.Ledger.Rebuild(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset sync ledger: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
	}
}

type connectivityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

func handleConnectivity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req connectivityRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		deps.Monitor.Notify(*req.Online)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "accepted",
			"online": *req.Online,
		})
	}
}

type positionRequest struct {
	Lat      *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng      *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	Accuracy float64  `json:"accuracy" validate:"gte=0"`
}

func handlePutLocation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req positionRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		deps.Feed.Set(capture.Position{
			Lat:       *req.Lat,
			Lng:       *req.Lng,
			Accuracy:  req.Accuracy,
			Timestamp: time.Now().UTC(),
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}
}

func handleGetSurvey(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sv, err := deps.Surveys.Get(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "survey not found")
			return
		}
		if errors.Is(err, survey.ErrMalformed) {
			httpError(w, http.StatusUnprocessableEntity, "invalid_survey", "survey unusable: %v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get survey: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sv)
	}
}

type createSessionRequest struct {
	SurveyID string `json:"survey_id" validate:"required"`
}

func handleCreateSession(deps Deps, reg *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		flow := capture.New(capture.Deps{
			Store:         deps.Store,
			Ledger:        deps.Ledger,
			Surveys:       deps.Surveys,
			Location:      deps.Location,
			InterviewerID: deps.InterviewerID,
			Options:       deps.Options,
		})
		s := reg.add(req.SurveyID, flow)

		// A failed geofence check is not an HTTP error: the session stays
		// open so the agent can move and retry via /locate.
		err := flow.Locate(r.Context(), req.SurveyID)
		if err != nil && !isLocationError(err) {
			reg.remove(s.id)
			writeSurveyError(w, err)
			return
		}

		writeSession(w, s, err)
	}
}

func handleGetSession(reg *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := reg.get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeSession(w, s, nil)
	}
}

func handleLocateSession(reg *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := reg.get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		err := s.flow.Locate(r.Context(), s.surveyID)
		switch {
		case err == nil, isLocationError(err):
			writeSession(w, s, err)
		case errors.Is(err, capture.ErrInvalidTransition):
			httpError(w, http.StatusConflict, "conflict", "cannot relocate in state %q", s.flow.State())
		default:
			writeSurveyError(w, err)
		}
	}
}

type startSessionRequest struct {
	Name   string `json:"name"`
	Age    int    `json:"age" validate:"gte=0,lte=130"`
	Gender string `json:"gender"`
}

func handleStartSession(reg *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := reg.get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		var req startSessionRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		err := s.flow.Start(capture.Respondent{
			Name:   req.Name,
			Age:    req.Age,
			Gender: req.Gender,
		})
		if errors.Is(err, capture.ErrInvalidTransition) {
			httpError(w, http.StatusConflict, "conflict", "cannot start interview in state %q", s.flow.State())
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to start interview: %v", err)
			return
		}

		writeSession(w, s, nil)
	}
}

type answerRequest struct {
	Value any `json:"value"`
}

func handleAnswer(reg *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := reg.get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		questionID := chi.URLParam(r, "questionID")

		var req answerRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		if req.Value == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "value is required")
			return
		}

		err := s.flow.Answer(questionID, req.Value)
		if errors.Is(err, capture.ErrInvalidTransition) {
			httpError(w, http.StatusConflict, "conflict", "cannot answer in state %q", s.flow.State())
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		writeSession(w, s, nil)
	}
}

func handleCompleteSession(reg *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := reg.get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		err := s.flow.Complete()
		if errors.Is(err, capture.ErrInvalidTransition) {
			httpError(w, http.StatusConflict, "conflict", "cannot complete in state %q", s.flow.State())
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to complete interview: %v", err)
			return
		}

		writeSession(w, s, nil)
	}
}

func handleDeleteSession(reg *sessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !reg.remove(chi.URLParam(r, "id")) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "discarded"})
	}
}

type sessionResponse struct {
	SessionID          string             `json:"session_id"`
	SurveyID           string             `json:"survey_id"`
	State              capture.State      `json:"state"`
	Interview          *storage.Interview `json:"interview,omitempty"`
	UnansweredRequired []string           `json:"unanswered_required,omitempty"`
	Error              string             `json:"error,omitempty"`
}

func writeSession(w http.ResponseWriter, s *session, flowErr error) {
	resp := sessionResponse{
		SessionID: s.id,
		SurveyID:  s.surveyID,
		State:     s.flow.State(),
	}
	if iv, ok := s.flow.Interview(); ok {
		resp.Interview = &iv
		resp.UnansweredRequired = s.flow.UnansweredRequired()
	}
	if flowErr != nil {
		resp.Error = flowErr.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeSurveyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "survey not found")
	case errors.Is(err, survey.ErrMalformed):
		httpError(w, http.StatusUnprocessableEntity, "invalid_survey", "survey unusable: %v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve survey: %v", err)
	}
}

func isLocationError(err error) bool {
	return errors.Is(err, capture.ErrLocationUnavailable) || errors.Is(err, capture.ErrLocationOutOfArea)
}

// decodeRequest parses and validates a JSON request body, writing the error
// response itself when the body is unusable.
func decodeRequest(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := validate.Struct(dest); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request: %v", err)
		return false
	}
	return true
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
