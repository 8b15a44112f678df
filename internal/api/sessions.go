package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/londonpesquisas/fieldsync/internal/capture"
)

// session pairs a capture flow with the survey it was opened against so that
// a geofence retry can re-run Locate without the client resending the id.
type session struct {
	id       string
	surveyID string
	flow     *capture.Flow
}

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session)}
}

func (r *sessionRegistry) add(surveyID string, flow *capture.Flow) *session {
	s := &session{
		id:       uuid.New().String(),
		surveyID: surveyID,
		flow:     flow,
	}
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	return s
}

func (r *sessionRegistry) get(id string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *sessionRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}
