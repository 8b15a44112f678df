// Package survey serves read-only survey reference data to the capture
// flow, caching it locally so question sets render offline.
package survey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/londonpesquisas/fieldsync/internal/storage"
)

// ErrMalformed is returned when survey reference data is absent or
// inconsistent. Capturing against an unknown question set is unsafe, so this
// is a blocking error for the capture flow.
var ErrMalformed = errors.New("survey questions malformed")

// Fetcher loads a survey from the remote sink.
type Fetcher interface {
	FetchSurvey(ctx context.Context, id string) (storage.Survey, error)
}

// Provider resolves surveys remote-first with a local cache write-through,
// and falls back to the cache when the sink is unreachable.
type Provider struct {
	store   *storage.Store
	fetcher Fetcher
	logger  *slog.Logger
}

// NewProvider creates a Provider. fetcher may be nil for a cache-only
// provider (used by tests and fully offline operation).
func NewProvider(store *storage.Store, fetcher Fetcher) *Provider {
	return &Provider{
		store:   store,
		fetcher: fetcher,
		logger:  slog.Default(),
	}
}

// Get returns the survey with the given id. A fresh remote copy refreshes
// the cache; when the fetch fails the cached snapshot is served instead.
// The returned survey always passes Validate.
func (p *Provider) Get(ctx context.Context, id string) (storage.Survey, error) {
	if p.fetcher != nil {
		sv, err := p.fetcher.FetchSurvey(ctx, id)
		if err == nil {
			if err := Validate(sv); err != nil {
				return storage.Survey{}, err
			}
			if err := p.store.SaveSurvey(sv); err != nil {
				p.logger.Warn("caching survey failed", "survey_id", id, "error", err)
			}
			return sv, nil
		}
		p.logger.Debug("remote survey fetch failed, trying cache", "survey_id", id, "error", err)
	}

	sv, err := p.store.GetSurvey(id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Survey{}, fmt.Errorf("survey %s unavailable offline: %w", id, ErrMalformed)
	}
	if err != nil {
		return storage.Survey{}, err
	}
	if err := Validate(sv); err != nil {
		return storage.Survey{}, err
	}
	return sv, nil
}

// Validate checks that a survey's question set is usable for capture.
func Validate(sv storage.Survey) error {
	if len(sv.Questions) == 0 {
		return fmt.Errorf("survey %s has no questions: %w", sv.ID, ErrMalformed)
	}

	seen := make(map[string]bool, len(sv.Questions))
	for i, q := range sv.Questions {
		if q.ID == "" {
			return fmt.Errorf("survey %s question %d has no id: %w", sv.ID, i, ErrMalformed)
		}
		if seen[q.ID] {
			return fmt.Errorf("survey %s question id %q duplicated: %w", sv.ID, q.ID, ErrMalformed)
		}
		seen[q.ID] = true

		if q.Question == "" {
			return fmt.Errorf("survey %s question %q has no text: %w", sv.ID, q.ID, ErrMalformed)
		}

		switch q.Type {
		case storage.QuestionSingleChoice, storage.QuestionMultipleChoice:
			if len(q.Options) == 0 {
				return fmt.Errorf("survey %s question %q is %s with no options: %w", sv.ID, q.ID, q.Type, ErrMalformed)
			}
		case storage.QuestionText, storage.QuestionNumber:
		default:
			return fmt.Errorf("survey %s question %q has unknown type %q: %w", sv.ID, q.ID, q.Type, ErrMalformed)
		}
	}
	return nil
}
