// Package syncer drains the pending-sync ledger against the remote sink and
// schedules sync passes on connectivity changes.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/londonpesquisas/fieldsync/internal/ledger"
	"github.com/londonpesquisas/fieldsync/internal/storage"
)

// Sink is the remote data sink. UpsertInterview must be idempotent: a record
// re-delivered after a lost acknowledgment must not produce a duplicate.
type Sink interface {
	UpsertInterview(ctx context.Context, iv storage.Interview) error
}

// Result summarizes one sync pass.
type Result struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Engine uploads pending interviews one at a time. A failing record never
// aborts the batch; it stays pending for the next pass (retry forever, the
// surfaced pending count and last-attempt time are the observability
// signal).
type Engine struct {
	store         *storage.Store
	ledger        *ledger.Ledger
	sink          Sink
	retainSynced  bool
	uploadTimeout time.Duration
	logger        *slog.Logger

	group singleflight.Group
}

// NewEngine creates an Engine. If retainSynced is false, acknowledged
// records are deleted locally (the default retention policy); otherwise they
// are kept with synced=true and status=submitted. uploadTimeout bounds each
// remote call; <= 0 defaults to 30s.
func NewEngine(store *storage.Store, ldg *ledger.Ledger, sink Sink, retainSynced bool, uploadTimeout time.Duration) *Engine {
	if uploadTimeout <= 0 {
		uploadTimeout = 30 * time.Second
	}
	return &Engine{
		store:         store,
		ledger:        ldg,
		sink:          sink,
		retainSynced:  retainSynced,
		uploadTimeout: uploadTimeout,
		logger:        slog.Default(),
	}
}

// SyncPending drains the ledger's pending set. At most one pass runs at a
// time: concurrent callers join the in-flight pass and share its result.
func (e *Engine) SyncPending(ctx context.Context) (Result, error) {
	v, err, _ := e.group.Do("sync_pending", func() (any, error) {
		return e.runBatch(ctx), nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (e *Engine) runBatch(ctx context.Context) Result {
	var res Result

	ids := e.ledger.PendingIDs()
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		iv, err := e.store.GetInterview(id)
		if errors.Is(err, storage.ErrNotFound) {
			// Already deleted locally; drop the stale index entry.
			if err := e.ledger.MarkSynced(id); err != nil {
				e.logger.Error("dropping stale pending entry failed", "interview_id", id, "error", err)
			}
			continue
		}
		if err != nil {
			e.logger.Warn("loading pending interview failed", "interview_id", id, "error", err)
			res.Failed++
			continue
		}

		if err := e.upload(ctx, iv); err != nil {
			e.logger.Warn("interview sync failed", "interview_id", id, "error", err)
			res.Failed++
			continue
		}

		if err := e.acknowledge(iv); err != nil {
			e.logger.Error("recording sync acknowledgment failed", "interview_id", id, "error", err)
			res.Failed++
			continue
		}
		res.Succeeded++
	}

	if err := e.ledger.RecordAttempt(time.Now().UTC()); err != nil {
		e.logger.Error("recording sync attempt failed", "error", err)
	}

	e.logger.Info("sync pass finished", "succeeded", res.Succeeded, "failed", res.Failed, "pending", e.ledger.PendingCount())
	return res
}

func (e *Engine) upload(ctx context.Context, iv storage.Interview) error {
	ctx, cancel := context.WithTimeout(ctx, e.uploadTimeout)
	defer cancel()

	iv.Status = storage.StatusSubmitted
	iv.Synced = true
	return e.sink.UpsertInterview(ctx, iv)
}

// acknowledge applies the retention policy after a successful upsert. The
// ledger entry is removed before the local record is touched so an id never
// remains pending for a record that no longer exists; a crash in between
// leaves an unsynced record the next Rebuild re-indexes, and re-delivery is
// safe because the sink upsert is keyed by id.
func (e *Engine) acknowledge(iv storage.Interview) error {
	if err := e.ledger.MarkSynced(iv.ID); err != nil {
		return err
	}
	if !e.retainSynced {
		return e.store.DeleteInterview(iv.ID)
	}

	iv.Status = storage.StatusSubmitted
	iv.Synced = true
	iv.UpdatedAt = time.Now().UTC()
	return e.store.SaveInterview(iv)
}
