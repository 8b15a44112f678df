// Package ledger tracks which locally captured interviews have not yet been
// acknowledged by the remote sink.
//
// The ledger is an index, not a source of truth: its pending set is always
// rebuildable from the store's interview records (synced flag authoritative).
// Every mutation writes through to the store's single pending_sync record so
// the index survives restarts.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/londonpesquisas/fieldsync/internal/storage"
)

// Ledger is safe for concurrent use; all pending-set mutation is serialized
// behind one mutex.
type Ledger struct {
	mu          sync.Mutex
	store       *storage.Store
	pending     map[string]struct{}
	lastAttempt *time.Time
}

// Open loads the persisted pending-sync index from the store.
func Open(store *storage.Store) (*Ledger, error) {
	ps, err := store.LoadPendingSync()
	if err != nil {
		return nil, fmt.Errorf("loading pending sync index: %w", err)
	}

	pending := make(map[string]struct{}, len(ps.Interviews))
	for _, id := range ps.Interviews {
		pending[id] = struct{}{}
	}

	return &Ledger{
		store:       store,
		pending:     pending,
		lastAttempt: ps.LastSyncAttempt,
	}, nil
}

// MarkPending adds id to the pending set. Idempotent.
func (l *Ledger) MarkPending(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pending[id]; ok {
		return nil
	}
	l.pending[id] = struct{}{}
	return l.persistLocked()
}

// MarkSynced removes id from the pending set. Idempotent.
func (l *Ledger) MarkSynced(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pending[id]; !ok {
		return nil
	}
	delete(l.pending, id)
	return l.persistLocked()
}

// PendingIDs returns the pending interview ids in ascending order.
func (l *Ledger) PendingIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idsLocked()
}

// PendingCount returns the number of interviews awaiting sync.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// RecordAttempt stamps the time of the latest sync pass. Called after every
// batch, successful or not.
func (l *Ledger) RecordAttempt(at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	at = at.UTC()
	l.lastAttempt = &at
	return l.persistLocked()
}

// LastAttempt returns the time of the latest sync pass, or nil if none has
// run yet.
func (l *Ledger) LastAttempt() *time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastAttempt == nil {
		return nil
	}
	t := *l.lastAttempt
	return &t
}

// OldestPendingAge returns how long the oldest pending interview has been
// waiting, measured from its creation time. The second return is false when
// nothing is pending.
func (l *Ledger) OldestPendingAge(now time.Time) (time.Duration, bool) {
	ids := l.PendingIDs()

	var oldest time.Time
	found := false
	for _, id := range ids {
		iv, err := l.store.GetInterview(id)
		if err != nil {
			continue
		}
		if !found || iv.CreatedAt.Before(oldest) {
			oldest = iv.CreatedAt
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return now.Sub(oldest), true
}

// Rebuild reconstructs the pending set by scanning the store for interviews
// with synced=false. Used after a crash may have left the index and the
// records disagreeing; the records win.
func (l *Ledger) Rebuild() error {
	interviews, err := l.store.ListInterviews()
	if err != nil {
		return fmt.Errorf("scanning interviews: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = make(map[string]struct{})
	for _, iv := range interviews {
		if !iv.Synced {
			l.pending[iv.ID] = struct{}{}
		}
	}
	return l.persistLocked()
}

func (l *Ledger) idsLocked() []string {
	ids := make([]string, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Ledger) persistLocked() error {
	ps := storage.PendingSync{
		Interviews:      l.idsLocked(),
		LastSyncAttempt: l.lastAttempt,
	}
	if err := l.store.SavePendingSync(ps); err != nil {
		return fmt.Errorf("persisting pending sync index: %w", err)
	}
	return nil
}
