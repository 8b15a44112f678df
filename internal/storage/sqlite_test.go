package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testInterview(id string) Interview {
	now := time.Date(2026, 8, 14, 10, 30, 0, 0, time.UTC)
	return Interview{
		ID:            id,
		SurveyID:      "survey-1",
		InterviewerID: "interviewer-1",
		Latitude:      -23.5505,
		Longitude:     -46.6333,
		Accuracy:      12.5,
		Answers:       map[string]any{},
		Status:        StatusDraft,
		IsOffline:     true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// migrations are not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	iv := testInterview("abc")
	iv.Answers["q1"] = "Satisfeito"
	iv.Answers["q2"] = float64(8)

	if err := s.SaveInterview(iv); err != nil {
		t.Fatalf("SaveInterview: %v", err)
	}

	got, err := s.GetInterview("abc")
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if got.ID != "abc" || got.SurveyID != "survey-1" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Answers["q1"] != "Satisfeito" {
		t.Errorf("answer q1 = %v, want Satisfeito", got.Answers["q1"])
	}
	if got.Answers["q2"] != float64(8) {
		t.Errorf("answer q2 = %v, want 8", got.Answers["q2"])
	}
	if !got.CreatedAt.Equal(iv.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, iv.CreatedAt)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetInterview("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInterview(missing) = %v, want ErrNotFound", err)
	}

	var v map[string]any
	if err := s.Get("no_such_key", &v); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestPutOverwritesKeepingKey(t *testing.T) {
	s := openTestStore(t)

	iv := testInterview("abc")
	if err := s.SaveInterview(iv); err != nil {
		t.Fatalf("SaveInterview: %v", err)
	}

	iv.Answers = map[string]any{"q1": "A"}
	iv.Status = StatusCompleted
	if err := s.SaveInterview(iv); err != nil {
		t.Fatalf("SaveInterview (overwrite): %v", err)
	}

	keys, err := s.ListKeys("interviews_")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 interview key after overwrite, got %v", keys)
	}

	got, err := s.GetInterview("abc")
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if got.Status != StatusCompleted || got.Answers["q1"] != "A" {
		t.Errorf("overwrite not applied: %+v", got)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveInterview(testInterview("abc")); err != nil {
		t.Fatalf("SaveInterview: %v", err)
	}
	if err := s.DeleteInterview("abc"); err != nil {
		t.Fatalf("DeleteInterview: %v", err)
	}
	if err := s.DeleteInterview("abc"); err != nil {
		t.Errorf("second DeleteInterview should be a no-op, got %v", err)
	}
	if _, err := s.GetInterview("abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInterview after delete = %v, want ErrNotFound", err)
	}
}

func TestListKeysPrefixFilter(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveInterview(testInterview("a1")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveInterview(testInterview("a2")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSurvey(Survey{ID: "s1", Title: "Centro"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePendingSync(PendingSync{Interviews: []string{"a1"}}); err != nil {
		t.Fatal(err)
	}

	keys, err := s.ListKeys("interviews_")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "interviews_a1" || keys[1] != "interviews_a2" {
		t.Errorf("interview keys = %v", keys)
	}

	all, err := s.ListKeys("")
	if err != nil {
		t.Fatalf("ListKeys(\"\"): %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 keys total, got %v", all)
	}
}

func TestClearAll(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveInterview(testInterview("a1")); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePendingSync(PendingSync{Interviews: []string{"a1"}}); err != nil {
		t.Fatal(err)
	}

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	keys, err := s.ListKeys("")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected empty store, got %v", keys)
	}
}

// TestAutosaveSurvivesRestart simulates an app kill after an autosave: a
// record written before Close must be readable from a fresh Open of the
// same data directory, with the last saved answer intact.
func TestAutosaveSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	iv := testInterview("crash-test")
	iv.Answers["q1"] = "A"
	if err := s1.SaveInterview(iv); err != nil {
		t.Fatalf("SaveInterview: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetInterview("crash-test")
	if err != nil {
		t.Fatalf("GetInterview after restart: %v", err)
	}
	if got.Answers["q1"] != "A" {
		t.Errorf("answer q1 after restart = %v, want A", got.Answers["q1"])
	}
}

func TestPendingSyncDefaultsEmpty(t *testing.T) {
	s := openTestStore(t)

	ps, err := s.LoadPendingSync()
	if err != nil {
		t.Fatalf("LoadPendingSync: %v", err)
	}
	if len(ps.Interviews) != 0 || ps.LastSyncAttempt != nil {
		t.Errorf("expected empty index, got %+v", ps)
	}
}

func TestPendingSyncRoundTrip(t *testing.T) {
	s := openTestStore(t)

	at := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)
	in := PendingSync{Interviews: []string{"a", "b"}, LastSyncAttempt: &at}
	if err := s.SavePendingSync(in); err != nil {
		t.Fatalf("SavePendingSync: %v", err)
	}

	out, err := s.LoadPendingSync()
	if err != nil {
		t.Fatalf("LoadPendingSync: %v", err)
	}
	if len(out.Interviews) != 2 || out.Interviews[0] != "a" || out.Interviews[1] != "b" {
		t.Errorf("interviews = %v", out.Interviews)
	}
	if out.LastSyncAttempt == nil || !out.LastSyncAttempt.Equal(at) {
		t.Errorf("last attempt = %v, want %v", out.LastSyncAttempt, at)
	}
}

func TestListInterviews(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"x1", "x2", "x3"} {
		if err := s.SaveInterview(testInterview(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveSurvey(Survey{ID: "s1"}); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListInterviews()
	if err != nil {
		t.Fatalf("ListInterviews: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 interviews, got %d", len(list))
	}
}
