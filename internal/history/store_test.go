package history

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_OpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.db.Exec("SELECT id, job_uuid, operation, started_at, finished_at, status, snapshot_name, full_transfer, detail FROM runs"); err != nil {
		t.Fatalf("expected runs table to exist: %v", err)
	}
}

func TestStore_StartThenFinishRoundTrip(t *testing.T) {
	s := openTestStore(t)
	jobUUID := "11111111-1111-1111-1111-111111111111"
	startedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	id, err := s.Start(jobUUID, "run", startedAt)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero run id")
	}

	finishedAt := startedAt.Add(5 * time.Minute)
	if err := s.Finish(id, finishedAt, "success", "sx-20240601-120000-utc", true, ""); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	last, err := s.Last(jobUUID)
	if err != nil {
		t.Fatalf("last failed: %v", err)
	}
	if last == nil {
		t.Fatal("expected a run")
	}
	if last.Status != "success" || last.SnapshotName != "sx-20240601-120000-utc" || !last.FullTransfer {
		t.Fatalf("unexpected run: %+v", last)
	}
	if !last.FinishedAt.Valid {
		t.Fatal("expected FinishedAt to be set")
	}
}

func TestStore_RecentOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	jobUUID := "22222222-2222-2222-2222-222222222222"
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		startedAt := base.Add(time.Duration(i) * time.Hour)
		id, err := s.Start(jobUUID, "run", startedAt)
		if err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
		if err := s.Finish(id, startedAt.Add(time.Minute), "success", "", false, ""); err != nil {
			t.Fatalf("finish %d failed: %v", i, err)
		}
	}

	runs, err := s.Recent(jobUUID, 3)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if !runs[0].StartedAt.After(runs[1].StartedAt) || !runs[1].StartedAt.After(runs[2].StartedAt) {
		t.Fatalf("expected newest-first ordering, got %+v", runs)
	}
}

func TestStore_LastReturnsNilWhenNoRuns(t *testing.T) {
	s := openTestStore(t)
	last, err := s.Last("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil, got %+v", last)
	}
}

func TestStore_RunsFromDifferentJobsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	jobA := "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	jobB := "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.Start(jobA, "run", now); err != nil {
		t.Fatalf("start jobA failed: %v", err)
	}

	runs, err := s.Recent(jobB, 10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs for jobB, got %d", len(runs))
	}
}
