package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/qrecall/internal/pipeline"
	"github.com/roach88/qrecall/internal/testutil"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestAppend_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	st := sampleState()
	st.SetAnswer("renew by May")
	st.Log("answer", map[string]any{"chars": 12})
	if err := s.Append(ctx, NewRecord(st, IncludeAll, testutil.Epoch)); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	rec, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if rec.Answer == nil || *rec.Answer != "renew by May" {
		t.Errorf("answer = %v, want %q", rec.Answer, "renew by May")
	}
	if len(rec.Candidates) != 1 {
		t.Errorf("candidates = %d, want 1", len(rec.Candidates))
	}

	events, err := s.ReadTrace(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadTrace() failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Op != "grep" || events[1].Op != "answer" {
		t.Errorf("ops = %s,%s, want grep,answer", events[0].Op, events[1].Op)
	}
	// JSON numbers come back as float64.
	if events[1].Payload["chars"] != float64(12) {
		t.Errorf("chars = %v, want 12", events[1].Payload["chars"])
	}
}

func TestAppend_DuplicateRunKeepsFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := NewRecord(sampleState(), IncludeAll, testutil.Epoch)
	second := first
	second.Query.Text = "changed"
	second.Trace = append(second.Trace, EventRecord{Op: "extra", Payload: map[string]any{}, T: testutil.Epoch})

	if err := s.Append(ctx, first); err != nil {
		t.Fatalf("first Append() failed: %v", err)
	}
	if err := s.Append(ctx, second); err != nil {
		t.Fatalf("second Append() failed: %v", err)
	}

	rec, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if rec.Query.Text != "lease renewal" {
		t.Errorf("query = %q, want first write to win", rec.Query.Text)
	}
	events, _ := s.ReadTrace(ctx, "run-1")
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestAppend_AssignsRunID(t *testing.T) {
	s := createTestStore(t)
	s.ids = pipeline.NewFixedGenerator("generated-id")

	if err := s.Append(context.Background(), NewRecord(pipeline.NewState("q"), IncludeAll, testutil.Epoch)); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if _, err := s.ReadRun(context.Background(), "generated-id"); err != nil {
		t.Errorf("ReadRun(generated-id) failed: %v", err)
	}
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadRun(context.Background(), "missing")
	if err != sql.ErrNoRows {
		t.Errorf("ReadRun() error = %v, want sql.ErrNoRows", err)
	}
}

func TestReadTrace_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	events, err := s.ReadTrace(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ReadTrace() failed: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Errorf("ReadTrace() = %#v, want empty slice", events)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		st := pipeline.NewState("q " + id)
		st.RunID = id
		if err := s.Append(ctx, NewRecord(st, IncludeAll, testutil.Epoch.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append(%s) failed: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("ListRuns() = %+v, want c then b", runs)
	}
	if !runs[0].TS.Equal(testutil.Epoch.Add(2 * time.Second)) {
		t.Errorf("ts = %v", runs[0].TS)
	}

	all, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns(0) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns(0) = %d runs, want 3", len(all))
	}
}

func TestCountByOp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	st := sampleState()
	st.Log("grep", map[string]any{"matches": 0})
	if err := s.Append(ctx, NewRecord(st, IncludeAll, testutil.Epoch)); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	counts, err := s.CountByOp(ctx)
	if err != nil {
		t.Fatalf("CountByOp() failed: %v", err)
	}
	if counts["grep"] != 2 {
		t.Errorf("grep count = %d, want 2", counts["grep"])
	}
}
