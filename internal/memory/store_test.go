package memory

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lanternai/lantern/internal/db"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn)
}

func TestSaveThenSearchFindsRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	rec, err := s.Save(ctx, "the deploy script lives in scripts/deploy.sh", []string{"ops"})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	results, err := s.Search(ctx, "deploy script", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != rec.ID {
		t.Fatalf("results = %+v, want the saved record", results)
	}
	if len(results[0].Tags) != 1 || results[0].Tags[0] != "ops" {
		t.Errorf("tags = %v", results[0].Tags)
	}
}

func TestUpdateSupersedesOldVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	old, err := s.Save(ctx, "the API listens on port 8080", nil)
	if err != nil {
		t.Fatal(err)
	}
	updated, err := s.Update(ctx, old.ID, "the API listens on port 9090")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	results, err := s.Search(ctx, "API listens", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != updated.ID {
		t.Fatalf("default search should only return the new version, got %+v", results)
	}

	// Old version survives, linked forward
	oldRec, err := s.Get(ctx, old.ID)
	if err != nil {
		t.Fatalf("old version was deleted: %v", err)
	}
	if oldRec.SupersededBy != updated.ID {
		t.Errorf("superseded_by = %q, want %q", oldRec.SupersededBy, updated.ID)
	}

	// Historical listing shows both
	all, err := s.List(ctx, 10, true)
	if err != nil || len(all) != 2 {
		t.Errorf("historical list = %d records, err %v", len(all), err)
	}

	// A superseded record cannot be updated again
	if _, err := s.Update(ctx, old.ID, "stale write"); err == nil {
		t.Error("expected error updating a superseded record")
	}
}

func TestSearchDeduplicatesAndCaps(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		if _, err := s.Save(ctx, "duplicate fact about widgets", nil); err != nil {
			t.Fatal(err)
		}
	}
	results, err := s.Search(ctx, "widgets", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want deduplicated 1", len(results))
	}
}

func TestSearchToleratesPunctuation(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	if _, err := s.Save(ctx, `use "go test" not make`, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Search(ctx, `"go test" AND (weird`, 0); err != nil {
		t.Errorf("punctuated query should not error: %v", err)
	}
}

func TestRetireRemovesFromSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	rec, _ := s.Save(ctx, "ephemeral note about caching", nil)
	if err := s.Retire(ctx, rec.ID); err != nil {
		t.Fatalf("Retire failed: %v", err)
	}
	results, _ := s.Search(ctx, "caching", 0)
	if len(results) != 0 {
		t.Errorf("retired record still in search: %+v", results)
	}
	// Row is retained
	if _, err := s.Get(ctx, rec.ID); err != nil {
		t.Errorf("retired record was deleted: %v", err)
	}
}

func TestCoreMemoryWholeBlockReplacement(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	if err := s.UpdateCore(ctx, BlockPersona, "terse and direct"); err != nil {
		t.Fatalf("UpdateCore failed: %v", err)
	}
	if err := s.UpdateCore(ctx, BlockPersona, "thorough and friendly"); err != nil {
		t.Fatal(err)
	}

	b, err := s.CoreBlock(ctx, BlockPersona)
	if err != nil {
		t.Fatal(err)
	}
	if b.Content != "thorough and friendly" {
		t.Errorf("content = %q, want full replacement", b.Content)
	}
}

func TestCoreMemoryOversizedWriteRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	if err := s.UpdateCore(ctx, BlockPreferences, "tabs over spaces"); err != nil {
		t.Fatal(err)
	}

	huge := strings.Repeat("x", DefaultBlockMaxSize+1)
	err := s.UpdateCore(ctx, BlockPreferences, huge)
	var ce *CapacityError
	if !errors.As(err, &ce) {
		t.Fatalf("want CapacityError, got %v", err)
	}

	// Original data preserved
	b, _ := s.CoreBlock(ctx, BlockPreferences)
	if b.Content != "tabs over spaces" {
		t.Errorf("content clobbered by rejected write: %q", b.Content)
	}
}

func TestFormatCoreForPrompt(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	out, err := s.FormatCoreForPrompt(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out != "" {
		t.Errorf("empty blocks should render nothing, got %q", out)
	}

	s.UpdateCore(ctx, BlockProjectInfo, "monorepo, Go services")
	out, _ = s.FormatCoreForPrompt(ctx)
	if !strings.Contains(out, "<core_memory>") || !strings.Contains(out, "monorepo, Go services") {
		t.Errorf("rendered prompt = %q", out)
	}
}

func TestShortTermExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	if err := s.RecordActivity(ctx, "s1", "edited main.go"); err != nil {
		t.Fatal(err)
	}
	if err := s.TouchRecentSession(ctx, "s1", "refactoring session"); err != nil {
		t.Fatal(err)
	}

	acts, err := s.RecentActivity(ctx, 10)
	if err != nil || len(acts) != 1 {
		t.Fatalf("activity = %v, err %v", acts, err)
	}

	// Nothing is expired yet
	n, err := s.CleanupExpired(ctx)
	if err != nil || n != 0 {
		t.Errorf("cleanup removed %d rows, err %v", n, err)
	}

	// Force expiry and clean up
	if _, err := s.db.Exec(`UPDATE recent_activity SET expires_at = datetime('now', '-1 hour')`); err != nil {
		t.Fatal(err)
	}
	n, err = s.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Errorf("cleanup removed %d rows, err %v", n, err)
	}
	acts, _ = s.RecentActivity(ctx, 10)
	if len(acts) != 0 {
		t.Errorf("expired activity still visible: %v", acts)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	a, _ := s.Save(ctx, "first fact", nil)
	s.Save(ctx, "second fact", nil)
	s.Update(ctx, a.ID, "first fact, revised")

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Current != 2 || st.Superseded != 1 {
		t.Errorf("stats = %+v", st)
	}
}
