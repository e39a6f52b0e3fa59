package convlog

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversation.log")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log, path
}

func TestAppendAssignsSequentialNumbers(t *testing.T) {
	log, _ := openTestLog(t)

	for i := 1; i <= 5; i++ {
		entry, err := log.Append(RoleUser, "hello", "cli", "direct")
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if entry.Seq != int64(i) {
			t.Errorf("append %d: got seq %d", i, entry.Seq)
		}
	}
}

func TestReplayReturnsEntriesInOrder(t *testing.T) {
	log, _ := openTestLog(t)

	log.Append(RoleUser, "first", "cli", "direct")
	log.Append(RoleReply, "second", "cli", "direct")
	log.Append(RoleAgent, "third", "", "")

	entries, err := log.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"first", "second", "third"} {
		if entries[i].Content != want {
			t.Errorf("entry %d: got %q, want %q", i, entries[i].Content, want)
		}
		if entries[i].Seq != int64(i+1) {
			t.Errorf("entry %d: got seq %d", i, entries[i].Seq)
		}
	}
	if entries[1].Role != RoleReply {
		t.Errorf("entry 1 role: got %q", entries[1].Role)
	}
}

func TestSequencesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversation.log")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	log.Append(RoleUser, "one", "", "")
	log.Append(RoleUser, "two", "", "")
	log.Close()

	log, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer log.Close()

	entry, err := log.Append(RoleUser, "three", "", "")
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if entry.Seq != 3 {
		t.Errorf("expected seq 3 after reopen, got %d", entry.Seq)
	}
}

func TestOpenTruncatesTrailingCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversation.log")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	log.Append(RoleUser, "intact", "", "")
	log.Close()

	// Simulate a crash mid-append: a partial record with no newline.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	f.WriteString(`{"sequence":2,"role":"user","cont`)
	f.Close()

	log, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer log.Close()

	entries, err := log.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after repair, got %d", len(entries))
	}

	entry, err := log.Append(RoleUser, "after repair", "", "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.Seq != 2 {
		t.Errorf("expected seq 2 after repair, got %d", entry.Seq)
	}
}

func TestClearResetsSequence(t *testing.T) {
	log, _ := openTestLog(t)

	log.Append(RoleUser, "before", "", "")
	log.Append(RoleReply, "before too", "", "")

	if err := log.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	entries, err := log.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty log after clear, got %d entries", len(entries))
	}

	entry, err := log.Append(RoleUser, "after", "", "")
	if err != nil {
		t.Fatalf("append after clear: %v", err)
	}
	if entry.Seq != 1 {
		t.Errorf("expected seq 1 after clear, got %d", entry.Seq)
	}
}

func TestTailReturnsMostRecent(t *testing.T) {
	log, _ := openTestLog(t)

	for _, content := range []string{"a", "b", "c", "d"} {
		log.Append(RoleUser, content, "", "")
	}

	tail, err := log.Tail(2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tail))
	}
	if tail[0].Content != "c" || tail[1].Content != "d" {
		t.Errorf("got %q, %q", tail[0].Content, tail[1].Content)
	}
}

func TestSecondOpenOnLiveLogFails(t *testing.T) {
	log, path := openTestLog(t)
	_ = log

	if _, err := Open(path); err == nil {
		t.Fatal("expected second open to fail while lock is held")
	}
}

func TestReplayStopsAtMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversation.log")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()
	log.Append(RoleUser, "good", "", "")

	// Corrupt a complete line under the running log. Repair only happens on
	// open, so replay has to stop on its own.
	f, _ := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	f.WriteString("not json at all\n")
	f.Close()
	log.Append(RoleUser, "unreachable", "", "")

	r, err := log.Replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	defer r.Close()

	entry, ok := r.Next()
	if !ok || entry.Content != "good" {
		t.Fatalf("expected first entry, got ok=%v content=%q", ok, entry.Content)
	}
	if _, ok := r.Next(); ok {
		t.Error("expected replay to stop at malformed line")
	}
}
