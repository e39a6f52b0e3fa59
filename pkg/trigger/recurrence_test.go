package trigger

import (
	"testing"
	"time"
)

func TestParseRecurrenceEmptyIsOneShot(t *testing.T) {
	rule, err := ParseRecurrence("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !rule.IsZero() {
		t.Error("empty expression should be the one-shot rule")
	}
}

func TestParseRecurrenceRejectsGarbage(t *testing.T) {
	if _, err := ParseRecurrence("not a cron rule"); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestNextAfterAdvances(t *testing.T) {
	rule, err := ParseRecurrence("0 9 * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	after := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	next, err := rule.NextAfter(after)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestNextFutureSkipsMissedOccurrences(t *testing.T) {
	rule, err := ParseRecurrence("0 * * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// The process was down for two days; the next occurrence must be in the
	// future, not a storm of catch-up fires.
	lastFire := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

	next, err := rule.NextFuture(lastFire, now)
	if err != nil {
		t.Fatalf("next future: %v", err)
	}
	if !next.After(now) {
		t.Errorf("next occurrence %v is not after now %v", next, now)
	}
	want := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestNewOneShotUsesStartTime(t *testing.T) {
	startAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	trg, err := New("worker", "do the thing", startAt, Recurrence{}, "UTC")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if trg.ID == "" {
		t.Error("expected generated id")
	}
	if trg.Status != StatusScheduled {
		t.Errorf("got status %q", trg.Status)
	}
	if !trg.NextFireAt.Equal(startAt) {
		t.Errorf("got next fire %v, want %v", trg.NextFireAt, startAt)
	}
	if trg.Recurring() {
		t.Error("one-shot must not report recurring")
	}
}

func TestNewRecurringComputesFirstOccurrence(t *testing.T) {
	rule, err := ParseRecurrence("*/5 * * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	trg, err := New("worker", "poll something", time.Time{}, rule, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !trg.NextFireAt.After(time.Now().UTC().Add(-time.Minute)) {
		t.Errorf("first occurrence %v is unreasonably old", trg.NextFireAt)
	}
	if !trg.Recurring() {
		t.Error("expected recurring trigger")
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusScheduled: false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s: got %v, want %v", status, got, want)
		}
	}
}
