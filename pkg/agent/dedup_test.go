package agent

import (
	"fmt"
	"testing"
	"time"
)

func TestCheckAndMarkFirstSeenIsNotDuplicate(t *testing.T) {
	d := NewDuplicateDetector(time.Minute, 100, 3)
	if d.CheckAndMark("user", "hello there") {
		t.Error("first occurrence should not be a duplicate")
	}
}

func TestCheckAndMarkRepeatWithinWindow(t *testing.T) {
	d := NewDuplicateDetector(time.Minute, 100, 3)
	d.CheckAndMark("user", "remind me tomorrow")
	if !d.CheckAndMark("user", "remind me tomorrow") {
		t.Error("repeat within window should be a duplicate")
	}
}

func TestCheckAndMarkNormalizesWhitespaceAndCase(t *testing.T) {
	d := NewDuplicateDetector(time.Minute, 100, 3)
	d.CheckAndMark("user", "Remind me   tomorrow")
	if !d.CheckAndMark("user", "remind  me tomorrow ") {
		t.Error("formatting differences should not defeat detection")
	}
}

func TestCheckAndMarkDifferentRolesDoNotCollide(t *testing.T) {
	d := NewDuplicateDetector(time.Minute, 100, 3)
	d.CheckAndMark("user", "status update")
	if d.CheckAndMark("agent", "status update") {
		t.Error("same content under a different role should not be a duplicate")
	}
}

func TestCheckAndMarkExpiresOutsideWindow(t *testing.T) {
	d := NewDuplicateDetector(time.Minute, 100, 3)
	current := time.Now()
	d.now = func() time.Time { return current }

	d.CheckAndMark("user", "daily standup")
	current = current.Add(2 * time.Minute)
	if d.CheckAndMark("user", "daily standup") {
		t.Error("repeat outside the window should not be a duplicate")
	}
}

func TestCheckAndMarkShortContentNeverDuplicate(t *testing.T) {
	d := NewDuplicateDetector(time.Minute, 100, 3)
	d.CheckAndMark("user", "ok")
	if d.CheckAndMark("user", "ok") {
		t.Error("content below the minimum length should never be a duplicate")
	}
}

func TestCheckAndMarkEvictsOldestWhenFull(t *testing.T) {
	d := NewDuplicateDetector(time.Minute, 3, 3)

	d.CheckAndMark("user", "message zero")
	for i := 1; i <= 3; i++ {
		d.CheckAndMark("user", fmt.Sprintf("message %d", i))
	}

	// "message zero" was evicted, so it reads as new again.
	if d.CheckAndMark("user", "message zero") {
		t.Error("evicted entry should not be a duplicate")
	}
	// "message 3" is still cached.
	if !d.CheckAndMark("user", "message 3") {
		t.Error("recent entry should still be a duplicate")
	}
}
