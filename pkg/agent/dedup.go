package agent

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
	"unicode"
)

// DuplicateDetector suppresses repeated messages. Two messages collide when
// they share a role and their normalized content hashes match within the
// time window. The cache is a bounded LRU so an old duplicate eventually
// falls out even inside the window.
type DuplicateDetector struct {
	mu        sync.Mutex
	window    time.Duration
	maxSize   int
	minLength int

	entries map[string]*list.Element
	order   *list.List

	// now is swappable for tests.
	now func() time.Time
}

type dedupEntry struct {
	key  string
	seen time.Time
}

func NewDuplicateDetector(window time.Duration, maxSize, minLength int) *DuplicateDetector {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &DuplicateDetector{
		window:    window,
		maxSize:   maxSize,
		minLength: minLength,
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		now:       time.Now,
	}
}

// CheckAndMark reports whether an identical message was seen within the
// window, and records this one either way. Content shorter than the minimum
// length is never considered a duplicate.
func (d *DuplicateDetector) CheckAndMark(role, content string) bool {
	normalized := normalizeContent(content)
	if len(normalized) < d.minLength {
		return false
	}
	key := dedupKey(role, normalized)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	duplicate := false
	if elem, ok := d.entries[key]; ok {
		entry := elem.Value.(*dedupEntry)
		if now.Sub(entry.seen) <= d.window {
			duplicate = true
		}
		entry.seen = now
		d.order.MoveToBack(elem)
	} else {
		d.entries[key] = d.order.PushBack(&dedupEntry{key: key, seen: now})
		if d.order.Len() > d.maxSize {
			oldest := d.order.Front()
			d.order.Remove(oldest)
			delete(d.entries, oldest.Value.(*dedupEntry).key)
		}
	}

	return duplicate
}

// normalizeContent lowercases and collapses all whitespace runs to single
// spaces so formatting differences do not defeat detection.
func normalizeContent(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

func dedupKey(role, normalized string) string {
	sum := sha256.Sum256([]byte(role + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}
