// raft/log.go
package raft

import (
	"errors"
	"fmt"
	"sync"
)

// ErrLogMismatch is returned by AppendWithTruncate when prevIndex/prevTerm
// does not match what is on this replica's log. It is recoverable: the
// leader backs off next_index and retries on the next heartbeat.
var ErrLogMismatch = errors.New("raft: log mismatch at prevIndex/prevTerm")

// Entry is a single command in the replicated log. Index is 1-based and
// strictly monotone; once an index is covered by a committed prefix its
// (Index, Term, Payload) never changes on any replica.
type Entry struct {
	Index   uint64
	Term    uint64
	Payload []byte
}

// Log is the replicated log's behavioral contract (§3/§4.1 of the design).
// Any storage engine satisfying it — in-memory for tests, an append-only
// file for production — is acceptable to the rest of the core.
type Log interface {
	// LastIndex returns 0 when the log is empty.
	LastIndex() uint64

	// EntryAt returns the entry at index, or ok=false if absent.
	EntryAt(index uint64) (entry Entry, ok bool)

	// RangeFrom returns entries with index >= from, in order.
	RangeFrom(from uint64) []Entry

	// Append appends a contiguous block whose first index equals
	// LastIndex()+1. Used by a leader appending its own new entries.
	Append(entries []Entry) error

	// AppendWithTruncate implements the follower-side log reconciliation:
	// if entry_at(prevIndex) is absent or has a different term, returns
	// ErrLogMismatch; otherwise truncates everything after prevIndex that
	// conflicts with entries (same index, different term) and appends
	// the rest. Idempotent: replaying the same call twice yields the
	// same log.
	AppendWithTruncate(prevIndex, prevTerm uint64, entries []Entry) error

	// OtherIsAtLeastAsUpToDate reports whether a log with the given last
	// term/index is at least as up-to-date as this one: true iff the
	// other log's last term is greater, or the terms are equal and the
	// other log's last index is >= this log's last index.
	OtherIsAtLeastAsUpToDate(otherLastIndex, otherLastTerm uint64) bool
}

// InMemoryLog is a slice-backed Log. It is the reference implementation
// used by tests and by any replica that does not need to survive a crash.
type InMemoryLog struct {
	mu      sync.Mutex
	entries []Entry // entries[i] holds the entry at index i+1
}

// NewInMemoryLog returns an empty in-memory log.
func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{}
}

func (l *InMemoryLog) LastIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.entries))
}

func (l *InMemoryLog) EntryAt(index uint64) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entryAtLocked(index)
}

func (l *InMemoryLog) entryAtLocked(index uint64) (Entry, bool) {
	if index == 0 || index > uint64(len(l.entries)) {
		return Entry{}, false
	}
	return l.entries[index-1], true
}

func (l *InMemoryLog) RangeFrom(from uint64) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from == 0 {
		from = 1
	}
	if from > uint64(len(l.entries)) {
		return nil
	}
	out := make([]Entry, len(l.entries)-int(from)+1)
	copy(out, l.entries[from-1:])
	return out
}

func (l *InMemoryLog) Append(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(entries)
}

func (l *InMemoryLog) appendLocked(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	want := uint64(len(l.entries)) + 1
	if entries[0].Index != want {
		return fmt.Errorf("raft: append must start at index %d, got %d", want, entries[0].Index)
	}
	l.entries = append(l.entries, entries...)
	return nil
}

func (l *InMemoryLog) AppendWithTruncate(prevIndex, prevTerm uint64, entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prevIndex > 0 {
		prev, ok := l.entryAtLocked(prevIndex)
		if !ok || prev.Term != prevTerm {
			return ErrLogMismatch
		}
	}

	insertAt := len(entries)
	for i, e := range entries {
		existing, ok := l.entryAtLocked(e.Index)
		if !ok {
			insertAt = i
			break
		}
		if existing.Term != e.Term {
			// Conflict: truncate everything from this index on and
			// append the rest of the incoming block.
			l.entries = l.entries[:e.Index-1]
			insertAt = i
			break
		}
	}

	if insertAt < len(entries) {
		return l.appendLocked(entries[insertAt:])
	}
	return nil
}

func (l *InMemoryLog) OtherIsAtLeastAsUpToDate(otherLastIndex, otherLastTerm uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lastTerm uint64
	lastIndex := uint64(len(l.entries))
	if lastIndex > 0 {
		lastTerm = l.entries[lastIndex-1].Term
	}

	if otherLastTerm != lastTerm {
		return otherLastTerm > lastTerm
	}
	return otherLastIndex >= lastIndex
}
