package raft

import (
	"os"
	"testing"
)

func TestInMemoryLogAppendAndRead(t *testing.T) {
	l := NewInMemoryLog()

	if l.LastIndex() != 0 {
		t.Fatalf("expected empty log LastIndex 0, got %d", l.LastIndex())
	}

	entries := []Entry{
		{Index: 1, Term: 1, Payload: []byte("a")},
		{Index: 2, Term: 1, Payload: []byte("b")},
	}
	if err := l.Append(entries); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if l.LastIndex() != 2 {
		t.Fatalf("expected LastIndex 2, got %d", l.LastIndex())
	}

	e, ok := l.EntryAt(1)
	if !ok || string(e.Payload) != "a" {
		t.Fatalf("EntryAt(1) = %+v, %v", e, ok)
	}

	if _, ok := l.EntryAt(99); ok {
		t.Fatal("expected EntryAt(99) to be absent")
	}
}

func TestInMemoryLogAppendWithTruncateMismatch(t *testing.T) {
	l := NewInMemoryLog()
	l.Append([]Entry{{Index: 1, Term: 1}})

	err := l.AppendWithTruncate(5, 1, []Entry{{Index: 6, Term: 1}})
	if err != ErrLogMismatch {
		t.Fatalf("expected ErrLogMismatch, got %v", err)
	}
}

func TestInMemoryLogAppendWithTruncateConflict(t *testing.T) {
	l := NewInMemoryLog()
	l.Append([]Entry{
		{Index: 1, Term: 1},
		{Index: 2, Term: 1},
		{Index: 3, Term: 1}, // will be overwritten
	})

	// A leader with a different entry at index 3 (term 2).
	err := l.AppendWithTruncate(2, 1, []Entry{
		{Index: 3, Term: 2},
		{Index: 4, Term: 2},
	})
	if err != nil {
		t.Fatalf("AppendWithTruncate: %v", err)
	}

	if l.LastIndex() != 4 {
		t.Fatalf("expected LastIndex 4, got %d", l.LastIndex())
	}
	e, _ := l.EntryAt(3)
	if e.Term != 2 {
		t.Fatalf("expected entry 3 to have been overwritten to term 2, got %d", e.Term)
	}
}

func TestInMemoryLogAppendWithTruncateIdempotent(t *testing.T) {
	l := NewInMemoryLog()
	l.Append([]Entry{{Index: 1, Term: 1}})

	block := []Entry{{Index: 2, Term: 1}, {Index: 3, Term: 1}}
	if err := l.AppendWithTruncate(1, 1, block); err != nil {
		t.Fatalf("first AppendWithTruncate: %v", err)
	}
	if err := l.AppendWithTruncate(1, 1, block); err != nil {
		t.Fatalf("replayed AppendWithTruncate: %v", err)
	}
	if l.LastIndex() != 3 {
		t.Fatalf("expected LastIndex 3 after replay, got %d", l.LastIndex())
	}
}

func TestInMemoryLogOtherIsAtLeastAsUpToDate(t *testing.T) {
	l := NewInMemoryLog()
	l.Append([]Entry{{Index: 1, Term: 2}})

	if !l.OtherIsAtLeastAsUpToDate(1, 2) {
		t.Fatal("equal log should be at-least-as-up-to-date")
	}
	if !l.OtherIsAtLeastAsUpToDate(0, 3) {
		t.Fatal("higher term should be at-least-as-up-to-date regardless of index")
	}
	if l.OtherIsAtLeastAsUpToDate(0, 1) {
		t.Fatal("lower term should not be at-least-as-up-to-date")
	}
	if l.OtherIsAtLeastAsUpToDate(0, 2) {
		t.Fatal("same term, shorter log should not be at-least-as-up-to-date")
	}
}

func TestFileLogPersistsAcrossReopen(t *testing.T) {
	dir, err := os.MkdirTemp("", "raftlog")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	fl, err := NewFileLog(dir)
	if err != nil {
		t.Fatalf("NewFileLog: %v", err)
	}
	if err := fl.Append([]Entry{{Index: 1, Term: 1, Payload: []byte("x")}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := fl.SaveTermAndVote(3, "node2"); err != nil {
		t.Fatalf("SaveTermAndVote: %v", err)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewFileLog(dir)
	if err != nil {
		t.Fatalf("reopen NewFileLog: %v", err)
	}
	defer reopened.Close()

	if reopened.LastIndex() != 1 {
		t.Fatalf("expected LastIndex 1 after reopen, got %d", reopened.LastIndex())
	}
	term, votedFor := reopened.LoadedTermAndVote()
	if term != 3 || votedFor != "node2" {
		t.Fatalf("expected (3, node2), got (%d, %s)", term, votedFor)
	}
}

func TestFileLogAppendWithTruncateRewrites(t *testing.T) {
	dir, err := os.MkdirTemp("", "raftlog")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	fl, err := NewFileLog(dir)
	if err != nil {
		t.Fatalf("NewFileLog: %v", err)
	}
	defer fl.Close()

	fl.Append([]Entry{{Index: 1, Term: 1}, {Index: 2, Term: 1}})
	if err := fl.AppendWithTruncate(1, 1, []Entry{{Index: 2, Term: 2}}); err != nil {
		t.Fatalf("AppendWithTruncate: %v", err)
	}

	e, ok := fl.EntryAt(2)
	if !ok || e.Term != 2 {
		t.Fatalf("expected entry 2 rewritten to term 2, got %+v, %v", e, ok)
	}
}
