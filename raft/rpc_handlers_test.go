package raft

import (
	"testing"
	"time"
)

func newTestHandlers(id NodeID) (*RpcHandlers, *ReplicaState, *InMemoryLog) {
	log := NewInMemoryLog()
	state := newTestState(id)
	return NewRpcHandlers(state, log, NewLogger(id, ERROR)), state, log
}

func TestHandleRequestVoteRejectsStaleTerm(t *testing.T) {
	h, state, _ := newTestHandlers("n1")
	state.ObserveTerm(5)

	resp := h.HandleRequestVote(&RequestVoteRequest{Term: 2, CandidateID: "n2"})
	if resp.VoteGranted {
		t.Fatal("must not grant a vote for a stale term")
	}
	if resp.Term != 5 {
		t.Fatalf("expected reply term 5, got %d", resp.Term)
	}
}

func TestHandleRequestVoteGrantsAndStepsDownCandidate(t *testing.T) {
	h, state, _ := newTestHandlers("n1")
	state.ToCandidate() // term 1

	resp := h.HandleRequestVote(&RequestVoteRequest{Term: 2, CandidateID: "n2"})
	if !resp.VoteGranted {
		t.Fatal("expected vote granted")
	}
	if state.Snapshot().Role != Follower {
		t.Fatal("observing a higher term must step a candidate down to Follower")
	}
}

func TestHandleAppendEntriesRejectsOnLogMismatch(t *testing.T) {
	h, _, log := newTestHandlers("n1")
	log.Append([]Entry{{Index: 1, Term: 1}})

	resp := h.HandleAppendEntries(&AppendEntriesRequest{
		Term:         1,
		LeaderID:     "leader",
		PrevLogIndex: 5,
		PrevLogTerm:  1,
	})
	if resp.Success {
		t.Fatal("expected rejection on prevIndex/prevTerm mismatch")
	}
}

func TestHandleAppendEntriesAcceptsAndAdvancesCommit(t *testing.T) {
	h, state, log := newTestHandlers("n1")

	resp := h.HandleAppendEntries(&AppendEntriesRequest{
		Term:         1,
		LeaderID:     "leader",
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		Entries:      []Entry{{Index: 1, Term: 1, Payload: []byte("x")}},
		LeaderCommit: 1,
	})
	if !resp.Success {
		t.Fatal("expected success")
	}
	if log.LastIndex() != 1 {
		t.Fatalf("expected entry appended, LastIndex=%d", log.LastIndex())
	}
	if state.Snapshot().CommitIndex != 1 {
		t.Fatalf("expected commitIndex 1, got %d", state.Snapshot().CommitIndex)
	}
}

func TestHandleAppendEntriesRecordsLeaderContact(t *testing.T) {
	h, state, _ := newTestHandlers("n1")
	before := state.Snapshot().LastLeaderContact

	h.HandleAppendEntries(&AppendEntriesRequest{Term: 1, LeaderID: "leader"})

	after := state.Snapshot()
	if after.LeaderHint != "leader" {
		t.Fatalf("expected leader hint recorded, got %q", after.LeaderHint)
	}
	if !after.LastLeaderContact.After(before) {
		t.Fatal("expected last leader contact to be updated after hearing from the leader")
	}
	// The deadline is a fresh random draw from [50ms, 100ms) after the
	// contact, so it is compared against the contact time, not the old
	// deadline (which could be later than the new one).
	if after.ElectionDeadline.Sub(after.LastLeaderContact) < 50*time.Millisecond {
		t.Fatal("expected election deadline to be redrawn from the leader contact")
	}
}
