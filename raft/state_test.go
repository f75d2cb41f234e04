package raft

import (
	"testing"
	"time"
)

func newTestState(id NodeID) *ReplicaState {
	return NewReplicaState(id, 50*time.Millisecond, 100*time.Millisecond, NewInMemoryLog())
}

func TestNewReplicaStateStartsFollower(t *testing.T) {
	s := newTestState("n1")
	snap := s.Snapshot()
	if snap.Role != Follower {
		t.Fatalf("expected Follower, got %s", snap.Role)
	}
	if snap.CurrentTerm != 0 {
		t.Fatalf("expected term 0, got %d", snap.CurrentTerm)
	}
}

func TestToCandidateIncrementsTermAndVotesSelf(t *testing.T) {
	s := newTestState("n1")
	term, err := s.ToCandidate()
	if err != nil {
		t.Fatalf("ToCandidate: %v", err)
	}
	if term != 1 {
		t.Fatalf("expected term 1, got %d", term)
	}
	snap := s.Snapshot()
	if snap.Role != Candidate || snap.VotedFor != "n1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestToLeaderRequiresCandidateAndMatchingTerm(t *testing.T) {
	s := newTestState("n1")
	if err := s.ToLeader(1); err == nil {
		t.Fatal("expected error becoming leader from Follower")
	}

	term, _ := s.ToCandidate()
	if err := s.ToLeader(term + 1); err == nil {
		t.Fatal("expected error becoming leader for a stale term")
	}
	if err := s.ToLeader(term); err != nil {
		t.Fatalf("ToLeader: %v", err)
	}
	if s.Snapshot().Role != Leader {
		t.Fatal("expected Leader role")
	}
}

func TestObserveTermStepsDownOnlyOnHigherTerm(t *testing.T) {
	s := newTestState("n1")
	s.ToCandidate() // term 1, Candidate

	stepped, err := s.ObserveTerm(1)
	if err != nil {
		t.Fatalf("ObserveTerm: %v", err)
	}
	if stepped {
		t.Fatal("should not step down on equal term")
	}
	if s.Snapshot().Role != Candidate {
		t.Fatal("role should be unchanged")
	}

	stepped, err = s.ObserveTerm(5)
	if err != nil {
		t.Fatalf("ObserveTerm: %v", err)
	}
	if !stepped {
		t.Fatal("should step down on higher term")
	}
	snap := s.Snapshot()
	if snap.Role != Follower || snap.CurrentTerm != 5 || snap.VotedFor != "" {
		t.Fatalf("unexpected snapshot after step-down: %+v", snap)
	}
}

func TestTryGrantVoteGrantsOnceThenRejectsOtherCandidate(t *testing.T) {
	s := newTestState("n1")

	granted, _, err := s.TryGrantVote(1, "candidateA", true)
	if err != nil || !granted {
		t.Fatalf("expected grant, got granted=%v err=%v", granted, err)
	}

	granted, _, err = s.TryGrantVote(1, "candidateB", true)
	if err != nil || granted {
		t.Fatalf("expected rejection of second candidate in same term, got granted=%v", granted)
	}

	// Same candidate re-requesting (e.g. a retransmitted RPC) still grants.
	granted, _, err = s.TryGrantVote(1, "candidateA", true)
	if err != nil || !granted {
		t.Fatalf("expected re-grant to same candidate, got granted=%v err=%v", granted, err)
	}
}

func TestTryGrantVoteRejectsStaleLog(t *testing.T) {
	s := newTestState("n1")
	granted, _, err := s.TryGrantVote(1, "candidateA", false)
	if err != nil {
		t.Fatalf("TryGrantVote: %v", err)
	}
	if granted {
		t.Fatal("expected rejection for a candidate whose log is not up to date")
	}
}

func TestAdvanceLeaderCommitRequiresCurrentTermEntry(t *testing.T) {
	s := newTestState("n1")
	s.ToCandidate() // term 1
	s.ToLeader(1)

	// Figure-8 safety: an index whose entry is from an earlier term must
	// not be committed just because AdvanceLeaderCommit is called with
	// it, even with the current term's votes backing it through m.
	if advanced := s.AdvanceLeaderCommit(0 /* stale term */, 3); advanced {
		t.Fatal("must not advance commit for an entry from a stale term")
	}
	if advanced := s.AdvanceLeaderCommit(1, 3); !advanced {
		t.Fatal("expected commit to advance for an entry from the current term")
	}
	if s.Snapshot().CommitIndex != 3 {
		t.Fatalf("expected commitIndex 3, got %d", s.Snapshot().CommitIndex)
	}
}

func TestApplyLeaderCommitIfTermMatchesIgnoresStaleTerm(t *testing.T) {
	s := newTestState("n1")
	s.ObserveTerm(5)

	s.ApplyLeaderCommitIfTermMatches(4 /* stale */, 10, 10)
	if s.Snapshot().CommitIndex != 0 {
		t.Fatal("must not bump commitIndex when acceptedTerm no longer matches currentTerm")
	}

	s.ApplyLeaderCommitIfTermMatches(5, 10, 7)
	if s.Snapshot().CommitIndex != 7 {
		t.Fatalf("expected commitIndex capped at lastLogIndex 7, got %d", s.Snapshot().CommitIndex)
	}
}
