// raft/state.go
package raft

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"
)

// NodeID identifies a cluster member. Plain strings, matching how the
// teacher's gRPC layer already keys its peer address map.
type NodeID = string

// Role is the replica's place in the Raft state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// Snapshot is a consistent, point-in-time read of ReplicaState.
type Snapshot struct {
	Role              Role
	CurrentTerm       uint64
	VotedFor          NodeID
	CommitIndex       uint64
	LeaderHint        NodeID
	LastLeaderContact time.Time
	ElectionDeadline  time.Time
}

// ReplicaState holds the volatile-plus-persisted control variables of a
// single replica (§3). All transitions happen under one mutex; Log has
// its own, separate mutex, and the two are never acquired in reverse
// order (see §5): ReplicaState first, then Log, or Log alone.
type ReplicaState struct {
	mu sync.Mutex

	id NodeID

	role        Role
	currentTerm uint64
	votedFor    NodeID
	leaderHint  NodeID

	commitIndex uint64

	lastLeaderContact time.Time
	electionDeadline  time.Time

	electionTimeoutMin time.Duration
	electionTimeoutMax time.Duration

	persist TermVotePersister // nil if the Log isn't durable
	rng     *rand.Rand
}

// NewReplicaState builds a fresh ReplicaState in the Follower role,
// seeded from a Log's persisted (term, votedFor) if it has any (a
// restart after a crash), per §6's "Persisted state" contract.
func NewReplicaState(id NodeID, electionTimeoutMin, electionTimeoutMax time.Duration, log Log) *ReplicaState {
	var persist TermVotePersister
	var initialTerm uint64
	var initialVotedFor NodeID
	if p, ok := log.(TermVotePersister); ok {
		persist = p
		initialTerm, initialVotedFor = p.LoadedTermAndVote()
	}

	seed := time.Now().UnixNano() ^ int64(fnvHash(id))
	rs := &ReplicaState{
		id:                  id,
		role:                Follower,
		currentTerm:         initialTerm,
		votedFor:            initialVotedFor,
		electionTimeoutMin:  electionTimeoutMin,
		electionTimeoutMax:  electionTimeoutMax,
		persist:             persist,
		rng:                 rand.New(rand.NewSource(seed)),
	}
	now := time.Now()
	rs.lastLeaderContact = now
	rs.electionDeadline = now.Add(rs.randomElectionTimeout())
	return rs
}

func fnvHash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func (rs *ReplicaState) randomElectionTimeout() time.Duration {
	span := int64(rs.electionTimeoutMax - rs.electionTimeoutMin)
	if span <= 0 {
		return rs.electionTimeoutMin
	}
	return rs.electionTimeoutMin + time.Duration(rs.rng.Int63n(span))
}

// ID returns this replica's own node id.
func (rs *ReplicaState) ID() NodeID { return rs.id }

// Snapshot takes a consistent read of every field.
func (rs *ReplicaState) Snapshot() Snapshot {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return Snapshot{
		Role:              rs.role,
		CurrentTerm:       rs.currentTerm,
		VotedFor:          rs.votedFor,
		CommitIndex:       rs.commitIndex,
		LeaderHint:        rs.leaderHint,
		LastLeaderContact: rs.lastLeaderContact,
		ElectionDeadline:  rs.electionDeadline,
	}
}

func (rs *ReplicaState) persistLocked() error {
	if rs.persist == nil {
		return nil
	}
	return rs.persist.SaveTermAndVote(rs.currentTerm, rs.votedFor)
}

// toFollowerLocked implements the to-Follower(new_term) transition. The
// caller must hold rs.mu.
func (rs *ReplicaState) toFollowerLocked(newTerm uint64) error {
	if newTerm < rs.currentTerm {
		return fmt.Errorf("raft: to-Follower(%d) with lower term than current %d", newTerm, rs.currentTerm)
	}
	if newTerm > rs.currentTerm {
		rs.currentTerm = newTerm
		rs.votedFor = ""
		if err := rs.persistLocked(); err != nil {
			return err
		}
	}
	rs.role = Follower
	rs.redrawElectionDeadlineLocked()
	return nil
}

// ToFollower transitions to Follower, bumping current_term if newTerm is
// higher and clearing votedFor. Safe to call regardless of current role.
func (rs *ReplicaState) ToFollower(newTerm uint64) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.toFollowerLocked(newTerm)
}

// ObserveTerm steps down to Follower(term) iff term is strictly greater
// than current_term, per §4.2's "any observation of a term strictly
// greater than current_term forces to-Follower before any other
// response logic". Returns whether a step-down occurred.
func (rs *ReplicaState) ObserveTerm(term uint64) (bool, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if term <= rs.currentTerm {
		return false, nil
	}
	if err := rs.toFollowerLocked(term); err != nil {
		return false, err
	}
	return true, nil
}

// ToCandidate implements to-Candidate(): requires role in
// {Follower, Candidate}, increments current_term, votes for self, and
// redraws the election deadline. Returns the new term.
func (rs *ReplicaState) ToCandidate() (uint64, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.role != Follower && rs.role != Candidate {
		return 0, fmt.Errorf("raft: to-Candidate from invalid role %s", rs.role)
	}

	rs.role = Candidate
	rs.currentTerm++
	rs.votedFor = rs.id
	if err := rs.persistLocked(); err != nil {
		return 0, err
	}
	rs.redrawElectionDeadlineLocked()
	return rs.currentTerm, nil
}

// ToLeader implements to-Leader(): requires role == Candidate and that
// the election just won was for the still-current term.
func (rs *ReplicaState) ToLeader(wonTerm uint64) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.role != Candidate || rs.currentTerm != wonTerm {
		return fmt.Errorf("raft: cannot become leader for term %d: role=%s currentTerm=%d", wonTerm, rs.role, rs.currentTerm)
	}
	rs.role = Leader
	return nil
}

func (rs *ReplicaState) redrawElectionDeadlineLocked() {
	now := time.Now()
	rs.lastLeaderContact = now
	rs.electionDeadline = now.Add(rs.randomElectionTimeout())
}

// RecordLeaderContact resets the election deadline after a valid
// AppendEntries from a leader whose term >= ours, remembering its id as
// the leader hint used to answer "not leader" client rejections.
func (rs *ReplicaState) RecordLeaderContact(leaderID NodeID) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.leaderHint = leaderID
	now := time.Now()
	rs.lastLeaderContact = now
	rs.electionDeadline = now.Add(rs.randomElectionTimeout())
}

// RedrawElectionDeadline resets the deadline without touching
// last_leader_contact's role as a contact marker beyond "we heard
// something worth restarting the clock for" (e.g. granting a vote).
func (rs *ReplicaState) RedrawElectionDeadline() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.redrawElectionDeadlineLocked()
}

// TryGrantVote implements the RequestVote grant decision (§4.5(3)) and,
// if granted, the resulting state mutation, entirely under one lock
// acquisition. Returns (granted, currentTermAfter).
func (rs *ReplicaState) TryGrantVote(term uint64, candidateID NodeID, logUpToDate bool) (bool, uint64, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if term < rs.currentTerm {
		return false, rs.currentTerm, nil
	}

	if (rs.votedFor == "" || rs.votedFor == candidateID) && logUpToDate {
		rs.votedFor = candidateID
		if err := rs.persistLocked(); err != nil {
			return false, rs.currentTerm, err
		}
		rs.redrawElectionDeadlineLocked()
		return true, rs.currentTerm, nil
	}
	return false, rs.currentTerm, nil
}

// ApplyLeaderCommitIfTermMatches is the follower-side half of §4.5(5):
// after releasing and reacquiring the state lock around a log append,
// bump commit_index only if current_term hasn't moved on in the
// meantime (§5/§9's release-reacquire tolerance requirement).
func (rs *ReplicaState) ApplyLeaderCommitIfTermMatches(acceptedTerm, leaderCommit, lastLogIndex uint64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.currentTerm != acceptedTerm {
		return
	}
	if leaderCommit <= rs.commitIndex {
		return
	}
	idx := leaderCommit
	if lastLogIndex < idx {
		idx = lastLogIndex
	}
	if idx > rs.commitIndex {
		rs.commitIndex = idx
	}
}

// AdvanceLeaderCommit is the leader-side commit advance (§4.3.2): only
// takes effect if the entry at the proposed commit index belongs to the
// leader's own current term (Figure 8 safety, §9's flagged fix: the
// check must never be skipped).
func (rs *ReplicaState) AdvanceLeaderCommit(termAtM, m uint64) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if termAtM != rs.currentTerm {
		return false
	}
	if m > rs.commitIndex {
		rs.commitIndex = m
		return true
	}
	return false
}
