// raft/coordinator.go
package raft

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// electionPollInterval is how often the main loop re-examines
// last_leader_contact against the election deadline (§9: "must
// re-examine last_leader_contact after waking, not assume the timeout
// that woke it is still valid"). Since RPC handlers run on separate
// goroutines and redraw the deadline directly on ReplicaState, polling
// is simpler and just as correct as trying to reset a single shared
// timer across goroutines.
const electionPollInterval = 10 * time.Millisecond

// ErrNotLeader is returned by Submit/AddMember when this replica is not
// currently the leader.
var ErrNotLeader = errors.New("raft: not leader")

// ErrShutdown is returned by Submit/AddMember after Stop has been
// called.
var ErrShutdown = errors.New("raft: coordinator stopped")

// NotLeaderError wraps ErrNotLeader with the last known leader, letting
// a client retry against the right address without guessing.
type NotLeaderError struct {
	LeaderHint NodeID
}

func (e *NotLeaderError) Error() string {
	if e.LeaderHint == "" {
		return ErrNotLeader.Error()
	}
	return fmt.Sprintf("%s: last known leader is %s", ErrNotLeader, e.LeaderHint)
}

func (e *NotLeaderError) Unwrap() error { return ErrNotLeader }

type submitAck struct {
	index uint64
	term  uint64
	err   error
}

type submission struct {
	payload []byte
	replyCh chan submitAck
}

type pendingEntry struct {
	term    uint64
	replyCh chan submitAck
}

type addMemberRequest struct {
	peer    NodeID
	address string
	replyCh chan error
}

type removeMemberRequest struct {
	peer    NodeID
	replyCh chan error
}

// Coordinator is the replica's single event loop: the only goroutine
// that mutates peer bookkeeping, decides elections, advances the
// leader's commit_index, and applies committed entries. PeerWorkers and
// client callers talk to it only through channels; inbound RPC handlers
// do not talk to it at all, but update ReplicaState directly (including
// a follower's commit_index), which the loop then polls.
type Coordinator struct {
	id        NodeID
	state     *ReplicaState
	log       Log
	transport Transport
	applier   StateMachine
	logger    *Logger

	peers     map[NodeID]*PeerWorker
	nonVoting map[NodeID]*PeerWorker

	nextIndex  map[NodeID]uint64
	matchIndex map[NodeID]uint64
	catchup    map[NodeID]*CatchupTracker

	pending           map[uint64]*pendingEntry
	pendingMembership map[NodeID]chan error

	votesForTerm uint64
	votesGranted int

	lastApplied uint64

	results        chan interface{}
	submitCh       chan *submission
	addMemberCh    chan *addMemberRequest
	removeMemberCh chan *removeMemberRequest
	stopCh         chan struct{}

	heartbeatInterval time.Duration
}

// NewCoordinator builds a Coordinator for id, with one PeerWorker per
// entry in peerAddresses.
func NewCoordinator(id NodeID, state *ReplicaState, log Log, transport Transport, applier StateMachine, logger *Logger, peerAddresses map[NodeID]string, heartbeatInterval time.Duration) *Coordinator {
	c := &Coordinator{
		id:                id,
		state:             state,
		log:               log,
		transport:         transport,
		applier:           applier,
		logger:            logger,
		peers:             make(map[NodeID]*PeerWorker),
		nonVoting:         make(map[NodeID]*PeerWorker),
		nextIndex:         make(map[NodeID]uint64),
		matchIndex:        make(map[NodeID]uint64),
		catchup:           make(map[NodeID]*CatchupTracker),
		pending:           make(map[uint64]*pendingEntry),
		pendingMembership: make(map[NodeID]chan error),
		results:           make(chan interface{}, 64),
		submitCh:          make(chan *submission),
		addMemberCh:       make(chan *addMemberRequest),
		removeMemberCh:    make(chan *removeMemberRequest),
		stopCh:            make(chan struct{}),
		heartbeatInterval: heartbeatInterval,
	}

	for peerID, addr := range peerAddresses {
		c.peers[peerID] = NewPeerWorker(peerID, addr, transport, c.results)
		c.nextIndex[peerID] = log.LastIndex() + 1
		c.matchIndex[peerID] = 0
	}

	return c
}

// Run is the main event loop. It blocks until ctx is cancelled or Stop
// is called.
func (c *Coordinator) Run(ctx context.Context) {
	electionTicker := time.NewTicker(electionPollInterval)
	defer electionTicker.Stop()
	heartbeatTicker := time.NewTicker(c.heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-c.stopCh:
			c.shutdown()
			return

		case <-electionTicker.C:
			c.onElectionTick()

		case <-heartbeatTicker.C:
			if c.state.Snapshot().Role == Leader {
				c.broadcastAppendEntries()
			}

		case res := <-c.results:
			c.handleResult(res)

		case sub := <-c.submitCh:
			c.handleSubmit(sub)

		case req := <-c.addMemberCh:
			c.handleAddMember(req)

		case req := <-c.removeMemberCh:
			c.handleRemoveMember(req)
		}
	}
}

func (c *Coordinator) shutdown() {
	for _, pw := range c.peers {
		pw.Stop()
	}
	for _, pw := range c.nonVoting {
		pw.Stop()
	}
	c.failAllPending(ErrShutdown)
	c.failAllMembership(ErrShutdown)
}

// Stop requests the event loop to exit.
func (c *Coordinator) Stop() {
	close(c.stopCh)
}

func (c *Coordinator) onElectionTick() {
	snap := c.state.Snapshot()
	if snap.Role != Leader {
		// A step-down can happen outside this loop (an inbound RPC with a
		// higher term), so writes still waiting from an earlier leadership
		// are released here before anything is applied.
		c.failAllPending(ErrNotLeader)
	}
	if snap.Role != Leader && !time.Now().Before(snap.ElectionDeadline) {
		c.startElection()
	}
	c.applyUpTo(snap.CommitIndex)
}

// startElection implements §4.3.1: to-Candidate, vote for self, request
// votes from every peer (voting members only — non-voting catch-up
// members never vote and never get asked to).
func (c *Coordinator) startElection() {
	term, err := c.state.ToCandidate()
	if err != nil {
		c.logger.Debug("cannot start election: %v", err)
		return
	}
	c.logger.LogElectionStart(term)

	c.votesForTerm = term
	c.votesGranted = 1 // self

	lastIndex := c.log.LastIndex()
	var lastTerm uint64
	if e, ok := c.log.EntryAt(lastIndex); ok {
		lastTerm = e.Term
	}

	req := &RequestVoteRequest{
		Term:         term,
		CandidateID:  c.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}
	for _, pw := range c.peers {
		pw.SendRequestVote(req)
	}

	if len(c.peers) == 0 {
		// Single-node cluster: self-vote is already a majority.
		c.tryBecomeLeader(term)
	}
}

func (c *Coordinator) tryBecomeLeader(term uint64) {
	if c.votesGranted < majorityOf(len(c.peers)+1) {
		return
	}
	if err := c.state.ToLeader(term); err != nil {
		c.logger.Debug("cannot become leader: %v", err)
		return
	}
	c.logger.LogElectionWon(term, uint64(c.votesGranted), uint64(majorityOf(len(c.peers)+1)))

	lastIndex := c.log.LastIndex()
	for peerID := range c.peers {
		c.nextIndex[peerID] = lastIndex + 1
		c.matchIndex[peerID] = 0
	}
	c.broadcastAppendEntries()
}

func (c *Coordinator) handleResult(res interface{}) {
	switch v := res.(type) {
	case *voteResult:
		c.handleVoteResult(v)
	case *appendResult:
		c.handleAppendResult(v)
	}
}

func (c *Coordinator) handleVoteResult(v *voteResult) {
	if v.err != nil {
		return
	}
	if stepped, err := c.state.ObserveTerm(v.resp.Term); err != nil {
		c.logger.Error("ObserveTerm: %v", err)
	} else if stepped {
		c.logger.LogStepDown(v.term, v.resp.Term)
		return
	}

	if v.term != c.votesForTerm {
		return // stale reply from an earlier election
	}
	if c.state.Snapshot().Role != Candidate {
		return
	}
	if v.resp.VoteGranted {
		c.votesGranted++
		c.tryBecomeLeader(v.term)
	}
}

func (c *Coordinator) handleAppendResult(v *appendResult) {
	if v.err != nil {
		c.logger.Debug("AppendEntries to %s failed: %v", v.peer, v.err)
		return
	}
	if stepped, err := c.state.ObserveTerm(v.resp.Term); err != nil {
		c.logger.Error("ObserveTerm: %v", err)
	} else if stepped {
		c.logger.LogStepDown(v.term, v.resp.Term)
		c.failAllPending(ErrNotLeader)
		return
	}

	snap := c.state.Snapshot()
	if snap.Role != Leader || snap.CurrentTerm != v.term {
		return
	}

	if v.resp.Success {
		if v.matchAttempt > c.matchIndex[v.peer] {
			c.matchIndex[v.peer] = v.matchAttempt
			c.nextIndex[v.peer] = v.matchAttempt + 1
		}
		c.advanceCatchup(v.peer)
		c.advanceCommit()
	} else {
		if c.nextIndex[v.peer] > 1 {
			c.nextIndex[v.peer]--
		}
		c.logger.LogReplicationBackoff(v.peer, c.nextIndex[v.peer])
	}
}

// advanceCommit implements §4.3.2's commit rule: find the largest M
// replicated to a majority of voting members, and commit it only if
// the entry at M belongs to the leader's current term (the Figure-8
// fix: never commit a majority-replicated entry from an earlier term
// on the strength of the current majority alone).
func (c *Coordinator) advanceCommit() {
	snap := c.state.Snapshot()
	if snap.Role != Leader {
		return
	}

	lastIndex := c.log.LastIndex()
	for m := lastIndex; m > snap.CommitIndex; m-- {
		count := 1 // self
		for peerID := range c.peers {
			if c.matchIndex[peerID] >= m {
				count++
			}
		}
		if count < majorityOf(len(c.peers)+1) {
			continue
		}
		entry, ok := c.log.EntryAt(m)
		if !ok {
			continue
		}
		if c.state.AdvanceLeaderCommit(entry.Term, m) {
			c.logger.LogCommitAdvance(m, entry.Term)
			c.applyUpTo(m)
		}
		return
	}
}

func (c *Coordinator) advanceCatchup(peer NodeID) {
	tracker, ok := c.catchup[peer]
	if !ok {
		return
	}
	switch tracker.AdvanceRound(c.matchIndex[peer], c.log.LastIndex()) {
	case catchupCaughtUp:
		c.promoteMember(peer)
	case catchupTimedOut:
		c.rejectMember(peer)
	case catchupInProgress:
		c.logger.LogCatchupRound(peer, tracker.Round(), false)
	}
}

func (c *Coordinator) promoteMember(peer NodeID) {
	pw, ok := c.nonVoting[peer]
	if !ok {
		return
	}
	pw.NonVoting = false
	c.peers[peer] = pw
	delete(c.nonVoting, peer)
	delete(c.catchup, peer)
	c.logger.LogMembershipChange(peer, true)

	if ch, ok := c.pendingMembership[peer]; ok {
		ch <- nil
		delete(c.pendingMembership, peer)
	}
	c.advanceCommit()
}

func (c *Coordinator) rejectMember(peer NodeID) {
	pw, ok := c.nonVoting[peer]
	if !ok {
		return
	}
	pw.Stop()
	delete(c.nonVoting, peer)
	delete(c.catchup, peer)
	delete(c.nextIndex, peer)
	delete(c.matchIndex, peer)
	c.logger.LogMembershipChange(peer, false)

	if ch, ok := c.pendingMembership[peer]; ok {
		ch <- fmt.Errorf("raft: member %s failed to catch up", peer)
		delete(c.pendingMembership, peer)
	}
}

// broadcastAppendEntries sends every voting and non-voting peer an
// AppendEntries shaped to what its nextIndex says it still needs
// (§4.3.2). An empty Entries slice doubles as a heartbeat.
func (c *Coordinator) broadcastAppendEntries() {
	snap := c.state.Snapshot()
	if snap.Role != Leader {
		return
	}

	send := func(peerID NodeID, pw *PeerWorker) {
		next := c.nextIndex[peerID]
		if next == 0 {
			next = 1
		}
		prevIndex := next - 1
		var prevTerm uint64
		if prevIndex > 0 {
			if e, ok := c.log.EntryAt(prevIndex); ok {
				prevTerm = e.Term
			}
		}
		pw.SendAppendEntries(&AppendEntriesRequest{
			Term:         snap.CurrentTerm,
			LeaderID:     c.id,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      c.log.RangeFrom(next),
			LeaderCommit: snap.CommitIndex,
		})
	}

	for peerID, pw := range c.peers {
		send(peerID, pw)
	}
	for peerID, pw := range c.nonVoting {
		send(peerID, pw)
	}
	c.logger.LogHeartbeatSent(snap.CurrentTerm, len(c.peers)+len(c.nonVoting))
}

// applyUpTo replays every committed-but-not-yet-applied entry through
// the state machine, in order, and wakes any client still waiting on
// one of those entries to land.
func (c *Coordinator) applyUpTo(commitIndex uint64) {
	for idx := c.lastApplied + 1; idx <= commitIndex; idx++ {
		entry, ok := c.log.EntryAt(idx)
		if !ok {
			break
		}
		if c.applier != nil {
			if err := c.applier.Apply(entry.Payload); err != nil {
				c.logger.Error("apply index %d: %v", idx, err)
			}
		}
		c.lastApplied = idx

		if p, ok := c.pending[idx]; ok {
			p.replyCh <- submitAck{index: idx, term: entry.Term, err: nil}
			delete(c.pending, idx)
		}
	}
}

func (c *Coordinator) handleSubmit(sub *submission) {
	snap := c.state.Snapshot()
	if snap.Role != Leader {
		sub.replyCh <- submitAck{err: &NotLeaderError{LeaderHint: snap.LeaderHint}}
		return
	}

	index := c.log.LastIndex() + 1
	entry := Entry{Index: index, Term: snap.CurrentTerm, Payload: sub.payload}
	if err := c.log.Append([]Entry{entry}); err != nil {
		sub.replyCh <- submitAck{err: err}
		return
	}
	c.pending[index] = &pendingEntry{term: snap.CurrentTerm, replyCh: sub.replyCh}
	c.broadcastAppendEntries()
}

func (c *Coordinator) handleAddMember(req *addMemberRequest) {
	snap := c.state.Snapshot()
	if snap.Role != Leader {
		req.replyCh <- &NotLeaderError{LeaderHint: snap.LeaderHint}
		return
	}
	if _, exists := c.peers[req.peer]; exists {
		req.replyCh <- nil
		return
	}
	if _, exists := c.nonVoting[req.peer]; exists {
		req.replyCh <- fmt.Errorf("raft: member %s is already catching up", req.peer)
		return
	}

	pw := NewPeerWorker(req.peer, req.address, c.transport, c.results)
	pw.NonVoting = true
	c.nonVoting[req.peer] = pw
	c.nextIndex[req.peer] = c.log.LastIndex() + 1
	c.matchIndex[req.peer] = 0
	c.catchup[req.peer] = NewCatchupTracker(req.peer, c.log.LastIndex())
	c.pendingMembership[req.peer] = req.replyCh

	c.broadcastAppendEntries()
}

// handleRemoveMember implements the leader side of single-server removal
// (§4.4's symmetric counterpart to add_server): a non-voting member still
// catching up is rejected outright rather than removed mid-round, since it
// was never part of the voting majority to begin with.
func (c *Coordinator) handleRemoveMember(req *removeMemberRequest) {
	snap := c.state.Snapshot()
	if snap.Role != Leader {
		req.replyCh <- &NotLeaderError{LeaderHint: snap.LeaderHint}
		return
	}
	if _, catchingUp := c.nonVoting[req.peer]; catchingUp {
		req.replyCh <- fmt.Errorf("raft: member %s is still catching up, not a voting member", req.peer)
		return
	}
	pw, exists := c.peers[req.peer]
	if !exists {
		req.replyCh <- nil
		return
	}

	pw.Stop()
	delete(c.peers, req.peer)
	delete(c.nextIndex, req.peer)
	delete(c.matchIndex, req.peer)
	c.logger.LogMembershipChange(req.peer, false)

	req.replyCh <- nil
	c.advanceCommit()
}

func (c *Coordinator) failAllPending(err error) {
	for idx, p := range c.pending {
		p.replyCh <- submitAck{err: err}
		delete(c.pending, idx)
	}
}

func (c *Coordinator) failAllMembership(err error) {
	for peer, ch := range c.pendingMembership {
		ch <- err
		delete(c.pendingMembership, peer)
	}
}

// Submit appends payload as a new log entry if this replica is
// currently leader, and blocks until that entry commits (or this
// replica stops being leader before it does). A follower rejects
// immediately with a NotLeaderError naming the last known leader,
// rather than queuing the write (the submission-rejection decision).
func (c *Coordinator) Submit(payload []byte) (index uint64, term uint64, err error) {
	replyCh := make(chan submitAck, 1)
	select {
	case c.submitCh <- &submission{payload: payload, replyCh: replyCh}:
	case <-c.stopCh:
		return 0, 0, ErrShutdown
	}
	ack := <-replyCh
	return ack.index, ack.term, ack.err
}

// AddMember starts replicating to a new cluster member as non-voting
// (§4.4) and blocks until it either catches up and is promoted to a
// voting member, or is rejected after exhausting its catch-up rounds.
func (c *Coordinator) AddMember(peer NodeID, address string) error {
	replyCh := make(chan error, 1)
	select {
	case c.addMemberCh <- &addMemberRequest{peer: peer, address: address, replyCh: replyCh}:
	case <-c.stopCh:
		return ErrShutdown
	}
	return <-replyCh
}

// RemoveMember stops replicating to and drops peer from the voting set
// (§4.4). Rejects with NotLeaderError if this replica isn't leader, and
// rejects a peer still in its catch-up rounds rather than removing it.
func (c *Coordinator) RemoveMember(peer NodeID) error {
	replyCh := make(chan error, 1)
	select {
	case c.removeMemberCh <- &removeMemberRequest{peer: peer, replyCh: replyCh}:
	case <-c.stopCh:
		return ErrShutdown
	}
	return <-replyCh
}
