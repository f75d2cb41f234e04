// raft/rpc_handlers.go
package raft

// RpcHandlers answers the two inbound RPCs a replica exposes to its
// peers (§4.5). It is transport-agnostic: GRPCServer and FakeTransport
// both drive it the same way.
type RpcHandlers struct {
	state  *ReplicaState
	log    Log
	logger *Logger
}

// NewRpcHandlers builds the handler set for one replica.
func NewRpcHandlers(state *ReplicaState, log Log, logger *Logger) *RpcHandlers {
	return &RpcHandlers{state: state, log: log, logger: logger}
}

// HandleRequestVote implements §4.5(3): reject stale terms, step down on
// a higher term before evaluating anything else, then grant iff we
// haven't already voted for someone else this term and the candidate's
// log is at least as up to date as ours.
func (h *RpcHandlers) HandleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	if _, err := h.state.ObserveTerm(req.Term); err != nil {
		h.logger.Error("ObserveTerm during RequestVote: %v", err)
	}

	// The Log is read on its own, with no ReplicaState lock held, and
	// TryGrantVote then takes the ReplicaState lock alone; the two locks
	// are never held together here.
	upToDate := h.log.OtherIsAtLeastAsUpToDate(req.LastLogIndex, req.LastLogTerm)

	granted, currentTerm, err := h.state.TryGrantVote(req.Term, req.CandidateID, upToDate)
	if err != nil {
		h.logger.Error("TryGrantVote: %v", err)
	}

	if granted {
		h.logger.LogVoteGranted(req.CandidateID, req.Term)
	} else {
		h.logger.LogVoteDenied(req.CandidateID, req.Term, "stale term, already voted, or stale log")
	}

	return &RequestVoteResponse{Term: currentTerm, VoteGranted: granted}
}

// HandleAppendEntries implements §4.5(4)-(5): reject stale terms, step
// down on a higher term, reject on log mismatch at prevIndex/prevTerm,
// otherwise truncate-and-append and advance commit_index, re-checking
// current_term after the append since the lock was released for it.
func (h *RpcHandlers) HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	snap := h.state.Snapshot()
	if req.Term < snap.CurrentTerm {
		return &AppendEntriesResponse{Term: snap.CurrentTerm, Success: false}
	}

	if _, err := h.state.ObserveTerm(req.Term); err != nil {
		h.logger.Error("ObserveTerm during AppendEntries: %v", err)
	}

	// Same-term leader wins (§4.5(2)): ObserveTerm only steps down on a
	// strictly greater term, so a Candidate that hears from the
	// legitimate leader of its own current term would otherwise stay
	// Candidate until its own election timer lapses and disrupts a
	// healthy leader.
	if snap.Role == Candidate && req.Term == snap.CurrentTerm {
		if err := h.state.ToFollower(req.Term); err != nil {
			h.logger.Error("ToFollower (same-term candidate yields to leader): %v", err)
		}
	}

	h.state.RecordLeaderContact(req.LeaderID)

	if len(req.Entries) == 0 {
		h.logger.LogHeartbeatReceived(req.LeaderID, req.Term)
	} else {
		h.logger.LogAppendEntries(req.LeaderID, req.Term, req.PrevLogIndex, len(req.Entries))
	}

	acceptedTerm := h.state.Snapshot().CurrentTerm

	if err := h.log.AppendWithTruncate(req.PrevLogIndex, req.PrevLogTerm, req.Entries); err != nil {
		return &AppendEntriesResponse{Term: acceptedTerm, Success: false}
	}

	h.state.ApplyLeaderCommitIfTermMatches(acceptedTerm, req.LeaderCommit, h.log.LastIndex())

	return &AppendEntriesResponse{Term: acceptedTerm, Success: true}
}
