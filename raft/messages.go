// raft/messages.go
package raft

// These are the core's internal representation of the two RPCs (§6).
// The transport layer (raft/transport.go, raft/rpc_client.go,
// raft/rpc_server.go) converts between these and the wire types in
// proto/.

// AppendEntriesRequest is used for both heartbeats (Entries == nil) and
// log replication.
type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     NodeID
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	LeaderCommit uint64
}

// AppendEntriesResponse is the reply to AppendEntries.
type AppendEntriesResponse struct {
	Term    uint64
	Success bool
}

// RequestVoteRequest is the RequestVote RPC request.
type RequestVoteRequest struct {
	Term         uint64
	CandidateID  NodeID
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteResponse is the reply to RequestVote.
type RequestVoteResponse struct {
	Term        uint64
	VoteGranted bool
}
