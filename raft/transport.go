// raft/transport.go
package raft

import "context"

// Transport is the RPC facility the core assumes (§1: "the core assumes
// a request/reply facility that can serialize the two message shapes
// ... and return either a well-formed reply or a transient failure").
// It is the one external collaborator named in §1 that a PeerWorker
// drives; it is never called from the Coordinator directly.
type Transport interface {
	RequestVote(ctx context.Context, address string, req *RequestVoteRequest) (*RequestVoteResponse, error)
	AppendEntries(ctx context.Context, address string, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
}
