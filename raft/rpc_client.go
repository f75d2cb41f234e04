// raft/rpc_client.go
package raft

import (
	"context"
	"sync"
	"time"

	pb "kvstore/proto"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCTransport implements Transport over gRPC, caching one connection
// per peer address (mirrors cluster/cluster_client.go's connection-pool
// pattern). It is the Transport a PeerWorker is built against outside
// of tests.
type GRPCTransport struct {
	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	timeout time.Duration
}

// NewGRPCTransport returns a Transport that dials peers lazily and
// reuses the connection across calls.
func NewGRPCTransport(rpcTimeout time.Duration) *GRPCTransport {
	return &GRPCTransport{
		conns:   make(map[string]*grpc.ClientConn),
		timeout: rpcTimeout,
	}
}

func (t *GRPCTransport) getConn(address string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[address]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	t.conns[address] = conn
	return conn, nil
}

// RequestVote implements Transport.
func (t *GRPCTransport) RequestVote(ctx context.Context, address string, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	conn, err := t.getConn(address)
	if err != nil {
		return nil, err
	}
	client := pb.NewRaftClient(conn)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := client.RequestVote(ctx, &pb.RequestVoteRequest{
		Term:         req.Term,
		CandidateId:  req.CandidateID,
		LastLogIndex: req.LastLogIndex,
		LastLogTerm:  req.LastLogTerm,
	})
	if err != nil {
		return nil, err
	}
	return &RequestVoteResponse{Term: resp.Term, VoteGranted: resp.VoteGranted}, nil
}

// AppendEntries implements Transport.
func (t *GRPCTransport) AppendEntries(ctx context.Context, address string, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	conn, err := t.getConn(address)
	if err != nil {
		return nil, err
	}
	client := pb.NewRaftClient(conn)

	wireEntries := make([]*pb.Entry, len(req.Entries))
	for i, e := range req.Entries {
		wireEntries[i] = &pb.Entry{Index: e.Index, Term: e.Term, Data: e.Payload}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := client.AppendEntries(ctx, &pb.AppendEntriesRequest{
		Term:         req.Term,
		LeaderId:     req.LeaderID,
		PrevLogIndex: req.PrevLogIndex,
		PrevLogTerm:  req.PrevLogTerm,
		Entries:      wireEntries,
		LeaderCommit: req.LeaderCommit,
	})
	if err != nil {
		return nil, err
	}
	return &AppendEntriesResponse{Term: resp.Term, Success: resp.Success}, nil
}

// Close tears down every cached connection.
func (t *GRPCTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.conns {
		conn.Close()
	}
}
