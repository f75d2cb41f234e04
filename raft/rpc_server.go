// raft/rpc_server.go
package raft

import (
	"context"
	"net"

	pb "kvstore/proto"

	"google.golang.org/grpc"
)

// GRPCServer exposes a RpcHandlers over gRPC, converting between the
// wire types in proto/ and the core's internal message shapes.
type GRPCServer struct {
	pb.UnimplementedRaftServer
	handlers *RpcHandlers
	server   *grpc.Server
	listener net.Listener
	logger   *Logger
}

// NewGRPCServer wraps handlers for serving over address.
func NewGRPCServer(handlers *RpcHandlers, logger *Logger) *GRPCServer {
	return &GRPCServer{handlers: handlers, logger: logger}
}

// Start binds address and serves in the background.
func (s *GRPCServer) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = lis

	s.server = grpc.NewServer()
	pb.RegisterRaftServer(s.server, s)

	go func() {
		if err := s.server.Serve(lis); err != nil {
			s.logger.Error("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *GRPCServer) Stop() {
	if s.server != nil {
		s.server.GracefulStop()
	}
}

// RequestVote implements pb.RaftServer.
func (s *GRPCServer) RequestVote(ctx context.Context, req *pb.RequestVoteRequest) (*pb.RequestVoteResponse, error) {
	resp := s.handlers.HandleRequestVote(&RequestVoteRequest{
		Term:         req.Term,
		CandidateID:  req.CandidateId,
		LastLogIndex: req.LastLogIndex,
		LastLogTerm:  req.LastLogTerm,
	})
	return &pb.RequestVoteResponse{Term: resp.Term, VoteGranted: resp.VoteGranted}, nil
}

// AppendEntries implements pb.RaftServer.
func (s *GRPCServer) AppendEntries(ctx context.Context, req *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error) {
	entries := make([]Entry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = Entry{Index: e.Index, Term: e.Term, Payload: e.Data}
	}

	resp := s.handlers.HandleAppendEntries(&AppendEntriesRequest{
		Term:         req.Term,
		LeaderID:     req.LeaderId,
		PrevLogIndex: req.PrevLogIndex,
		PrevLogTerm:  req.PrevLogTerm,
		Entries:      entries,
		LeaderCommit: req.LeaderCommit,
	})
	return &pb.AppendEntriesResponse{Term: resp.Term, Success: resp.Success}, nil
}
