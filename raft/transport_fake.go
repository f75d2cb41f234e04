// raft/transport_fake.go
package raft

import (
	"context"
	"errors"
	"sync"
)

// ErrPeerUnreachable is returned by FakeTransport for an address that
// is partitioned away or was never registered.
var ErrPeerUnreachable = errors.New("raft: peer unreachable")

// FakeTransport is an in-process Transport that dispatches directly to
// RpcHandlers registered by address, for tests that exercise several
// replicas in one process without any real networking (mirrors
// election_test.go's MockStateMachine test-double style). Every RPC sent
// to a partitioned address fails at once with ErrPeerUnreachable; RPCs
// that the partitioned replica itself sends to others are not blocked.
type FakeTransport struct {
	mu          sync.Mutex
	handlers    map[string]*RpcHandlers
	partitioned map[string]bool
}

// NewFakeTransport returns an empty FakeTransport; register replicas
// with Register before wiring up Coordinators against it.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		handlers:    make(map[string]*RpcHandlers),
		partitioned: make(map[string]bool),
	}
}

// Register makes address resolve to handlers.
func (t *FakeTransport) Register(address string, handlers *RpcHandlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[address] = handlers
}

// SetPartitioned toggles whether address is reachable, for injecting
// network partitions into a test.
func (t *FakeTransport) SetPartitioned(address string, partitioned bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partitioned[address] = partitioned
}

func (t *FakeTransport) lookup(address string) (*RpcHandlers, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.partitioned[address] {
		return nil, ErrPeerUnreachable
	}
	h, ok := t.handlers[address]
	if !ok {
		return nil, ErrPeerUnreachable
	}
	return h, nil
}

// RequestVote implements Transport.
func (t *FakeTransport) RequestVote(ctx context.Context, address string, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	h, err := t.lookup(address)
	if err != nil {
		return nil, err
	}
	return h.HandleRequestVote(req), nil
}

// AppendEntries implements Transport.
func (t *FakeTransport) AppendEntries(ctx context.Context, address string, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	h, err := t.lookup(address)
	if err != nil {
		return nil, err
	}
	return h.HandleAppendEntries(req), nil
}
