package raft

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type testReplica struct {
	id          NodeID
	address     string
	state       *ReplicaState
	log         *InMemoryLog
	coordinator *Coordinator
	cancel      context.CancelFunc
}

// newTestCluster wires n replicas over a FakeTransport, all addressed
// by their node id, with short election timeouts so tests converge
// quickly (mirrors the teacher's old createTestCluster helper).
func newTestCluster(t *testing.T, n int) ([]*testReplica, *FakeTransport) {
	t.Helper()

	transport := NewFakeTransport()
	ids := make([]NodeID, n)
	for i := 0; i < n; i++ {
		ids[i] = NodeID(fmt.Sprintf("node%d", i))
	}

	replicas := make([]*testReplica, n)
	for i, id := range ids {
		log := NewInMemoryLog()
		state := NewReplicaState(id, 30*time.Millisecond, 60*time.Millisecond, log)
		logger := NewLogger(id, ERROR)

		peerAddrs := make(map[NodeID]string)
		for _, other := range ids {
			if other != id {
				peerAddrs[other] = other
			}
		}

		coordinator := NewCoordinator(id, state, log, transport, nil, logger, peerAddrs, 15*time.Millisecond)
		handlers := NewRpcHandlers(state, log, logger)
		transport.Register(id, handlers)

		replicas[i] = &testReplica{id: id, address: id, state: state, log: log, coordinator: coordinator}
	}
	return replicas, transport
}

func startCluster(replicas []*testReplica) {
	for _, r := range replicas {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		go r.coordinator.Run(ctx)
	}
}

func stopCluster(replicas []*testReplica) {
	for _, r := range replicas {
		r.cancel()
		r.coordinator.Stop()
	}
}

func countLeaders(replicas []*testReplica) int {
	n := 0
	for _, r := range replicas {
		if r.state.Snapshot().Role == Leader {
			n++
		}
	}
	return n
}

func findLeader(replicas []*testReplica) *testReplica {
	for _, r := range replicas {
		if r.state.Snapshot().Role == Leader {
			return r
		}
	}
	return nil
}

func TestSingleNodeClusterBecomesLeader(t *testing.T) {
	replicas, _ := newTestCluster(t, 1)
	startCluster(replicas)
	defer stopCluster(replicas)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if countLeaders(replicas) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("single node never became leader")
}

func TestThreeNodeClusterElectsExactlyOneLeader(t *testing.T) {
	replicas, _ := newTestCluster(t, 3)
	startCluster(replicas)
	defer stopCluster(replicas)

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if countLeaders(replicas) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected exactly one leader, got %d", countLeaders(replicas))
}

func TestSubmitReplicatesAndCommitsAcrossCluster(t *testing.T) {
	replicas, _ := newTestCluster(t, 3)
	startCluster(replicas)
	defer stopCluster(replicas)

	var leader *testReplica
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if leader = findLeader(replicas); leader != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if leader == nil {
		t.Fatal("no leader elected")
	}

	index, term, err := leader.coordinator.Submit([]byte("hello"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if index == 0 || term == 0 {
		t.Fatalf("unexpected ack: index=%d term=%d", index, term)
	}

	deadline = time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		allCommitted := true
		for _, r := range replicas {
			if r.state.Snapshot().CommitIndex < index {
				allCommitted = false
			}
		}
		if allCommitted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("entry never committed on all replicas")
}

func TestFollowerRejectsSubmitWithNotLeaderError(t *testing.T) {
	replicas, _ := newTestCluster(t, 3)
	startCluster(replicas)
	defer stopCluster(replicas)

	var leader *testReplica
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if leader = findLeader(replicas); leader != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if leader == nil {
		t.Fatal("no leader elected")
	}

	var follower *testReplica
	for _, r := range replicas {
		if r.id != leader.id {
			follower = r
			break
		}
	}

	_, _, err := follower.coordinator.Submit([]byte("nope"))
	if err == nil {
		t.Fatal("expected follower to reject Submit")
	}
	var nle *NotLeaderError
	if ok := asNotLeaderError(err, &nle); !ok {
		t.Fatalf("expected NotLeaderError, got %v", err)
	}
}

func asNotLeaderError(err error, target **NotLeaderError) bool {
	nle, ok := err.(*NotLeaderError)
	if ok {
		*target = nle
	}
	return ok
}

func TestAddMemberPromotesCatchupNodeToVoter(t *testing.T) {
	replicas, transport := newTestCluster(t, 3)
	startCluster(replicas)
	defer stopCluster(replicas)

	var leader *testReplica
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if leader = findLeader(replicas); leader != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if leader == nil {
		t.Fatal("no leader elected")
	}

	if _, _, err := leader.coordinator.Submit([]byte("before-join")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	newID := NodeID("node3")
	newLog := NewInMemoryLog()
	newState := NewReplicaState(newID, 30*time.Millisecond, 60*time.Millisecond, newLog)
	newLogger := NewLogger(newID, ERROR)
	transport.Register(newID, NewRpcHandlers(newState, newLog, newLogger))

	if err := leader.coordinator.AddMember(newID, newID); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	if newLog.LastIndex() == 0 {
		t.Fatal("expected the new member's log to have replicated at least one entry")
	}
}

func TestRemoveMemberDropsVotingPeer(t *testing.T) {
	replicas, _ := newTestCluster(t, 3)
	startCluster(replicas)
	defer stopCluster(replicas)

	var leader *testReplica
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if leader = findLeader(replicas); leader != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if leader == nil {
		t.Fatal("no leader elected")
	}

	var target NodeID
	for _, r := range replicas {
		if r.id != leader.id {
			target = r.id
			break
		}
	}

	if err := leader.coordinator.RemoveMember(target); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if _, exists := leader.coordinator.peers[target]; exists {
		t.Fatalf("expected %s to be removed from the voting set", target)
	}

	if _, _, err := leader.coordinator.Submit([]byte("after-removal")); err != nil {
		t.Fatalf("Submit after removal: %v", err)
	}
}

func TestRemoveMemberTreatsUnknownPeerAsNoop(t *testing.T) {
	replicas, _ := newTestCluster(t, 1)
	startCluster(replicas)
	defer stopCluster(replicas)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && countLeaders(replicas) != 1 {
		time.Sleep(5 * time.Millisecond)
	}

	if err := replicas[0].coordinator.RemoveMember("ghost"); err != nil {
		t.Fatalf("expected removing a never-known peer to be a no-op, got %v", err)
	}
}
