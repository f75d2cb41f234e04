// raft/applier.go
package raft

import (
	"encoding/json"
	"fmt"

	"kvstore/storage"
)

// StateMachine applies committed log entries in order. The core never
// applies an entry itself (§1's "state machine applied to committed
// entries" boundary): it only tracks commit_index and hands committed
// payloads to whatever StateMachine the process was wired with.
type StateMachine interface {
	Apply(payload []byte) error
}

// StoreApplier adapts storage.Store to StateMachine, decoding each
// payload as the Command envelope written by the client submission
// path and replaying it against the durable key/value store.
type StoreApplier struct {
	store *storage.Store
}

// NewStoreApplier wraps store for use as a replica's state machine.
func NewStoreApplier(store *storage.Store) *StoreApplier {
	return &StoreApplier{store: store}
}

// Apply decodes payload and replays it against the store. Re-applying
// the same committed entry after a crash recovery must be safe: Put and
// Delete are themselves idempotent, so no additional bookkeeping is
// needed here beyond the leader/follower lastApplied tracking in
// Coordinator.
func (a *StoreApplier) Apply(payload []byte) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("raft: decode committed command: %w", err)
	}

	switch cmd.Type {
	case "PUT":
		return a.store.Put(cmd.Key, cmd.Value)
	case "DELETE":
		return a.store.Delete(cmd.Key)
	default:
		return fmt.Errorf("raft: unknown command type %q", cmd.Type)
	}
}

// EncodeCommand serializes a Command the way a client submission and
// the Applier above must agree on.
func EncodeCommand(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}
