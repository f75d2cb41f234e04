// raft/membership.go
package raft

import "time"

// MaxCatchupRounds bounds how many replication rounds a non-voting
// member gets to close the gap with the leader's log before it is
// rejected (§4.4, grounded on the original's MAX_ROUNDS_FOR_NEW_SERVER).
const MaxCatchupRounds = 10

// CatchupRoundTimeout is the per-round budget: a round that takes
// longer than this to reach the leader's last index at round-start
// counts as a failed round, not a hang.
const CatchupRoundTimeout = 500 * time.Millisecond

// catchupOutcome is what AdvanceRound reports after observing a new
// matchIndex for a non-voting member.
type catchupOutcome int

const (
	catchupInProgress catchupOutcome = iota
	catchupCaughtUp
	catchupTimedOut
)

// CatchupTracker drives one non-voting member's promotion decision. Each
// round has a target, the leader's last index when the round began; the
// member is caught up as soon as its matchIndex reaches that target. A
// round that has not reached it within CatchupRoundTimeout of wall-clock
// time ends, and the next round starts with the leader's then-current
// last index as its target; after MaxCatchupRounds such rounds the
// member is rejected.
type CatchupTracker struct {
	peer NodeID

	round          int
	roundStart     time.Time
	targetAtRound  uint64 // leader's last index when this round began
}

// NewCatchupTracker starts tracking peer, with leaderLastIndex as the
// target for round 1.
func NewCatchupTracker(peer NodeID, leaderLastIndex uint64) *CatchupTracker {
	return &CatchupTracker{
		peer:          peer,
		round:         1,
		roundStart:    time.Now(),
		targetAtRound: leaderLastIndex,
	}
}

// AdvanceRound is called on every successful AppendEntries reply from
// the member, whether or not its matchIndex changed.
// leaderLastIndex is the leader's current last log index, used as the
// next round's target if this one isn't finished yet.
func (c *CatchupTracker) AdvanceRound(matchIndex, leaderLastIndex uint64) catchupOutcome {
	if matchIndex >= c.targetAtRound {
		return catchupCaughtUp
	}
	if time.Since(c.roundStart) <= CatchupRoundTimeout {
		return catchupInProgress
	}

	// Round expired without reaching its target: start the next round,
	// or give up if we're out of rounds.
	c.round++
	if c.round > MaxCatchupRounds {
		return catchupTimedOut
	}
	c.roundStart = time.Now()
	c.targetAtRound = leaderLastIndex
	return catchupInProgress
}

// Round reports the current round number, for logging.
func (c *CatchupTracker) Round() int { return c.round }
