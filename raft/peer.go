// raft/peer.go
package raft

import "context"

// voteResult is what a PeerWorker reports back after a RequestVote
// round-trip.
type voteResult struct {
	peer NodeID
	term uint64 // the term this request was sent for
	resp *RequestVoteResponse
	err  error
}

// appendResult is what a PeerWorker reports back after an AppendEntries
// round-trip. matchAttempt is the highest index the leader asked this
// peer to accept, used to advance matchIndex/nextIndex on success.
type appendResult struct {
	peer         NodeID
	term         uint64
	matchAttempt uint64
	resp         *AppendEntriesResponse
	err          error
}

// PeerWorker owns the one goroutine through which this replica talks to
// a single peer (§1: "one goroutine per remote peer, communicating with
// the core only through typed channels"). Its AppendEntries outbox has
// depth one: a
// newer heartbeat or replication attempt replaces whatever the worker
// hasn't gotten to yet, so a slow peer never backs up an unbounded
// queue of stale AppendEntries (see the outbox sizing decision).
type PeerWorker struct {
	id        NodeID
	address   string
	transport Transport

	appendOutbox chan *AppendEntriesRequest
	voteOutbox   chan *RequestVoteRequest
	results      chan<- interface{} // either *voteResult or *appendResult
	stopCh       chan struct{}

	// NonVoting marks a member still in its catch-up window (§4.4): it
	// receives AppendEntries like any peer but does not count toward
	// majorities until membership promotes it.
	NonVoting bool
}

// NewPeerWorker starts the worker goroutine and returns a handle to it.
// results is the Coordinator's single shared results channel; every
// PeerWorker writes into it so commit/term logic stays centralized
// under one goroutine.
func NewPeerWorker(id NodeID, address string, transport Transport, results chan<- interface{}) *PeerWorker {
	p := &PeerWorker{
		id:           id,
		address:      address,
		transport:    transport,
		appendOutbox: make(chan *AppendEntriesRequest, 1),
		voteOutbox:   make(chan *RequestVoteRequest, 4),
		results:      results,
		stopCh:       make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *PeerWorker) run() {
	for {
		select {
		case <-p.stopCh:
			return
		case req := <-p.voteOutbox:
			resp, err := p.transport.RequestVote(context.Background(), p.address, req)
			select {
			case p.results <- &voteResult{peer: p.id, term: req.Term, resp: resp, err: err}:
			case <-p.stopCh:
				return
			}
		case req := <-p.appendOutbox:
			resp, err := p.transport.AppendEntries(context.Background(), p.address, req)
			matchAttempt := req.PrevLogIndex + uint64(len(req.Entries))
			select {
			case p.results <- &appendResult{peer: p.id, term: req.Term, matchAttempt: matchAttempt, resp: resp, err: err}:
			case <-p.stopCh:
				return
			}
		}
	}
}

// SendRequestVote enqueues a RequestVote RPC. Buffered (depth 4) and
// best-effort: when the buffer is full the request is dropped without
// an error, and the next election timeout retries.
func (p *PeerWorker) SendRequestVote(req *RequestVoteRequest) {
	select {
	case p.voteOutbox <- req:
	default:
	}
}

// SendAppendEntries enqueues an AppendEntries RPC, replacing whatever
// request this worker hasn't yet sent (the worker is still busy with an
// older round-trip).
func (p *PeerWorker) SendAppendEntries(req *AppendEntriesRequest) {
	select {
	case p.appendOutbox <- req:
	default:
		select {
		case <-p.appendOutbox:
		default:
		}
		select {
		case p.appendOutbox <- req:
		default:
		}
	}
}

// Stop terminates the worker goroutine.
func (p *PeerWorker) Stop() {
	close(p.stopCh)
}
