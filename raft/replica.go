// Package raft implements the replication engine: leader election, log
// replication, commit advancement, and the state-machine application loop.
// Every replica is a single-threaded cooperative state machine -- there is
// no locking anywhere in this package: the event loop is the only place
// state is mutated, and it never yields mid-step.
package raft

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/quietloop/raftkv/common"
)

// Replica is one participant in the cluster. Construct with New, then call
// Run to drive its event loop. Every other method is meant to be called
// only from within Run, or, in tests, from a single-goroutine harness that
// plays the same role.
type Replica struct {
	state

	id        string
	peers     []string
	transport common.Transport
	clock     common.Clock
	rng       common.RandSource
	fsm       FSM

	log Log

	electionDeadline  time.Time
	heartbeatDeadline time.Time

	// onApply holds one-shot callbacks, keyed by log index, fired from
	// applyCommitted when that entry is applied. A test can register one
	// through OnApply to wait for a specific put to commit without
	// guessing at timing.
	onApply map[int64]func(LogEntry, string)
}

// Option configures a Replica at construction time.
type Option func(*Replica)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(c common.Clock) Option {
	return func(r *Replica) { r.clock = c }
}

// WithRandSource overrides the source of randomness used to jitter the
// election timeout, for deterministic tests.
func WithRandSource(s common.RandSource) Option {
	return func(r *Replica) { r.rng = s }
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type realRand struct{ r *rand.Rand }

func (rr realRand) Float64() float64 { return rr.r.Float64() }

// New constructs a Replica with the given id, the ids of every other
// replica in the cluster, the transport it should use, and the state
// machine committed entries are applied to.
func New(id string, peers []string, transport common.Transport, fsm FSM, opts ...Option) *Replica {
	r := &Replica{
		state:     newState(),
		id:        id,
		peers:     append([]string(nil), peers...),
		transport: transport,
		fsm:       fsm,
		clock:     realClock{},
		rng:       realRand{rand.New(rand.NewSource(time.Now().UnixNano() + int64(len(id))))},
		onApply:   make(map[int64]func(LogEntry, string)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.resetElectionTimer()
	return r
}

// ID returns this replica's identifier.
func (r *Replica) ID() string { return r.id }

// Role returns this replica's current role, for tests and logging.
func (r *Replica) Role() Role { return r.role }

// Term returns this replica's current term, for tests and logging.
func (r *Replica) Term() int64 { return r.term }

// CommitIndex returns this replica's commit index, for tests and logging.
func (r *Replica) CommitIndex() int64 { return r.commitIndex }

// LeaderID returns this replica's best-known leader id ("" if unknown).
func (r *Replica) LeaderID() string { return r.leaderID }

// quorum is the strict majority of the full replica set, including self:
// ⌈(N+1)/2⌉ where N is the full replica count, len(peers)+1.
func (r *Replica) quorum() int {
	total := len(r.peers) + 1
	return total/2 + 1
}

// Run drives the event loop until ctx is cancelled or the transport
// returns an error.
func (r *Replica) Run(ctx context.Context) error {
	log.Printf("%s: starting, peers=%v", r.id, r.peers)
	if err := r.transport.Send(common.Message{Src: r.id, Dst: common.Broadcast, Type: common.TypeHello}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		m, ok, err := r.transport.Recv(common.PollTimeout)
		if err != nil {
			return err
		}
		if ok {
			r.Step(m)
		}
		r.Tick()
	}
}

// Step dispatches a single received message. Exported so tests driving a
// mock bus can feed messages one at a time without going through Run's
// blocking Recv.
func (r *Replica) Step(m common.Message) {
	switch m.Type {
	case common.TypeRequestVote:
		r.handleRequestVote(m)
	case common.TypeVote:
		r.handleVote(m)
	case common.TypeAppendEntries:
		r.handleAppendEntries(m)
	case common.TypeAppendResponse:
		r.handleAppendResponse(m)
	case common.TypeGet:
		r.handleGet(m)
	case common.TypePut:
		r.handlePut(m)
	default:
		log.Printf("%s: dropping message of type %q from %s", r.id, m.Type, m.Src)
	}
}

// Tick fires any deadline-driven work -- election timeout, heartbeat
// emission, vote-request resends -- and then advances the state machine.
// Exported so tests can advance a fake clock and call Tick directly
// instead of running the full event loop.
func (r *Replica) Tick() {
	now := r.clock.Now()
	if r.role == Leader {
		if !now.Before(r.heartbeatDeadline) {
			r.sendHeartbeats()
		}
	} else if !now.Before(r.electionDeadline) {
		r.startElection()
	}
	if r.role == Candidate && !now.Before(r.heartbeatDeadline) {
		r.resendVoteRequests()
	}
	r.applyCommitted()
}

func (r *Replica) resetElectionTimer() {
	now := r.clock.Now()
	jitter := time.Duration(r.rng.Float64() * float64(common.ElectionTimeoutBase))
	r.electionDeadline = now.Add(common.ElectionTimeoutBase + jitter)
}

func (r *Replica) send(dst string, m common.Message) {
	m.Src = r.id
	m.Dst = dst
	m.Leader = r.leaderID
	if err := r.transport.Send(m); err != nil {
		log.Printf("%s: send to %s failed: %v", r.id, dst, err)
	}
}

func (r *Replica) reply(dst string, m common.Message) {
	r.send(dst, m)
}

func (r *Replica) broadcast(m common.Message) {
	r.send(common.Broadcast, m)
}
