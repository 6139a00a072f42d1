package common

import "time"

// Transport abstracts the single shared datagram endpoint a replica
// listens and sends on. The spec requires every replica -- and every
// client -- to multiplex through one simulator socket keyed by the
// message's dst field, so there is no notion of "connecting to a peer"
// the way a point-to-point RPC transport would have: Send always hands
// the message to the simulator, which does the routing.
//
// Two implementations exist: transport.UDP talks to the real simulator
// over a UDP socket, and the raft package's test files wire several
// replicas to an in-memory mock bus implementing the same interface.
type Transport interface {
	// Send encodes and hands a message to the simulator.
	Send(m Message) error
	// Recv blocks for up to timeout waiting for one datagram. ok is
	// false (with a nil error) on a plain timeout.
	Recv(timeout time.Duration) (m Message, ok bool, err error)
	// Close releases the underlying socket.
	Close() error
}

// Clock abstracts wall-clock time so election/heartbeat deadlines can be
// driven deterministically in tests without sleeping.
type Clock interface {
	Now() time.Time
}

// RandSource abstracts the randomized election timeout draw.
type RandSource interface {
	// Float64 returns a value in [0, 1), same contract as math/rand.Float64.
	Float64() float64
}
