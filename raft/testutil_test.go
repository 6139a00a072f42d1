package raft

import (
	"time"

	"github.com/quietloop/raftkv/common"
	"github.com/quietloop/raftkv/kvstore"
	"github.com/quietloop/raftkv/simbus"
)

// fakeClock is a manually-advanced clock, so election/heartbeat timing
// can be driven deterministically instead of sleeping real wall time.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fixedRand always returns the same jitter draw, so a test can make one
// replica's election timeout shorter than another's deterministically.
type fixedRand struct{ v float64 }

func (f fixedRand) Float64() float64 { return f.v }

// endpoint pairs a common.Transport implementation with the ability to
// drain it without blocking.
type endpoint interface {
	common.Transport
	TryRecv() (common.Message, bool)
}

// cluster wires n replicas to a shared mock bus and lets a test drive
// simulated time forward deterministically.
type cluster struct {
	ids       []string
	replicas  []*Replica
	clocks    []*fakeClock
	endpoints []endpoint
	bus       *simbus.Bus
	paused    map[int]bool
}

// newCluster builds n replicas named "r0".."r(n-1)". jitter[i] fixes
// replica i's election-timeout draw (in [0,1)); pass nil for real
// randomness-free determinism with all replicas equal (useful for
// split-vote tests), or distinct values to make one replica win races.
func newCluster(n int, jitter []float64) *cluster {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "r" + string(rune('0'+i))
	}
	bus := simbus.New()
	c := &cluster{ids: ids, bus: bus, paused: make(map[int]bool)}
	for i, id := range ids {
		peers := make([]string, 0, n-1)
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		ep := bus.Join(id)
		clk := newFakeClock()
		j := 0.0
		if jitter != nil {
			j = jitter[i]
		}
		r := New(id, peers, ep, kvstore.New(), WithClock(clk), WithRandSource(fixedRand{j}))
		c.replicas = append(c.replicas, r)
		c.clocks = append(c.clocks, clk)
		c.endpoints = append(c.endpoints, ep)
	}
	return c
}

// advance moves simulated time forward by total in step-sized increments,
// draining and dispatching pending messages and firing timers for every
// replica on each increment. This is the deterministic stand-in for
// Replica.Run's blocking event loop.
func (c *cluster) advance(total, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		for i, r := range c.replicas {
			if c.paused[i] {
				continue
			}
			for {
				m, ok := c.endpoints[i].TryRecv()
				if !ok {
					break
				}
				r.Step(m)
			}
			c.clocks[i].Advance(step)
			r.Tick()
		}
	}
}

func (c *cluster) leaders() map[int64][]string {
	out := make(map[int64][]string)
	for _, r := range c.replicas {
		if r.Role() == Leader {
			out[r.Term()] = append(out[r.Term()], r.ID())
		}
	}
	return out
}

// voteGrantCounter wraps a common.Transport and counts outgoing positive
// vote replies, so a test can assert vote-uniqueness without inspecting
// the bus directly.
type voteGrantCounter struct {
	common.Transport
	grants *int
}

func (v *voteGrantCounter) Send(m common.Message) error {
	if m.Type == common.TypeVote && m.ShouldVote {
		*v.grants++
	}
	return v.Transport.Send(m)
}

// requestVoteFrom builds a request_rpc message as if received from src.
func requestVoteFrom(src string, term, logLength int64) common.Message {
	return common.Message{Src: src, Type: common.TypeRequestVote, Term: term, LogLength: logLength}
}

func (c *cluster) pause(id string) {
	for i, rid := range c.ids {
		if rid == id {
			c.paused[i] = true
		}
	}
}

func (c *cluster) byID(id string) *Replica {
	for _, r := range c.replicas {
		if r.ID() == id {
			return r
		}
	}
	return nil
}
