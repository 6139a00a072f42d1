package raft

import (
	"testing"
	"time"

	"github.com/quietloop/raftkv/common"
	"github.com/quietloop/raftkv/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test_PutGetRoundTrip checks that a put committed on the leader is
// visible to a subsequent get on the same leader.
func Test_PutGetRoundTrip(t *testing.T) {
	c := newCluster(5, []float64{0, 0.9, 0.9, 0.9, 0.9})
	c.advance(1*time.Second, 5*time.Millisecond)
	leader := c.byID("r0")
	require.Equal(t, Leader, leader.Role())

	bus := c.bus
	clientEP := bus.Join("client")

	require.NoError(t, clientEP.Send(common.Message{Src: "client", Dst: "r0", Type: common.TypePut, Key: "x", Value: "1", MID: "m1"}))
	c.advance(500*time.Millisecond, 5*time.Millisecond)

	resp, ok, err := clientEP.Recv(10 * time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok, "expected an ok for the put")
	assert.Equal(t, common.TypeOK, resp.Type)
	assert.Equal(t, "m1", resp.MID)

	require.NoError(t, clientEP.Send(common.Message{Src: "client", Dst: "r0", Type: common.TypeGet, Key: "x", MID: "m2"}))
	c.advance(200*time.Millisecond, 5*time.Millisecond)

	resp2, ok2, err2 := clientEP.Recv(10 * time.Millisecond)
	require.NoError(t, err2)
	require.True(t, ok2)
	assert.Equal(t, common.TypeOK, resp2.Type)
	assert.Equal(t, "m2", resp2.MID)
	assert.Equal(t, "1", resp2.Value)
}

// Test_Redirect checks that a put sent to a follower is redirected to the
// known leader.
func Test_Redirect(t *testing.T) {
	c := newCluster(5, []float64{0, 0.9, 0.9, 0.9, 0.9})
	c.advance(1*time.Second, 5*time.Millisecond)
	require.Equal(t, Leader, c.byID("r0").Role())

	clientEP := c.bus.Join("client")
	require.NoError(t, clientEP.Send(common.Message{Src: "client", Dst: "r1", Type: common.TypePut, Key: "y", Value: "2", MID: "m3"}))
	c.advance(50*time.Millisecond, 5*time.Millisecond)

	resp, ok, err := clientEP.Recv(10 * time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, common.TypeRedirect, resp.Type)
	assert.Equal(t, "m3", resp.MID)
	assert.Equal(t, "r0", resp.Leader)
}

// Test_LeaderFailover checks that after the leader is paused, a new
// leader is elected at a higher term and serves previously committed
// data.
func Test_LeaderFailover(t *testing.T) {
	c := newCluster(5, []float64{0, 0.9, 0.9, 0.9, 0.9})
	c.advance(1*time.Second, 5*time.Millisecond)
	leader := c.byID("r0")
	require.Equal(t, Leader, leader.Role())

	clientEP := c.bus.Join("client")
	require.NoError(t, clientEP.Send(common.Message{Src: "client", Dst: "r0", Type: common.TypePut, Key: "x", Value: "1", MID: "m1"}))
	c.advance(300*time.Millisecond, 5*time.Millisecond)
	resp, ok, _ := clientEP.Recv(10 * time.Millisecond)
	require.True(t, ok)
	require.Equal(t, common.TypeOK, resp.Type)
	oldTerm := leader.Term()

	c.pause("r0")
	c.advance(3*time.Second, 5*time.Millisecond)

	var newLeader *Replica
	for _, r := range c.replicas {
		if r.ID() != "r0" && r.Role() == Leader {
			newLeader = r
		}
	}
	require.NotNil(t, newLeader, "expected a new leader to be elected")
	assert.Greater(t, newLeader.Term(), oldTerm)

	require.NoError(t, clientEP.Send(common.Message{Src: "client", Dst: newLeader.ID(), Type: common.TypeGet, Key: "x", MID: "m2"}))
	c.advance(50*time.Millisecond, 5*time.Millisecond)
	resp2, ok2, _ := clientEP.Recv(10 * time.Millisecond)
	require.True(t, ok2)
	assert.Equal(t, "1", resp2.Value)
}

// Test_LaggingFollowerCatchUp checks that a replica joining after many
// entries have already been committed converges to the same log.
func Test_LaggingFollowerCatchUp(t *testing.T) {
	c := newCluster(4, []float64{0, 0.9, 0.9, 0.9})
	c.advance(1*time.Second, 5*time.Millisecond)
	leader := c.byID("r0")
	require.Equal(t, Leader, leader.Role())

	clientEP := c.bus.Join("client")
	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, clientEP.Send(common.Message{
			Src: "client", Dst: "r0", Type: common.TypePut,
			Key: "k", Value: "v", MID: "m",
		}))
		c.advance(150*time.Millisecond, 5*time.Millisecond)
		_, ok, _ := clientEP.Recv(20 * time.Millisecond)
		require.True(t, ok)
	}
	require.Equal(t, int64(n), leader.log.Len())

	// A fifth replica joins the cluster late, with an empty log.
	lateEP := c.bus.Join("r4")
	lateClock := newFakeClock()
	lateR := New("r4", []string{"r0", "r1", "r2", "r3"}, lateEP, kvstore.New(), WithClock(lateClock), WithRandSource(fixedRand{0.9}))
	c.ids = append(c.ids, "r4")
	c.replicas = append(c.replicas, lateR)
	c.clocks = append(c.clocks, lateClock)
	c.endpoints = append(c.endpoints, lateEP)
	// The existing replicas don't know about r4 yet -- membership changes
	// at runtime are out of scope -- so this wires r4 into the leader's
	// peer list directly, the same state it would hold if started with
	// r0..r3 in its own peer list from the command line.
	leader.peers = append(leader.peers, "r4")
	leader.nextIndex["r4"] = 0

	c.advance(2*time.Second, 5*time.Millisecond)

	assert.Equal(t, leader.log.Len(), lateR.log.Len())
	for i := int64(0); i < leader.log.Len(); i++ {
		want, _ := leader.log.Get(i)
		got, ok := lateR.log.Get(i)
		require.True(t, ok)
		assert.Equal(t, want.Term, got.Term)
		assert.Equal(t, want.Key, got.Key)
		assert.Equal(t, want.Value, got.Value)
	}
}

// Test_RedeliveryIsIdempotent checks that re-delivering the same
// append-entries batch at the same prev_log_index/prev_log_term leaves
// the follower's log unchanged.
func Test_RedeliveryIsIdempotent(t *testing.T) {
	c := newCluster(2, []float64{0.9, 0.9})
	follower := c.replicas[1]

	msg := common.Message{
		Src: "r0", Type: common.TypeAppendEntries, Term: 1,
		PrevLogIndex: -1, PrevLogTerm: -1, CommitIndex: -1,
		Entries: []common.Entry{{Term: 1, Index: 0, Key: "a", Value: "1"}},
	}
	follower.Step(msg)
	require.Equal(t, int64(1), follower.log.Len())
	entryAfterFirst, _ := follower.log.Get(0)

	follower.Step(msg)
	require.Equal(t, int64(1), follower.log.Len())
	entryAfterSecond, _ := follower.log.Get(0)

	assert.Equal(t, entryAfterFirst, entryAfterSecond)
}

// Test_LogMismatchBackoff exercises the leader's term-aware back-off when
// a follower rejects an append because its log diverges.
func Test_LogMismatchBackoff(t *testing.T) {
	r := New("r0", []string{"r1"}, &discardTransport{}, kvstore.New(), WithClock(newFakeClock()), WithRandSource(fixedRand{0}))
	r.role = Leader
	r.term = 5
	r.log.Append(LogEntry{Term: 1, Key: "a", Value: "1"})
	r.log.Append(LogEntry{Term: 3, Key: "b", Value: "2"})
	r.log.Append(LogEntry{Term: 5, Key: "c", Value: "3"})
	r.nextIndex = map[string]int64{"r1": 3}

	// Follower hints back: its log has an entry at index 1 with term 3.
	r.handleAppendResponse(common.Message{Src: "r1", Term: 5, Success: false, IndexDiff: 1, TermDiff: 3})
	assert.Equal(t, int64(1), r.nextIndex["r1"])

	// Follower hints an index out of range and a term (2) this leader never
	// held: back off to the highest local index whose term is termDiff-1,
	// which is index 0 (term 1).
	r.handleAppendResponse(common.Message{Src: "r1", Term: 5, Success: false, IndexDiff: 9, TermDiff: 2})
	assert.Equal(t, int64(0), r.nextIndex["r1"])
}

type discardTransport struct{}

func (discardTransport) Send(common.Message) error { return nil }
func (discardTransport) Recv(time.Duration) (common.Message, bool, error) {
	return common.Message{}, false, nil
}
func (discardTransport) Close() error { return nil }

var _ common.Transport = discardTransport{}
