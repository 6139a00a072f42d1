package raft

import (
	"log"

	"github.com/quietloop/raftkv/common"
)

func toWireEntry(e LogEntry) common.Entry {
	return common.Entry{
		Term:     e.Term,
		Index:    e.Index,
		Key:      e.Key,
		Value:    e.Value,
		Client:   e.Client,
		MID:      e.MID,
		AckCount: e.AckCount,
	}
}

func fromWireEntry(e common.Entry) LogEntry {
	return LogEntry{
		Term:     e.Term,
		Index:    e.Index,
		Key:      e.Key,
		Value:    e.Value,
		Client:   e.Client,
		MID:      e.MID,
		AckCount: e.AckCount,
	}
}

// sendHeartbeats emits one append-entries to every peer and re-arms the
// heartbeat deadline.
func (r *Replica) sendHeartbeats() {
	for _, p := range r.peers {
		r.sendAppendTo(p)
	}
	r.heartbeatDeadline = r.clock.Now().Add(common.HeartbeatInterval)
}

// sendAppendTo builds and sends the append-entries batch peer is owed
// given the leader's belief about peer's next_index.
func (r *Replica) sendAppendTo(peer string) {
	next := r.nextIndex[peer]
	msg := common.Message{
		Type:         common.TypeAppendEntries,
		Term:         r.term,
		CommitIndex:  r.commitIndex,
		LeaderCommit: r.commitIndex,
	}

	if next >= r.log.Len() {
		msg.PrevLogIndex = -1
		msg.PrevLogTerm = -1
	} else {
		for i := next; i < r.log.Len(); i++ {
			e, _ := r.log.Get(i)
			msg.Entries = append(msg.Entries, toWireEntry(e))
		}
		if next == 0 {
			msg.PrevLogIndex = -1
			msg.PrevLogTerm = -1
		} else if prev, ok := r.log.Get(next - 1); ok {
			msg.PrevLogIndex = prev.Index
			msg.PrevLogTerm = prev.Term
		}
	}
	r.send(peer, msg)
}

// handleAppendEntries implements the follower side of log replication.
//
// The empty-batch/empty-local-log short-circuit below skips the prev-log
// match check entirely. This is a known, deliberately retained
// limitation -- see DESIGN.md.
func (r *Replica) handleAppendEntries(m common.Message) {
	if m.Term < r.term {
		r.reply(m.Src, common.Message{
			Type:      common.TypeAppendResponse,
			Term:      r.term,
			Success:   false,
			IndexDiff: -1,
			TermDiff:  -1,
			Entries:   m.Entries,
		})
		return
	}

	r.resetElectionTimer()
	r.term = m.Term
	r.leaderID = m.Src
	r.role = Follower

	resp := common.Message{Type: common.TypeAppendResponse, Term: r.term, Entries: m.Entries}

	if len(m.Entries) == 0 || r.log.Len() == 0 {
		for _, we := range m.Entries {
			r.log.Append(fromWireEntry(we))
		}
		resp.Success = true
	} else if r.log.Len() < m.PrevLogIndex {
		last := r.log.Last()
		resp.Success = false
		resp.IndexDiff = r.log.Len() - 1
		resp.TermDiff = last.Term
	} else {
		matched := m.PrevLogIndex < 0
		var localTerm int64
		if !matched {
			if prevEntry, ok := r.log.Get(m.PrevLogIndex); ok {
				localTerm = prevEntry.Term
				matched = localTerm == m.PrevLogTerm
			}
		}
		if matched {
			r.log.TruncateFrom(m.PrevLogIndex + 1)
			for _, we := range m.Entries {
				r.log.Append(fromWireEntry(we))
			}
			resp.Success = true
		} else {
			resp.Success = false
			resp.IndexDiff = r.log.HighestIndexWithTerm(m.PrevLogTerm)
			resp.TermDiff = m.PrevLogTerm
		}
	}

	if resp.Success && m.CommitIndex > r.commitIndex {
		newCommit := m.CommitIndex
		if r.log.Len()-1 < newCommit {
			newCommit = r.log.Len() - 1
		}
		r.commitIndex = newCommit
	}

	if !resp.Success {
		log.Printf("%s: rejected append-entries from %s: prevLogIndex=%d prevLogTerm=%d indexDiff=%d termDiff=%d",
			r.id, m.Src, m.PrevLogIndex, m.PrevLogTerm, resp.IndexDiff, resp.TermDiff)
	}
	r.reply(m.Src, resp)
}

// handleAppendResponse implements the leader side of log replication:
// ack-count tallying, commit advancement, and next_index back-off.
func (r *Replica) handleAppendResponse(m common.Message) {
	if r.role != Leader {
		return
	}
	if m.Term > r.term {
		r.term = m.Term
		r.role = Follower
		r.leaderID = ""
		r.votedFor = ""
		return
	}

	if m.Success {
		var lastEchoed int64 = -1
		for _, we := range m.Entries {
			count, ok := r.log.IncrementAck(we.Index)
			if !ok {
				continue
			}
			if we.Index > lastEchoed {
				lastEchoed = we.Index
			}
			if count >= r.quorum() && we.Index > r.commitIndex {
				entry, _ := r.log.Get(we.Index)
				if entry.Term == r.term {
					r.commitIndex = we.Index
					log.Printf("%s: advanced commit index to %d", r.id, r.commitIndex)
				}
			}
		}
		if lastEchoed >= 0 {
			r.nextIndex[m.Src] = lastEchoed + 1
		}
		return
	}

	if m.IndexDiff >= 0 && m.TermDiff >= 0 {
		if entry, ok := r.log.Get(m.IndexDiff); ok && entry.Term == m.TermDiff {
			r.nextIndex[m.Src] = m.IndexDiff
		} else {
			hint := r.log.HighestIndexWithTerm(m.TermDiff - 1)
			if hint < 0 {
				hint = 0
			}
			r.nextIndex[m.Src] = hint
		}
	}
}
