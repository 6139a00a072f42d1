package raft

import (
	"log"

	"github.com/quietloop/raftkv/common"
)

// applyCommitted applies every newly committed entry to the state machine,
// strictly in order, emitting a client response for each one this
// replica, as leader, is responsible for answering.
func (r *Replica) applyCommitted() {
	for r.lastApplied+1 <= r.commitIndex {
		entry, ok := r.log.Get(r.lastApplied + 1)
		if !ok {
			break
		}
		value := r.fsm.Apply(entry)
		if r.role == Leader {
			r.send(entry.Client, common.Message{Type: common.TypeOK, MID: entry.MID})
		}
		if cb, ok := r.onApply[entry.Index]; ok {
			cb(entry, value)
			delete(r.onApply, entry.Index)
		}
		r.lastApplied++
	}
}

// handlePut implements the leader/non-leader split for put.
func (r *Replica) handlePut(m common.Message) {
	if r.role != Leader {
		r.reply(m.Src, common.Message{Type: common.TypeRedirect, MID: m.MID})
		return
	}
	entry := LogEntry{
		Term:     r.term,
		Index:    r.log.Len(),
		Key:      m.Key,
		Value:    m.Value,
		Client:   m.Src,
		MID:      m.MID,
		AckCount: 1,
	}
	r.log.Append(entry)
	log.Printf("%s: appended put(%q=%q) at index %d", r.id, m.Key, m.Value, entry.Index)
	// No response yet: the response is generated once the entry is
	// applied, in applyCommitted.
}

// handleGet implements the leader/non-leader split for get. It never
// touches the log: the leader answers from its own, possibly stale, view
// of the map.
func (r *Replica) handleGet(m common.Message) {
	if r.role != Leader {
		r.reply(m.Src, common.Message{Type: common.TypeRedirect, MID: m.MID})
		return
	}
	r.reply(m.Src, common.Message{Type: common.TypeOK, MID: m.MID, Value: r.fsm.Get(m.Key)})
}

// OnApply registers a callback invoked exactly once, from inside the
// event loop, when the entry at index is applied to the state machine.
// Intended for tests that need to observe commit timing without polling
// CommitIndex(). Must be called before the entry in question exists in
// the log to avoid missing it.
func (r *Replica) OnApply(index int64, cb func(LogEntry, string)) {
	r.onApply[index] = cb
}
