// Package kvstore implements the state machine committed raft entries are
// applied to: an in-memory map from key to latest value.
package kvstore

import "github.com/quietloop/raftkv/raft"

// FSM is the key-value implementation of raft.FSM. It is deliberately
// dumb: Apply always stores, Get always reads, neither knows about terms,
// commit indices or leadership -- that bookkeeping belongs to raft.Replica.
type FSM struct {
	store map[string]string
}

var _ raft.FSM = &FSM{}

// New returns an empty key-value state machine.
func New() *FSM {
	return &FSM{store: make(map[string]string)}
}

// Apply stores entry.Value under entry.Key and returns the value just
// stored.
func (f *FSM) Apply(entry raft.LogEntry) string {
	f.store[entry.Key] = entry.Value
	return entry.Value
}

// Get returns the current value for key, or "" if key was never set --
// the zero value of a Go map read already gives us that behavior, so no
// special-casing is needed.
func (f *FSM) Get(key string) string {
	return f.store[key]
}
