package raft

// LogEntry is a single record in a replica's command log. Index is
// redundant with the entry's position in Log.entries (Log.entries[i].Index
// == i always) but is carried explicitly because entries are also echoed
// on the wire, detached from any particular slice.
type LogEntry struct {
	Term     int64
	Index    int64
	Key      string
	Value    string
	Client   string // originating replica id
	MID      string // client-supplied message id
	AckCount int    // leader-only tally, starts at 1
}

// Log is the ordered, append-only (until truncated during reconciliation)
// sequence of entries a replica holds. It is memory-resident: there is no
// LogStore interface or backing file here, since persistence is out of
// scope for this project.
type Log struct {
	entries []LogEntry
}

// Len returns the number of entries, i.e. one past the highest valid index.
func (l *Log) Len() int64 {
	return int64(len(l.entries))
}

// Get returns the entry at index, or false if index is out of range.
func (l *Log) Get(index int64) (LogEntry, bool) {
	if index < 0 || index >= l.Len() {
		return LogEntry{}, false
	}
	return l.entries[index], true
}

// Last returns the most recent entry, or (term -1, index -1) on an empty log.
func (l *Log) Last() LogEntry {
	if l.Len() == 0 {
		return LogEntry{Term: -1, Index: -1}
	}
	return l.entries[l.Len()-1]
}

// Append adds entries to the end of the log, assigning each a contiguous
// Index starting at the log's current length.
func (l *Log) Append(entries ...LogEntry) {
	for i := range entries {
		entries[i].Index = l.Len()
		l.entries = append(l.entries, entries[i])
	}
}

// TruncateFrom drops every entry from index onward (used when a follower's
// suffix conflicts with the leader's and must be replaced).
func (l *Log) TruncateFrom(index int64) {
	if index < 0 {
		index = 0
	}
	if index < l.Len() {
		l.entries = l.entries[:index]
	}
}

// IncrementAck bumps the leader-only ack_count for the entry at index and
// reports the new value. It is a no-op (returning 0, false) if index is out
// of range.
func (l *Log) IncrementAck(index int64) (count int, ok bool) {
	if index < 0 || index >= l.Len() {
		return 0, false
	}
	l.entries[index].AckCount++
	return l.entries[index].AckCount, true
}

// HighestIndexWithTerm returns the highest local index whose term equals
// term, or -1 if no such entry exists. Used by the leader's back-off when
// reacting to a failed append.
func (l *Log) HighestIndexWithTerm(term int64) int64 {
	for i := l.Len() - 1; i >= 0; i-- {
		if l.entries[i].Term == term {
			return i
		}
	}
	return -1
}
