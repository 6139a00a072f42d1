package raft

// FSM is the state machine committed log entries are applied to. Apply
// only ever sees put commands: get is answered directly from the leader's
// local view of the map and never touches the log, so there is no
// "apply, then maybe return a value" ambiguity here -- Apply always
// mutates and the return value is purely informational for
// logging/testing.
type FSM interface {
	Apply(entry LogEntry) (value string)
	// Get reads the current value for key, returning "" for a missing key.
	Get(key string) string
}
