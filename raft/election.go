package raft

import (
	"log"

	"github.com/quietloop/raftkv/common"
)

// startElection begins a new candidacy. It fires when the election timer
// expires and this replica is not already Leader.
func (r *Replica) startElection() {
	r.role = Candidate
	r.term++
	r.votedFor = r.id
	r.votes = 1
	r.leaderID = ""
	r.notReplied = make(map[string]bool, len(r.peers))
	for _, p := range r.peers {
		r.notReplied[p] = true
	}

	r.resetElectionTimer()
	// heartbeatDeadline is repurposed while Candidate: it paces
	// re-requests to peers that haven't answered, rather than heartbeats.
	r.heartbeatDeadline = r.clock.Now().Add(common.HeartbeatInterval)

	log.Printf("%s: election timeout, starting election for term %d", r.id, r.term)
	r.broadcast(common.Message{
		Type:      common.TypeRequestVote,
		Term:      r.term,
		LogLength: r.log.Len(),
	})
}

// resendVoteRequests re-broadcasts request_rpc to every peer that has not
// yet answered this election, without bumping the term. Paced by
// heartbeatDeadline, which is repurposed as a resend timer while this
// replica is a Candidate.
func (r *Replica) resendVoteRequests() {
	if len(r.notReplied) > 0 {
		log.Printf("%s: resending vote requests for term %d to %d peer(s)", r.id, r.term, len(r.notReplied))
	}
	for p := range r.notReplied {
		r.send(p, common.Message{
			Type:      common.TypeRequestVote,
			Term:      r.term,
			LogLength: r.log.Len(),
		})
	}
	r.heartbeatDeadline = r.clock.Now().Add(common.HeartbeatInterval)
}

// handleRequestVote implements the voter side of leader election.
//
// The up-to-date predicate here intentionally compares log length only,
// not the (term, index) pair a textbook Raft implementation would use.
// This is a known, deliberately retained limitation -- see DESIGN.md.
func (r *Replica) handleRequestVote(m common.Message) {
	switch {
	case m.Term < r.term:
		r.reply(m.Src, common.Message{Type: common.TypeVote, ShouldVote: false, Term: r.term})

	case m.Term == r.term:
		r.resetElectionTimer()
		grant := r.votedFor != "" && r.votedFor == m.Src
		log.Printf("%s: vote request from %s for term %d: %v (already voted for %q)", r.id, m.Src, m.Term, grant, r.votedFor)
		r.reply(m.Src, common.Message{Type: common.TypeVote, ShouldVote: grant, Term: r.term})

	default: // m.Term > r.term
		r.term = m.Term
		r.votedFor = ""
		if r.role != Candidate {
			r.role = Follower
		}
		grant := m.LogLength >= r.log.Len()
		if grant {
			r.votedFor = m.Src
			r.resetElectionTimer()
		}
		log.Printf("%s: vote request from %s for newer term %d: %v", r.id, m.Src, m.Term, grant)
		r.reply(m.Src, common.Message{Type: common.TypeVote, ShouldVote: grant, Term: r.term})
	}
}

// handleVote tallies replies from peers a candidate hasn't already heard
// from this election, and converts to Leader on reaching quorum.
func (r *Replica) handleVote(m common.Message) {
	if r.role != Candidate {
		return
	}
	if !r.notReplied[m.Src] {
		return
	}
	delete(r.notReplied, m.Src)

	if m.ShouldVote {
		r.votes++
		log.Printf("%s: received vote from %s (%d/%d)", r.id, m.Src, r.votes, r.quorum())
		if r.votes >= r.quorum() {
			r.becomeLeader()
		}
	} else if m.Term > r.term {
		r.term = m.Term
	}
}

// becomeLeader converts this replica to Leader once it holds a quorum of
// votes for the current term.
func (r *Replica) becomeLeader() {
	r.role = Leader
	r.leaderID = r.id
	r.nextIndex = make(map[string]int64, len(r.peers))
	for _, p := range r.peers {
		r.nextIndex[p] = r.log.Len()
	}
	log.Printf("%s: elected leader for term %d", r.id, r.term)
	if !r.clock.Now().Before(r.heartbeatDeadline) {
		r.sendHeartbeats()
	}
}
