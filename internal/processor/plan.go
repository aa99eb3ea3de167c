// Package processor turns polled chain events into notification tasks for
// the bot's followers.
//
// Plan is pure: it decides which notifications one follower gets and what
// that follower's dedup set looks like afterwards. Runner does the I/O
// around it (candidates, identity lookups, dedup and watermark state,
// enqueueing).
package processor

import (
	"strings"

	"propbot/internal/queue"
)

// Candidate is one event that may be announced to members of its DAO.
type Candidate struct {
	ID    string
	DAOID string
	Kind  queue.NotificationKind
	// ConcludesAt is when the event stops mattering (unix seconds). Dedup
	// members past it are pruned. Zero never prunes.
	ConcludesAt int64

	Proposal queue.ProposalInfo
	Propdate *queue.PropdateInfo
}

// DedupSet maps an already-notified event ID to its ConcludesAt.
type DedupSet map[string]int64

func (d DedupSet) Has(id string) bool {
	_, ok := d[id]
	return ok
}

// Plan returns the notifications follower should receive for candidates
// and the dedup set to persist afterwards. A candidate is skipped when its
// DAO is not one of memberships or its ID is already in dedup. The
// returned set drops members that concluded before now, unless they are
// still among the candidates. dedup is not modified.
func Plan(follower int64, candidates []Candidate, memberships []string, dedup DedupSet, now int64) ([]*queue.Notification, DedupSet) {
	member := make(map[string]struct{}, len(memberships))
	for _, m := range memberships {
		member[strings.ToLower(m)] = struct{}{}
	}
	live := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		live[c.ID] = struct{}{}
	}

	next := make(DedupSet, len(dedup))
	for id, concludes := range dedup {
		if _, ok := live[id]; !ok && concludes > 0 && concludes < now {
			continue
		}
		next[id] = concludes
	}

	var out []*queue.Notification
	for _, c := range candidates {
		if _, ok := member[strings.ToLower(c.DAOID)]; !ok {
			continue
		}
		if next.Has(c.ID) {
			continue
		}
		n := &queue.Notification{
			Recipient: follower,
			Kind:      c.Kind,
			Proposal:  c.Proposal,
			PlannedAt: now,
		}
		if c.Propdate != nil {
			pd := *c.Propdate
			n.Propdate = &pd
		}
		out = append(out, n)
		next[c.ID] = c.ConcludesAt
	}
	return out, next
}

// eventID is the dedup member a planned notification was recorded under.
func eventID(n *queue.Notification) string {
	if n.Propdate != nil {
		return n.Propdate.ID
	}
	return n.Proposal.ID
}
