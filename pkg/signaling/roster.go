package signaling

import (
	"cmp"

	"golang.org/x/exp/slices"
)

// Roster is a presence table keyed by member id. It is not safe for concurrent
// use; every transport guards its roster with its own lock or goroutine.
type Roster struct {
	members map[string]Member
}

func NewRoster() *Roster {
	return &Roster{members: make(map[string]Member)}
}

// Join adds members and returns the ones that were not present before.
// A member that is already present keeps its original join time.
func (r *Roster) Join(members ...Member) []Member {
	var joined []Member
	for _, member := range members {
		if _, found := r.members[member.ID]; found {
			continue
		}

		r.members[member.ID] = member
		joined = append(joined, member)
	}

	return joined
}

// Leave removes members by id and returns the ones that were present.
func (r *Roster) Leave(ids ...string) []Member {
	var left []Member
	for _, id := range ids {
		if member, found := r.members[id]; found {
			delete(r.members, id)
			left = append(left, member)
		}
	}

	return left
}

// Reset replaces the table with a snapshot and returns the difference.
func (r *Roster) Reset(snapshot []Member) (joined, left []Member) {
	next := make(map[string]Member, len(snapshot))
	for _, member := range snapshot {
		next[member.ID] = member
	}

	for id, member := range r.members {
		if _, found := next[id]; !found {
			left = append(left, member)
		}
	}

	for id, member := range next {
		if _, found := r.members[id]; !found {
			joined = append(joined, member)
		}
	}

	r.members = next
	sortMembers(joined)
	sortMembers(left)

	return joined, left
}

func (r *Roster) Has(id string) bool {
	_, found := r.members[id]
	return found
}

func (r *Roster) Len() int {
	return len(r.members)
}

// Snapshot returns the members ordered by join time, then id.
func (r *Roster) Snapshot() []Member {
	members := make([]Member, 0, len(r.members))
	for _, member := range r.members {
		members = append(members, member)
	}

	sortMembers(members)
	return members
}

func sortMembers(members []Member) {
	slices.SortFunc(members, func(a, b Member) int {
		if c := cmp.Compare(a.JoinedAt, b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
