// Package memory implements an in-process signaling relay. All topics live in
// a single Hub and every joined member gets its own dispatcher, so a slow
// consumer never blocks broadcasters.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/inkboard/huddle/pkg/signaling"
)

var ErrDuplicateMember = errors.New("member already joined the topic")

// Broadcast recorded by the hub.
type Sent struct {
	Topic   string
	From    string
	Event   string
	Payload []byte
}

// Hub is an in-process signaling.Transport.
type Hub struct {
	mutex   sync.Mutex
	topics  map[string]map[string]*memberTopic
	rosters map[string]*signaling.Roster
	sent    []Sent
}

func NewHub() *Hub {
	return &Hub{
		topics:  make(map[string]map[string]*memberTopic),
		rosters: make(map[string]*signaling.Roster),
	}
}

func (h *Hub) Join(ctx context.Context, topic string, self signaling.Member) (signaling.Topic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	members := h.topics[topic]
	if members == nil {
		members = make(map[string]*memberTopic)
		h.topics[topic] = members
		h.rosters[topic] = signaling.NewRoster()
	}

	if _, found := members[self.ID]; found {
		return nil, fmt.Errorf("%w: %s on %s", ErrDuplicateMember, self.ID, topic)
	}

	roster := h.rosters[topic]
	roster.Join(self)

	joined := newMemberTopic(h, topic, self)
	members[self.ID] = joined

	joined.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceSync, Members: roster.Snapshot()})
	for id, other := range members {
		if id != self.ID {
			other.DeliverPresence(signaling.PresenceEvent{
				Kind:    signaling.PresenceJoin,
				Members: []signaling.Member{self},
			})
		}
	}

	return joined, nil
}

// Drop disconnects a member from every topic without a `Leave`, the way a lost
// connection looks to the remaining members.
func (h *Hub) Drop(memberID string) {
	h.mutex.Lock()
	var dropped []*memberTopic
	for topic, members := range h.topics {
		if member, found := members[memberID]; found {
			h.removeLocked(topic, memberID)
			dropped = append(dropped, member)
		}
	}
	h.mutex.Unlock()

	for _, member := range dropped {
		member.Close()
	}
}

// Sent returns every broadcast accepted by the hub so far.
func (h *Hub) Sent() []Sent {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]Sent(nil), h.sent...)
}

// Members returns the presence snapshot of a topic.
func (h *Hub) Members(topic string) []signaling.Member {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if roster := h.rosters[topic]; roster != nil {
		return roster.Snapshot()
	}

	return nil
}

func (h *Hub) broadcast(topic, from, event string, payload []byte) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	members := h.topics[topic]
	if _, found := members[from]; !found {
		return signaling.ErrTopicClosed
	}

	h.sent = append(h.sent, Sent{Topic: topic, From: from, Event: event, Payload: payload})
	for id, member := range members {
		if id != from {
			member.DeliverEnvelope(signaling.Envelope{Event: event, Payload: payload})
		}
	}

	return nil
}

func (h *Hub) leave(topic, memberID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.removeLocked(topic, memberID)
}

func (h *Hub) removeLocked(topic, memberID string) {
	members := h.topics[topic]
	if _, found := members[memberID]; !found {
		return
	}

	delete(members, memberID)
	left := h.rosters[topic].Leave(memberID)

	for _, other := range members {
		other.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceLeave, Members: left})
	}

	if len(members) == 0 {
		delete(h.topics, topic)
		delete(h.rosters, topic)
	}
}

func (h *Hub) snapshot(topic string) []signaling.Member {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if roster := h.rosters[topic]; roster != nil {
		return roster.Snapshot()
	}

	return nil
}
