package signaling

import (
	"context"
	"errors"
	"time"
)

var ErrTopicClosed = errors.New("topic is closed")

// TopicName returns the signaling topic shared by everyone on a board.
func TopicName(boardID string) string {
	return "voice-" + boardID
}

// Member is the presence record of one participant on a topic.
type Member struct {
	ID string `json:"id"`
	// Milliseconds since the Unix epoch at which the member joined the topic.
	JoinedAt int64 `json:"joinedAt"`
}

// NewMember creates a presence record for a participant joining now.
func NewMember(id string) Member {
	return Member{ID: id, JoinedAt: time.Now().UnixMilli()}
}

type PresenceKind int

const (
	// Full snapshot of the topic members. Always the first presence event.
	PresenceSync PresenceKind = iota
	// Members that joined since the previous event.
	PresenceJoin
	// Members that left since the previous event.
	PresenceLeave
)

func (k PresenceKind) String() string {
	switch k {
	case PresenceSync:
		return "sync"
	case PresenceJoin:
		return "join"
	case PresenceLeave:
		return "leave"
	default:
		return "unknown"
	}
}

type PresenceEvent struct {
	Kind    PresenceKind
	Members []Member
}

// Envelope is a raw broadcast received on a topic.
type Envelope struct {
	Event   string
	Payload []byte
}

// Transport is a broadcast channel with presence, scoped by topic.
type Transport interface {
	// Join opens a topic and announces `self` in its presence.
	Join(ctx context.Context, topic string, self Member) (Topic, error)
}

// Topic is a joined broadcast channel.
//
// Delivery is fire-and-forget, at least once while connected. Messages of one
// sender on one event name arrive in send order; nothing else is ordered.
// A topic never delivers a member's own broadcasts back to it.
type Topic interface {
	// Broadcast sends a payload under an event name to every other member.
	Broadcast(ctx context.Context, event string, payload []byte) error
	// Subscribe returns the envelopes received under an event name. The
	// returned function cancels the subscription. The channel is closed when
	// the subscription is cancelled or the topic is left.
	Subscribe(event string) (<-chan Envelope, func())
	// Members returns a snapshot of the current members, including self.
	Members() []Member
	// Presence delivers a sync snapshot first and join/leave deltas afterwards.
	// The channel is closed when the topic is left.
	Presence() <-chan PresenceEvent
	// Leave removes self from presence and closes the topic.
	Leave(ctx context.Context) error
}
