package memory

import (
	"context"

	"github.com/inkboard/huddle/pkg/signaling"
)

// The view of a topic held by one member.
type memberTopic struct {
	*signaling.Dispatcher

	hub   *Hub
	topic string
	self  signaling.Member
}

func newMemberTopic(hub *Hub, topic string, self signaling.Member) *memberTopic {
	return &memberTopic{
		Dispatcher: signaling.NewDispatcher(),
		hub:        hub,
		topic:      topic,
		self:       self,
	}
}

func (t *memberTopic) Broadcast(ctx context.Context, event string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.Closed() {
		return signaling.ErrTopicClosed
	}

	return t.hub.broadcast(t.topic, t.self.ID, event, payload)
}

func (t *memberTopic) Members() []signaling.Member {
	return t.hub.snapshot(t.topic)
}

func (t *memberTopic) Leave(ctx context.Context) error {
	t.hub.leave(t.topic, t.self.ID)
	t.Close()
	return nil
}
