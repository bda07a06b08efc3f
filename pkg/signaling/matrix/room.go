package matrix

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix/event"
)

type sendFunc func(eventType event.Type, stateKey *string, content interface{}) error

// Content of the signaling room events.
type MessageContent struct {
	// Participant id of the sender. Several participants may share an account.
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

// Content of the presence state event.
type PresenceContent struct {
	ID       string `json:"id"`
	JoinedAt int64  `json:"joinedAt"`
	Active   bool   `json:"active"`
}

func parsePresence(evt *event.Event) (PresenceContent, bool) {
	var content PresenceContent
	if err := json.Unmarshal(evt.Content.VeryRaw, &content); err != nil {
		return content, false
	}

	if content.ID == "" && evt.StateKey != nil {
		content.ID = *evt.StateKey
	}

	return content, content.ID != ""
}

type roomTopic struct {
	*signaling.Dispatcher

	self    signaling.Member
	send    sendFunc
	logger  *logrus.Entry
	onLeave func()

	mutex  sync.Mutex
	roster *signaling.Roster

	leaveOnce sync.Once
}

func newRoomTopic(self signaling.Member, present []PresenceContent, send sendFunc, logger *logrus.Entry) *roomTopic {
	room := &roomTopic{
		Dispatcher: signaling.NewDispatcher(),
		self:       self,
		send:       send,
		logger:     logger,
		roster:     signaling.NewRoster(),
	}

	room.roster.Join(self)
	for _, content := range present {
		room.roster.Join(signaling.Member{ID: content.ID, JoinedAt: content.JoinedAt})
	}

	room.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceSync, Members: room.roster.Snapshot()})
	return room
}

func (r *roomTopic) Broadcast(ctx context.Context, name string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.Closed() {
		return signaling.ErrTopicClosed
	}

	return r.send(MessageEventType(name), nil, MessageContent{Sender: r.self.ID, Payload: payload})
}

func (r *roomTopic) Members() []signaling.Member {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.roster.Snapshot()
}

func (r *roomTopic) Leave(ctx context.Context) error {
	var err error
	r.leaveOnce.Do(func() {
		err = r.announce(false)
		r.Close()
		if r.onLeave != nil {
			r.onLeave()
		}
	})

	return err
}

func (r *roomTopic) announce(active bool) error {
	stateKey := r.self.ID
	return r.send(PresenceEventType, &stateKey, PresenceContent{
		ID:       r.self.ID,
		JoinedAt: r.self.JoinedAt,
		Active:   active,
	})
}

func (r *roomTopic) handleEvent(evt *event.Event) {
	// History from before the local join replays on the first sync.
	if evt.Timestamp < r.self.JoinedAt {
		return
	}

	if evt.Type.Type == PresenceEventType.Type {
		r.handlePresence(evt)
		return
	}

	name := strings.TrimPrefix(evt.Type.Type, eventPrefix)
	if name == evt.Type.Type {
		return
	}

	var content MessageContent
	if err := json.Unmarshal(evt.Content.VeryRaw, &content); err != nil {
		r.logger.WithError(err).WithField("event_id", evt.ID).Debug("ignoring malformed signaling event")
		return
	}

	if content.Sender == "" || content.Sender == r.self.ID {
		return
	}

	r.DeliverEnvelope(signaling.Envelope{Event: name, Payload: content.Payload})
}

func (r *roomTopic) handlePresence(evt *event.Event) {
	content, ok := parsePresence(evt)
	if !ok || content.ID == r.self.ID {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.Closed() {
		return
	}

	if content.Active {
		if joined := r.roster.Join(signaling.Member{ID: content.ID, JoinedAt: content.JoinedAt}); len(joined) > 0 {
			r.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceJoin, Members: joined})
		}
		return
	}

	if left := r.roster.Leave(content.ID); len(left) > 0 {
		r.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceLeave, Members: left})
	}
}
