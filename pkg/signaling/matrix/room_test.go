package matrix

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
)

type sentEvent struct {
	eventType event.Type
	stateKey  *string
	content   interface{}
}

func newTestRoom(t *testing.T, present ...PresenceContent) (*roomTopic, *[]sentEvent) {
	t.Helper()

	var sent []sentEvent
	send := func(eventType event.Type, stateKey *string, content interface{}) error {
		sent = append(sent, sentEvent{eventType, stateKey, content})
		return nil
	}

	room := newRoomTopic(signaling.Member{ID: "A", JoinedAt: 1000}, present, send, logrus.NewEntry(logrus.New()))
	t.Cleanup(room.Close)

	return room, &sent
}

func roomEvent(eventType event.Type, timestamp int64, stateKey *string, content interface{}) *event.Event {
	raw, _ := json.Marshal(content)
	return &event.Event{
		Type:      eventType,
		Timestamp: timestamp,
		StateKey:  stateKey,
		Content:   event.Content{VeryRaw: raw},
	}
}

func nextPresence(t *testing.T, room *roomTopic) signaling.PresenceEvent {
	t.Helper()

	select {
	case presence := <-room.Presence():
		return presence
	case <-time.After(time.Second):
		require.FailNow(t, "no presence event")
	}

	return signaling.PresenceEvent{}
}

func TestRoomAlias(t *testing.T) {
	assert.EqualValues(t, "#voice-b1:example.org", RoomAlias(signaling.TopicName("b1"), "example.org"))
}

func TestRoom_SyncIncludesActiveState(t *testing.T) {
	room, _ := newTestRoom(t, PresenceContent{ID: "B", JoinedAt: 500, Active: true})

	assert.Equal(t, signaling.PresenceEvent{
		Kind:    signaling.PresenceSync,
		Members: []signaling.Member{{ID: "B", JoinedAt: 500}, {ID: "A", JoinedAt: 1000}},
	}, nextPresence(t, room))
}

func TestRoom_PresenceStateEvents(t *testing.T) {
	room, _ := newTestRoom(t)
	nextPresence(t, room)

	key := "C"
	room.handleEvent(roomEvent(PresenceEventType, 2000, &key, PresenceContent{JoinedAt: 2000, Active: true}))
	assert.Equal(t, signaling.PresenceEvent{
		Kind:    signaling.PresenceJoin,
		Members: []signaling.Member{{ID: "C", JoinedAt: 2000}},
	}, nextPresence(t, room))

	room.handleEvent(roomEvent(PresenceEventType, 3000, &key, PresenceContent{ID: "C", JoinedAt: 2000, Active: false}))
	assert.Equal(t, signaling.PresenceKind(signaling.PresenceLeave), nextPresence(t, room).Kind)
	assert.Equal(t, []signaling.Member{{ID: "A", JoinedAt: 1000}}, room.Members())
}

func TestRoom_SignalingEvents(t *testing.T) {
	room, _ := newTestRoom(t)
	offers, cancel := room.Subscribe(signaling.EventOffer)
	defer cancel()

	payload := json.RawMessage(`{"from":"B","to":"A","sdp":"v=0"}`)

	// Old history, own echo and foreign event types are all dropped.
	room.handleEvent(roomEvent(MessageEventType(signaling.EventOffer), 10, nil, MessageContent{Sender: "B", Payload: payload}))
	room.handleEvent(roomEvent(MessageEventType(signaling.EventOffer), 2000, nil, MessageContent{Sender: "A", Payload: payload}))
	room.handleEvent(roomEvent(event.Type{Type: "m.room.message", Class: event.MessageEventType}, 2000, nil, map[string]string{"body": "hi"}))
	room.handleEvent(roomEvent(MessageEventType(signaling.EventOffer), 2001, nil, MessageContent{Sender: "B", Payload: payload}))

	select {
	case envelope := <-offers:
		assert.Equal(t, signaling.EventOffer, envelope.Event)
		assert.JSONEq(t, string(payload), string(envelope.Payload))
	case <-time.After(time.Second):
		require.FailNow(t, "offer not delivered")
	}

	select {
	case envelope := <-offers:
		assert.Failf(t, "unexpected envelope", "%v", envelope)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoom_BroadcastAndLeave(t *testing.T) {
	room, sent := newTestRoom(t)
	left := false
	room.onLeave = func() { left = true }

	ctx := context.Background()
	require.NoError(t, room.Broadcast(ctx, signaling.EventCallEnded, []byte(`{}`)))
	require.NoError(t, room.Leave(ctx))
	require.NoError(t, room.Leave(ctx))

	assert.True(t, left)
	require.Len(t, *sent, 2)

	message := (*sent)[0]
	assert.Equal(t, "io.huddle.call-ended", message.eventType.Type)
	assert.Nil(t, message.stateKey)
	assert.Equal(t, MessageContent{Sender: "A", Payload: []byte(`{}`)}, message.content)

	presence := (*sent)[1]
	assert.Equal(t, PresenceEventType, presence.eventType)
	require.NotNil(t, presence.stateKey)
	assert.Equal(t, "A", *presence.stateKey)
	assert.Equal(t, PresenceContent{ID: "A", JoinedAt: 1000, Active: false}, presence.content)

	assert.ErrorIs(t, room.Broadcast(ctx, signaling.EventOffer, []byte(`{}`)), signaling.ErrTopicClosed)
}
