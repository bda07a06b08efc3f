package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/inkboard/huddle/pkg/signaling/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextPresence(t *testing.T, topic signaling.Topic) signaling.PresenceEvent {
	t.Helper()

	select {
	case event, ok := <-topic.Presence():
		require.True(t, ok, "presence closed")
		return event
	case <-time.After(time.Second):
		require.FailNow(t, "no presence event")
	}

	return signaling.PresenceEvent{}
}

func TestHub_PresenceSyncThenDeltas(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	alice := signaling.Member{ID: "A", JoinedAt: 1}
	bob := signaling.Member{ID: "B", JoinedAt: 2}

	a, err := hub.Join(ctx, "voice-b1", alice)
	require.NoError(t, err)

	sync := nextPresence(t, a)
	assert.Equal(t, signaling.PresenceSync, sync.Kind)
	assert.Equal(t, []signaling.Member{alice}, sync.Members)

	b, err := hub.Join(ctx, "voice-b1", bob)
	require.NoError(t, err)

	assert.Equal(t, signaling.PresenceEvent{Kind: signaling.PresenceSync, Members: []signaling.Member{alice, bob}}, nextPresence(t, b))
	assert.Equal(t, signaling.PresenceEvent{Kind: signaling.PresenceJoin, Members: []signaling.Member{bob}}, nextPresence(t, a))

	require.NoError(t, b.Leave(ctx))
	assert.Equal(t, signaling.PresenceEvent{Kind: signaling.PresenceLeave, Members: []signaling.Member{bob}}, nextPresence(t, a))
	assert.Equal(t, []signaling.Member{alice}, a.Members())

	_, ok := <-b.Presence()
	assert.False(t, ok, "presence is closed after leave")
}

func TestHub_DuplicateMember(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	_, err := hub.Join(ctx, "t", signaling.Member{ID: "A"})
	require.NoError(t, err)

	_, err = hub.Join(ctx, "t", signaling.Member{ID: "A"})
	assert.ErrorIs(t, err, memory.ErrDuplicateMember)
}

func TestHub_BroadcastSkipsSender(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	a, err := hub.Join(ctx, "t", signaling.Member{ID: "A"})
	require.NoError(t, err)
	b, err := hub.Join(ctx, "t", signaling.Member{ID: "B"})
	require.NoError(t, err)

	fromA, cancelA := a.Subscribe("offer")
	defer cancelA()
	fromB, cancelB := b.Subscribe("offer")
	defer cancelB()

	for _, payload := range []string{"1", "2", "3"} {
		require.NoError(t, a.Broadcast(ctx, "offer", []byte(payload)))
	}

	for _, expected := range []string{"1", "2", "3"} {
		select {
		case envelope := <-fromB:
			assert.Equal(t, signaling.Envelope{Event: "offer", Payload: []byte(expected)}, envelope)
		case <-time.After(time.Second):
			require.FailNow(t, "missing envelope", expected)
		}
	}

	select {
	case envelope := <-fromA:
		assert.Failf(t, "sender received its own broadcast", "%v", envelope)
	case <-time.After(50 * time.Millisecond):
	}

	sent := hub.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "A", sent[0].From)
	assert.Equal(t, "t", sent[0].Topic)
}

func TestHub_OnlySubscribedEvents(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	a, _ := hub.Join(ctx, "t", signaling.Member{ID: "A"})
	b, _ := hub.Join(ctx, "t", signaling.Member{ID: "B"})

	answers, cancel := b.Subscribe("answer")
	defer cancel()

	require.NoError(t, a.Broadcast(ctx, "offer", []byte("x")))
	require.NoError(t, a.Broadcast(ctx, "answer", []byte("y")))

	select {
	case envelope := <-answers:
		assert.Equal(t, "answer", envelope.Event)
	case <-time.After(time.Second):
		require.FailNow(t, "missing answer")
	}
}

func TestHub_CancelClosesSubscription(t *testing.T) {
	hub := memory.NewHub()
	a, _ := hub.Join(context.Background(), "t", signaling.Member{ID: "A"})

	envelopes, cancel := a.Subscribe("offer")
	cancel()
	cancel()

	select {
	case _, ok := <-envelopes:
		assert.False(t, ok)
	case <-time.After(time.Second):
		require.FailNow(t, "subscription not closed")
	}
}

func TestHub_DropLooksLikeLeave(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()

	a, _ := hub.Join(ctx, "t", signaling.Member{ID: "A", JoinedAt: 1})
	b, _ := hub.Join(ctx, "t", signaling.Member{ID: "B", JoinedAt: 2})
	nextPresence(t, a)
	nextPresence(t, a)
	nextPresence(t, b)

	hub.Drop("B")

	assert.Equal(t, signaling.PresenceEvent{
		Kind:    signaling.PresenceLeave,
		Members: []signaling.Member{{ID: "B", JoinedAt: 2}},
	}, nextPresence(t, a))

	assert.ErrorIs(t, b.Broadcast(ctx, "offer", nil), signaling.ErrTopicClosed)
	assert.Equal(t, []signaling.Member{{ID: "A", JoinedAt: 1}}, hub.Members("t"))
}
