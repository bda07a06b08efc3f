package gossip_test

import (
	"context"
	"testing"
	"time"

	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/inkboard/huddle/pkg/signaling/gossip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNode(t *testing.T, bootstrap ...string) *gossip.Node {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	node, err := gossip.New(context.Background(), gossip.Config{
		ListenAddrs:     []string{"/ip4/127.0.0.1/tcp/0"},
		Bootstrap:       bootstrap,
		RefreshInterval: 100,
		PresenceTTL:     1000,
	}, logrus.NewEntry(logger))
	require.NoError(t, err)
	t.Cleanup(func() { node.Close() })

	return node
}

// Waits for a presence event of the given kind, skipping others.
func awaitPresence(t *testing.T, topic signaling.Topic, kind signaling.PresenceKind, id string) {
	t.Helper()

	timeout := time.After(10 * time.Second)
	for {
		select {
		case event, ok := <-topic.Presence():
			require.True(t, ok, "presence closed")
			if event.Kind != kind {
				continue
			}
			for _, member := range event.Members {
				if member.ID == id {
					return
				}
			}
		case <-timeout:
			require.FailNow(t, "presence event not received", "%s %s", kind, id)
		}
	}
}

func TestGossip_PresenceAndBroadcast(t *testing.T) {
	if testing.Short() {
		t.Skip("opens libp2p hosts")
	}

	ctx := context.Background()
	first := newNode(t)
	second := newNode(t, first.Addrs()[0])

	a, err := first.Join(ctx, "voice-b1", signaling.Member{ID: "A", JoinedAt: 1})
	require.NoError(t, err)
	defer a.Leave(ctx)

	b, err := second.Join(ctx, "voice-b1", signaling.Member{ID: "B", JoinedAt: 2})
	require.NoError(t, err)

	awaitPresence(t, a, signaling.PresenceJoin, "B")
	awaitPresence(t, b, signaling.PresenceJoin, "A")
	assert.Equal(t, []signaling.Member{{ID: "A", JoinedAt: 1}, {ID: "B", JoinedAt: 2}}, a.Members())

	offers, cancel := b.Subscribe(signaling.EventOffer)
	defer cancel()

	payload := []byte(`{"from":"A","to":"B","sdp":"v=0"}`)
	require.NoError(t, a.Broadcast(ctx, signaling.EventOffer, payload))

	select {
	case envelope := <-offers:
		assert.JSONEq(t, string(payload), string(envelope.Payload))
	case <-time.After(10 * time.Second):
		require.FailNow(t, "offer not delivered")
	}

	require.NoError(t, b.Leave(ctx))
	awaitPresence(t, a, signaling.PresenceLeave, "B")
}

func TestGossip_JoinTwiceOnOneNode(t *testing.T) {
	if testing.Short() {
		t.Skip("opens libp2p hosts")
	}

	ctx := context.Background()
	node := newNode(t)

	topic, err := node.Join(ctx, "t", signaling.Member{ID: "A"})
	require.NoError(t, err)
	defer topic.Leave(ctx)

	_, err = node.Join(ctx, "t", signaling.Member{ID: "B"})
	assert.ErrorIs(t, err, gossip.ErrAlreadyJoined)
}
