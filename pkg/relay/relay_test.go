package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inkboard/huddle/pkg/relay"
	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) (*relay.Server, *relay.Client, string) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	server := relay.NewServer(relay.Config{}, logrus.NewEntry(logger))
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	client, err := relay.Dial(context.Background(), httpServer.URL, logrus.NewEntry(logger))
	require.NoError(t, err)

	return server, client, httpServer.URL
}

func nextPresence(t *testing.T, topic signaling.Topic) signaling.PresenceEvent {
	t.Helper()

	select {
	case event, ok := <-topic.Presence():
		require.True(t, ok, "presence closed")
		return event
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no presence event")
	}

	return signaling.PresenceEvent{}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	assert.Eventually(t, condition, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_PresenceLifecycle(t *testing.T) {
	server, client, _ := startRelay(t)
	ctx := context.Background()

	alice := signaling.Member{ID: "A", JoinedAt: 1}
	bob := signaling.Member{ID: "B", JoinedAt: 2}

	a, err := client.Join(ctx, "voice-b1", alice)
	require.NoError(t, err)
	assert.Equal(t, signaling.PresenceEvent{Kind: signaling.PresenceSync, Members: []signaling.Member{alice}}, nextPresence(t, a))

	b, err := client.Join(ctx, "voice-b1", bob)
	require.NoError(t, err)
	assert.Equal(t, signaling.PresenceEvent{Kind: signaling.PresenceSync, Members: []signaling.Member{alice, bob}}, nextPresence(t, b))
	assert.Equal(t, signaling.PresenceEvent{Kind: signaling.PresenceJoin, Members: []signaling.Member{bob}}, nextPresence(t, a))
	assert.Equal(t, []signaling.Member{alice, bob}, server.Snapshot("voice-b1"))

	require.NoError(t, b.Leave(ctx))
	assert.Equal(t, signaling.PresenceEvent{Kind: signaling.PresenceLeave, Members: []signaling.Member{bob}}, nextPresence(t, a))
	assert.Equal(t, []signaling.Member{alice}, a.Members())

	require.NoError(t, a.Leave(ctx))
	waitFor(t, func() bool { return len(server.Snapshot("voice-b1")) == 0 })
}

func TestRelay_BroadcastReachesOthersOnly(t *testing.T) {
	_, client, _ := startRelay(t)
	ctx := context.Background()

	a, err := client.Join(ctx, "t", signaling.Member{ID: "A", JoinedAt: 1})
	require.NoError(t, err)
	b, err := client.Join(ctx, "t", signaling.Member{ID: "B", JoinedAt: 2})
	require.NoError(t, err)
	defer a.Leave(ctx)
	defer b.Leave(ctx)

	// Wait until A knows about B, so the broadcast is sent after both joined.
	nextPresence(t, a)
	nextPresence(t, a)

	offersA, cancelA := a.Subscribe(signaling.EventOffer)
	defer cancelA()
	offersB, cancelB := b.Subscribe(signaling.EventOffer)
	defer cancelB()

	payload := []byte(`{"from":"A","to":"B","sdp":"v=0"}`)
	require.NoError(t, a.Broadcast(ctx, signaling.EventOffer, payload))

	select {
	case envelope := <-offersB:
		assert.Equal(t, signaling.EventOffer, envelope.Event)
		assert.JSONEq(t, string(payload), string(envelope.Payload))
	case <-time.After(2 * time.Second):
		require.FailNow(t, "offer not relayed")
	}

	select {
	case <-offersA:
		assert.Fail(t, "relay echoed the broadcast to its sender")
	case <-time.After(100 * time.Millisecond):
	}

	assert.ErrorIs(t, a.Broadcast(ctx, signaling.EventOffer, []byte("not json")), relay.ErrInvalidPayload)
}

func TestRelay_DuplicateMemberIsRejected(t *testing.T) {
	_, client, _ := startRelay(t)
	ctx := context.Background()

	a, err := client.Join(ctx, "t", signaling.Member{ID: "A"})
	require.NoError(t, err)
	defer a.Leave(ctx)

	_, err = client.Join(ctx, "t", signaling.Member{ID: "A"})
	assert.ErrorIs(t, err, relay.ErrJoinRejected)
}

func TestRelay_MembersEndpoint(t *testing.T) {
	_, client, address := startRelay(t)
	ctx := context.Background()

	a, err := client.Join(ctx, "voice-b2", signaling.Member{ID: "A", JoinedAt: 5})
	require.NoError(t, err)
	defer a.Leave(ctx)

	response, err := http.Get(address + "/topics/voice-b2/members")
	require.NoError(t, err)
	defer response.Body.Close()

	var members []signaling.Member
	require.NoError(t, json.NewDecoder(response.Body).Decode(&members))
	assert.Equal(t, []signaling.Member{{ID: "A", JoinedAt: 5}}, members)

	empty, err := http.Get(address + "/topics/nobody/members")
	require.NoError(t, err)
	defer empty.Body.Close()

	members = nil
	require.NoError(t, json.NewDecoder(empty.Body).Decode(&members))
	assert.Empty(t, members)
}

func TestDial_RejectsUnknownScheme(t *testing.T) {
	_, err := relay.Dial(context.Background(), "ftp://example.org", logrus.NewEntry(logrus.New()))
	assert.Error(t, err)
}
