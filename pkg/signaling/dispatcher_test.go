package signaling_test

import (
	"testing"
	"time"

	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_DeliversInOrderPerEvent(t *testing.T) {
	dispatcher := signaling.NewDispatcher()
	defer dispatcher.Close()

	offers, cancel := dispatcher.Subscribe(signaling.EventOffer)
	defer cancel()

	for _, payload := range []string{"1", "2", "3"} {
		dispatcher.DeliverEnvelope(signaling.Envelope{Event: signaling.EventOffer, Payload: []byte(payload)})
		dispatcher.DeliverEnvelope(signaling.Envelope{Event: signaling.EventAnswer, Payload: []byte(payload)})
	}

	for _, expected := range []string{"1", "2", "3"} {
		select {
		case envelope := <-offers:
			assert.Equal(t, signaling.EventOffer, envelope.Event)
			assert.Equal(t, expected, string(envelope.Payload))
		case <-time.After(time.Second):
			require.FailNow(t, "envelope not delivered")
		}
	}
}

func TestDispatcher_CloseClosesChannels(t *testing.T) {
	dispatcher := signaling.NewDispatcher()
	envelopes, _ := dispatcher.Subscribe(signaling.EventOffer)

	dispatcher.Close()
	dispatcher.Close()
	assert.True(t, dispatcher.Closed())

	select {
	case _, ok := <-envelopes:
		assert.False(t, ok)
	case <-time.After(time.Second):
		require.FailNow(t, "subscription not closed")
	}

	select {
	case _, ok := <-dispatcher.Presence():
		assert.False(t, ok)
	case <-time.After(time.Second):
		require.FailNow(t, "presence not closed")
	}

	late, _ := dispatcher.Subscribe(signaling.EventAnswer)
	_, ok := <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}
