package channel_test

import (
	"testing"
	"time"

	"github.com/inkboard/huddle/pkg/channel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_SendTagsSender(t *testing.T) {
	inbox := make(chan channel.Message[string, int], 4)
	alice := channel.NewSink("alice", inbox)
	bob := channel.NewSink("bob", inbox)

	require.NoError(t, alice.Send(1))
	require.NoError(t, bob.Send(2))

	first, second := <-inbox, <-inbox
	assert.Equal(t, channel.Message[string, int]{Sender: "alice", Content: 1}, first)
	assert.Equal(t, channel.Message[string, int]{Sender: "bob", Content: 2}, second)
}

func TestSink_SealRejectsFurtherMessages(t *testing.T) {
	inbox := make(chan channel.Message[string, int], 1)
	sink := channel.NewSink("alice", inbox)

	sink.Seal()
	sink.Seal()

	assert.True(t, sink.Sealed())
	assert.ErrorIs(t, sink.Send(1), channel.ErrSinkSealed)
	assert.Empty(t, inbox)
}

func TestSink_SealUnblocksPendingSend(t *testing.T) {
	inbox := make(chan channel.Message[string, int])
	sink := channel.NewSink("alice", inbox)

	result := make(chan error)
	go func() { result <- sink.Send(1) }()

	// Nobody reads the inbox, so the sender is blocked until we seal.
	time.Sleep(10 * time.Millisecond)
	sink.Seal()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, channel.ErrSinkSealed)
	case <-time.After(time.Second):
		t.Fatal("send did not unblock after seal")
	}
}

func TestSink_SealDoesNotAffectOtherSenders(t *testing.T) {
	inbox := make(chan channel.Message[string, int], 1)
	alice := channel.NewSink("alice", inbox)
	bob := channel.NewSink("bob", inbox)

	alice.Seal()
	require.NoError(t, bob.Send(7))
	assert.Equal(t, "bob", (<-inbox).Sender)
}
