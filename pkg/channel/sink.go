package channel

import (
	"errors"
	"sync/atomic"
)

var ErrSinkSealed = errors.New("the sink is sealed")

// Sink binds a sender to a shared inbox. Every message posted through the sink
// carries the sender it was created with, so a peer link can never post on
// behalf of another link (the sender is fixed when the sink is created).
type Sink[SenderType comparable, MessageType any] struct {
	// The sender of the messages, e.g. the identity of a peer link.
	sender SenderType
	// The inbox shared by all senders (multiple producers, single consumer).
	inbox chan<- Message[SenderType, MessageType]
	// Closed once the sink is sealed. The inbox itself is never closed by the
	// sink since other senders may still use it.
	sealed chan struct{}
	// Guards the close of `sealed`.
	alreadySealed atomic.Bool
}

// Creates a new sink for a given sender. The sink does not own the inbox and
// never closes it.
func NewSink[S comparable, M any](sender S, inbox chan<- Message[S, M]) *Sink[S, M] {
	return &Sink[S, M]{
		sender: sender,
		inbox:  inbox,
		sealed: make(chan struct{}),
	}
}

// Sender returns the sender the sink is bound to.
func (s *Sink[S, M]) Sender() S {
	return s.sender
}

// Posts a message to the inbox. Blocks while the inbox is full unless the sink
// gets sealed in the meantime, in which case `ErrSinkSealed` is returned.
func (s *Sink[S, M]) Send(message M) error {
	if s.alreadySealed.Load() {
		return ErrSinkSealed
	}

	select {
	case <-s.sealed:
		return ErrSinkSealed
	case s.inbox <- Message[S, M]{Sender: s.sender, Content: message}:
		return nil
	}
}

// Seals the sink: any `Send` that starts after `Seal` returns fails. A sender
// that is already blocked may still deliver its message if the consumer reads
// it before noticing the seal, so consumers should still validate the sender.
func (s *Sink[S, M]) Seal() {
	if !s.alreadySealed.CompareAndSwap(false, true) {
		return
	}

	close(s.sealed)
}

// Sealed reports whether the sink has been sealed.
func (s *Sink[S, M]) Sealed() bool {
	return s.alreadySealed.Load()
}

// A message posted by a sender to the shared inbox.
type Message[SenderType comparable, MessageType any] struct {
	// The sender of the message.
	Sender SenderType
	// The content of the message.
	Content MessageType
}
