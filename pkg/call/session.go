package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inkboard/huddle/pkg/media"
	"github.com/inkboard/huddle/pkg/mesh"
	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/inkboard/huddle/pkg/speaking"
	"github.com/inkboard/huddle/pkg/telemetry"
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/inkboard/huddle/pkg/worker"
	"github.com/sirupsen/logrus"
)

const broadcastTimeout = 5 * time.Second

// A call session. Everything but the fields set at creation is owned by the
// loop goroutine.
type session struct {
	controller *Controller
	boardID    string
	localID    string
	isHost     bool
	logger     *logrus.Entry
	telemetry  *telemetry.Telemetry
	links      map[string]*telemetry.Telemetry

	stream    *media.LocalStream
	topic     signaling.Topic
	outbound  *worker.Worker[signaling.Message]
	audio     *speaking.Context
	scheduler *speaking.Scheduler
	mesh      *mesh.Manager

	subscriptions map[string]<-chan signaling.Envelope
	cancels       []func()

	stop         chan struct{}
	stopOnce     sync.Once
	ended        chan struct{}
	participants atomic.Int32
}

func newSession(
	controller *Controller,
	boardID, localID string,
	isHost bool,
	stream *media.LocalStream,
	topic signaling.Topic,
	logger *logrus.Entry,
) *session {
	s := &session{
		controller:    controller,
		boardID:       boardID,
		localID:       localID,
		isHost:        isHost,
		logger:        logger,
		telemetry:     telemetry.StartCall(boardID, localID, isHost),
		links:         make(map[string]*telemetry.Telemetry),
		stream:        stream,
		topic:         topic,
		subscriptions: make(map[string]<-chan signaling.Envelope),
		stop:          make(chan struct{}),
		ended:         make(chan struct{}),
	}

	// Subscribe before anything is sent so no answer can be missed.
	for _, event := range signaling.Events {
		envelopes, cancel := topic.Subscribe(event)
		s.subscriptions[event] = envelopes
		s.cancels = append(s.cancels, cancel)
	}

	s.outbound = worker.Start(worker.Config[signaling.Message]{
		ChannelSize: controller.config.outboundQueue(),
		OnTask:      s.broadcast,
	})

	speakingConfig := controller.config.Speaking.WithDefaults()
	s.audio = speaking.NewContext(speakingConfig.FFTSize)
	s.scheduler = speaking.NewScheduler(s.audio, speakingConfig, s.onSpeakingChanged, logger)
	s.mesh = mesh.NewManager(localID, controller.factory, stream.Tracks(), s, sessionEvents{s}, s.scheduler, logger)
	s.participants.Store(1)

	return s
}

// Starts the loop. The host announces the call first.
func (s *session) start() {
	if s.isHost {
		s.Send(signaling.CallStarted{HostID: s.localID})
		s.controller.notify(func(o Observer) { o.CallStarted(s.localID) })
	}

	go s.run()
}

// Releases a session that never started.
func (s *session) abort() {
	for _, cancel := range s.cancels {
		cancel()
	}

	s.outbound.Stop()
	s.audio.Close()
	s.stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.controller.config.teardownTimeout())
	defer cancel()

	if err := s.topic.Leave(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to leave the topic")
	}

	s.telemetry.End()
}

// Stops the session and waits for its teardown. A host ending the call tells
// everyone first.
func (s *session) end(ctx context.Context, everyone bool) error {
	s.stopOnce.Do(func() {
		if everyone {
			s.Send(signaling.CallEnded{})
		}
		close(s.stop)
	})

	select {
	case <-s.ended:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) participantCount() int {
	return int(s.participants.Load())
}

// Send queues a message for the topic. Implements mesh.Signaler.
func (s *session) Send(message signaling.Message) {
	if err := s.outbound.Send(message); err != nil {
		s.logger.WithError(err).WithField("event", message.Event()).Warn("dropping outgoing message")
	}
}

func (s *session) broadcast(message signaling.Message) {
	event, payload, err := signaling.Encode(message)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	if err := s.topic.Broadcast(ctx, event, payload); err != nil {
		s.logger.WithError(err).WithField("event", event).Warn("failed to broadcast")
	}
}

func (s *session) run() {
	defer s.teardown()

	interval := s.controller.config.Speaking.WithDefaults().Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	presence := s.topic.Presence()

	// The sync is a snapshot from the join. Offers of members that joined
	// after it must not be handled first, or the sync would forget them.
	select {
	case <-s.stop:
		return
	case event, open := <-presence:
		if !open {
			s.logger.Warn("signaling topic closed")
			return
		}
		s.processPresence(event)
		s.participants.Store(int32(s.mesh.Len() + 1))
	}

	for {
		var ok bool

		select {
		case <-s.stop:
			return
		case event, open := <-presence:
			if ok = open; open {
				s.processPresence(event)
			} else {
				s.logger.Warn("signaling topic closed")
			}
		case envelope, open := <-s.subscriptions[signaling.EventOffer]:
			ok = s.processEnvelope(signaling.EventOffer, envelope, open)
		case envelope, open := <-s.subscriptions[signaling.EventAnswer]:
			ok = s.processEnvelope(signaling.EventAnswer, envelope, open)
		case envelope, open := <-s.subscriptions[signaling.EventICECandidate]:
			ok = s.processEnvelope(signaling.EventICECandidate, envelope, open)
		case envelope, open := <-s.subscriptions[signaling.EventCallStarted]:
			ok = s.processEnvelope(signaling.EventCallStarted, envelope, open)
		case envelope, open := <-s.subscriptions[signaling.EventCallEnded]:
			ok = s.processEnvelope(signaling.EventCallEnded, envelope, open)
		case message := <-s.mesh.Inbox():
			s.mesh.HandlePeerMessage(message)
			ok = true
		case <-ticker.C:
			s.scheduler.Tick()
			ok = true
		}

		if !ok {
			return
		}

		s.participants.Store(int32(s.mesh.Len() + 1))
	}
}

func (s *session) processPresence(event signaling.PresenceEvent) {
	s.logger.WithFields(logrus.Fields{
		"kind":    event.Kind.String(),
		"members": len(event.Members),
	}).Debug("presence changed")

	switch event.Kind {
	case signaling.PresenceSync:
		present := make(map[string]struct{}, len(event.Members))
		for _, member := range event.Members {
			present[member.ID] = struct{}{}
		}

		var gone []signaling.Member
		for _, link := range s.mesh.Links() {
			if _, found := present[link.ID.RemoteID]; !found {
				gone = append(gone, signaling.Member{ID: link.ID.RemoteID})
			}
		}

		s.mesh.Forget(gone)
		s.mesh.Discover(event.Members)
	case signaling.PresenceJoin:
		s.mesh.Discover(event.Members)
	case signaling.PresenceLeave:
		s.mesh.Forget(event.Members)
	}
}

// Returns false when the session is over.
func (s *session) processEnvelope(event string, envelope signaling.Envelope, open bool) bool {
	if !open {
		s.logger.Warn("signaling topic closed")
		return false
	}

	message, err := signaling.Decode(event, envelope.Payload)
	if err != nil {
		s.logger.WithError(err).Debug("dropping malformed message")
		return true
	}

	switch msg := message.(type) {
	case signaling.CallStarted:
		if msg.HostID != s.localID {
			s.logger.WithField("host_id", msg.HostID).Info("call started by host")
			s.controller.notify(func(o Observer) { o.CallStarted(msg.HostID) })
		}
	case signaling.CallEnded:
		s.logger.Info("call ended by host")
		return false
	default:
		s.mesh.HandleSignaling(message)
	}

	return true
}

func (s *session) teardown() {
	s.mesh.Close()
	s.scheduler.Close()
	s.audio.Close()
	s.stream.Close()

	for _, cancel := range s.cancels {
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.controller.config.teardownTimeout())
	defer cancel()

	// Flush the outgoing messages, call-ended included, before leaving.
	s.outbound.Stop()
	select {
	case <-s.outbound.Done():
	case <-ctx.Done():
		s.logger.Warn("outgoing messages not flushed")
	}

	if err := s.topic.Leave(ctx); err != nil && !errors.Is(err, signaling.ErrTopicClosed) {
		s.logger.WithError(err).Warn("failed to leave the topic")
	}

	s.participants.Store(0)
	s.controller.sessionEnded(s)
	s.controller.notify(func(o Observer) { o.CallEnded() })

	s.telemetry.AddEvent("ended")
	s.telemetry.End()
	s.logger.Info("call ended")

	close(s.ended)
}

func (s *session) onSpeakingChanged(remoteID string, speaking bool) {
	s.controller.notify(func(o Observer) { o.SpeakingChanged(remoteID, speaking) })
}

// Forwards the mesh events to the observer.
type sessionEvents struct {
	s *session
}

func (e sessionEvents) ParticipantJoined(remoteID string) {
	e.s.links[remoteID] = e.s.telemetry.StartLink(remoteID)
	e.s.controller.notify(func(o Observer) { o.ParticipantJoined(remoteID) })
}

func (e sessionEvents) ParticipantLeft(remoteID string) {
	if link := e.s.links[remoteID]; link != nil {
		link.End()
		delete(e.s.links, remoteID)
	}
	e.s.controller.notify(func(o Observer) { o.ParticipantLeft(remoteID) })
}

func (e sessionEvents) RemoteStreamAvailable(remoteID string, track webrtc_ext.TrackInfo) {
	if link := e.s.links[remoteID]; link != nil {
		link.AddEvent("remote stream available", telemetry.TrackID.String(track.TrackID))
	}
	e.s.controller.notify(func(o Observer) { o.RemoteStreamAvailable(remoteID, track) })
}

func (e sessionEvents) NegotiationFailed(err *mesh.NegotiationError) {
	if link := e.s.links[err.RemoteID]; link != nil {
		link.Fail(err)
	} else {
		e.s.telemetry.AddError(err)
	}
	e.s.controller.notify(func(o Observer) { o.Error(err) })
}
