// Package call runs the voice call of a board: it captures the local audio,
// joins the signaling topic of the board and keeps the mesh of peer
// connections in line with the topic presence.
package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/inkboard/huddle/pkg/media"
	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/inkboard/huddle/pkg/worker"
	"github.com/sirupsen/logrus"
)

const notificationQueue = 1024

// Controller is the entry point of the voice calls of one participant. At
// most one session is active at a time.
type Controller struct {
	transport signaling.Transport
	capturer  media.Capturer
	factory   webrtc_ext.ConnectionFactory
	config    Config
	logger    *logrus.Entry

	notifier *worker.Worker[func(Observer)]

	mutex     sync.Mutex
	localID   string
	observer  Observer
	session   *session
	starting  bool
	destroyed bool
}

func NewController(
	transport signaling.Transport,
	capturer media.Capturer,
	factory webrtc_ext.ConnectionFactory,
	config Config,
	logger *logrus.Entry,
) *Controller {
	controller := &Controller{
		transport: transport,
		capturer:  capturer,
		factory:   factory,
		config:    config,
		logger:    logger,
	}

	controller.notifier = worker.Start(worker.Config[func(Observer)]{
		ChannelSize: notificationQueue,
		OnTask: func(notification func(Observer)) {
			if observer := controller.currentObserver(); observer != nil {
				notification(observer)
			}
		},
	})

	return controller
}

// Initialize sets the identity of the local participant and the observer of
// the notifications. It must be called before any call operation.
func (c *Controller) Initialize(localID string, observer Observer) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.destroyed {
		return ErrDestroyed
	}

	if c.session != nil || c.starting {
		return ErrAlreadyInCall
	}

	if observer == nil {
		observer = NopObserver{}
	}

	c.localID = localID
	c.observer = observer

	return nil
}

// StartCall starts or joins the call of a board. The local audio is captured
// first and starts muted.
func (c *Controller) StartCall(ctx context.Context, boardID string, isHost bool) error {
	localID, err := c.beginStart()
	if err != nil {
		return err
	}

	logger := c.logger.WithFields(logrus.Fields{"board_id": boardID, "local_id": localID})

	session, err := c.openSession(ctx, boardID, localID, isHost, logger)

	c.mutex.Lock()
	c.starting = false
	if err == nil && c.destroyed {
		err = ErrDestroyed
	}
	if err == nil {
		c.session = session
	}
	c.mutex.Unlock()

	if err != nil {
		if session != nil {
			session.abort()
		}
		return err
	}

	logger.WithField("host", isHost).Info("call started")
	session.start()
	return nil
}

// JoinCall joins the call of a board as a regular participant.
func (c *Controller) JoinCall(ctx context.Context, boardID string) error {
	return c.StartCall(ctx, boardID, false)
}

// SetMuted enables or disables the local audio. Peers are not told.
func (c *Controller) SetMuted(muted bool) error {
	session := c.currentSession()
	if session == nil {
		return ErrNotInCall
	}

	session.stream.SetMuted(muted)
	return nil
}

// Muted reports whether the local audio is disabled. True outside of a call.
func (c *Controller) Muted() bool {
	session := c.currentSession()
	if session == nil {
		return true
	}

	return session.stream.Muted()
}

// EndCall ends the call for everyone. Only the host may end a call.
func (c *Controller) EndCall(ctx context.Context) error {
	session := c.currentSession()
	if session == nil {
		return ErrNotInCall
	}

	if !session.isHost {
		return ErrNotHost
	}

	return session.end(ctx, true)
}

// LeaveCall leaves the call locally. The others see the participant leave.
func (c *Controller) LeaveCall(ctx context.Context) error {
	session := c.currentSession()
	if session == nil {
		return ErrNotInCall
	}

	return session.end(ctx, false)
}

// Destroy leaves any active call and releases the controller. Every later
// operation fails with ErrDestroyed.
func (c *Controller) Destroy() {
	c.mutex.Lock()
	if c.destroyed {
		c.mutex.Unlock()
		return
	}

	c.destroyed = true
	c.observer = nil
	c.localID = ""
	session := c.session
	c.mutex.Unlock()

	if session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.teardownTimeout())
		defer cancel()

		if err := session.end(ctx, false); err != nil {
			c.logger.WithError(err).Warn("session teardown timed out")
		}
	}

	c.notifier.Stop()
}

// ParticipantCount counts the connected participants including self while in
// a call, zero otherwise.
func (c *Controller) ParticipantCount() int {
	session := c.currentSession()
	if session == nil {
		return 0
	}

	return session.participantCount()
}

func (c *Controller) InCall() bool {
	return c.currentSession() != nil
}

func (c *Controller) beginStart() (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch {
	case c.destroyed:
		return "", ErrDestroyed
	case c.observer == nil:
		return "", ErrNotInitialized
	case c.session != nil || c.starting:
		return "", ErrAlreadyInCall
	}

	c.starting = true
	return c.localID, nil
}

// Captures the audio and joins the topic. Nothing runs yet.
func (c *Controller) openSession(
	ctx context.Context,
	boardID, localID string,
	isHost bool,
	logger *logrus.Entry,
) (*session, error) {
	stream, err := c.capturer.Capture(ctx, media.VoiceConstraints())
	if err != nil {
		captureErr := &CaptureError{Err: err}
		logger.WithError(err).Error("failed to capture audio")
		c.notify(func(o Observer) { o.Error(captureErr) })
		return nil, captureErr
	}

	topic, err := c.transport.Join(ctx, signaling.TopicName(boardID), signaling.NewMember(localID))
	if err != nil {
		stream.Close()
		logger.WithError(err).Error("failed to join the signaling topic")
		return nil, fmt.Errorf("failed to join the call of %s: %w", boardID, err)
	}

	return newSession(c, boardID, localID, isHost, stream, topic, logger), nil
}

func (c *Controller) currentSession() *session {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.session
}

func (c *Controller) currentObserver() Observer {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.observer
}

// Called by a session once it is torn down.
func (c *Controller) sessionEnded(s *session) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.session == s {
		c.session = nil
	}
}

func (c *Controller) notify(notification func(Observer)) {
	if err := c.notifier.Send(notification); err != nil {
		c.logger.WithError(err).Warn("dropping notification")
	}
}
