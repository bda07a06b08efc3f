package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/sirupsen/logrus"
)

const joinTimeout = 10 * time.Second

// Client is a signaling.Transport backed by a relay server.
type Client struct {
	socketURL string
	dialer    *websocket.Dialer
	logger    *logrus.Entry
}

// Dial checks that the relay at `address` (http, https, ws or wss) is up and
// returns a client for it.
func Dial(ctx context.Context, address string, logger *logrus.Entry) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(address, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid relay address: %w", err)
	}

	httpURL, socketURL := *base, *base
	switch base.Scheme {
	case "http", "ws":
		httpURL.Scheme, socketURL.Scheme = "http", "ws"
	case "https", "wss":
		httpURL.Scheme, socketURL.Scheme = "https", "wss"
	default:
		return nil, fmt.Errorf("unsupported relay scheme %q", base.Scheme)
	}

	httpURL.Path += "/healthz"
	socketURL.Path += "/ws"

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL.String(), nil)
	if err != nil {
		return nil, err
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("relay is unreachable: %w", err)
	}
	response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("relay health check failed: %s", response.Status)
	}

	return &Client{
		socketURL: socketURL.String(),
		dialer:    websocket.DefaultDialer,
		logger:    logger,
	}, nil
}

func (c *Client) Join(ctx context.Context, topic string, self signaling.Member) (signaling.Topic, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.socketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open relay socket: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(joinTimeout)
	}

	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(Frame{Type: FrameJoin, Topic: topic, Member: &self}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to send join: %w", err)
	}

	_ = ws.SetReadDeadline(deadline)
	var state Frame
	if err := ws.ReadJSON(&state); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to receive presence state: %w", err)
	}

	if state.Type != FramePresenceState {
		ws.Close()
		return nil, fmt.Errorf("%w: %s", ErrJoinRejected, state.Error)
	}

	_ = ws.SetReadDeadline(time.Time{})

	joined := &clientTopic{
		Dispatcher: signaling.NewDispatcher(),
		ws:         ws,
		self:       self,
		roster:     signaling.NewRoster(),
		logger:     c.logger.WithField("topic", topic),
	}

	joined.roster.Join(state.Members...)
	joined.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceSync, Members: joined.roster.Snapshot()})

	go joined.readLoop()
	return joined, nil
}

type clientTopic struct {
	*signaling.Dispatcher

	ws     *websocket.Conn
	self   signaling.Member
	logger *logrus.Entry

	writeMutex sync.Mutex

	mutex  sync.Mutex
	roster *signaling.Roster

	leaveOnce sync.Once
}

func (t *clientTopic) Broadcast(ctx context.Context, event string, payload []byte) error {
	if t.Closed() {
		return signaling.ErrTopicClosed
	}

	if !json.Valid(payload) {
		return ErrInvalidPayload
	}

	return t.write(ctx, Frame{Type: FrameBroadcast, Event: event, Payload: payload})
}

func (t *clientTopic) Members() []signaling.Member {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.roster.Snapshot()
}

func (t *clientTopic) Leave(ctx context.Context) error {
	var err error
	t.leaveOnce.Do(func() {
		if !t.Closed() {
			err = t.write(ctx, Frame{Type: FrameLeave})
		}

		t.Close()
		t.ws.Close()
	})

	return err
}

func (t *clientTopic) write(ctx context.Context, frame Frame) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}

	_ = t.ws.SetWriteDeadline(deadline)
	if err := t.ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", frame.Type, err)
	}

	return nil
}

func (t *clientTopic) readLoop() {
	defer t.Close()

	for {
		var frame Frame
		if err := t.ws.ReadJSON(&frame); err != nil {
			if !t.Closed() && !errors.Is(err, net.ErrClosed) {
				t.logger.WithError(err).Warn("relay connection lost")
			}
			return
		}

		if presence, ok := frame.presenceEvent(); ok {
			t.applyPresence(presence)
			continue
		}

		switch frame.Type {
		case FrameEvent:
			t.DeliverEnvelope(signaling.Envelope{Event: frame.Event, Payload: frame.Payload})
		case FrameError:
			t.logger.WithField("error", frame.Error).Warn("relay reported an error")
		default:
			t.logger.WithField("type", frame.Type).Debug("ignoring unexpected frame")
		}
	}
}

func (t *clientTopic) applyPresence(event signaling.PresenceEvent) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	switch event.Kind {
	case signaling.PresenceSync:
		joined, left := t.roster.Reset(event.Members)
		if len(left) > 0 {
			t.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceLeave, Members: left})
		}
		if len(joined) > 0 {
			t.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceJoin, Members: joined})
		}
	case signaling.PresenceJoin:
		if joined := t.roster.Join(event.Members...); len(joined) > 0 {
			t.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceJoin, Members: joined})
		}
	case signaling.PresenceLeave:
		ids := make([]string, 0, len(event.Members))
		for _, member := range event.Members {
			ids = append(ids, member.ID)
		}

		if left := t.roster.Leave(ids...); len(left) > 0 {
			t.DeliverPresence(signaling.PresenceEvent{Kind: signaling.PresenceLeave, Members: left})
		}
	}
}
