// Package webrtctest provides in-memory doubles of webrtc_ext connections.
// A fake connection "connects" as soon as it has both a local and a remote
// description and then exposes one remote audio track per audio section of the
// remote description. All callbacks run in order on a per-connection goroutine.
package webrtctest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/inkboard/huddle/pkg/worker"
	"github.com/pion/webrtc/v4"
)

var (
	ErrClosed              = errors.New("connection is closed")
	ErrNoRemoteDescription = errors.New("remote description is not set")
	ErrNoRemoteOffer       = errors.New("no remote offer to answer")
)

type Factory struct {
	mutex       sync.Mutex
	connections []*Connection
	err         error
}

func NewFactory() *Factory {
	return &Factory{}
}

// Makes every following CreatePeerConnection fail with err (nil to reset).
func (f *Factory) SetError(err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.err = err
}

func (f *Factory) CreatePeerConnection() (webrtc_ext.Connection, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	connection := newConnection(len(f.connections) + 1)
	f.connections = append(f.connections, connection)
	return connection, nil
}

// Connections returns every connection created so far, in creation order.
func (f *Factory) Connections() []*Connection {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return append([]*Connection(nil), f.connections...)
}

// Open returns the connections that are not closed.
func (f *Factory) Open() []*Connection {
	var open []*Connection
	for _, connection := range f.Connections() {
		if !connection.Closed() {
			open = append(open, connection)
		}
	}

	return open
}

type Connection struct {
	ID int

	callbacks *worker.Worker[func()]

	mutex        sync.Mutex
	tracks       []webrtc.TrackLocal
	local        *webrtc.SessionDescription
	remote       *webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	state        webrtc.PeerConnectionState
	remoteTracks []*RemoteTrack
	connected    bool
	closed       bool

	onCandidate func(*webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(webrtc_ext.RemoteTrack)
}

func newConnection(id int) *Connection {
	return &Connection{
		ID:    id,
		state: webrtc.PeerConnectionStateNew,
		callbacks: worker.Start(worker.Config[func()]{
			ChannelSize: 256,
			OnTask:      func(callback func()) { callback() },
		}),
	}
}

func (c *Connection) AddTrack(track webrtc.TrackLocal) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.tracks = append(c.tracks, track)
	return nil
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}

	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: c.sdpLocked("offer")}, nil
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}

	if c.remote == nil || c.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, ErrNoRemoteOffer
	}

	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: c.sdpLocked("answer")}, nil
}

func (c *Connection) SetLocalDescription(description webrtc.SessionDescription) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.local = &description

	candidate := webrtc.ICECandidateInit{
		Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 127.0.0.1 %d typ host", c.ID, 50000+c.ID),
	}
	c.schedule(func() {
		if handler := c.candidateHandler(); handler != nil {
			handler(&candidate)
			handler(nil)
		}
	})

	c.maybeConnectLocked()
	return nil
}

func (c *Connection) SetRemoteDescription(description webrtc.SessionDescription) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrClosed
	}

	if description.SDP == "" {
		return errors.New("empty session description")
	}

	c.remote = &description
	c.maybeConnectLocked()
	return nil
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.local
}

func (c *Connection) RemoteDescription() *webrtc.SessionDescription {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.remote
}

func (c *Connection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrClosed
	}

	if c.remote == nil {
		return ErrNoRemoteDescription
	}

	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *Connection) OnICECandidate(handler func(*webrtc.ICECandidateInit)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.onCandidate = handler
}

func (c *Connection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.onState = handler
}

func (c *Connection) OnTrack(handler func(webrtc_ext.RemoteTrack)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.onTrack = handler
}

func (c *Connection) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}

	c.closed = true
	tracks := c.remoteTracks
	c.mutex.Unlock()

	for _, track := range tracks {
		track.End()
	}

	c.setState(webrtc.PeerConnectionStateClosed)
	c.callbacks.Stop()
	return nil
}

// SetState simulates a connection state change, e.g. a failure.
func (c *Connection) SetState(state webrtc.PeerConnectionState) {
	c.setState(state)
}

func (c *Connection) State() webrtc.PeerConnectionState {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.state
}

func (c *Connection) Closed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.closed
}

func (c *Connection) Tracks() []webrtc.TrackLocal {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]webrtc.TrackLocal(nil), c.tracks...)
}

// RemoteCandidates returns the candidates added with AddICECandidate.
func (c *Connection) RemoteCandidates() []webrtc.ICECandidateInit {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

func (c *Connection) RemoteTracks() []*RemoteTrack {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]*RemoteTrack(nil), c.remoteTracks...)
}

func (c *Connection) setState(state webrtc.PeerConnectionState) {
	c.mutex.Lock()
	c.state = state
	c.mutex.Unlock()

	c.schedule(func() {
		if handler := c.stateHandler(); handler != nil {
			handler(state)
		}
	})
}

func (c *Connection) maybeConnectLocked() {
	if c.connected || c.local == nil || c.remote == nil {
		return
	}

	c.connected = true
	c.state = webrtc.PeerConnectionStateConnected

	for i := 0; i < strings.Count(c.remote.SDP, "m=audio"); i++ {
		c.remoteTracks = append(c.remoteTracks, NewRemoteTrack(
			fmt.Sprintf("audio-%d-%d", c.ID, i),
			fmt.Sprintf("stream-%d", c.ID),
		))
	}

	tracks := append([]*RemoteTrack(nil), c.remoteTracks...)
	c.schedule(func() {
		if handler := c.stateHandler(); handler != nil {
			handler(webrtc.PeerConnectionStateConnecting)
			handler(webrtc.PeerConnectionStateConnected)
		}

		if handler := c.trackHandler(); handler != nil {
			for _, track := range tracks {
				handler(track)
			}
		}
	})
}

func (c *Connection) sdpLocked(kind string) string {
	var sdp strings.Builder
	fmt.Fprintf(&sdp, "v=0\r\no=- %d 0 IN IP4 127.0.0.1\r\ns=%s\r\n", c.ID, kind)
	for _, track := range c.tracks {
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			sdp.WriteString("m=audio\r\n")
		}
	}

	return sdp.String()
}

func (c *Connection) schedule(callback func()) {
	// A stopped worker means the connection is closed, nothing to report.
	_ = c.callbacks.Send(callback)
}

func (c *Connection) candidateHandler() func(*webrtc.ICECandidateInit) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.onCandidate
}

func (c *Connection) stateHandler() func(webrtc.PeerConnectionState) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.onState
}

func (c *Connection) trackHandler() func(webrtc_ext.RemoteTrack) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.onTrack
}
