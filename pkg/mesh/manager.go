// Package mesh keeps one peer connection to every other participant of a call.
//
// The manager is driven by a single goroutine (the session loop): presence
// changes, decoded signaling messages and the messages of its peers are fed
// to it one at a time, and it reacts through Signaler, Events and Speaking.
package mesh

import (
	"errors"
	"strings"

	"github.com/inkboard/huddle/pkg/channel"
	"github.com/inkboard/huddle/pkg/peer"
	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

const inboxSize = 128

// Signaler sends a message to the other members of the topic.
type Signaler interface {
	Send(message signaling.Message)
}

// Events receives the observable changes of the mesh, on the session loop.
type Events interface {
	ParticipantJoined(remoteID string)
	ParticipantLeft(remoteID string)
	RemoteStreamAvailable(remoteID string, track webrtc_ext.TrackInfo)
	NegotiationFailed(err *NegotiationError)
}

// Speaking attaches activity detection to the remote streams.
type Speaking interface {
	Attach(remoteID string, track webrtc_ext.RemoteTrack) error
	Remove(remoteID string)
}

type PeerMessage = channel.Message[LinkID, peer.MessageContent]

type Manager struct {
	localID     string
	factory     webrtc_ext.ConnectionFactory
	localTracks []webrtc.TrackLocal
	signaler    Signaler
	events      Events
	speaking    Speaking
	logger      *logrus.Entry

	links      map[string]*link
	generation uint64
	inbox      chan PeerMessage
}

func NewManager(
	localID string,
	factory webrtc_ext.ConnectionFactory,
	localTracks []webrtc.TrackLocal,
	signaler Signaler,
	events Events,
	speaking Speaking,
	logger *logrus.Entry,
) *Manager {
	return &Manager{
		localID:     localID,
		factory:     factory,
		localTracks: localTracks,
		signaler:    signaler,
		events:      events,
		speaking:    speaking,
		logger:      logger,
		links:       make(map[string]*link),
		inbox:       make(chan PeerMessage, inboxSize),
	}
}

// Inbox delivers the messages of the peers; pass each to HandlePeerMessage.
func (m *Manager) Inbox() <-chan PeerMessage {
	return m.inbox
}

// Discover connects to the members that have no link yet. Only the smaller id
// of a pair initiates; the other side waits for its offer.
func (m *Manager) Discover(members []signaling.Member) {
	for _, member := range members {
		if member.ID == m.localID || !m.initiates(member.ID) {
			continue
		}

		if _, found := m.links[member.ID]; found {
			continue
		}

		m.startInitiator(member.ID)
	}
}

// Forget tears down the links of members that left.
func (m *Manager) Forget(members []signaling.Member) {
	for _, member := range members {
		if m.removeLink(member.ID, true) {
			m.logger.WithField("remote_id", member.ID).Info("participant left")
		}
	}
}

// Close tears down every link.
func (m *Manager) Close() {
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		m.removeLink(id, true)
	}
}

func (m *Manager) Len() int {
	return len(m.links)
}

func (m *Manager) Has(remoteID string) bool {
	_, found := m.links[remoteID]
	return found
}

// Links returns the current links ordered by remote id.
func (m *Manager) Links() []LinkInfo {
	infos := make([]LinkInfo, 0, len(m.links))
	for _, link := range m.links {
		infos = append(infos, link.info())
	}

	slices.SortFunc(infos, func(a, b LinkInfo) int {
		return strings.Compare(a.ID.RemoteID, b.ID.RemoteID)
	})

	return infos
}

func (m *Manager) initiates(remoteID string) bool {
	return m.localID < remoteID
}

// Creates a link with the local tracks attached. A replaced link keeps its
// participant, so only a new participant is announced.
func (m *Manager) newLink(remoteID string, role Role, announce bool) (*link, error) {
	m.generation++
	id := LinkID{RemoteID: remoteID, Generation: m.generation}
	logger := m.logger.WithFields(logrus.Fields{
		"remote_id":  remoteID,
		"generation": id.Generation,
		"role":       role.String(),
	})

	sink := channel.NewSink[LinkID, peer.MessageContent](id, m.inbox)
	p, err := peer.NewPeer[LinkID](m.factory, sink, logger)
	if err != nil {
		return nil, &NegotiationError{RemoteID: remoteID, Step: StepCreateConnection, Err: err}
	}

	for _, track := range m.localTracks {
		if err := p.AddTrack(track); err != nil {
			p.Terminate()
			return nil, &NegotiationError{RemoteID: remoteID, Step: StepAddTrack, Err: err}
		}
	}

	link := &link{
		id:             id,
		role:           role,
		state:          StateNew,
		peer:           p,
		logger:         logger,
		seenCandidates: make(map[string]struct{}),
	}

	m.links[remoteID] = link
	logger.Info("link created")
	if announce {
		m.events.ParticipantJoined(remoteID)
	}

	return link, nil
}

func (m *Manager) startInitiator(remoteID string) {
	link, err := m.newLink(remoteID, RoleInitiator, true)
	if err != nil {
		m.fail(err)
		return
	}

	link.state = StateNegotiating

	offer, err := link.peer.CreateOffer()
	if err != nil {
		// Nothing was sent, so the link would never fail on its own.
		m.fail(&NegotiationError{RemoteID: remoteID, Step: StepOffer, Err: err})
		m.removeLink(remoteID, true)
		return
	}

	m.signaler.Send(signaling.Offer{From: m.localID, To: remoteID, SDP: offer.SDP})
}

// Removes the link of a participant, if any. Returns false if there was none.
func (m *Manager) removeLink(remoteID string, notify bool) bool {
	link, found := m.links[remoteID]
	if !found {
		return false
	}

	delete(m.links, remoteID)
	m.speaking.Remove(remoteID)
	link.peer.Terminate()
	link.state = StateClosed
	link.logger.Info("link removed")

	if notify {
		m.events.ParticipantLeft(remoteID)
	}

	return true
}

func (m *Manager) fail(err error) {
	var negotiationErr *NegotiationError
	if !errors.As(err, &negotiationErr) {
		negotiationErr = &NegotiationError{Step: "unknown", Err: err}
	}

	m.logger.WithError(err).WithField("remote_id", negotiationErr.RemoteID).Warn("negotiation failed")
	m.events.NegotiationFailed(negotiationErr)
}
