package mesh

import (
	"github.com/inkboard/huddle/pkg/peer"
	"github.com/inkboard/huddle/pkg/signaling"
	"github.com/pion/webrtc/v4"
)

// HandlePeerMessage processes a message posted by one of the peers. Messages
// of links that were already replaced or removed are dropped.
func (m *Manager) HandlePeerMessage(message PeerMessage) {
	link, found := m.links[message.Sender.RemoteID]
	if !found || link.id != message.Sender {
		return
	}

	switch msg := message.Content.(type) {
	case peer.ICECandidateGathered:
		m.signaler.Send(signaling.ICECandidate{From: m.localID, To: link.id.RemoteID, Candidate: msg.Candidate})
	case peer.ICEGatheringComplete:
		link.logger.Debug("local ICE gathering completed")
	case peer.StateChanged:
		m.processStateChanged(link, msg.State)
	case peer.RemoteTrackAvailable:
		m.processRemoteTrackAvailable(link, msg)
	case peer.RemoteTrackEnded:
		link.logger.WithField("track_id", msg.Info.TrackID).Info("remote stream ended")
	default:
		link.logger.Errorf("unknown message type: %T", msg)
	}
}

func (m *Manager) processStateChanged(l *link, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		l.state = StateConnected
		l.logger.Info("link connected")
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		// No waiting for ICE to recover: a lost link is gone.
		l.state = StateFailed
		l.logger.WithField("state", state.String()).Warn("link failed")
		m.removeLink(l.id.RemoteID, true)
	case webrtc.PeerConnectionStateClosed:
		m.removeLink(l.id.RemoteID, true)
	}
}

func (m *Manager) processRemoteTrackAvailable(l *link, msg peer.RemoteTrackAvailable) {
	if l.remoteTrack != nil {
		l.logger.WithField("track_id", msg.Info.TrackID).Warn("ignoring additional remote audio track")
		return
	}

	info := msg.Info
	l.remoteTrack = &info

	if err := m.speaking.Attach(l.id.RemoteID, msg.Track); err != nil {
		l.logger.WithError(err).Warn("no speaking detection for remote stream")
	}

	m.events.RemoteStreamAvailable(l.id.RemoteID, info)
}
