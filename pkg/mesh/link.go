package mesh

import (
	"fmt"

	"github.com/inkboard/huddle/pkg/peer"
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// LinkID identifies one connection to a remote participant. The generation
// tells apart successive connections to the same participant.
type LinkID struct {
	RemoteID   string
	Generation uint64
}

func (id LinkID) String() string {
	return fmt.Sprintf("%s#%d", id.RemoteID, id.Generation)
}

type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}

	return "responder"
}

type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Public view of a link.
type LinkInfo struct {
	ID          LinkID
	Role        Role
	State       State
	RemoteTrack *webrtc_ext.TrackInfo
}

type link struct {
	id     LinkID
	role   Role
	state  State
	peer   *peer.Peer[LinkID]
	logger *logrus.Entry

	// The remote offer this link answered, to recognize duplicates.
	remoteOffer string
	// Remote candidates received before the remote description was applied.
	pendingCandidates []webrtc.ICECandidateInit
	seenCandidates    map[string]struct{}
	remoteTrack       *webrtc_ext.TrackInfo
}

func (l *link) info() LinkInfo {
	return LinkInfo{ID: l.id, Role: l.role, State: l.state, RemoteTrack: l.remoteTrack}
}

// Records a remote candidate and reports whether it is new.
func (l *link) markCandidate(candidate webrtc.ICECandidateInit) bool {
	key := candidate.Candidate
	if candidate.SDPMid != nil {
		key += "|" + *candidate.SDPMid
	}
	if candidate.SDPMLineIndex != nil {
		key += fmt.Sprintf("|%d", *candidate.SDPMLineIndex)
	}

	if _, seen := l.seenCandidates[key]; seen {
		return false
	}

	l.seenCandidates[key] = struct{}{}
	return true
}

func (l *link) addCandidate(candidate webrtc.ICECandidateInit) error {
	if !l.peer.HasRemoteDescription() {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		return nil
	}

	return l.peer.ProcessNewRemoteCandidate(candidate)
}

func (l *link) flushCandidates() error {
	pending := l.pendingCandidates
	l.pendingCandidates = nil

	for _, candidate := range pending {
		if err := l.peer.ProcessNewRemoteCandidate(candidate); err != nil {
			return err
		}
	}

	return nil
}
