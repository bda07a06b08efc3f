// Package relay implements the broadcast-with-presence signaling transport over
// WebSockets: a relay server, and the client that implements
// signaling.Transport on top of it.
//
// Each WebSocket carries exactly one membership: the first frame is a `join`
// for a topic, and the member stays present for as long as the socket is open.
package relay

import (
	"encoding/json"
	"errors"

	"github.com/inkboard/huddle/pkg/signaling"
)

type FrameType string

const (
	// client -> server
	FrameJoin      FrameType = "join"
	FrameLeave     FrameType = "leave"
	FrameBroadcast FrameType = "broadcast"
	// server -> client
	FrameEvent         FrameType = "event"
	FramePresenceState FrameType = "presence_state"
	FramePresenceJoin  FrameType = "presence_join"
	FramePresenceLeave FrameType = "presence_leave"
	FrameError         FrameType = "error"
)

var (
	ErrInvalidPayload = errors.New("payload is not valid JSON")
	ErrJoinRejected   = errors.New("relay rejected the join")
)

// Frame is the single JSON shape exchanged over the socket.
type Frame struct {
	Type    FrameType          `json:"type"`
	Topic   string             `json:"topic,omitempty"`
	Event   string             `json:"event,omitempty"`
	Payload json.RawMessage    `json:"payload,omitempty"`
	Member  *signaling.Member  `json:"member,omitempty"`
	Members []signaling.Member `json:"members,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func presenceFrame(kind signaling.PresenceKind, members []signaling.Member) Frame {
	frameType := FramePresenceJoin
	switch kind {
	case signaling.PresenceSync:
		frameType = FramePresenceState
	case signaling.PresenceLeave:
		frameType = FramePresenceLeave
	}

	if members == nil {
		members = []signaling.Member{}
	}

	return Frame{Type: frameType, Members: members}
}

func (f Frame) presenceEvent() (signaling.PresenceEvent, bool) {
	switch f.Type {
	case FramePresenceState:
		return signaling.PresenceEvent{Kind: signaling.PresenceSync, Members: f.Members}, true
	case FramePresenceJoin:
		return signaling.PresenceEvent{Kind: signaling.PresenceJoin, Members: f.Members}, true
	case FramePresenceLeave:
		return signaling.PresenceEvent{Kind: signaling.PresenceLeave, Members: f.Members}, true
	default:
		return signaling.PresenceEvent{}, false
	}
}
