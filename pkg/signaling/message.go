package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Event names used on a voice topic.
const (
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventCallStarted  = "call-started"
	EventCallEnded    = "call-ended"
)

// Events lists every event name a call session subscribes to.
var Events = []string{EventOffer, EventAnswer, EventICECandidate, EventCallStarted, EventCallEnded}

var (
	ErrUnknownEvent   = errors.New("unknown signaling event")
	ErrMissingAddress = errors.New("point-to-point message without from/to")
)

// Message is one of the signaling messages exchanged on a voice topic. The set
// of implementations is closed: Offer, Answer, ICECandidate, CallStarted and
// CallEnded.
type Message interface {
	// Name of the event the message is broadcast under.
	Event() string
	isMessage()
}

// Addressed is implemented by the point-to-point messages. The transport is
// broadcast-only, so the recipient is carried in the message itself.
type Addressed interface {
	Message
	Sender() string
	Recipient() string
}

type Offer struct {
	From string `json:"from"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

type Answer struct {
	From string `json:"from"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

type ICECandidate struct {
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Session-wide announcement that a host started the call on this board.
type CallStarted struct {
	HostID string `json:"hostId"`
}

// Session-wide announcement that the host ended the call.
type CallEnded struct{}

func (Offer) Event() string        { return EventOffer }
func (Answer) Event() string       { return EventAnswer }
func (ICECandidate) Event() string { return EventICECandidate }
func (CallStarted) Event() string  { return EventCallStarted }
func (CallEnded) Event() string    { return EventCallEnded }

func (Offer) isMessage()        {}
func (Answer) isMessage()       {}
func (ICECandidate) isMessage() {}
func (CallStarted) isMessage()  {}
func (CallEnded) isMessage()    {}

func (m Offer) Sender() string           { return m.From }
func (m Offer) Recipient() string        { return m.To }
func (m Answer) Sender() string          { return m.From }
func (m Answer) Recipient() string       { return m.To }
func (m ICECandidate) Sender() string    { return m.From }
func (m ICECandidate) Recipient() string { return m.To }

// Encode returns the event name and the JSON payload of a message.
func Encode(message Message) (string, []byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode %s: %w", message.Event(), err)
	}

	return message.Event(), payload, nil
}

// Decode parses a payload received under a given event name.
func Decode(event string, payload []byte) (Message, error) {
	var (
		message Message
		err     error
	)

	switch event {
	case EventOffer:
		message, err = decodeAs[Offer](payload)
	case EventAnswer:
		message, err = decodeAs[Answer](payload)
	case EventICECandidate:
		message, err = decodeAs[ICECandidate](payload)
	case EventCallStarted:
		message, err = decodeAs[CallStarted](payload)
	case EventCallEnded:
		message = CallEnded{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", event, err)
	}

	if addressed, ok := message.(Addressed); ok {
		if addressed.Sender() == "" || addressed.Recipient() == "" {
			return nil, fmt.Errorf("failed to decode %s: %w", event, ErrMissingAddress)
		}
	}

	return message, nil
}

func decodeAs[M Message](payload []byte) (Message, error) {
	var message M
	if err := json.Unmarshal(payload, &message); err != nil {
		return nil, err
	}

	return message, nil
}
