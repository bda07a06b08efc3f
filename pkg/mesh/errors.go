package mesh

import "fmt"

// Negotiation steps that can fail.
const (
	StepCreateConnection = "create-connection"
	StepAddTrack         = "add-track"
	StepOffer            = "offer"
	StepAnswer           = "answer"
	StepRemoteAnswer     = "remote-answer"
	StepCandidate        = "candidate"
)

// NegotiationError reports a failed negotiation step of one link. The link is
// not recovered; it either fails or gets closed.
type NegotiationError struct {
	RemoteID string
	Step     string
	Err      error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s failed at %s: %v", e.RemoteID, e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
