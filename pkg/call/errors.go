package call

import (
	"errors"
	"fmt"

	"github.com/inkboard/huddle/pkg/mesh"
)

var (
	ErrNotInitialized = errors.New("controller is not initialized")
	ErrAlreadyInCall  = errors.New("already in a call")
	ErrNotInCall      = errors.New("not in a call")
	ErrNotHost        = errors.New("only the host can end the call")
	ErrDestroyed      = errors.New("controller is destroyed")
)

// CaptureError means that the local audio could not be captured. The call is
// not started and no retry is attempted.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("failed to capture audio: %v", e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// NegotiationError reports a failed negotiation with one participant.
type NegotiationError = mesh.NegotiationError
