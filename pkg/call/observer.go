package call

import "github.com/inkboard/huddle/pkg/webrtc_ext"

// Observer receives the notifications of a controller. They are delivered in
// order on a dedicated goroutine, so an observer may call the controller.
type Observer interface {
	ParticipantJoined(remoteID string)
	ParticipantLeft(remoteID string)
	RemoteStreamAvailable(remoteID string, track webrtc_ext.TrackInfo)
	SpeakingChanged(remoteID string, speaking bool)
	Error(err error)
	CallStarted(hostID string)
	CallEnded()
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ParticipantJoined(string)                           {}
func (NopObserver) ParticipantLeft(string)                             {}
func (NopObserver) RemoteStreamAvailable(string, webrtc_ext.TrackInfo) {}
func (NopObserver) SpeakingChanged(string, bool)                       {}
func (NopObserver) Error(error)                                        {}
func (NopObserver) CallStarted(string)                                 {}
func (NopObserver) CallEnded()                                         {}
