//go:build !cgo

package speaking

import "github.com/inkboard/huddle/pkg/webrtc_ext"

// Without cgo there is no Opus decoder, the sender's audio level is used instead.
func newTrackSource(context *Context, track webrtc_ext.RemoteTrack) (trackSource, error) {
	return newLevelSource(context, track)
}
