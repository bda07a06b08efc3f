package peer

import (
	"errors"
	"io"
	"sync"

	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// Reports the end of a remote track to the peer the first time a read fails.
type trackedRemoteTrack struct {
	webrtc_ext.RemoteTrack

	onEnd   func(error)
	endOnce sync.Once
}

func (t *trackedRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	packet, attributes, err := t.RemoteTrack.ReadRTP()
	if err != nil {
		t.endOnce.Do(func() {
			if errors.Is(err, io.EOF) {
				t.onEnd(nil)
			} else {
				t.onEnd(err)
			}
		})
	}

	return packet, attributes, err
}
