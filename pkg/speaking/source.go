package speaking

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
)

var ErrUnsupportedTrack = errors.New("no energy source for track")

// Source yields the current energy of a stream on the 0..255 scale.
type Source interface {
	Energy() (float64, error)
}

// trackSource is a Source fed with the packets of a remote track.
type trackSource interface {
	Source
	WritePacket(packet *rtp.Packet) error
}

// A whole-stream level spreads over every bin of the spectrum, so it is
// lowered to match the per-bin scale of the analyser.
const levelBinOffset = 24

// levelSource derives the energy from the RFC 6464 audio level the sender
// writes into every RTP header.
type levelSource struct {
	context     *Context
	extensionID uint8
	now         func() time.Time

	mutex     sync.Mutex
	sum       float64
	count     int
	last      float64
	lastWrite time.Time
}

func newLevelSource(context *Context, track webrtc_ext.RemoteTrack) (*levelSource, error) {
	extensionID, ok := track.HeaderExtensionID(sdp.AudioLevelURI)
	if !ok {
		return nil, fmt.Errorf("%w %s: audio level not negotiated", ErrUnsupportedTrack, track.ID())
	}

	return &levelSource{context: context, extensionID: extensionID, now: time.Now}, nil
}

func (s *levelSource) WritePacket(packet *rtp.Packet) error {
	raw := packet.GetExtension(s.extensionID)
	if raw == nil {
		return nil
	}

	var level rtp.AudioLevelExtension
	if err := level.Unmarshal(raw); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sum += float64(levelToByte(level.Level))
	s.count++
	s.lastWrite = s.now()

	return nil
}

// Energy is the mean level of the packets received since the previous call.
func (s *levelSource) Energy() (float64, error) {
	if s.context.Closed() {
		return 0, ErrContextClosed
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.count > 0 {
		s.last = s.sum / float64(s.count)
		s.sum, s.count = 0, 0
	}

	if s.lastWrite.IsZero() || s.now().Sub(s.lastWrite) > staleAfter {
		s.last = 0
	}

	return s.last, nil
}

// The level is in -dBov, 0 being the loudest.
func levelToByte(level uint8) uint8 {
	return decibelsToByte(-float64(level) - levelBinOffset)
}
