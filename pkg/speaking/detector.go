package speaking

import (
	"sync/atomic"

	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/sirupsen/logrus"
)

// Detector classifies one inbound stream as speaking or silent.
type Detector struct {
	id        string
	source    Source
	threshold float64
	speaking  bool
	stopped   atomic.Bool
}

func NewDetector(id string, source Source, threshold float64) *Detector {
	return &Detector{id: id, source: source, threshold: threshold}
}

func (d *Detector) ID() string {
	return d.id
}

func (d *Detector) Speaking() bool {
	return d.speaking
}

// Evaluate samples the source once and reports whether the state changed.
func (d *Detector) Evaluate() (changed bool, err error) {
	energy, err := d.source.Energy()
	if err != nil {
		return false, err
	}

	speaking := energy > d.threshold
	if speaking == d.speaking {
		return false, nil
	}

	d.speaking = speaking
	return true, nil
}

func (d *Detector) stop() {
	d.stopped.Store(true)
}

// Feeds the source with the packets of the track until the track ends or the
// detector is stopped.
func (d *Detector) consume(track webrtc_ext.RemoteTrack, source trackSource, logger *logrus.Entry) {
	for !d.stopped.Load() {
		packet, _, err := track.ReadRTP()
		if err != nil {
			return
		}

		if err := source.WritePacket(packet); err != nil {
			logger.WithError(err).Trace("dropping undecodable packet")
		}
	}
}
