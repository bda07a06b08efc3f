package speaking

import (
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Called on every speaking transition of a detector.
type ChangeHandler func(id string, speaking bool)

// Scheduler evaluates all the detectors of a session on one shared cadence.
// It is owned by the session loop and is not safe for concurrent use.
type Scheduler struct {
	context   *Context
	threshold float64
	onChange  ChangeHandler
	logger    *logrus.Entry

	detectors map[string]*Detector
}

func NewScheduler(context *Context, config Config, onChange ChangeHandler, logger *logrus.Entry) *Scheduler {
	return &Scheduler{
		context:   context,
		threshold: config.WithDefaults().Threshold,
		onChange:  onChange,
		logger:    logger,
		detectors: make(map[string]*Detector),
	}
}

// Attach starts detecting on a remote track. The track is read by the
// detector from now on. A detector already attached under `id` is replaced.
func (s *Scheduler) Attach(id string, track webrtc_ext.RemoteTrack) error {
	source, err := newTrackSource(s.context, track)
	if err != nil {
		return err
	}

	detector := s.Add(id, source)
	go detector.consume(track, source, s.logger.WithField("remote_id", id))

	return nil
}

// Add registers a detector on an arbitrary source.
func (s *Scheduler) Add(id string, source Source) *Detector {
	s.Remove(id)

	detector := NewDetector(id, source, s.threshold)
	s.detectors[id] = detector

	return detector
}

// Remove stops the detector of `id`. A detector that was speaking reports a
// last transition to silent.
func (s *Scheduler) Remove(id string) {
	detector, found := s.detectors[id]
	if !found {
		return
	}

	delete(s.detectors, id)
	detector.stop()

	if detector.speaking {
		detector.speaking = false
		s.onChange(id, false)
	}
}

// Tick evaluates every detector once, in id order.
func (s *Scheduler) Tick() {
	ids := make([]string, 0, len(s.detectors))
	for id := range s.detectors {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		detector := s.detectors[id]

		changed, err := detector.Evaluate()
		if err != nil {
			s.logger.WithError(err).WithField("remote_id", id).Debug("speaking evaluation failed")
			continue
		}

		if changed {
			s.onChange(id, detector.speaking)
		}
	}
}

func (s *Scheduler) Len() int {
	return len(s.detectors)
}

// Close removes every detector.
func (s *Scheduler) Close() {
	for id := range s.detectors {
		s.Remove(id)
	}
}
