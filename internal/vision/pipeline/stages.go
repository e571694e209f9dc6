package pipeline

import (
	"fmt"

	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/vision"
)

// DetectStage runs a person detector on each frame and fills rc.Detections.
type DetectStage struct {
	Detector vision.Detector
	// MinScore drops weaker detections. Zero keeps everything.
	MinScore float64
	// ROI, when non-empty, keeps only detections whose center lies inside it.
	ROI vision.BBox

	disabled bool
}

func (s *DetectStage) Name() string { return "detect" }

func (s *DetectStage) Setup(rc *RunContext) {
	s.disabled = s.Detector == nil
	if s.disabled {
		rc.Errorf("detector-missing")
		monitoring.Opsf("pipeline: detect stage disabled, no detector configured")
	}
}

func (s *DetectStage) OnFrame(rc *RunContext) error {
	if s.disabled || rc.Frame == nil {
		return nil
	}
	dets, err := s.Detector.Detect(rc.Frame)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	for _, d := range dets {
		if d.Score < s.MinScore {
			continue
		}
		if !s.ROI.Empty() && !s.ROI.Contains(d.Box.Center()) {
			continue
		}
		rc.Detections = append(rc.Detections, d)
	}
	return nil
}

func (s *DetectStage) Finish(*RunContext) {}

// TrackStage feeds detections to a tracker and fills rc.Tracks.
type TrackStage struct {
	Tracker vision.Tracker

	disabled bool
}

func (s *TrackStage) Name() string { return "track" }

func (s *TrackStage) Setup(rc *RunContext) {
	s.disabled = s.Tracker == nil
	if s.disabled {
		rc.Errorf("tracker-missing")
		monitoring.Opsf("pipeline: track stage disabled, no tracker configured")
		return
	}
	s.Tracker.Reset()
}

func (s *TrackStage) OnFrame(rc *RunContext) error {
	if s.disabled {
		return nil
	}
	tracks, err := s.Tracker.Update(rc.Detections)
	if err != nil {
		return fmt.Errorf("track: %w", err)
	}
	rc.Tracks = append(rc.Tracks, tracks...)
	return nil
}

func (s *TrackStage) Finish(*RunContext) {
	if s.Tracker != nil {
		s.Tracker.Reset()
	}
}

// PresenceStage samples the number of visible tracks every Interval seconds.
type PresenceStage struct {
	// Interval between samples in seconds. Non-positive samples every frame.
	Interval float64

	last    float64
	started bool
}

func (s *PresenceStage) Name() string { return "presence" }

func (s *PresenceStage) Setup(*RunContext) {
	s.last = 0
	s.started = false
}

func (s *PresenceStage) OnFrame(rc *RunContext) error {
	if s.started && s.Interval > 0 && rc.Elapsed-s.last < s.Interval {
		return nil
	}
	s.started = true
	s.last = rc.Elapsed
	rc.Result.Presence = append(rc.Result.Presence, vision.PresenceSample{
		Timestamp: rc.Timestamp(),
		Count:     len(rc.Tracks),
	})
	return nil
}

func (s *PresenceStage) Finish(*RunContext) {}

// StaffStage flags IN/OUT events produced on the current frame whose track
// is recognised as staff. It must run after the counting stage. A track's
// verdict is cached for the rest of the run.
type StaffStage struct {
	Classifier vision.StaffClassifier

	verdicts map[string]bool
}

func (s *StaffStage) Name() string { return "staff" }

func (s *StaffStage) Setup(*RunContext) {
	s.verdicts = make(map[string]bool)
}

func (s *StaffStage) OnFrame(rc *RunContext) error {
	if s.Classifier == nil || len(rc.Crossed) == 0 {
		return nil
	}
	byID := make(map[string]vision.Track, len(rc.Tracks))
	for _, tr := range rc.Tracks {
		byID[tr.ID] = tr
	}
	// Events for this frame are the trailing len(rc.Crossed) entries.
	events := rc.Result.Events
	first := len(events) - len(rc.Crossed)
	if first < 0 {
		first = 0
	}
	for i := first; i < len(events); i++ {
		ev := &events[i]
		staff, seen := s.verdicts[ev.TrackID]
		if !seen {
			tr, ok := byID[ev.TrackID]
			if !ok {
				continue
			}
			var err error
			staff, err = s.Classifier.IsStaff(rc.Frame, tr)
			if err != nil {
				rc.Errorf("staff-classify-failed:%s", ev.TrackID)
				continue
			}
			s.verdicts[ev.TrackID] = staff
		}
		ev.IsStaff = staff
	}
	return nil
}

func (s *StaffStage) Finish(*RunContext) {
	s.verdicts = nil
}
