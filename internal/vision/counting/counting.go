// Package counting turns tracked people into IN/OUT flow events when their
// box center crosses a configured counting line.
package counting

import (
	"fmt"

	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/vision"
	"github.com/banshee-data/footfall.report/internal/vision/pipeline"
)

// Orientation maps a side flip to a semantic direction.
type Orientation string

const (
	OutsideToInside Orientation = "outside_to_inside"
	InsideToOutside Orientation = "inside_to_outside"
)

// Config describes a counting line.
type Config struct {
	A, B        vision.Point
	Orientation Orientation
	// Debounce is the minimum seconds between two events for the same track.
	Debounce float64
}

// Validate reports why the line cannot be used, if at all.
func (c Config) Validate() error {
	if c.A == c.B {
		return fmt.Errorf("degenerate line: endpoints coincide at (%.1f, %.1f)", c.A.X, c.A.Y)
	}
	switch c.Orientation {
	case OutsideToInside, InsideToOutside:
	default:
		return fmt.Errorf("unknown direction %q", c.Orientation)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must be non-negative, got %v", c.Debounce)
	}
	return nil
}

// Side returns the sign of the cross product of (B-A) and (p-A): -1, 0 or +1.
func (c Config) Side(p vision.Point) int {
	v := c.B.Sub(c.A).Cross(p.Sub(c.A))
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// direction maps a flip from prev to cur (both non-zero and different).
func (c Config) direction(prev, cur int) vision.Direction {
	lowToHigh := prev < cur
	if (c.Orientation == OutsideToInside) == lowToHigh {
		return vision.DirectionIn
	}
	return vision.DirectionOut
}

// trackState is the per-track memory of one run.
type trackState struct {
	side         int
	lastCrossing float64
	hasCrossed   bool
}

// Stage is the line-crossing pipeline stage. Its per-track arena lives for
// exactly one run.
type Stage struct {
	Config Config

	disabled bool
	tracks   map[string]*trackState
}

// NewStage returns a counting stage for cfg.
func NewStage(cfg Config) *Stage {
	return &Stage{Config: cfg}
}

func (s *Stage) Name() string { return "count" }

func (s *Stage) Setup(rc *pipeline.RunContext) {
	s.tracks = make(map[string]*trackState)
	s.disabled = false
	if err := s.Config.Validate(); err != nil {
		s.disabled = true
		rc.Errorf("count-line-disabled:%v", err)
		monitoring.Opsf("counting: stage disabled: %v", err)
	}
}

func (s *Stage) OnFrame(rc *pipeline.RunContext) error {
	if s.disabled {
		return nil
	}
	for _, tr := range rc.Tracks {
		if tr.ID == "" || tr.Box.Empty() {
			continue
		}
		if ev, ok := s.observe(tr, rc.Elapsed); ok {
			ev.Timestamp = rc.Timestamp()
			rc.Result.Events = append(rc.Result.Events, ev)
			rc.Crossed = append(rc.Crossed, vision.Crossing{TrackID: tr.ID, Direction: ev.Direction})
			monitoring.Diagf("counting: %s track=%s t=%.3f", ev.Direction, tr.ID, rc.Elapsed)
		}
	}
	return nil
}

// observe updates the track's side and reports an event when it crossed.
func (s *Stage) observe(tr vision.Track, elapsed float64) (vision.FlowEvent, bool) {
	side := s.Config.Side(tr.Box.Center())
	st, seen := s.tracks[tr.ID]
	if !seen {
		s.tracks[tr.ID] = &trackState{side: side}
		return vision.FlowEvent{}, false
	}
	prev := st.side
	st.side = side
	if prev == 0 || side == 0 || prev == side {
		return vision.FlowEvent{}, false
	}
	if st.hasCrossed && elapsed-st.lastCrossing < s.Config.Debounce {
		monitoring.Tracef("counting: debounced track=%s t=%.3f", tr.ID, elapsed)
		return vision.FlowEvent{}, false
	}
	st.lastCrossing = elapsed
	st.hasCrossed = true
	return vision.FlowEvent{
		Direction:  s.Config.direction(prev, side),
		TrackID:    tr.ID,
		Confidence: tr.Confidence,
	}, true
}

func (s *Stage) Finish(*pipeline.RunContext) {
	s.tracks = nil
}
