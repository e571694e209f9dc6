package pipeline

import (
	"github.com/banshee-data/footfall.report/internal/vision"
)

// Result is everything a run produced.
type Result struct {
	Events       []vision.FlowEvent
	Presence     []vision.PresenceSample
	FaceCaptures []vision.FaceCapture
	FramesRead   int
	// Duration is the elapsed seconds of the last processed frame.
	Duration float64
	Errors   []string
}

// Counts summarises flow events by direction.
type Counts struct {
	In       int `json:"in"`
	Out      int `json:"out"`
	StaffIn  int `json:"staff_in"`
	StaffOut int `json:"staff_out"`
}

// Counts tallies the run's events.
func (r *Result) Counts() Counts {
	return CountEvents(r.Events)
}

// Degraded reports whether any diagnostic was recorded.
func (r *Result) Degraded() bool { return len(r.Errors) > 0 }

// CountEvents tallies IN/OUT events and their staff subsets.
func CountEvents(events []vision.FlowEvent) Counts {
	var c Counts
	for _, e := range events {
		switch e.Direction {
		case vision.DirectionIn:
			c.In++
			if e.IsStaff {
				c.StaffIn++
			}
		case vision.DirectionOut:
			c.Out++
			if e.IsStaff {
				c.StaffOut++
			}
		}
	}
	return c
}
