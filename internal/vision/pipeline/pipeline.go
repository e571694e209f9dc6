// Package pipeline runs an ordered list of stages over the frames of one
// video and collects their output.
//
// Stages share a typed RunContext. Each stage owns any per-track state it
// needs; that state is created in Setup and dropped after Finish, so nothing
// leaks between runs. A failing stage or frame source ends the frame loop
// but never the run: Finish is always called and partial output is kept.
package pipeline

import (
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/vision"
)

// Stage is one step of per-frame processing.
type Stage interface {
	Name() string
	// Setup prepares per-run state. A stage that cannot run should record a
	// diagnostic on rc.Result and become a no-op rather than fail.
	Setup(rc *RunContext)
	OnFrame(rc *RunContext) error
	// Finish is called once after the frame loop, including after errors.
	Finish(rc *RunContext)
}

// SegmentInfo identifies the recording a run belongs to.
type SegmentInfo struct {
	SegmentID  int64
	StoreCode  string
	CameraCode string
	Date       string
	Start      time.Time
	End        time.Time
}

// RunContext is the state threaded through every stage on every frame.
type RunContext struct {
	Base    time.Time
	Segment *SegmentInfo
	Result  *Result

	Frame      image.Image
	FrameIndex int
	Elapsed    float64

	// Per-frame slots, cleared before each frame.
	Detections []vision.Detection
	Tracks     []vision.Track
	Crossed    []vision.Crossing
}

// Timestamp returns Base + Elapsed.
func (rc *RunContext) Timestamp() time.Time {
	return rc.Base.Add(time.Duration(rc.Elapsed * float64(time.Second)))
}

// Errorf appends a diagnostic to the run result.
func (rc *RunContext) Errorf(format string, args ...interface{}) {
	rc.Result.Errors = append(rc.Result.Errors, fmt.Sprintf(format, args...))
}

// CrossedThisFrame reports whether trackID is in rc.Crossed.
func (rc *RunContext) CrossedThisFrame(trackID string) bool {
	for _, c := range rc.Crossed {
		if c.TrackID == trackID {
			return true
		}
	}
	return false
}

func (rc *RunContext) resetFrame() {
	rc.Detections = rc.Detections[:0]
	rc.Tracks = rc.Tracks[:0]
	rc.Crossed = rc.Crossed[:0]
}

// Pipeline wires a frame source to a list of stages.
type Pipeline struct {
	Source    vision.FrameSource
	Stages    []Stage
	TargetFPS float64
}

// New returns a pipeline reading from src at targetFPS.
func New(src vision.FrameSource, targetFPS float64, stages ...Stage) *Pipeline {
	return &Pipeline{Source: src, Stages: stages, TargetFPS: targetFPS}
}

// RunOptions parameterise a single run.
type RunOptions struct {
	// Base is the wall-clock time of elapsed=0.
	Base time.Time
	// MaxElapsed stops the run once a frame's elapsed seconds exceed it.
	// Zero or negative means no limit.
	MaxElapsed float64
	Segment    *SegmentInfo
}

// Run processes the video at path. It never returns an error or panics;
// problems are reported in Result.Errors alongside whatever output was
// produced.
func (p *Pipeline) Run(path string, opts RunOptions) *Result {
	res := &Result{}
	rc := &RunContext{Base: opts.Base, Segment: opts.Segment, Result: res}

	defer func() {
		for _, st := range p.Stages {
			finishStage(st, rc)
		}
		monitoring.Diagf("pipeline: %s frames=%d duration=%.2fs events=%d errors=%d",
			path, res.FramesRead, res.Duration, len(res.Events), len(res.Errors))
	}()
	for _, st := range p.Stages {
		setupStage(st, rc)
	}

	if p.Source == nil {
		rc.Errorf("frame-source-missing")
		return res
	}
	p.readFrames(path, opts, rc)
	return res
}

// readFrames drives the frame loop. A panic in the source stops the loop
// and is recorded like a decode error.
func (p *Pipeline) readFrames(path string, opts RunOptions, rc *RunContext) {
	defer func() {
		if r := recover(); r != nil {
			rc.Errorf("read frame %d panic: %v", rc.FrameIndex, r)
		}
	}()
	frames, err := p.Source.Open(path, p.TargetFPS)
	if err != nil {
		rc.Errorf("open %s: %v", path, err)
		return
	}
	defer frames.Close()

	for {
		img, elapsed, err := frames.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			rc.Errorf("read frame %d: %v", rc.FrameIndex, err)
			return
		}
		if opts.MaxElapsed > 0 && elapsed > opts.MaxElapsed {
			return
		}

		rc.resetFrame()
		rc.Frame = img
		rc.Elapsed = elapsed
		if err := p.runFrame(rc); err != nil {
			rc.Errorf("%v", err)
			return
		}
		rc.Result.FramesRead++
		rc.Result.Duration = elapsed
		rc.FrameIndex++
	}
}

func (p *Pipeline) runFrame(rc *RunContext) (err error) {
	var current Stage
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panic at frame %d: %v", current.Name(), rc.FrameIndex, r)
		}
	}()
	for _, st := range p.Stages {
		current = st
		if err := st.OnFrame(rc); err != nil {
			return fmt.Errorf("stage %s at frame %d: %w", st.Name(), rc.FrameIndex, err)
		}
	}
	monitoring.Tracef("pipeline: frame=%d t=%.3f dets=%d tracks=%d crossed=%d",
		rc.FrameIndex, rc.Elapsed, len(rc.Detections), len(rc.Tracks), len(rc.Crossed))
	return nil
}

func setupStage(st Stage, rc *RunContext) {
	defer func() {
		if r := recover(); r != nil {
			rc.Errorf("stage %s setup panic: %v", st.Name(), r)
		}
	}()
	st.Setup(rc)
}

func finishStage(st Stage, rc *RunContext) {
	defer func() {
		if r := recover(); r != nil {
			rc.Errorf("stage %s finish panic: %v", st.Name(), r)
		}
	}()
	st.Finish(rc)
}
