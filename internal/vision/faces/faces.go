// Package faces captures face crops and attributes each one to a tracked
// person, either when the person crosses the counting line or at a
// per-track recapture interval.
package faces

import (
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/vision"
	"github.com/banshee-data/footfall.report/internal/vision/pipeline"
)

// Config controls face capture for one camera.
type Config struct {
	Enabled bool
	// Confidence is the minimum face score.
	Confidence float64
	// MinWidth is the minimum face width in pixels.
	MinWidth float64
	// MinInterval is the minimum seconds between captures of one track.
	// Non-positive means every frame is eligible.
	MinInterval float64
	// CaptureOnCrossing makes a track eligible on the frame it crosses the line.
	CaptureOnCrossing bool
	// CropROI runs the face detector on ROI only.
	CropROI bool
	ROI     vision.BBox
	// Padding grows the saved crop by this fraction of the face size per side.
	Padding float64
	// MinOverlap is the minimum share of the face box inside the track box.
	MinOverlap       float64
	MaxFacesPerFrame int
	// CameraCode names crops when the run has no segment info.
	CameraCode string
}

// DefaultConfig returns the stock capture parameters, disabled.
func DefaultConfig() Config {
	return Config{
		Confidence:        0.85,
		MinWidth:          80,
		MinInterval:       2.0,
		CaptureOnCrossing: true,
		Padding:           0.2,
		MinOverlap:        0.3,
		MaxFacesPerFrame:  5,
	}
}

// Stage is the face capture pipeline stage.
type Stage struct {
	Config   Config
	Detector vision.FaceDetector
	Store    CropStore

	disabled    bool
	lastCapture map[string]float64
}

// NewStage returns a face capture stage.
func NewStage(cfg Config, det vision.FaceDetector, store CropStore) *Stage {
	return &Stage{Config: cfg, Detector: det, Store: store}
}

func (s *Stage) Name() string { return "faces" }

func (s *Stage) Setup(rc *pipeline.RunContext) {
	s.lastCapture = make(map[string]float64)
	s.disabled = !s.Config.Enabled
	if s.disabled {
		return
	}
	var reason string
	switch {
	case s.Detector == nil:
		reason = "face-detector-unavailable"
	case s.Store == nil:
		reason = "faces-root-missing"
	}
	if reason != "" {
		s.disabled = true
		rc.Errorf("%s", reason)
		monitoring.Opsf("faces: stage disabled: %s", reason)
	}
}

func (s *Stage) Finish(*pipeline.RunContext) {
	s.lastCapture = nil
}

// due reports whether track id may be captured again at elapsed.
func (s *Stage) due(id string, elapsed float64) bool {
	last, ok := s.lastCapture[id]
	return !ok || s.Config.MinInterval <= 0 || elapsed-last >= s.Config.MinInterval
}

func (s *Stage) OnFrame(rc *pipeline.RunContext) error {
	if s.disabled || len(rc.Tracks) == 0 || rc.Frame == nil {
		return nil
	}

	crossed := make(map[string]bool, len(rc.Crossed))
	for _, c := range rc.Crossed {
		crossed[c.TrackID] = true
	}
	eligible := make(map[string]bool)
	if s.Config.CaptureOnCrossing {
		for id := range crossed {
			eligible[id] = true
		}
	}
	for _, tr := range rc.Tracks {
		if tr.ID != "" && s.due(tr.ID, rc.Elapsed) {
			eligible[tr.ID] = true
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	faces, err := s.detect(rc)
	if err != nil {
		return err
	}
	if len(faces) == 0 {
		return nil
	}

	saved := make(map[string]bool)
	for _, f := range faces {
		trackID, overlap := Match(f.Box, rc.Tracks, eligible)
		if trackID == "" || overlap < s.Config.MinOverlap {
			continue
		}
		if saved[trackID] || !s.due(trackID, rc.Elapsed) {
			continue
		}
		expanded, ok := f.Box.Expand(s.Config.Padding, rc.Frame.Bounds())
		if !ok {
			continue
		}
		crop, ok := vision.SubImage(rc.Frame, expanded)
		if !ok {
			continue
		}

		ts := rc.Timestamp()
		source := vision.SourceInterval
		if crossed[trackID] {
			source = vision.SourceCrossing
		}
		key := s.cropKey(rc, ts, trackID, f.Score)
		path, err := s.Store.Save(key, crop)
		if err != nil {
			rc.Errorf("face-save-failed")
			monitoring.Opsf("faces: save %s: %v", key, err)
			continue
		}
		rc.Result.FaceCaptures = append(rc.Result.FaceCaptures, vision.FaceCapture{
			Timestamp: ts,
			TrackID:   trackID,
			Source:    source,
			Score:     f.Score,
			Box:       f.Box,
			Path:      path,
		})
		s.lastCapture[trackID] = rc.Elapsed
		saved[trackID] = true
		monitoring.Diagf("faces: captured track=%s source=%s score=%.2f", trackID, source, f.Score)
	}
	return nil
}

// detect runs the face detector and returns candidate faces in frame
// coordinates: largest first, capped, weak and narrow faces removed.
func (s *Stage) detect(rc *pipeline.RunContext) ([]vision.Face, error) {
	img := rc.Frame
	var dx, dy float64
	if s.Config.CropROI && !s.Config.ROI.Empty() {
		if sub, ok := vision.SubImage(rc.Frame, s.Config.ROI.Rect()); ok {
			img = sub
			off := sub.Bounds().Min.Sub(rc.Frame.Bounds().Min)
			dx, dy = float64(off.X), float64(off.Y)
		}
	}
	found, err := s.Detector.DetectFaces(img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Box.Area() > found[j].Box.Area()
	})
	limit := min(len(found), s.Config.MaxFacesPerFrame)
	out := make([]vision.Face, 0, limit)
	for _, f := range found[:limit] {
		if f.Score < s.Config.Confidence {
			continue
		}
		f.Box = f.Box.Translate(dx, dy)
		if f.Box.Width() < s.Config.MinWidth {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Match returns the eligible track whose box contains the face center and
// covers the largest share of the face. Overlap is intersection over face
// area, with the area floored at one pixel.
func Match(face vision.BBox, tracks []vision.Track, eligible map[string]bool) (string, float64) {
	c := face.Center()
	area := max(1.0, face.Width()*face.Height())
	var best string
	var bestOverlap float64
	for _, tr := range tracks {
		if tr.ID == "" || !eligible[tr.ID] {
			continue
		}
		if !tr.Box.Contains(c) {
			continue
		}
		overlap := face.Intersection(tr.Box) / area
		if overlap > bestOverlap {
			best, bestOverlap = tr.ID, overlap
		}
	}
	return best, bestOverlap
}

func (s *Stage) cropKey(rc *pipeline.RunContext, ts time.Time, trackID string, score float64) CropKey {
	k := CropKey{
		StoreCode:  "unknown",
		CameraCode: s.Config.CameraCode,
		Date:       ts.UTC().Format("2006-01-02"),
		SegStart:   "unknown",
		Timestamp:  ts,
		TrackID:    trackID,
		Score:      score,
	}
	if k.CameraCode == "" {
		k.CameraCode = "unknown"
	}
	if seg := rc.Segment; seg != nil {
		k.StoreCode = seg.StoreCode
		k.CameraCode = seg.CameraCode
		k.Date = seg.Date
		k.SegStart = seg.Start.Format("15-04-05")
	}
	return k
}
