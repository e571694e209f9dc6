// Package processing holds the job handlers: PROCESS_SEGMENT runs the
// vision pipeline over one recorded segment and persists its output, and
// KPI_REBUILD recomputes the KPI buckets for a (store, camera, day) key.
package processing

import (
	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/vision"
	"github.com/banshee-data/footfall.report/internal/vision/counting"
	"github.com/banshee-data/footfall.report/internal/vision/faces"
	"github.com/banshee-data/footfall.report/internal/vision/pipeline"
	"github.com/banshee-data/footfall.report/internal/vision/tracking"
)

// Deps are the collaborators shared by every pipeline built in a process.
// Nil detectors leave their stages disabled with a diagnostic.
type Deps struct {
	Frames   vision.FrameSource
	Detector vision.Detector
	Faces    vision.FaceDetector
	Staff    vision.StaffClassifier
	Crops    faces.CropStore
}

func roiBox(r *config.ROI) vision.BBox {
	if r == nil {
		return vision.BBox{}
	}
	return vision.BBox{X1: r.X, Y1: r.Y, X2: r.X + r.W, Y2: r.Y + r.H}
}

func trackerConfig(t config.TrackerTuning) tracking.Config {
	var cfg tracking.Config
	if t.MinIoU != nil {
		cfg.MinIoU = *t.MinIoU
	}
	if t.HitsToConfirm != nil {
		cfg.HitsToConfirm = *t.HitsToConfirm
	}
	if t.MaxMisses != nil {
		cfg.MaxMisses = *t.MaxMisses
	}
	return cfg
}

func countingConfig(cam *config.Camera) counting.Config {
	cfg := counting.Config{
		Orientation: counting.Orientation(cam.GetDirection()),
		Debounce:    cam.GetDebounce(),
	}
	if cam.Line != nil {
		cfg.A = vision.Point{X: cam.Line.A.X, Y: cam.Line.A.Y}
		cfg.B = vision.Point{X: cam.Line.B.X, Y: cam.Line.B.Y}
	}
	return cfg
}

func facesConfig(cam *config.Camera) faces.Config {
	fc := cam.FaceCapture
	return faces.Config{
		Enabled:           fc.GetEnabled(),
		Confidence:        fc.GetConf(),
		MinWidth:          fc.GetMinWidth(),
		MinInterval:       fc.GetMinInterval(),
		CaptureOnCrossing: fc.GetSaveOnCrossing(),
		CropROI:           fc.GetCropROI(),
		ROI:               roiBox(cam.ROI),
		Padding:           fc.GetPadding(),
		MinOverlap:        fc.GetMinOverlap(),
		MaxFacesPerFrame:  fc.GetMaxFacesPerFrame(),
		CameraCode:        cam.CameraCode,
	}
}

// Build assembles the stage list for one camera:
// detect, track, count, staff, faces, presence.
// Each call gets fresh stage instances and a fresh tracker.
func Build(cam *config.Camera, deps Deps) *pipeline.Pipeline {
	stages := []pipeline.Stage{
		&pipeline.DetectStage{Detector: deps.Detector, MinScore: cam.GetDetectorConf(), ROI: roiBox(cam.ROI)},
		&pipeline.TrackStage{Tracker: tracking.NewIoUTracker(trackerConfig(cam.Tracker))},
		counting.NewStage(countingConfig(cam)),
		&pipeline.StaffStage{Classifier: deps.Staff},
		faces.NewStage(facesConfig(cam), deps.Faces, deps.Crops),
		&pipeline.PresenceStage{Interval: cam.GetPresenceInterval()},
	}
	return pipeline.New(deps.Frames, cam.GetTargetFPS(), stages...)
}
