package vision

import (
	"fmt"
	"image"
	"time"
)

// Direction is the sense of a line crossing.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Valid reports whether d is IN or OUT.
func (d Direction) Valid() bool { return d == DirectionIn || d == DirectionOut }

// ParseDirection accepts IN or OUT.
func ParseDirection(s string) (Direction, error) {
	d := Direction(s)
	if !d.Valid() {
		return "", fmt.Errorf("invalid direction %q", s)
	}
	return d, nil
}

// Detection is one person box from a detector.
type Detection struct {
	Box   BBox
	Score float64
	Class string
}

// Track is a detection carried across frames under a stable id.
type Track struct {
	ID         string
	Box        BBox
	Confidence float64
}

// Face is one face box from a face detector.
type Face struct {
	Box   BBox
	Score float64
}

// Crossing records that a track crossed the counting line on the current frame.
type Crossing struct {
	TrackID   string
	Direction Direction
}

// FlowEvent is a single counted line crossing.
type FlowEvent struct {
	Timestamp  time.Time
	Direction  Direction
	TrackID    string
	Confidence float64
	IsStaff    bool
}

// PresenceSample is the number of visible people at an instant.
type PresenceSample struct {
	Timestamp time.Time
	Count     int
}

// CaptureSource explains why a face crop was taken.
type CaptureSource string

const (
	SourceCrossing CaptureSource = "crossing"
	SourceInterval CaptureSource = "interval"
)

// FaceCapture is a persisted face crop attributed to a track.
type FaceCapture struct {
	Timestamp time.Time
	TrackID   string
	Source    CaptureSource
	Score     float64
	Box       BBox
	Path      string
}

// Detector finds people in a frame.
type Detector interface {
	Detect(img image.Image) ([]Detection, error)
}

// Tracker associates detections across frames. Implementations hold state
// for one run; Reset clears it.
type Tracker interface {
	Update(dets []Detection) ([]Track, error)
	Reset()
}

// FaceDetector finds faces in a frame.
type FaceDetector interface {
	DetectFaces(img image.Image) ([]Face, error)
}

// StaffClassifier decides whether a track belongs to a staff member.
type StaffClassifier interface {
	IsStaff(img image.Image, track Track) (bool, error)
}

// Frames yields decoded frames in order. Next returns io.EOF when exhausted.
// elapsed is seconds since the start of the video.
type Frames interface {
	Next() (img image.Image, elapsed float64, err error)
	Close() error
}

// FrameSource opens a video for reading. targetFPS <= 0 means every frame.
type FrameSource interface {
	Open(path string, targetFPS float64) (Frames, error)
}

// FrameStep returns how many native frames to advance per emitted frame so
// that output approximates targetFPS.
func FrameStep(nativeFPS, targetFPS float64) int {
	if targetFPS <= 0 || nativeFPS <= 0 {
		return 1
	}
	step := int(nativeFPS/targetFPS + 0.5)
	if step < 1 {
		return 1
	}
	return step
}

// SubImage crops img to r when the image supports it.
func SubImage(img image.Image, r image.Rectangle) (image.Image, bool) {
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	si, ok := img.(subImager)
	if !ok {
		return nil, false
	}
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil, false
	}
	return si.SubImage(r), true
}
