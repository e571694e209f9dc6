// Package config loads process settings and the YAML files under the config
// directory: stores.yml, shifts.yml and one cameras/store_<s>_<c>.yml per camera.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// readYAML reads a .yml/.yaml file into out. A missing file leaves out
// untouched and reports found=false.
func readYAML(path string, out interface{}) (found bool, err error) {
	cleanPath := filepath.Clean(path)
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".yml", ".yaml":
	default:
		return false, fmt.Errorf("config file must have .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return false, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", filepath.Base(cleanPath), err)
	}
	return true, nil
}

// Point is an image coordinate in a camera file.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Line is the counting line. Traversing from A to B, "high" is the left-hand
// side in image coordinates.
type Line struct {
	A Point `yaml:"a"`
	B Point `yaml:"b"`
}

// ROI is a rectangle given by origin and size.
type ROI struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	W float64 `yaml:"w"`
	H float64 `yaml:"h"`
}

// Processing controls frame sampling.
type Processing struct {
	TargetFPS        *float64 `yaml:"target_fps,omitempty"`
	PresenceInterval *float64 `yaml:"presence_interval_s,omitempty"`
	MaxElapsed       *float64 `yaml:"max_elapsed_s,omitempty"`
}

// DetectorTuning controls the person detector adapter.
type DetectorTuning struct {
	Conf *float64 `yaml:"conf,omitempty"`
}

// TrackerTuning controls the built-in IoU tracker.
type TrackerTuning struct {
	MinIoU        *float64 `yaml:"min_iou,omitempty"`
	HitsToConfirm *int     `yaml:"hits_to_confirm,omitempty"`
	MaxMisses     *int     `yaml:"max_misses,omitempty"`
}

// FaceCapture controls face crops. Unset fields take the stock defaults.
type FaceCapture struct {
	Enabled          *bool    `yaml:"enabled,omitempty"`
	Conf             *float64 `yaml:"conf,omitempty"`
	MinWidth         *float64 `yaml:"min_width,omitempty"`
	MinInterval      *float64 `yaml:"min_interval_s,omitempty"`
	SaveOnCrossing   *bool    `yaml:"save_on_crossing,omitempty"`
	CropROI          *bool    `yaml:"crop_roi,omitempty"`
	Padding          *float64 `yaml:"padding,omitempty"`
	MinOverlap       *float64 `yaml:"min_overlap,omitempty"`
	MaxFacesPerFrame *int     `yaml:"max_faces_per_frame,omitempty"`
	OutputRoot       string   `yaml:"output_root,omitempty"`
}

// Camera is the per-camera configuration. It is read once when a pipeline
// is built and not modified afterwards.
type Camera struct {
	CameraCode  string         `yaml:"camera_code,omitempty"`
	Line        *Line          `yaml:"line,omitempty"`
	Direction   string         `yaml:"direction,omitempty"`
	Debounce    *float64       `yaml:"debounce_s,omitempty"`
	ROI         *ROI           `yaml:"roi,omitempty"`
	Processing  Processing     `yaml:"processing,omitempty"`
	Detector    DetectorTuning `yaml:"detector,omitempty"`
	Tracker     TrackerTuning  `yaml:"tracker,omitempty"`
	FaceCapture FaceCapture    `yaml:"face_capture,omitempty"`
}

// CameraPath returns the conventional file for a store/camera pair.
func CameraPath(configDir, storeCode, cameraCode string) string {
	return filepath.Join(configDir, "cameras", fmt.Sprintf("store_%s_%s.yml", storeCode, cameraCode))
}

// LoadCamera reads the camera file. A missing file yields an empty config.
func LoadCamera(configDir, storeCode, cameraCode string) (*Camera, error) {
	cfg := &Camera{}
	if _, err := readYAML(CameraPath(configDir, storeCode, cameraCode), cfg); err != nil {
		return nil, err
	}
	if cfg.CameraCode == "" {
		cfg.CameraCode = cameraCode
	}
	return cfg, nil
}

// Validate reports value-range problems. Stages built from an invalid
// config disable themselves rather than fail the run.
func (c *Camera) Validate() error {
	var errs []error
	switch c.GetDirection() {
	case "outside_to_inside", "inside_to_outside":
	default:
		errs = append(errs, fmt.Errorf("direction must be outside_to_inside or inside_to_outside, got %q", c.Direction))
	}
	if c.Line == nil {
		errs = append(errs, errors.New("line is not configured"))
	} else if c.Line.A == c.Line.B {
		errs = append(errs, errors.New("line endpoints coincide"))
	}
	if c.GetDebounce() < 0 {
		errs = append(errs, fmt.Errorf("debounce_s must be non-negative, got %v", c.GetDebounce()))
	}
	if c.GetTargetFPS() < 0 {
		errs = append(errs, fmt.Errorf("target_fps must be non-negative, got %v", c.GetTargetFPS()))
	}
	if c.ROI != nil && (c.ROI.W <= 0 || c.ROI.H <= 0) {
		errs = append(errs, fmt.Errorf("roi must have positive size, got %vx%v", c.ROI.W, c.ROI.H))
	}
	if v := c.FaceCapture.GetMinOverlap(); v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("face_capture.min_overlap must be between 0 and 1, got %v", v))
	}
	if v := c.FaceCapture.GetPadding(); v < 0 {
		errs = append(errs, fmt.Errorf("face_capture.padding must be non-negative, got %v", v))
	}
	return errors.Join(errs...)
}

// GetDirection defaults to outside_to_inside.
func (c *Camera) GetDirection() string {
	if c.Direction == "" {
		return "outside_to_inside"
	}
	return c.Direction
}

// GetDebounce defaults to 1 second.
func (c *Camera) GetDebounce() float64 {
	if c.Debounce == nil {
		return 1.0
	}
	return *c.Debounce
}

// GetTargetFPS defaults to 0, meaning every frame.
func (c *Camera) GetTargetFPS() float64 {
	if c.Processing.TargetFPS == nil {
		return 0
	}
	return *c.Processing.TargetFPS
}

// GetPresenceInterval defaults to 1 second.
func (c *Camera) GetPresenceInterval() float64 {
	if c.Processing.PresenceInterval == nil {
		return 1.0
	}
	return *c.Processing.PresenceInterval
}

// GetMaxElapsed defaults to 0, meaning no limit.
func (c *Camera) GetMaxElapsed() float64 {
	if c.Processing.MaxElapsed == nil {
		return 0
	}
	return *c.Processing.MaxElapsed
}

// GetDetectorConf defaults to 0.4.
func (c *Camera) GetDetectorConf() float64 {
	if c.Detector.Conf == nil {
		return 0.4
	}
	return *c.Detector.Conf
}

func (f FaceCapture) GetEnabled() bool {
	if f.Enabled == nil {
		return false
	}
	return *f.Enabled
}

func (f FaceCapture) GetConf() float64 {
	if f.Conf == nil {
		return 0.85
	}
	return *f.Conf
}

func (f FaceCapture) GetMinWidth() float64 {
	if f.MinWidth == nil {
		return 80
	}
	return *f.MinWidth
}

func (f FaceCapture) GetMinInterval() float64 {
	if f.MinInterval == nil {
		return 2.0
	}
	return *f.MinInterval
}

func (f FaceCapture) GetSaveOnCrossing() bool {
	if f.SaveOnCrossing == nil {
		return true
	}
	return *f.SaveOnCrossing
}

func (f FaceCapture) GetCropROI() bool {
	if f.CropROI == nil {
		return false
	}
	return *f.CropROI
}

func (f FaceCapture) GetPadding() float64 {
	if f.Padding == nil {
		return 0.2
	}
	return *f.Padding
}

func (f FaceCapture) GetMinOverlap() float64 {
	if f.MinOverlap == nil {
		return 0.3
	}
	return *f.MinOverlap
}

func (f FaceCapture) GetMaxFacesPerFrame() int {
	if f.MaxFacesPerFrame == nil {
		return 5
	}
	return *f.MaxFacesPerFrame
}
