//go:build !gocv

package video

import (
	"errors"

	"github.com/banshee-data/footfall.report/internal/vision"
)

// ErrNoDecoder is returned when the binary was built without OpenCV.
var ErrNoDecoder = errors.New("opencv-not-installed")

// Capture decodes video files with OpenCV. This build has no OpenCV; rebuild
// with -tags gocv.
type Capture struct{}

func (Capture) Open(string, float64) (vision.Frames, error) {
	return nil, ErrNoDecoder
}
