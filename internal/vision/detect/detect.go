// Package detect provides OpenCV-backed person and face detectors. Without
// the gocv build tag the constructors report ErrUnavailable and the
// pipeline runs with the corresponding stages disabled.
package detect

import (
	"errors"

	"github.com/banshee-data/footfall.report/internal/vision"
)

// ErrUnavailable is returned when the binary was built without OpenCV.
var ErrUnavailable = errors.New("detector-unavailable")

// Detectors bundles the optional collaborators a pipeline can use.
type Detectors struct {
	People vision.Detector
	Faces  vision.FaceDetector
}

// Close releases native resources held by the detectors.
func (d Detectors) Close() error {
	var errs []error
	for _, c := range []any{d.People, d.Faces} {
		if closer, ok := c.(interface{ Close() error }); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}
