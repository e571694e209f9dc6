//go:build !gocv

package detect

// Load reports ErrUnavailable; rebuild with -tags gocv for OpenCV detectors.
func Load(string) (Detectors, error) {
	return Detectors{}, ErrUnavailable
}
