package detect

import (
	"errors"
	"image"
	"testing"

	"github.com/banshee-data/footfall.report/internal/vision"
)

type closingDetector struct{ closed bool }

func (c *closingDetector) Detect(image.Image) ([]vision.Detection, error) { return nil, nil }
func (c *closingDetector) Close() error {
	c.closed = true
	return errors.New("close failed")
}

func TestDetectorsClose(t *testing.T) {
	people := &closingDetector{}
	d := Detectors{People: people}
	if err := d.Close(); err == nil {
		t.Fatal("expected close error to propagate")
	}
	if !people.closed {
		t.Error("people detector not closed")
	}
	if err := (Detectors{}).Close(); err != nil {
		t.Errorf("empty Close: %v", err)
	}
}
