//go:build gocv

package detect

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/footfall.report/internal/vision"
)

// HOGPeople is the OpenCV default HOG+SVM pedestrian detector. It reports a
// fixed score of 1 for every box.
type HOGPeople struct {
	mu  sync.Mutex
	hog gocv.HOGDescriptor
}

func NewHOGPeople() (*HOGPeople, error) {
	hog := gocv.NewHOGDescriptor()
	svm := gocv.HOGDefaultPeopleDetector()
	defer svm.Close()
	if err := hog.SetSVMDetector(svm); err != nil {
		hog.Close()
		return nil, fmt.Errorf("hog people detector: %w", err)
	}
	return &HOGPeople{hog: hog}, nil
}

func (h *HOGPeople) Detect(img image.Image) ([]vision.Detection, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	h.mu.Lock()
	rects := h.hog.DetectMultiScale(mat)
	h.mu.Unlock()

	origin := img.Bounds().Min
	out := make([]vision.Detection, 0, len(rects))
	for _, r := range rects {
		r = r.Add(origin)
		out = append(out, vision.Detection{Box: vision.BBoxFromRect(r), Score: 1, Class: "person"})
	}
	return out, nil
}

func (h *HOGPeople) Close() error { return h.hog.Close() }

// CascadeFaces runs a Haar cascade loaded from an OpenCV XML file.
type CascadeFaces struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

func NewCascadeFaces(path string) (*CascadeFaces, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("load face cascade %s", path)
	}
	return &CascadeFaces{classifier: c}, nil
}

func (c *CascadeFaces) DetectFaces(img image.Image) ([]vision.Face, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	c.mu.Lock()
	rects := c.classifier.DetectMultiScale(mat)
	c.mu.Unlock()

	origin := img.Bounds().Min
	out := make([]vision.Face, 0, len(rects))
	for _, r := range rects {
		out = append(out, vision.Face{Box: vision.BBoxFromRect(r.Add(origin)), Score: 1})
	}
	return out, nil
}

func (c *CascadeFaces) Close() error { return c.classifier.Close() }

// Load builds the people detector and, when cascadePath is set, the face
// detector.
func Load(cascadePath string) (Detectors, error) {
	people, err := NewHOGPeople()
	if err != nil {
		return Detectors{}, err
	}
	d := Detectors{People: people}
	if cascadePath != "" {
		faces, err := NewCascadeFaces(cascadePath)
		if err != nil {
			people.Close()
			return Detectors{}, err
		}
		d.Faces = faces
	}
	return d, nil
}
