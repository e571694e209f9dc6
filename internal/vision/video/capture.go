//go:build gocv

package video

import (
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"

	"github.com/banshee-data/footfall.report/internal/vision"
)

// Capture decodes video files with OpenCV.
type Capture struct{}

func (Capture) Open(path string, targetFPS float64) (vision.Frames, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot-open-video: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("cannot-open-video: %s", path)
	}
	fps := vc.Get(gocv.VideoCaptureFPS)
	return &captureFrames{
		vc:   vc,
		mat:  gocv.NewMat(),
		step: vision.FrameStep(fps, targetFPS),
	}, nil
}

type captureFrames struct {
	vc   *gocv.VideoCapture
	mat  gocv.Mat
	step int
	idx  int
}

func (f *captureFrames) Next() (image.Image, float64, error) {
	for {
		if ok := f.vc.Read(&f.mat); !ok || f.mat.Empty() {
			return nil, 0, io.EOF
		}
		idx := f.idx
		f.idx++
		if idx%f.step != 0 {
			continue
		}
		elapsed := f.vc.Get(gocv.VideoCapturePosMsec) / 1000.0
		img, err := f.mat.ToImage()
		if err != nil {
			return nil, 0, fmt.Errorf("convert frame %d: %w", idx, err)
		}
		return img, elapsed, nil
	}
}

func (f *captureFrames) Close() error {
	if err := f.mat.Close(); err != nil {
		return err
	}
	return f.vc.Close()
}
