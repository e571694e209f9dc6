// Package video provides frame sources: directories of still images, an
// OpenCV-backed video decoder (build tag gocv) and in-memory frames for tests.
package video

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/footfall.report/internal/vision"
)

// DefaultSequenceFPS is assumed for image directories with no declared rate.
const DefaultSequenceFPS = 10.0

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// ImageSequence reads a directory of still frames in lexical file order.
type ImageSequence struct {
	// FPS is the capture rate the frames represent.
	FPS float64
}

// Open lists the frames under dir.
func (s ImageSequence) Open(dir string, targetFPS float64) (vision.Frames, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot-open-video: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	fps := s.FPS
	if fps <= 0 {
		fps = DefaultSequenceFPS
	}
	return &sequenceFrames{files: files, fps: fps, step: vision.FrameStep(fps, targetFPS)}, nil
}

type sequenceFrames struct {
	files []string
	fps   float64
	step  int
	next  int
}

func (f *sequenceFrames) Next() (image.Image, float64, error) {
	if f.next >= len(f.files) {
		return nil, 0, io.EOF
	}
	idx := f.next
	f.next += f.step
	img, err := decodeFile(f.files[idx])
	if err != nil {
		return nil, 0, err
	}
	return img, float64(idx) / f.fps, nil
}

func (f *sequenceFrames) Close() error { return nil }

func decodeFile(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Static serves the same in-memory frames on every Open.
type Static struct {
	Images []image.Image
	FPS    float64
}

func (s Static) Open(_ string, targetFPS float64) (vision.Frames, error) {
	fps := s.FPS
	if fps <= 0 {
		fps = DefaultSequenceFPS
	}
	return &staticFrames{images: s.Images, fps: fps, step: vision.FrameStep(fps, targetFPS)}, nil
}

type staticFrames struct {
	images []image.Image
	fps    float64
	step   int
	next   int
}

func (f *staticFrames) Next() (image.Image, float64, error) {
	if f.next >= len(f.images) {
		return nil, 0, io.EOF
	}
	idx := f.next
	f.next += f.step
	return f.images[idx], float64(idx) / f.fps, nil
}

func (f *staticFrames) Close() error { return nil }

// Auto opens directories as image sequences and files with Files.
type Auto struct {
	Sequence ImageSequence
	Files    vision.FrameSource
}

// NewAuto returns a source for both recorded files and frame directories.
func NewAuto(sequenceFPS float64) Auto {
	return Auto{Sequence: ImageSequence{FPS: sequenceFPS}, Files: Capture{}}
}

func (a Auto) Open(path string, targetFPS float64) (vision.Frames, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot-open-video: %w", err)
	}
	if st.IsDir() {
		return a.Sequence.Open(path, targetFPS)
	}
	if a.Files == nil {
		return nil, fmt.Errorf("cannot-open-video: no decoder for %s", filepath.Ext(path))
	}
	return a.Files.Open(path, targetFPS)
}
