package faces

import (
	"errors"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/vision"
	"github.com/banshee-data/footfall.report/internal/vision/pipeline"
)

var base = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

type stubFaces struct {
	faces []vision.Face
	err   error
	calls int
	seen  image.Rectangle
}

func (d *stubFaces) DetectFaces(img image.Image) ([]vision.Face, error) {
	d.calls++
	d.seen = img.Bounds()
	out := make([]vision.Face, len(d.faces))
	copy(out, d.faces)
	return out, d.err
}

type memStore struct {
	keys []CropKey
	err  error
}

func (m *memStore) Save(key CropKey, img image.Image) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.keys = append(m.keys, key)
	return key.Path(), nil
}

func enabled() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MinWidth = 20
	return cfg
}

func newRC(tracks ...vision.Track) *pipeline.RunContext {
	return &pipeline.RunContext{
		Base:   base,
		Result: &pipeline.Result{},
		Frame:  image.NewRGBA(image.Rect(0, 0, 640, 480)),
		Tracks: tracks,
		Segment: &pipeline.SegmentInfo{
			StoreCode: "001", CameraCode: "entrance", Date: "2025-01-15",
			Start: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC),
		},
	}
}

func face(x1, y1, x2, y2, score float64) vision.Face {
	return vision.Face{Box: vision.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}, Score: score}
}

// TestMatchFullyInsideOneTrack tests that a face wholly inside one eligible
// track is assigned to it with overlap 1.
func TestMatchFullyInsideOneTrack(t *testing.T) {
	tracks := []vision.Track{
		{ID: "a", Box: vision.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}},
		{ID: "b", Box: vision.BBox{X1: 400, Y1: 100, X2: 500, Y2: 300}},
	}
	id, overlap := Match(vision.BBox{X1: 120, Y1: 110, X2: 160, Y2: 150}, tracks, map[string]bool{"a": true, "b": true})
	assert.Equal(t, "a", id)
	assert.Equal(t, 1.0, overlap)
}

func TestMatchIgnoresIneligibleAndOutsideCenter(t *testing.T) {
	tracks := []vision.Track{
		{ID: "a", Box: vision.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}},
		{ID: "b", Box: vision.BBox{X1: 150, Y1: 100, X2: 250, Y2: 300}},
	}
	f := vision.BBox{X1: 120, Y1: 110, X2: 160, Y2: 150}
	id, _ := Match(f, tracks, map[string]bool{"b": true})
	assert.Equal(t, "", id, "center x=140 lies outside b")

	id, _ = Match(f, tracks, map[string]bool{})
	assert.Equal(t, "", id)
}

// TestLowOverlapDropped tests that a face below the minimum overlap is not
// captured even though its center is inside the nearest track.
func TestLowOverlapDropped(t *testing.T) {
	tr := vision.Track{ID: "a", Box: vision.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}}
	// Face 60..220 x 100..140: center (140,120) inside, overlap 100/160 = 0.625.
	det := &stubFaces{faces: []vision.Face{face(60, 100, 220, 140, 0.95)}}
	store := &memStore{}
	cfg := enabled()
	cfg.MinOverlap = 0.7

	s := NewStage(cfg, det, store)
	rc := newRC(tr)
	s.Setup(rc)
	require.NoError(t, s.OnFrame(rc))
	assert.Empty(t, rc.Result.FaceCaptures)

	cfg.MinOverlap = 0.5
	s = NewStage(cfg, det, store)
	s.Setup(rc)
	require.NoError(t, s.OnFrame(rc))
	assert.Len(t, rc.Result.FaceCaptures, 1)
}

func TestCaptureRecordsFields(t *testing.T) {
	tr := vision.Track{ID: "7", Box: vision.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}}
	det := &stubFaces{faces: []vision.Face{face(120, 110, 180, 170, 0.91)}}
	store := &memStore{}
	s := NewStage(enabled(), det, store)
	rc := newRC(tr)
	rc.Elapsed = 1.5
	s.Setup(rc)
	require.NoError(t, s.OnFrame(rc))

	require.Len(t, rc.Result.FaceCaptures, 1)
	c := rc.Result.FaceCaptures[0]
	assert.Equal(t, "7", c.TrackID)
	assert.Equal(t, vision.SourceInterval, c.Source)
	assert.Equal(t, base.Add(1500*time.Millisecond), c.Timestamp)
	assert.Equal(t, 0.91, c.Score)
	assert.Equal(t, vision.BBox{X1: 120, Y1: 110, X2: 180, Y2: 170}, c.Box)
	assert.Equal(t,
		"store=001/camera=entrance/date=2025-01-15/store=001__camera=entrance__date=2025-01-15__seg=09-00-00__ts=2025-01-15T09-00-01-500+0000__track=7__score=0.91.jpg",
		c.Path)
}

func TestCrossingSourceAndInterval(t *testing.T) {
	tr := vision.Track{ID: "7", Box: vision.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}}
	det := &stubFaces{faces: []vision.Face{face(120, 110, 180, 170, 0.95)}}
	s := NewStage(enabled(), det, &memStore{})
	rc := newRC(tr)
	s.Setup(rc)

	rc.Crossed = []vision.Crossing{{TrackID: "7", Direction: vision.DirectionIn}}
	require.NoError(t, s.OnFrame(rc))
	require.Len(t, rc.Result.FaceCaptures, 1)
	assert.Equal(t, vision.SourceCrossing, rc.Result.FaceCaptures[0].Source)

	// 1s later: not due (interval 2s), no crossing, detector not even called.
	calls := det.calls
	rc.Crossed = nil
	rc.Elapsed = 1
	require.NoError(t, s.OnFrame(rc))
	assert.Len(t, rc.Result.FaceCaptures, 1)
	assert.Equal(t, calls, det.calls)

	// Crossing makes it eligible, but the interval re-check still blocks it.
	rc.Crossed = []vision.Crossing{{TrackID: "7"}}
	require.NoError(t, s.OnFrame(rc))
	assert.Len(t, rc.Result.FaceCaptures, 1)

	rc.Crossed = nil
	rc.Elapsed = 2
	require.NoError(t, s.OnFrame(rc))
	require.Len(t, rc.Result.FaceCaptures, 2)
	assert.Equal(t, vision.SourceInterval, rc.Result.FaceCaptures[1].Source)
}

func TestOneCapturePerTrackPerFrame(t *testing.T) {
	tr := vision.Track{ID: "7", Box: vision.BBox{X1: 100, Y1: 100, X2: 300, Y2: 300}}
	det := &stubFaces{faces: []vision.Face{
		face(110, 110, 170, 170, 0.95),
		face(200, 110, 290, 200, 0.95),
	}}
	cfg := enabled()
	cfg.MinInterval = 0
	s := NewStage(cfg, det, &memStore{})
	rc := newRC(tr)
	s.Setup(rc)
	require.NoError(t, s.OnFrame(rc))
	require.Len(t, rc.Result.FaceCaptures, 1)
	assert.Equal(t, 200.0, rc.Result.FaceCaptures[0].Box.X1, "largest face is considered first")
}

func TestFaceFilters(t *testing.T) {
	tracks := []vision.Track{
		{ID: "a", Box: vision.BBox{X1: 0, Y1: 0, X2: 200, Y2: 200}},
		{ID: "b", Box: vision.BBox{X1: 300, Y1: 0, X2: 500, Y2: 200}},
		{ID: "c", Box: vision.BBox{X1: 0, Y1: 250, X2: 200, Y2: 450}},
	}
	det := &stubFaces{faces: []vision.Face{
		face(10, 10, 110, 110, 0.5),    // weak
		face(310, 10, 320, 20, 0.99),   // narrow
		face(10, 260, 100, 350, 0.99),  // kept
		face(350, 50, 440, 140, 0.99),  // kept
		face(150, 150, 160, 160, 0.99), // narrow
	}}
	cfg := enabled()
	cfg.MinWidth = 50
	cfg.MaxFacesPerFrame = 3
	s := NewStage(cfg, det, &memStore{})
	rc := newRC(tracks...)
	s.Setup(rc)
	require.NoError(t, s.OnFrame(rc))

	// Top 3 by area are the weak one and the two kept ones.
	ids := []string{}
	for _, c := range rc.Result.FaceCaptures {
		ids = append(ids, c.TrackID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
}

func TestCropROIOffsetsBoxes(t *testing.T) {
	tr := vision.Track{ID: "a", Box: vision.BBox{X1: 300, Y1: 200, X2: 420, Y2: 400}}
	// Detector reports coordinates relative to the ROI crop.
	det := &stubFaces{faces: []vision.Face{face(20, 20, 100, 100, 0.95)}}
	cfg := enabled()
	cfg.CropROI = true
	cfg.ROI = vision.BBox{X1: 300, Y1: 200, X2: 600, Y2: 480}
	s := NewStage(cfg, det, &memStore{})
	rc := newRC(tr)
	s.Setup(rc)
	require.NoError(t, s.OnFrame(rc))

	assert.Equal(t, image.Rect(300, 200, 600, 480), det.seen)
	require.Len(t, rc.Result.FaceCaptures, 1)
	assert.Equal(t, vision.BBox{X1: 320, Y1: 220, X2: 400, Y2: 300}, rc.Result.FaceCaptures[0].Box)
}

func TestSaveFailureContinues(t *testing.T) {
	tr := vision.Track{ID: "a", Box: vision.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}}
	det := &stubFaces{faces: []vision.Face{face(120, 110, 180, 170, 0.95)}}
	s := NewStage(enabled(), det, &memStore{err: errors.New("disk full")})
	rc := newRC(tr)
	s.Setup(rc)
	require.NoError(t, s.OnFrame(rc))
	assert.Empty(t, rc.Result.FaceCaptures)
	assert.Equal(t, []string{"face-save-failed"}, rc.Result.Errors)
}

func TestDetectorErrorStopsFrame(t *testing.T) {
	tr := vision.Track{ID: "a", Box: vision.BBox{X1: 100, Y1: 100, X2: 200, Y2: 300}}
	s := NewStage(enabled(), &stubFaces{err: errors.New("model gone")}, &memStore{})
	rc := newRC(tr)
	s.Setup(rc)
	assert.ErrorContains(t, s.OnFrame(rc), "model gone")
}

func TestDisabledStates(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		det     vision.FaceDetector
		store   CropStore
		wantErr []string
	}{
		{"not enabled", DefaultConfig(), &stubFaces{}, &memStore{}, nil},
		{"no detector", enabled(), nil, &memStore{}, []string{"face-detector-unavailable"}},
		{"no store", enabled(), &stubFaces{}, nil, []string{"faces-root-missing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStage(tt.cfg, tt.det, tt.store)
			rc := newRC(vision.Track{ID: "a", Box: vision.BBox{X2: 10, Y2: 10}})
			s.Setup(rc)
			require.NoError(t, s.OnFrame(rc))
			assert.Equal(t, tt.wantErr, rc.Result.Errors)
			assert.Empty(t, rc.Result.FaceCaptures)
		})
	}
}

func TestCropKeyWithoutSegment(t *testing.T) {
	cfg := enabled()
	cfg.CameraCode = "cam9"
	s := NewStage(cfg, nil, nil)
	rc := &pipeline.RunContext{}
	ts := time.Date(2025, 3, 2, 10, 4, 5, 7_000_000, time.FixedZone("BRT", -3*3600))
	k := s.cropKey(rc, ts, "12", 0.876)
	assert.Equal(t, "store=unknown/camera=cam9/date=2025-03-02", k.Dir())
	assert.True(t, strings.HasSuffix(k.Filename(), "__seg=unknown__ts=2025-03-02T10-04-05-007-0300__track=12__score=0.88.jpg"), k.Filename())
}
