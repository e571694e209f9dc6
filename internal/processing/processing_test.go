package processing

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/db"
	"github.com/banshee-data/footfall.report/internal/jobs"
	"github.com/banshee-data/footfall.report/internal/kpi"
	"github.com/banshee-data/footfall.report/internal/vision"
	"github.com/banshee-data/footfall.report/internal/vision/video"
)

const segPath = "store=001/camera=entrance/date=2025-01-15/09-00-00__09-10-00.mp4"

// walkerDetector reports one person whose box moves 8px right per frame.
// The frame index is encoded in the red channel of pixel (0,0).
type walkerDetector struct{}

func (walkerDetector) Detect(img image.Image) ([]vision.Detection, error) {
	r, _, _, _ := img.At(0, 0).RGBA()
	i := float64(r >> 8)
	x := 10 + 8*i
	return []vision.Detection{{Box: vision.BBox{X1: x, Y1: 35, X2: x + 30, Y2: 65}, Score: 0.9, Class: "person"}}, nil
}

func walkFrames(n int) video.Static {
	imgs := make([]image.Image, n)
	for i := range imgs {
		img := image.NewRGBA(image.Rect(0, 0, 100, 100))
		img.Set(0, 0, color.RGBA{R: uint8(i), A: 255})
		imgs[i] = img
	}
	return video.Static{Images: imgs, FPS: 10}
}

func writeCamera(t *testing.T, dir string) {
	t.Helper()
	p := config.CameraPath(dir, "001", "entrance")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(`
line:
  a: {x: 50, y: 0}
  b: {x: 50, y: 100}
direction: outside_to_inside
debounce_s: 1.0
processing:
  presence_interval_s: 0.5
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shifts.yml"), []byte(`
shifts:
  - {id: MORNING, start: "08:00", end: "12:00"}
`), 0o644))
}

type env struct {
	db       *db.DB
	queue    *db.JobQueue
	proc     *Processor
	rebuild  *Rebuilder
	loc      *time.Location
	segment  *db.Segment
	cameraID int64
}

func setup(t *testing.T, deps Deps) env {
	t.Helper()
	ctx := context.Background()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "proc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	st, err := d.EnsureStore(ctx, "001", "Centro", "")
	require.NoError(t, err)
	cam, err := d.EnsureCamera(ctx, st.ID, "entrance")
	require.NoError(t, err)
	start := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	seg, _, err := d.UpsertSegment(ctx, &db.Segment{StoreID: st.ID, CameraID: cam.ID, Path: segPath,
		Start: start, End: start.Add(10 * time.Minute), Fingerprint: "fp"})
	require.NoError(t, err)

	settings := config.DefaultSettings()
	settings.ConfigDir = t.TempDir()
	settings.VideoRoot = t.TempDir()
	writeCamera(t, settings.ConfigDir)

	q := db.NewJobQueue(d, 3)
	return env{
		db:       d,
		queue:    q,
		proc:     NewProcessor(d, q, deps, settings, loc, nil),
		rebuild:  &Rebuilder{Engine: kpi.NewEngine(d, nil), ConfigDir: settings.ConfigDir, Location: loc},
		loc:      loc,
		segment:  seg,
		cameraID: cam.ID,
	}
}

func TestProcessSegment(t *testing.T) {
	e := setup(t, Deps{Frames: walkFrames(10), Detector: walkerDetector{}})
	ctx := context.Background()

	out, err := e.proc.ProcessSegment(ctx, e.segment.ID)
	require.NoError(t, err)
	assert.Empty(t, out.Meta.Errors)
	assert.Equal(t, 10, out.Meta.FramesRead)
	assert.Equal(t, 1, out.Counts.Out)
	assert.Equal(t, 0, out.Counts.In)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "2025-01-15T09:00:00.4-03:00", out.Events[0].Timestamp)
	assert.Equal(t, "2025-01-15T09:00:00-03:00", out.Segment.StartTime)
	assert.Equal(t, db.SegmentProcessed, out.Segment.Status)

	seg, err := e.db.GetSegment(ctx, e.segment.ID)
	require.NoError(t, err)
	assert.Equal(t, db.SegmentProcessed, seg.Status)

	dayStart := time.Date(2025, 1, 15, 0, 0, 0, 0, e.loc)
	events, err := e.db.EventsInRange(ctx, seg.StoreID, nil, dayStart, dayStart.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, vision.DirectionOut, events[0].Direction)

	// Reprocessing replaces rather than duplicates.
	_, err = e.proc.ProcessSegment(ctx, e.segment.ID)
	require.NoError(t, err)
	events, err = e.db.EventsInRange(ctx, seg.StoreID, nil, dayStart, dayStart.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	queued, err := e.queue.List(ctx, jobs.StatusQueued, 10)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	var p RebuildPayload
	require.NoError(t, queued[0].Decode(&p))
	assert.Equal(t, jobs.TypeKPIRebuild, queued[0].Type)
	assert.Equal(t, seg.StoreID, p.StoreID)
	require.NotNil(t, p.CameraID)
	assert.Equal(t, e.cameraID, *p.CameraID)
	assert.Equal(t, "2025-01-15", p.Date)
}

func TestWorkerRunsBothJobTypes(t *testing.T) {
	e := setup(t, Deps{Frames: walkFrames(10), Detector: walkerDetector{}})
	ctx := context.Background()

	reg := jobs.NewRegistry()
	require.NoError(t, Register(reg, e.proc, e.rebuild))
	w := jobs.NewWorker("w1", e.queue, reg, time.Second, 0, nil)

	_, err := e.queue.Enqueue(ctx, jobs.TypeProcessSegment, map[string]int64{"segment_id": e.segment.ID}, time.Time{})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		worked, err := w.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, worked)
	}
	done, err := e.queue.List(ctx, jobs.StatusDone, 10)
	require.NoError(t, err)
	assert.Len(t, done, 2)

	hourly, err := e.db.ListHourly(ctx, e.segment.StoreID, &e.cameraID, "2025-01-15")
	require.NoError(t, err)
	require.Len(t, hourly, 1)
	assert.Equal(t, 9, hourly[0].Hour)
	assert.Equal(t, 1, hourly[0].Out)
	require.NotNil(t, hourly[0].MaxPresence)
	assert.Equal(t, 1.0, *hourly[0].MaxPresence)

	shifts, err := e.db.ListShift(ctx, e.segment.StoreID, &e.cameraID, "2025-01-15")
	require.NoError(t, err)
	require.Len(t, shifts, 1)
	assert.Equal(t, "MORNING", shifts[0].ShiftID)
}

func TestProcessSegmentDegraded(t *testing.T) {
	e := setup(t, Deps{Frames: walkFrames(3)})
	out, err := e.proc.ProcessSegment(context.Background(), e.segment.ID)
	require.NoError(t, err)
	assert.Contains(t, out.Meta.Errors, "detector-missing")
	assert.Equal(t, db.SegmentDegraded, out.Segment.Status)
}

func TestHandlerErrors(t *testing.T) {
	e := setup(t, Deps{Frames: walkFrames(1)})
	ctx := context.Background()

	_, err := e.proc.ProcessSegment(ctx, 999)
	assert.ErrorIs(t, err, db.ErrNotFound)

	err = e.proc.SegmentHandler().Run(ctx, &jobs.Job{Type: jobs.TypeProcessSegment, Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrMissingField)

	err = e.proc.SegmentHandler().Run(ctx, &jobs.Job{Type: jobs.TypeProcessSegment, Payload: []byte(`not json`)})
	assert.ErrorIs(t, err, jobs.ErrBadPayload)

	err = e.rebuild.Handler().Run(ctx, &jobs.Job{Type: jobs.TypeKPIRebuild, Payload: []byte(`{"store_id": 1}`)})
	assert.ErrorIs(t, err, ErrMissingField)

	err = e.rebuild.Handler().Run(ctx, &jobs.Job{Type: jobs.TypeKPIRebuild, Payload: []byte(`{"date": "2025-01-15"}`)})
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestProcessPath(t *testing.T) {
	e := setup(t, Deps{Frames: walkFrames(10), Detector: walkerDetector{}})

	out, err := e.proc.ProcessPath(filepath.Join(e.proc.VideoRoot, filepath.FromSlash(segPath)))
	require.NoError(t, err)
	assert.Equal(t, "001", out.Segment.StoreCode)
	assert.Equal(t, "2025-01-15T09:10:00-03:00", out.Segment.EndTime)
	assert.Zero(t, out.Segment.ID)
	assert.Equal(t, 1, out.Counts.Out)
	assert.NotEmpty(t, out.Presence)

	// Nothing is persisted.
	queued, err := e.queue.List(context.Background(), jobs.StatusQueued, 10)
	require.NoError(t, err)
	assert.Empty(t, queued)

	_, err = e.proc.ProcessPath("/videos/clip.mp4")
	assert.Error(t, err)
}
