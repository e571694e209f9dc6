package processing

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/db"
	"github.com/banshee-data/footfall.report/internal/ingest"
	"github.com/banshee-data/footfall.report/internal/jobs"
	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/timeutil"
	"github.com/banshee-data/footfall.report/internal/vision/pipeline"
)

// ErrMissingField is returned for payloads without a required field.
var ErrMissingField = errors.New("missing payload field")

// SegmentStore is the persistence the segment processor needs.
type SegmentStore interface {
	GetSegment(ctx context.Context, id int64) (*db.Segment, error)
	ReplaceSegmentResults(ctx context.Context, r db.SegmentResults) error
	MarkSegmentStatus(ctx context.Context, id int64, status string) error
}

// RebuildPayload is the KPI_REBUILD job payload.
type RebuildPayload struct {
	StoreID  int64  `json:"store_id"`
	CameraID *int64 `json:"camera_id,omitempty"`
	Date     string `json:"date"`
}

// Processor runs the pipeline over registered segments.
type Processor struct {
	Store     SegmentStore
	Queue     jobs.Queue
	Deps      Deps
	VideoRoot string
	ConfigDir string
	Location  *time.Location
	Log       *monitoring.Logger
}

func NewProcessor(store SegmentStore, q jobs.Queue, deps Deps, settings config.Settings, loc *time.Location, log *monitoring.Logger) *Processor {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = monitoring.Nop()
	}
	return &Processor{
		Store:     store,
		Queue:     q,
		Deps:      deps,
		VideoRoot: settings.VideoRoot,
		ConfigDir: settings.ConfigDir,
		Location:  loc,
		Log:       log.With("component", "SegmentProcessor"),
	}
}

func (p *Processor) loadCamera(storeCode, cameraCode string) (*config.Camera, error) {
	cam, err := config.LoadCamera(p.ConfigDir, storeCode, cameraCode)
	if err != nil {
		return nil, fmt.Errorf("camera config %s/%s: %w", storeCode, cameraCode, err)
	}
	if err := cam.Validate(); err != nil {
		p.Log.Warn("camera config has problems; affected stages will be disabled",
			"store", storeCode, "camera", cameraCode, "error", err)
	}
	return cam, nil
}

// ProcessSegment runs the pipeline over a stored segment, replaces its
// results, records its status and queues a KPI rebuild for its local day.
func (p *Processor) ProcessSegment(ctx context.Context, segmentID int64) (*Output, error) {
	seg, err := p.Store.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	cam, err := p.loadCamera(seg.StoreCode, seg.CameraCode)
	if err != nil {
		return nil, err
	}

	localStart := seg.Start.In(p.Location)
	info := &pipeline.SegmentInfo{
		SegmentID:  seg.ID,
		StoreCode:  seg.StoreCode,
		CameraCode: seg.CameraCode,
		Date:       timeutil.LocalDate(seg.Start, p.Location),
		Start:      localStart,
		End:        seg.End.In(p.Location),
	}
	path := filepath.Join(p.VideoRoot, filepath.FromSlash(seg.Path))
	res := Build(cam, p.Deps).Run(path, pipeline.RunOptions{
		Base:       seg.Start,
		MaxElapsed: cam.GetMaxElapsed(),
		Segment:    info,
	})

	if err := p.Store.ReplaceSegmentResults(ctx, db.SegmentResults{
		SegmentID: seg.ID,
		StoreID:   seg.StoreID,
		CameraID:  seg.CameraID,
		Events:    res.Events,
		Presence:  res.Presence,
		Faces:     res.FaceCaptures,
	}); err != nil {
		return nil, fmt.Errorf("persist segment %d: %w", seg.ID, err)
	}
	status := db.SegmentProcessed
	if res.Degraded() {
		status = db.SegmentDegraded
	}
	if err := p.Store.MarkSegmentStatus(ctx, seg.ID, status); err != nil {
		return nil, err
	}

	cameraID := seg.CameraID
	payload := RebuildPayload{StoreID: seg.StoreID, CameraID: &cameraID, Date: info.Date}
	if _, err := p.Queue.Enqueue(ctx, jobs.TypeKPIRebuild, payload, time.Time{}); err != nil {
		return nil, fmt.Errorf("enqueue kpi rebuild: %w", err)
	}

	counts := res.Counts()
	p.Log.Info("segment processed", "segment_id", seg.ID, "path", seg.Path, "status", status,
		"frames", res.FramesRead, "in", counts.In, "out", counts.Out, "faces", len(res.FaceCaptures),
		"errors", len(res.Errors))

	return newOutput(SegmentOutput{
		ID:         seg.ID,
		StoreCode:  seg.StoreCode,
		CameraCode: seg.CameraCode,
		StartTime:  formatLocal(seg.Start, p.Location),
		EndTime:    formatLocal(seg.End, p.Location),
		Status:     status,
	}, res, p.Location), nil
}

// ProcessPath runs the pipeline over a file laid out like an ingested
// segment without touching the database.
func (p *Processor) ProcessPath(path string) (*Output, error) {
	pi, err := ingest.ParsePath(path, p.VideoRoot)
	if err != nil {
		return nil, err
	}
	cam, err := p.loadCamera(pi.StoreCode, pi.CameraCode)
	if err != nil {
		return nil, err
	}
	start, end, err := pi.Range(p.Location)
	if err != nil {
		return nil, err
	}
	res := Build(cam, p.Deps).Run(path, pipeline.RunOptions{
		Base:       start,
		MaxElapsed: cam.GetMaxElapsed(),
		Segment: &pipeline.SegmentInfo{
			StoreCode:  pi.StoreCode,
			CameraCode: pi.CameraCode,
			Date:       pi.Date,
			Start:      start,
			End:        end,
		},
	})
	return newOutput(SegmentOutput{
		StoreCode:  pi.StoreCode,
		CameraCode: pi.CameraCode,
		StartTime:  formatLocal(start, p.Location),
		EndTime:    formatLocal(end, p.Location),
	}, res, p.Location), nil
}

// SegmentHandler handles PROCESS_SEGMENT jobs.
func (p *Processor) SegmentHandler() jobs.Handler {
	return jobs.HandlerFunc{
		JobType: jobs.TypeProcessSegment,
		Fn: func(ctx context.Context, job *jobs.Job) error {
			var payload ingest.SegmentPayload
			if err := job.Decode(&payload); err != nil {
				return err
			}
			if payload.SegmentID == 0 {
				return fmt.Errorf("%w: segment_id", ErrMissingField)
			}
			_, err := p.ProcessSegment(ctx, payload.SegmentID)
			return err
		},
	}
}
