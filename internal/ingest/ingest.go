package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/db"
	"github.com/banshee-data/footfall.report/internal/jobs"
	"github.com/banshee-data/footfall.report/internal/monitoring"
)

// Registry is the reference-data side of the database.
type Registry interface {
	EnsureStore(ctx context.Context, code, name, city string) (*db.Store, error)
	EnsureCamera(ctx context.Context, storeID int64, code string) (*db.Camera, error)
	UpsertSegment(ctx context.Context, seg *db.Segment) (*db.Segment, bool, error)
}

// SegmentPayload is the PROCESS_SEGMENT job payload.
type SegmentPayload struct {
	SegmentID int64 `json:"segment_id"`
}

// Options control one ingest pass.
type Options struct {
	Root string
	// Extensions defaults to DefaultExtensions.
	Extensions []string
	// DryRun registers segments without queueing them.
	DryRun bool
	// Limit stops after this many files. Zero means all.
	Limit int
}

// Report summarises an ingest pass.
type Report struct {
	Scanned  int `json:"scanned"`
	Created  int `json:"created"`
	Enqueued int `json:"enqueued"`
}

// Ingester registers segments found on disk.
type Ingester struct {
	Registry Registry
	Queue    jobs.Queue
	// Stores supplies names and cities for new store rows.
	Stores   map[string]config.Store
	Location *time.Location
	Log      *monitoring.Logger
}

// NewIngester returns an ingester. Segment times in paths are read in loc.
func NewIngester(reg Registry, q jobs.Queue, stores map[string]config.Store, loc *time.Location, log *monitoring.Logger) *Ingester {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = monitoring.Nop()
	}
	return &Ingester{Registry: reg, Queue: q, Stores: stores, Location: loc, Log: log.With("component", "Ingest")}
}

// Run scans opts.Root once. Known paths are left alone; new segments get a
// PROCESS_SEGMENT job unless DryRun is set.
func (in *Ingester) Run(ctx context.Context, opts Options) (*Report, error) {
	found, err := Scan(opts.Root, opts.Extensions)
	if err != nil {
		return nil, err
	}
	rep := &Report{}
	for _, f := range found {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		created, err := in.register(ctx, f, opts.DryRun)
		if err != nil {
			return rep, err
		}
		rep.Scanned++
		if created {
			rep.Created++
			if !opts.DryRun {
				rep.Enqueued++
			}
		}
		if opts.Limit > 0 && rep.Scanned >= opts.Limit {
			break
		}
	}
	in.Log.Info("ingest finished", "root", opts.Root, "scanned", rep.Scanned,
		"created", rep.Created, "enqueued", rep.Enqueued, "dry_run", opts.DryRun)
	return rep, nil
}

func (in *Ingester) register(ctx context.Context, f Found, dryRun bool) (bool, error) {
	meta := in.Stores[f.Info.StoreCode]
	store, err := in.Registry.EnsureStore(ctx, f.Info.StoreCode, meta.Name, meta.City)
	if err != nil {
		return false, err
	}
	cam, err := in.Registry.EnsureCamera(ctx, store.ID, f.Info.CameraCode)
	if err != nil {
		return false, err
	}
	start, end, err := f.Info.Range(in.Location)
	if err != nil {
		return false, fmt.Errorf("%s: %w", f.Path, err)
	}
	seg, created, err := in.Registry.UpsertSegment(ctx, &db.Segment{
		StoreID:     store.ID,
		CameraID:    cam.ID,
		Path:        f.Info.RelPath,
		Start:       start.UTC(),
		End:         end.UTC(),
		Fingerprint: Fingerprint(f.Path, f.File),
		FileSize:    f.File.Size(),
	})
	if err != nil {
		return false, err
	}
	if !created {
		in.Log.Debug("segment already registered", "path", seg.Path, "segment_id", seg.ID)
		return false, nil
	}
	if dryRun {
		return true, nil
	}
	if _, err := in.Queue.Enqueue(ctx, jobs.TypeProcessSegment, SegmentPayload{SegmentID: seg.ID}, time.Time{}); err != nil {
		return true, fmt.Errorf("enqueue segment %d: %w", seg.ID, err)
	}
	in.Log.Info("segment registered", "path", seg.Path, "segment_id", seg.ID)
	return true, nil
}
