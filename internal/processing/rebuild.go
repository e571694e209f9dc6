package processing

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/jobs"
	"github.com/banshee-data/footfall.report/internal/kpi"
)

// Rebuilder handles KPI_REBUILD jobs. Shifts are re-read from the config
// directory on every job.
type Rebuilder struct {
	Engine    *kpi.Engine
	ConfigDir string
	Location  *time.Location
}

func (r *Rebuilder) Rebuild(ctx context.Context, payload RebuildPayload) (*kpi.Summary, error) {
	if payload.StoreID == 0 {
		return nil, fmt.Errorf("%w: store_id", ErrMissingField)
	}
	if payload.Date == "" {
		return nil, fmt.Errorf("%w: date", ErrMissingField)
	}
	shifts, err := config.LoadShifts(r.ConfigDir)
	if err != nil {
		return nil, err
	}
	key := kpi.Key{StoreID: payload.StoreID, CameraID: payload.CameraID, Date: payload.Date}
	return r.Engine.Rebuild(ctx, key, shifts, r.Location)
}

// Handler handles KPI_REBUILD jobs.
func (r *Rebuilder) Handler() jobs.Handler {
	return jobs.HandlerFunc{
		JobType: jobs.TypeKPIRebuild,
		Fn: func(ctx context.Context, job *jobs.Job) error {
			var payload RebuildPayload
			if err := job.Decode(&payload); err != nil {
				return err
			}
			_, err := r.Rebuild(ctx, payload)
			return err
		},
	}
}

// Register adds both handlers to reg.
func Register(reg *jobs.Registry, p *Processor, r *Rebuilder) error {
	for _, h := range []jobs.Handler{p.SegmentHandler(), r.Handler()} {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
