package kpi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/db"
	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/timeutil"
	"github.com/banshee-data/footfall.report/internal/vision"
)

// DefaultPeakWindow is the peak-traffic window length.
const DefaultPeakWindow = time.Hour

// Store is the persistence the engine reads from and writes to. *db.DB
// implements it.
type Store interface {
	EventsInRange(ctx context.Context, storeID int64, cameraID *int64, start, end time.Time) ([]vision.FlowEvent, error)
	PresenceInRange(ctx context.Context, storeID int64, cameraID *int64, start, end time.Time) ([]vision.PresenceSample, error)
	ReplaceHourly(ctx context.Context, storeID int64, cameraID *int64, date string, rows []db.HourlyBucket) error
	ReplaceShift(ctx context.Context, storeID int64, cameraID *int64, date string, rows []db.ShiftBucket) error
}

// Key selects one bucket set. A nil CameraID covers every camera of the
// store and is stored as its own rollup.
type Key struct {
	StoreID  int64  `json:"store_id"`
	CameraID *int64 `json:"camera_id,omitempty"`
	Date     string `json:"date"`
}

func (k Key) String() string {
	cam := "all"
	if k.CameraID != nil {
		cam = fmt.Sprint(*k.CameraID)
	}
	return fmt.Sprintf("store=%d camera=%s date=%s", k.StoreID, cam, k.Date)
}

// Summary is what a rebuild computed.
type Summary struct {
	Key       Key               `json:"key"`
	Events    int               `json:"events"`
	Hourly    []db.HourlyBucket `json:"hourly"`
	Shifts    []db.ShiftBucket  `json:"shifts,omitempty"`
	Occupancy int               `json:"max_occupancy"`
	Peak      *Window           `json:"peak_window,omitempty"`
}

// Engine rebuilds KPI buckets.
type Engine struct {
	Store      Store
	PeakWindow time.Duration
	Log        *monitoring.Logger
}

func NewEngine(store Store, log *monitoring.Logger) *Engine {
	if log == nil {
		log = monitoring.Nop()
	}
	return &Engine{Store: store, PeakWindow: DefaultPeakWindow, Log: log.With("component", "KPIEngine")}
}

// ErrMissingStore is returned when a key has no store id.
var ErrMissingStore = errors.New("store_id required")

// Rebuild recomputes the key's local calendar day in tz and replaces its
// hourly buckets, and its shift buckets when shifts are given. Running it
// twice over unchanged events leaves the same rows.
func (e *Engine) Rebuild(ctx context.Context, key Key, shifts []config.Shift, tz *time.Location) (*Summary, error) {
	if key.StoreID == 0 {
		return nil, ErrMissingStore
	}
	if tz == nil {
		tz = time.UTC
	}
	start, end, err := timeutil.DayBounds(key.Date, tz)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseShifts(shifts)
	if err != nil {
		return nil, err
	}

	events, err := e.Store.EventsInRange(ctx, key.StoreID, key.CameraID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", key, err)
	}
	presence, err := e.Store.PresenceInRange(ctx, key.StoreID, key.CameraID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load presence for %s: %w", key, err)
	}

	hourly := WithPresence(Hourly(events, tz), presence, tz)
	if err := e.Store.ReplaceHourly(ctx, key.StoreID, key.CameraID, key.Date, hourly); err != nil {
		return nil, fmt.Errorf("replace hourly for %s: %w", key, err)
	}

	sum := &Summary{
		Key:       key,
		Events:    len(events),
		Hourly:    hourly,
		Occupancy: Occupancy(events),
		Peak:      PeakWindow(events, e.peakWindow()),
	}
	if len(parsed) > 0 {
		sum.Shifts = Shifts(events, parsed, tz)
		if err := e.Store.ReplaceShift(ctx, key.StoreID, key.CameraID, key.Date, sum.Shifts); err != nil {
			return nil, fmt.Errorf("replace shifts for %s: %w", key, err)
		}
	}

	e.log().Info("kpi rebuilt", "key", key.String(), "events", len(events),
		"hours", len(hourly), "shifts", len(sum.Shifts), "max_occupancy", sum.Occupancy)
	return sum, nil
}

func (e *Engine) peakWindow() time.Duration {
	if e.PeakWindow <= 0 {
		return DefaultPeakWindow
	}
	return e.PeakWindow
}

func (e *Engine) log() *monitoring.Logger {
	if e.Log == nil {
		return monitoring.Nop()
	}
	return e.Log
}
