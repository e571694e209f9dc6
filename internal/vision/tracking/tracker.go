// Package tracking provides a box tracker that associates person detections
// across frames by intersection-over-union.
//
// It is the built-in vision.Tracker used when no external tracker is wired
// in. Each frame is associated with a Hungarian assignment on 1 - IoU.
package tracking

import (
	"sort"
	"strconv"

	"github.com/banshee-data/footfall.report/internal/vision"
)

// Config tunes the tracker.
type Config struct {
	// MinIoU is the minimum overlap for a detection to continue a track.
	MinIoU float64
	// HitsToConfirm is how many matched frames a track needs before it is
	// reported.
	HitsToConfirm int
	// MaxMisses is how many consecutive unmatched frames a track survives.
	MaxMisses int
}

// DefaultConfig returns conservative defaults for overhead store cameras.
func DefaultConfig() Config {
	return Config{MinIoU: 0.3, HitsToConfirm: 2, MaxMisses: 15}
}

type track struct {
	id     string
	box    vision.BBox
	score  float64
	hits   int
	misses int
}

// IoUTracker implements vision.Tracker.
type IoUTracker struct {
	Config Config

	nextID int
	tracks []*track
}

// NewIoUTracker returns a tracker with cfg. Zero fields take DefaultConfig values.
func NewIoUTracker(cfg Config) *IoUTracker {
	def := DefaultConfig()
	if cfg.MinIoU <= 0 {
		cfg.MinIoU = def.MinIoU
	}
	if cfg.HitsToConfirm <= 0 {
		cfg.HitsToConfirm = def.HitsToConfirm
	}
	if cfg.MaxMisses <= 0 {
		cfg.MaxMisses = def.MaxMisses
	}
	return &IoUTracker{Config: cfg}
}

// Reset forgets every track and restarts id numbering.
func (t *IoUTracker) Reset() {
	t.tracks = nil
	t.nextID = 0
}

// Update associates dets with existing tracks and returns the confirmed
// tracks matched on this frame, ordered by id.
func (t *IoUTracker) Update(dets []vision.Detection) ([]vision.Track, error) {
	matchedTrack := make([]bool, len(t.tracks))
	var rows []int
	if len(dets) > 0 && len(t.tracks) > 0 {
		cost := make([][]float64, len(dets))
		for i, d := range dets {
			cost[i] = make([]float64, len(t.tracks))
			for j, tr := range t.tracks {
				iou := d.Box.IoU(tr.box)
				if iou < t.Config.MinIoU {
					cost[i][j] = forbidden
					continue
				}
				cost[i][j] = 1 - iou
			}
		}
		rows = assign(cost)
	}

	var out []vision.Track
	for i, d := range dets {
		j := -1
		if rows != nil {
			j = rows[i]
		}
		var tr *track
		if j >= 0 {
			tr = t.tracks[j]
			matchedTrack[j] = true
			tr.box, tr.score = d.Box, d.Score
			tr.hits++
			tr.misses = 0
		} else {
			t.nextID++
			tr = &track{id: strconv.Itoa(t.nextID), box: d.Box, score: d.Score, hits: 1}
			t.tracks = append(t.tracks, tr)
		}
		if tr.hits >= t.Config.HitsToConfirm {
			out = append(out, vision.Track{ID: tr.id, Box: tr.box, Confidence: tr.score})
		}
	}

	kept := t.tracks[:0]
	for j, tr := range t.tracks {
		if j < len(matchedTrack) && !matchedTrack[j] {
			tr.misses++
			if tr.misses > t.Config.MaxMisses {
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	sort.Slice(out, func(a, b int) bool {
		ai, _ := strconv.Atoi(out[a].ID)
		bi, _ := strconv.Atoi(out[b].ID)
		return ai < bi
	})
	return out, nil
}

// Active returns how many tracks are currently held, confirmed or not.
func (t *IoUTracker) Active() int { return len(t.tracks) }
