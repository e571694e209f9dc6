// Package kpi turns flow events into hourly, shift, occupancy and peak-window
// figures and persists the bucketed ones idempotently.
package kpi

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/db"
	"github.com/banshee-data/footfall.report/internal/timeutil"
	"github.com/banshee-data/footfall.report/internal/vision"
)

// Shift is a parsed time-of-day range [Start, End).
type Shift struct {
	ID    string
	Start timeutil.ClockTime
	End   timeutil.ClockTime
}

// ParseShifts converts configured shifts, keeping their order.
func ParseShifts(cfg []config.Shift) ([]Shift, error) {
	out := make([]Shift, 0, len(cfg))
	for _, c := range cfg {
		start, err := timeutil.ParseClock(c.Start)
		if err != nil {
			return nil, fmt.Errorf("shift %s start: %w", c.ID, err)
		}
		end, err := timeutil.ParseClock(c.End)
		if err != nil {
			return nil, fmt.Errorf("shift %s end: %w", c.ID, err)
		}
		out = append(out, Shift{ID: c.ID, Start: start, End: end})
	}
	return out, nil
}

// Contains reports whether the local time of day of t falls in [Start, End).
// A shift whose end is not after its start matches nothing.
func (s Shift) Contains(t time.Time) bool {
	sod := timeutil.SecondsOfDay(t)
	return s.Start.Seconds() <= sod && sod < s.End.Seconds()
}

// ShiftFor returns the first shift containing t.
func ShiftFor(t time.Time, shifts []Shift) (string, bool) {
	for _, s := range shifts {
		if s.Contains(t) {
			return s.ID, true
		}
	}
	return "", false
}

func tally(c *db.Counts, e vision.FlowEvent) {
	switch e.Direction {
	case vision.DirectionIn:
		c.In++
		if e.IsStaff {
			c.StaffIn++
		}
	case vision.DirectionOut:
		c.Out++
		if e.IsStaff {
			c.StaffOut++
		}
	}
}

// Hourly groups events by local hour in loc. Only hours with events are
// returned, ordered by hour.
func Hourly(events []vision.FlowEvent, loc *time.Location) []db.HourlyBucket {
	byHour := make(map[int]*db.HourlyBucket)
	for _, e := range events {
		h := e.Timestamp.In(loc).Hour()
		b, ok := byHour[h]
		if !ok {
			b = &db.HourlyBucket{Hour: h}
			byHour[h] = b
		}
		tally(&b.Counts, e)
	}
	return sortedHours(byHour)
}

func sortedHours(byHour map[int]*db.HourlyBucket) []db.HourlyBucket {
	out := make([]db.HourlyBucket, 0, len(byHour))
	for _, b := range byHour {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour < out[j].Hour })
	return out
}

// WithPresence adds per-hour mean and max presence to buckets. Hours that
// have samples but no events get a bucket with zero counts.
func WithPresence(buckets []db.HourlyBucket, samples []vision.PresenceSample, loc *time.Location) []db.HourlyBucket {
	if len(samples) == 0 {
		return buckets
	}
	counts := make(map[int][]float64)
	for _, s := range samples {
		h := s.Timestamp.In(loc).Hour()
		counts[h] = append(counts[h], float64(s.Count))
	}
	byHour := make(map[int]*db.HourlyBucket, len(buckets))
	for i := range buckets {
		b := buckets[i]
		byHour[b.Hour] = &b
	}
	for h, xs := range counts {
		b, ok := byHour[h]
		if !ok {
			b = &db.HourlyBucket{Hour: h}
			byHour[h] = b
		}
		mean, mx := stat.Mean(xs, nil), floats.Max(xs)
		b.AvgPresence, b.MaxPresence = &mean, &mx
	}
	return sortedHours(byHour)
}

// Shifts groups events by the first matching shift. Events outside every
// shift are dropped. Buckets follow the order of shifts and only shifts with
// events appear.
func Shifts(events []vision.FlowEvent, shifts []Shift, loc *time.Location) []db.ShiftBucket {
	byID := make(map[string]*db.ShiftBucket)
	for _, e := range events {
		id, ok := ShiftFor(e.Timestamp.In(loc), shifts)
		if !ok {
			continue
		}
		b, ok := byID[id]
		if !ok {
			b = &db.ShiftBucket{ShiftID: id}
			byID[id] = b
		}
		tally(&b.Counts, e)
	}
	out := make([]db.ShiftBucket, 0, len(byID))
	for _, s := range shifts {
		if b, ok := byID[s.ID]; ok {
			out = append(out, *b)
			delete(byID, s.ID)
		}
	}
	return out
}

func byTime(events []vision.FlowEvent) []vision.FlowEvent {
	sorted := make([]vision.FlowEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return sorted
}

// Occupancy replays events in time order with a counter that never drops
// below zero and returns its highest value.
func Occupancy(events []vision.FlowEvent) int {
	cur, peak := 0, 0
	for _, e := range byTime(events) {
		switch e.Direction {
		case vision.DirectionIn:
			cur++
		case vision.DirectionOut:
			if cur > 0 {
				cur--
			}
		}
		if cur > peak {
			peak = cur
		}
	}
	return peak
}

// Window is a peak-traffic interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int       `json:"count"`
}

// PeakWindow tries every event time as a window start and returns the
// window with the most IN events. Ties keep the earliest. Nil when there are
// no events.
func PeakWindow(events []vision.FlowEvent, window time.Duration) *Window {
	if len(events) == 0 {
		return nil
	}
	sorted := byTime(events)
	var best *Window
	for _, e := range sorted {
		start, end := e.Timestamp, e.Timestamp.Add(window)
		count := 0
		for _, o := range sorted {
			if o.Timestamp.Before(start) {
				continue
			}
			if !o.Timestamp.Before(end) {
				break
			}
			if o.Direction == vision.DirectionIn {
				count++
			}
		}
		if best == nil || count > best.Count {
			best = &Window{Start: start, End: end, Count: count}
		}
	}
	return best
}
