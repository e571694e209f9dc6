package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// Segment statuses. A segment starts as new and is marked after processing.
const (
	SegmentNew       = "new"
	SegmentProcessed = "processed"
	SegmentDegraded  = "degraded"
)

// Segment is one recorded video file. Path is relative to the video root.
type Segment struct {
	ID              int64     `json:"id"`
	StoreID         int64     `json:"store_id"`
	CameraID        int64     `json:"camera_id"`
	StoreCode       string    `json:"store_code"`
	CameraCode      string    `json:"camera_code"`
	Path            string    `json:"path"`
	Start           time.Time `json:"start_time"`
	End             time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	Fingerprint     string    `json:"fingerprint"`
	FileSize        int64     `json:"file_size"`
	Status          string    `json:"status"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// fromUnix converts stored seconds back to UTC, rounded to the microsecond.
func fromUnix(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3).UTC()
}

// UpsertSegment inserts seg unless a segment with the same path exists. It
// returns the stored segment and whether it was created. Existing rows are
// left untouched.
func (db *DB) UpsertSegment(ctx context.Context, seg *Segment) (*Segment, bool, error) {
	if seg.Path == "" {
		return nil, false, fmt.Errorf("segment path is required")
	}
	status := seg.Status
	if status == "" {
		status = SegmentNew
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO video_segments
			(store_id, camera_id, path, start_unix, end_unix, duration_seconds, fingerprint, file_size, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO NOTHING`,
		seg.StoreID, seg.CameraID, seg.Path,
		unixSeconds(seg.Start), unixSeconds(seg.End), seg.End.Sub(seg.Start).Seconds(),
		seg.Fingerprint, seg.FileSize, status)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert segment %s: %w", seg.Path, err)
	}
	n, _ := res.RowsAffected()
	stored, err := db.segmentBy(ctx, "s.path = ?", seg.Path)
	if err != nil {
		return nil, false, err
	}
	return stored, n > 0, nil
}

const segmentSelect = `
	SELECT s.segment_id, s.store_id, s.camera_id, st.code, c.code, s.path,
	       s.start_unix, s.end_unix, s.duration_seconds, s.fingerprint, s.file_size, s.status
	FROM video_segments s
	JOIN stores st ON st.store_id = s.store_id
	JOIN cameras c ON c.camera_id = s.camera_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(r rowScanner) (*Segment, error) {
	var (
		s          Segment
		start, end float64
	)
	if err := r.Scan(&s.ID, &s.StoreID, &s.CameraID, &s.StoreCode, &s.CameraCode, &s.Path,
		&start, &end, &s.DurationSeconds, &s.Fingerprint, &s.FileSize, &s.Status); err != nil {
		return nil, err
	}
	s.Start, s.End = fromUnix(start), fromUnix(end)
	return &s, nil
}

func (db *DB) segmentBy(ctx context.Context, where string, arg any) (*Segment, error) {
	s, err := scanSegment(db.QueryRowContext(ctx, segmentSelect+" WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("segment %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query segment: %w", err)
	}
	return s, nil
}

// GetSegment returns the segment with its store and camera codes.
func (db *DB) GetSegment(ctx context.Context, id int64) (*Segment, error) {
	return db.segmentBy(ctx, "s.segment_id = ?", id)
}

// ListSegments returns the most recent segments first. limit <= 0 means 100.
func (db *DB) ListSegments(ctx context.Context, limit int) ([]Segment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, segmentSelect+" ORDER BY s.segment_id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()
	var out []Segment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// MarkSegmentStatus records the processing outcome of a segment.
func (db *DB) MarkSegmentStatus(ctx context.Context, id int64, status string) error {
	res, err := db.ExecContext(ctx, `UPDATE video_segments SET status = ? WHERE segment_id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update segment %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("segment %d: %w", id, ErrNotFound)
	}
	return nil
}
