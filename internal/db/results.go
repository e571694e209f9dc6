package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/footfall.report/internal/vision"
)

// SegmentResults is everything one pipeline run produced for a segment.
type SegmentResults struct {
	SegmentID int64
	StoreID   int64
	CameraID  int64
	Events    []vision.FlowEvent
	Presence  []vision.PresenceSample
	Faces     []vision.FaceCapture
}

// ReplaceSegmentResults deletes the segment's prior events, presence samples
// and face captures and inserts r in their place. It is all-or-nothing.
func (db *DB) ReplaceSegmentResults(ctx context.Context, r SegmentResults) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	for _, table := range []string{"flow_events", "presence_samples", "face_captures"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE segment_id = ?`, r.SegmentID); err != nil {
			return fmt.Errorf("failed to delete %s for segment %d: %w", table, r.SegmentID, err)
		}
	}

	evStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flow_events (store_id, camera_id, segment_id, ts_unix, direction, track_id, confidence, is_staff)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer evStmt.Close()
	for _, e := range r.Events {
		if !e.Direction.Valid() {
			return fmt.Errorf("event for track %s has invalid direction %q", e.TrackID, e.Direction)
		}
		if _, err := evStmt.ExecContext(ctx, r.StoreID, r.CameraID, r.SegmentID,
			unixSeconds(e.Timestamp), string(e.Direction), e.TrackID, e.Confidence, e.IsStaff); err != nil {
			return fmt.Errorf("failed to insert flow event: %w", err)
		}
	}

	prStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO presence_samples (store_id, camera_id, segment_id, ts_unix, count)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare presence insert: %w", err)
	}
	defer prStmt.Close()
	for _, p := range r.Presence {
		if _, err := prStmt.ExecContext(ctx, r.StoreID, r.CameraID, r.SegmentID, unixSeconds(p.Timestamp), p.Count); err != nil {
			return fmt.Errorf("failed to insert presence sample: %w", err)
		}
	}

	fcStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO face_captures (store_id, camera_id, segment_id, ts_unix, track_id, source, score, x1, y1, x2, y2, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare face insert: %w", err)
	}
	defer fcStmt.Close()
	for _, f := range r.Faces {
		if _, err := fcStmt.ExecContext(ctx, r.StoreID, r.CameraID, r.SegmentID, unixSeconds(f.Timestamp),
			f.TrackID, string(f.Source), f.Score, f.Box.X1, f.Box.Y1, f.Box.X2, f.Box.Y2, f.Path); err != nil {
			return fmt.Errorf("failed to insert face capture: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit segment results: %w", err)
	}
	return nil
}

// scopeFilter restricts a query to a store and, when cameraID is set, a camera.
func scopeFilter(storeID int64, cameraID *int64) (string, []any) {
	if cameraID == nil {
		return "store_id = ?", []any{storeID}
	}
	return "store_id = ? AND camera_id = ?", []any{storeID, *cameraID}
}

// EventsInRange returns flow events in [start, end) ordered by time. A nil
// cameraID covers every camera of the store.
func (db *DB) EventsInRange(ctx context.Context, storeID int64, cameraID *int64, start, end time.Time) ([]vision.FlowEvent, error) {
	where, args := scopeFilter(storeID, cameraID)
	args = append(args, unixSeconds(start), unixSeconds(end))
	rows, err := db.QueryContext(ctx, `
		SELECT ts_unix, direction, track_id, COALESCE(confidence, 0), is_staff
		FROM flow_events
		WHERE `+where+` AND ts_unix >= ? AND ts_unix < ?
		ORDER BY ts_unix, event_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow events: %w", err)
	}
	defer rows.Close()

	var out []vision.FlowEvent
	for rows.Next() {
		var (
			e   vision.FlowEvent
			ts  float64
			dir string
		)
		if err := rows.Scan(&ts, &dir, &e.TrackID, &e.Confidence, &e.IsStaff); err != nil {
			return nil, err
		}
		e.Timestamp = fromUnix(ts)
		e.Direction = vision.Direction(dir)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PresenceInRange returns presence samples in [start, end) ordered by time.
func (db *DB) PresenceInRange(ctx context.Context, storeID int64, cameraID *int64, start, end time.Time) ([]vision.PresenceSample, error) {
	where, args := scopeFilter(storeID, cameraID)
	args = append(args, unixSeconds(start), unixSeconds(end))
	rows, err := db.QueryContext(ctx, `
		SELECT ts_unix, count FROM presence_samples
		WHERE `+where+` AND ts_unix >= ? AND ts_unix < ?
		ORDER BY ts_unix, sample_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence samples: %w", err)
	}
	defer rows.Close()

	var out []vision.PresenceSample
	for rows.Next() {
		var (
			p  vision.PresenceSample
			ts float64
		)
		if err := rows.Scan(&ts, &p.Count); err != nil {
			return nil, err
		}
		p.Timestamp = fromUnix(ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

// FaceCapturesForSegment returns the stored crops of one segment.
func (db *DB) FaceCapturesForSegment(ctx context.Context, segmentID int64) ([]vision.FaceCapture, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT ts_unix, track_id, source, score, x1, y1, x2, y2, path
		FROM face_captures WHERE segment_id = ? ORDER BY ts_unix, capture_id`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query face captures: %w", err)
	}
	defer rows.Close()

	var out []vision.FaceCapture
	for rows.Next() {
		var (
			f      vision.FaceCapture
			ts     float64
			source string
		)
		if err := rows.Scan(&ts, &f.TrackID, &source, &f.Score, &f.Box.X1, &f.Box.Y1, &f.Box.X2, &f.Box.Y2, &f.Path); err != nil {
			return nil, err
		}
		f.Timestamp = fromUnix(ts)
		f.Source = vision.CaptureSource(source)
		out = append(out, f)
	}
	return out, rows.Err()
}
