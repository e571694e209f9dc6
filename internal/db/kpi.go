package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Counts are the four tallies every KPI bucket carries.
type Counts struct {
	In       int `json:"in"`
	Out      int `json:"out"`
	StaffIn  int `json:"staff_in"`
	StaffOut int `json:"staff_out"`
}

// HourlyBucket is one local hour of one (store, camera, date) key. A nil
// CameraID is the all-cameras rollup.
type HourlyBucket struct {
	StoreID     int64    `json:"store_id"`
	CameraID    *int64   `json:"camera_id"`
	Date        string   `json:"date"`
	Hour        int      `json:"hour"`
	Counts      `json:"counts"`
	AvgPresence *float64 `json:"avg_presence,omitempty"`
	MaxPresence *float64 `json:"max_presence,omitempty"`
}

// ShiftBucket is one shift of one (store, camera, date) key.
type ShiftBucket struct {
	StoreID  int64  `json:"store_id"`
	CameraID *int64 `json:"camera_id"`
	Date     string `json:"date"`
	ShiftID  string `json:"shift_id"`
	Counts   `json:"counts"`
}

// keyFilter matches a KPI key. camera_id uses IS so a nil camera matches
// only the all-cameras rows.
const keyFilter = `store_id = ? AND camera_id IS ? AND date = ?`

func nullCamera(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func cameraPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// ReplaceHourly swaps the key's hourly rows for rows in one transaction.
// Readers see either the old set or the new one.
func (db *DB) ReplaceHourly(ctx context.Context, storeID int64, cameraID *int64, date string, rows []HourlyBucket) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	cam := nullCamera(cameraID)
	if _, err := tx.ExecContext(ctx, `DELETE FROM kpi_hourly WHERE `+keyFilter, storeID, cam, date); err != nil {
		return fmt.Errorf("failed to delete hourly buckets: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kpi_hourly (store_id, camera_id, date, hour, in_count, out_count, staff_in, staff_out, avg_presence, max_presence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare hourly insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.Hour < 0 || r.Hour > 23 {
			return fmt.Errorf("hour %d out of range", r.Hour)
		}
		if _, err := stmt.ExecContext(ctx, storeID, cam, date, r.Hour, r.In, r.Out, r.StaffIn, r.StaffOut,
			nullFloat(r.AvgPresence), nullFloat(r.MaxPresence)); err != nil {
			return fmt.Errorf("failed to insert hourly bucket: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit hourly buckets: %w", err)
	}
	return nil
}

// ReplaceShift swaps the key's shift rows for rows in one transaction.
func (db *DB) ReplaceShift(ctx context.Context, storeID int64, cameraID *int64, date string, rows []ShiftBucket) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	cam := nullCamera(cameraID)
	if _, err := tx.ExecContext(ctx, `DELETE FROM kpi_shift WHERE `+keyFilter, storeID, cam, date); err != nil {
		return fmt.Errorf("failed to delete shift buckets: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kpi_shift (store_id, camera_id, date, shift_id, in_count, out_count, staff_in, staff_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare shift insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, storeID, cam, date, r.ShiftID, r.In, r.Out, r.StaffIn, r.StaffOut); err != nil {
			return fmt.Errorf("failed to insert shift bucket: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit shift buckets: %w", err)
	}
	return nil
}

// ListHourly returns the key's hourly buckets ordered by hour.
func (db *DB) ListHourly(ctx context.Context, storeID int64, cameraID *int64, date string) ([]HourlyBucket, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT store_id, camera_id, date, hour, in_count, out_count, staff_in, staff_out, avg_presence, max_presence
		FROM kpi_hourly WHERE `+keyFilter+` ORDER BY hour`, storeID, nullCamera(cameraID), date)
	if err != nil {
		return nil, fmt.Errorf("failed to list hourly buckets: %w", err)
	}
	defer rows.Close()

	var out []HourlyBucket
	for rows.Next() {
		var (
			b        HourlyBucket
			cam      sql.NullInt64
			avg, mx sql.NullFloat64
		)
		if err := rows.Scan(&b.StoreID, &cam, &b.Date, &b.Hour, &b.In, &b.Out, &b.StaffIn, &b.StaffOut, &avg, &mx); err != nil {
			return nil, err
		}
		b.CameraID, b.AvgPresence, b.MaxPresence = cameraPtr(cam), floatPtr(avg), floatPtr(mx)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListShift returns the key's shift buckets in insertion order.
func (db *DB) ListShift(ctx context.Context, storeID int64, cameraID *int64, date string) ([]ShiftBucket, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT store_id, camera_id, date, shift_id, in_count, out_count, staff_in, staff_out
		FROM kpi_shift WHERE `+keyFilter+` ORDER BY rowid`, storeID, nullCamera(cameraID), date)
	if err != nil {
		return nil, fmt.Errorf("failed to list shift buckets: %w", err)
	}
	defer rows.Close()

	var out []ShiftBucket
	for rows.Next() {
		var (
			b   ShiftBucket
			cam sql.NullInt64
		)
		if err := rows.Scan(&b.StoreID, &cam, &b.Date, &b.ShiftID, &b.In, &b.Out, &b.StaffIn, &b.StaffOut); err != nil {
			return nil, err
		}
		b.CameraID = cameraPtr(cam)
		out = append(out, b)
	}
	return out, rows.Err()
}
