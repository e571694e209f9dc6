package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Store is a retail location.
type Store struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
	City string `json:"city,omitempty"`
}

// Camera belongs to a store and is unique by code within it.
type Camera struct {
	ID      int64  `json:"id"`
	StoreID int64  `json:"store_id"`
	Code    string `json:"code"`
	Name    string `json:"name,omitempty"`
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

// EnsureStore returns the store with code, creating it with name and city
// when absent. An existing store is returned unchanged.
func (db *DB) EnsureStore(ctx context.Context, code, name, city string) (*Store, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("store code is required")
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO stores (code, name, city) VALUES (?, ?, ?) ON CONFLICT (code) DO NOTHING`,
		code, nullString(name), nullString(city)); err != nil {
		return nil, fmt.Errorf("failed to insert store %s: %w", code, err)
	}
	return db.storeBy(ctx, "code = ?", code)
}

// GetStore looks a store up by id.
func (db *DB) GetStore(ctx context.Context, id int64) (*Store, error) {
	return db.storeBy(ctx, "store_id = ?", id)
}

// GetStoreByCode looks a store up by code.
func (db *DB) GetStoreByCode(ctx context.Context, code string) (*Store, error) {
	return db.storeBy(ctx, "code = ?", code)
}

func (db *DB) storeBy(ctx context.Context, where string, arg any) (*Store, error) {
	var (
		s          Store
		name, city sql.NullString
	)
	err := db.QueryRowContext(ctx, `SELECT store_id, code, name, city FROM stores WHERE `+where, arg).
		Scan(&s.ID, &s.Code, &name, &city)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query store: %w", err)
	}
	s.Name, s.City = name.String, city.String
	return &s, nil
}

// ListStores returns every store ordered by id.
func (db *DB) ListStores(ctx context.Context) ([]Store, error) {
	rows, err := db.QueryContext(ctx, `SELECT store_id, code, name, city FROM stores ORDER BY store_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer rows.Close()

	var out []Store
	for rows.Next() {
		var (
			s          Store
			name, city sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Code, &name, &city); err != nil {
			return nil, err
		}
		s.Name, s.City = name.String, city.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// EnsureCamera returns the camera with code under storeID, creating it if needed.
func (db *DB) EnsureCamera(ctx context.Context, storeID int64, code string) (*Camera, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("camera code is required")
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO cameras (store_id, code) VALUES (?, ?) ON CONFLICT (store_id, code) DO NOTHING`,
		storeID, code); err != nil {
		return nil, fmt.Errorf("failed to insert camera %s: %w", code, err)
	}
	var (
		c    Camera
		name sql.NullString
	)
	err := db.QueryRowContext(ctx,
		`SELECT camera_id, store_id, code, name FROM cameras WHERE store_id = ? AND code = ?`, storeID, code).
		Scan(&c.ID, &c.StoreID, &c.Code, &name)
	if err != nil {
		return nil, fmt.Errorf("failed to query camera %s: %w", code, err)
	}
	c.Name = name.String
	return &c, nil
}

// GetCamera looks a camera up by id.
func (db *DB) GetCamera(ctx context.Context, id int64) (*Camera, error) {
	var (
		c    Camera
		name sql.NullString
	)
	err := db.QueryRowContext(ctx, `SELECT camera_id, store_id, code, name FROM cameras WHERE camera_id = ?`, id).
		Scan(&c.ID, &c.StoreID, &c.Code, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("camera %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query camera: %w", err)
	}
	c.Name = name.String
	return &c, nil
}

// GetCameraByCode looks a camera up by its code within a store.
func (db *DB) GetCameraByCode(ctx context.Context, storeID int64, code string) (*Camera, error) {
	var (
		c    Camera
		name sql.NullString
	)
	err := db.QueryRowContext(ctx,
		`SELECT camera_id, store_id, code, name FROM cameras WHERE store_id = ? AND code = ?`, storeID, code).
		Scan(&c.ID, &c.StoreID, &c.Code, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("camera %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query camera: %w", err)
	}
	c.Name = name.String
	return &c, nil
}
