package db

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func openEmptyDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUpDownCycle(t *testing.T) {
	db := openEmptyDB(t)
	migrations := MigrationsFS()

	v, dirty, err := db.MigrateVersion(migrations)
	if err != nil || v != 0 || dirty {
		t.Fatalf("fresh version = %d, %v, %v", v, dirty, err)
	}
	latest, err := LatestMigrationVersion(migrations)
	if err != nil || latest != 4 {
		t.Fatalf("LatestMigrationVersion = %d, %v", latest, err)
	}

	if err := db.MigrateUp(migrations); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	// A second run is a no-op.
	if err := db.MigrateUp(migrations); err != nil {
		t.Fatalf("MigrateUp again: %v", err)
	}
	st, err := db.GetMigrationStatus(migrations)
	if err != nil {
		t.Fatalf("GetMigrationStatus: %v", err)
	}
	if !st.UpToDate() {
		t.Errorf("status %+v not up to date", st)
	}
	want := []string{"cameras", "face_captures", "flow_events", "jobs", "kpi_hourly", "kpi_shift", "presence_samples", "stores", "video_segments"}
	if strings.Join(st.TableNames, ",") != strings.Join(want, ",") {
		t.Errorf("tables = %v, want %v", st.TableNames, want)
	}

	if err := db.MigrateDown(migrations); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	if v, _, _ := db.MigrateVersion(migrations); v != 3 {
		t.Errorf("version after down = %d, want 3", v)
	}
	if err := db.MigrateTo(migrations, 1); err != nil {
		t.Fatalf("MigrateTo(1): %v", err)
	}
	st, _ = db.GetMigrationStatus(migrations)
	if st.Current != 1 || st.UpToDate() {
		t.Errorf("status after MigrateTo(1) = %+v", st)
	}
}

func TestMigrateErrors(t *testing.T) {
	db := openEmptyDB(t)
	if err := db.MigrateUp(nil); err == nil {
		t.Error("expected error for nil migrations")
	}
	if _, err := LatestMigrationVersion(fstest.MapFS{}); err == nil {
		t.Error("expected error for empty migrations")
	}
	broken := fstest.MapFS{
		"000001_broken.up.sql":   {Data: []byte("CREATE TABLE oops (;")},
		"000001_broken.down.sql": {Data: []byte("SELECT 1;")},
	}
	if err := db.MigrateUp(broken); err == nil {
		t.Fatal("expected error for invalid SQL")
	}
	if _, dirty, _ := db.MigrateVersion(broken); !dirty {
		t.Error("failed migration should leave the schema dirty")
	}
	if err := db.MigrateForce(broken, 0); err != nil {
		t.Fatalf("MigrateForce: %v", err)
	}
	if _, dirty, _ := db.MigrateVersion(broken); dirty {
		t.Error("force should clear the dirty flag")
	}
}

func TestMigrateCLI(t *testing.T) {
	db := openEmptyDB(t)
	var out bytes.Buffer
	cli := NewMigrateCLI(db, &out)

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"status"}, "4 version(s) behind"},
		{[]string{"up"}, "Current version: 4 (dirty: false)"},
		{[]string{"status"}, "Database is up to date"},
		{[]string{"down"}, "Current version: 3"},
		{[]string{"version", "2"}, "Current version: 2"},
		{[]string{"force", "4"}, "Forcing migration version to 4"},
		{[]string{"help"}, "Usage: footfall migrate"},
	}
	for _, s := range steps {
		out.Reset()
		if err := cli.Run(s.args); err != nil {
			t.Fatalf("Run(%v): %v", s.args, err)
		}
		if !strings.Contains(out.String(), s.want) {
			t.Errorf("Run(%v) output %q missing %q", s.args, out.String(), s.want)
		}
	}

	for _, args := range [][]string{nil, {"sideways"}, {"version"}, {"force", "x"}} {
		if err := cli.Run(args); err == nil {
			t.Errorf("Run(%v) expected error", args)
		}
	}
}
