package db

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

// MigrateCLI backs the `footfall migrate` subcommand. Output defaults to
// the caller's writer so tests can capture it.
type MigrateCLI struct {
	DB         *DB
	Migrations fs.FS
	Output     io.Writer
}

// NewMigrateCLI uses the embedded migrations.
func NewMigrateCLI(db *DB, output io.Writer) *MigrateCLI {
	return &MigrateCLI{DB: db, Migrations: MigrationsFS(), Output: output}
}

// Run dispatches one migrate action: up, down, status, version <N>, force <N>.
func (c *MigrateCLI) Run(args []string) error {
	if len(args) < 1 {
		c.PrintUsage()
		return fmt.Errorf("missing migrate action")
	}
	switch action := args[0]; action {
	case "up":
		fmt.Fprintln(c.Output, "Running migrations...")
		if err := c.DB.MigrateUp(c.Migrations); err != nil {
			return err
		}
		return c.printVersion()
	case "down":
		fmt.Fprintln(c.Output, "Rolling back one migration...")
		if err := c.DB.MigrateDown(c.Migrations); err != nil {
			return err
		}
		return c.printVersion()
	case "status":
		return c.printStatus()
	case "version":
		v, err := versionArg(args)
		if err != nil {
			return err
		}
		if err := c.DB.MigrateTo(c.Migrations, uint(v)); err != nil {
			return err
		}
		return c.printVersion()
	case "force":
		v, err := versionArg(args)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.Output, "Forcing migration version to %d (recovery only)\n", v)
		if err := c.DB.MigrateForce(c.Migrations, v); err != nil {
			return err
		}
		return c.printVersion()
	case "help":
		c.PrintUsage()
		return nil
	default:
		c.PrintUsage()
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func versionArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("usage: footfall migrate %s <version_number>", args[0])
	}
	v, err := strconv.Atoi(args[1])
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version number: %s", args[1])
	}
	return v, nil
}

func (c *MigrateCLI) printVersion() error {
	version, dirty, err := c.DB.MigrateVersion(c.Migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Output, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func (c *MigrateCLI) printStatus() error {
	st, err := c.DB.GetMigrationStatus(c.Migrations)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.Output, "=== Migration Status ===")
	fmt.Fprintf(c.Output, "Current version: %d\n", st.Current)
	fmt.Fprintf(c.Output, "Latest available: %d\n", st.Latest)
	fmt.Fprintf(c.Output, "Dirty: %v\n", st.Dirty)
	fmt.Fprintf(c.Output, "Tables: %d\n", len(st.TableNames))
	switch {
	case st.Dirty:
		fmt.Fprintln(c.Output, "Database is in a dirty state. Inspect it, then run: footfall migrate force <version>")
	case st.Current < st.Latest:
		fmt.Fprintf(c.Output, "Database is %d version(s) behind. Run: footfall migrate up\n", st.Latest-st.Current)
	default:
		fmt.Fprintln(c.Output, "Database is up to date")
	}
	return nil
}

// PrintUsage prints the migrate subcommand usage.
func (c *MigrateCLI) PrintUsage() {
	fmt.Fprintln(c.Output, "Usage: footfall migrate <command>")
	fmt.Fprintln(c.Output, "")
	fmt.Fprintln(c.Output, "Commands:")
	fmt.Fprintln(c.Output, "  up              Apply all pending migrations")
	fmt.Fprintln(c.Output, "  down            Roll back one migration")
	fmt.Fprintln(c.Output, "  status          Show current and latest version")
	fmt.Fprintln(c.Output, "  version <N>     Migrate to version N")
	fmt.Fprintln(c.Output, "  force <N>       Force the recorded version to N (recovery only)")
	fmt.Fprintln(c.Output, "")
}
