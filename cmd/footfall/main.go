package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/db"
	"github.com/banshee-data/footfall.report/internal/ingest"
	"github.com/banshee-data/footfall.report/internal/jobs"
	"github.com/banshee-data/footfall.report/internal/jobs/pgqueue"
	"github.com/banshee-data/footfall.report/internal/kpi"
	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/processing"
	"github.com/banshee-data/footfall.report/internal/report"
	"github.com/banshee-data/footfall.report/internal/version"
	"github.com/banshee-data/footfall.report/internal/vision/detect"
	"github.com/banshee-data/footfall.report/internal/vision/faces"
	"github.com/banshee-data/footfall.report/internal/vision/video"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("footfall", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env-file", ".env", "dotenv file applied before FOOTFALL_* variables")
	fs.Usage = func() { printUsage(stderr) }
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		printUsage(stderr)
		return 2
	}
	command, args := fs.Arg(0), fs.Args()[1:]

	switch command {
	case "version":
		fmt.Fprintln(stdout, version.String("footfall"))
		return 0
	case "help":
		printUsage(stdout)
		return 0
	}

	handler, ok := commands[command]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 2
	}

	settings, err := config.LoadSettings(*envFile)
	if err != nil {
		fmt.Fprintf(stderr, "settings: %v\n", err)
		return 1
	}
	log, err := monitoring.New(settings.LogMode)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer log.Sync()
	monitoring.Install(log)

	a := &app{settings: settings, log: log, out: stdout}
	defer a.close()
	if err := handler(ctx, a, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		log.Error("command failed", "command", command, "error", err)
		fmt.Fprintf(stderr, "%s: %v\n", command, err)
		return 1
	}
	return 0
}

var commands = map[string]func(context.Context, *app, []string) error{
	"migrate":     cmdMigrate,
	"ingest":      cmdIngest,
	"process":     cmdProcess,
	"kpi-rebuild": cmdKPIRebuild,
	"worker":      cmdWorker,
	"report":      cmdReport,
	"stores":      cmdStores,
	"segments":    cmdSegments,
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `footfall - people counting and store KPIs from recorded video

Usage: footfall [--env-file FILE] <command> [options]

Commands:
  migrate      Manage the database schema (up, down, status, version N, force N)
  ingest       Register new video segments and queue them for processing
  process      Run the pipeline on a segment (--segment-id) or a file (--path)
  kpi-rebuild  Recompute hourly and shift KPIs for a store and day
  worker       Drain the job queue until interrupted
  report       Render a day's KPIs as an HTML chart page
  stores       List stores
  segments     List recent segments
  version      Show version
  help         Show this help message

Settings come from FOOTFALL_* environment variables, e.g.
  FOOTFALL_DATABASE_PATH, FOOTFALL_VIDEO_ROOT, FOOTFALL_CONFIG_DIR,
  FOOTFALL_TIMEZONE, FOOTFALL_POSTGRES_DSN, FOOTFALL_S3_ENDPOINT.`)
}

// app carries the resources commands share. They are opened lazily.
type app struct {
	settings config.Settings
	log      *monitoring.Logger
	out      io.Writer

	db        *db.DB
	detectors detect.Detectors
}

func (a *app) close() {
	if err := a.detectors.Close(); err != nil {
		a.log.Warn("failed to release detectors", "error", err)
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *app) openDB() (*db.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	d, err := db.NewDB(a.settings.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.db = d
	return d, nil
}

func (a *app) location() (*time.Location, error) {
	return a.settings.Location()
}

// queue returns the PostgreSQL queue when a DSN is configured and the
// SQLite queue otherwise.
func (a *app) queue(ctx context.Context) (jobs.Queue, error) {
	if a.settings.PostgresDSN != "" {
		gdb, err := pgqueue.Open(a.settings.PostgresDSN)
		if err != nil {
			return nil, err
		}
		q := pgqueue.New(gdb, a.settings.MaxAttempts)
		if err := q.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate job table: %w", err)
		}
		return q, nil
	}
	d, err := a.openDB()
	if err != nil {
		return nil, err
	}
	return db.NewJobQueue(d, a.settings.MaxAttempts), nil
}

func (a *app) cropStore() (faces.CropStore, error) {
	s := a.settings
	if s.UseObjectStore() {
		return faces.NewObjectStore(s.S3Endpoint, s.S3AccessKey, s.S3SecretKey, s.S3Bucket, s.S3Prefix, s.S3Secure)
	}
	if s.FacesRoot == "" {
		return nil, nil
	}
	return &faces.LocalStore{Root: s.FacesRoot}, nil
}

func (a *app) deps() (processing.Deps, error) {
	dets, err := detect.Load(a.settings.FaceCascade)
	if errors.Is(err, detect.ErrUnavailable) {
		a.log.Warn("built without OpenCV; detection stages will be disabled")
	} else if err != nil {
		return processing.Deps{}, err
	}
	a.detectors = dets
	crops, err := a.cropStore()
	if err != nil {
		return processing.Deps{}, err
	}
	return processing.Deps{
		Frames:   video.NewAuto(a.settings.SequenceFPS),
		Detector: dets.People,
		Faces:    dets.Faces,
		Crops:    crops,
	}, nil
}

func (a *app) processor(ctx context.Context) (*processing.Processor, error) {
	d, err := a.openDB()
	if err != nil {
		return nil, err
	}
	q, err := a.queue(ctx)
	if err != nil {
		return nil, err
	}
	deps, err := a.deps()
	if err != nil {
		return nil, err
	}
	loc, err := a.location()
	if err != nil {
		return nil, err
	}
	return processing.NewProcessor(d, q, deps, a.settings, loc, a.log), nil
}

func (a *app) rebuilder() (*processing.Rebuilder, error) {
	d, err := a.openDB()
	if err != nil {
		return nil, err
	}
	loc, err := a.location()
	if err != nil {
		return nil, err
	}
	return &processing.Rebuilder{Engine: kpi.NewEngine(d, a.log), ConfigDir: a.settings.ConfigDir, Location: loc}, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdMigrate(_ context.Context, a *app, args []string) error {
	d, err := db.OpenDB(a.settings.DatabasePath)
	if err != nil {
		return err
	}
	a.db = d
	return db.NewMigrateCLI(d, a.out).Run(args)
}

func cmdIngest(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	root := fs.String("root", a.settings.VideoRoot, "video root to scan")
	dryRun := fs.Bool("dry-run", false, "register segments without queueing them")
	limit := fs.Int("limit", 0, "stop after this many files (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	d, err := a.openDB()
	if err != nil {
		return err
	}
	q, err := a.queue(ctx)
	if err != nil {
		return err
	}
	stores, err := config.LoadStores(a.settings.ConfigDir)
	if err != nil {
		return err
	}
	loc, err := a.location()
	if err != nil {
		return err
	}
	rep, err := ingest.NewIngester(d, q, stores, loc, a.log).Run(ctx, ingest.Options{Root: *root, DryRun: *dryRun, Limit: *limit})
	if err != nil {
		return err
	}
	return a.printJSON(rep)
}

func cmdProcess(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	segmentID := fs.Int64("segment-id", 0, "process a registered segment and persist its results")
	path := fs.String("path", "", "process a file without persisting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*segmentID == 0) == (*path == "") {
		return errors.New("provide exactly one of --segment-id or --path")
	}
	proc, err := a.processor(ctx)
	if err != nil {
		return err
	}
	var out *processing.Output
	if *path != "" {
		out, err = proc.ProcessPath(*path)
	} else {
		out, err = proc.ProcessSegment(ctx, *segmentID)
	}
	if err != nil {
		return err
	}
	return a.printJSON(out)
}

func cmdKPIRebuild(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("kpi-rebuild", flag.ContinueOnError)
	storeCode := fs.String("store", "", "store code (required)")
	cameraCode := fs.String("camera", "", "camera code; empty rebuilds the all-cameras rollup")
	date := fs.String("date", "", "local date YYYY-MM-DD (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *storeCode == "" || *date == "" {
		return errors.New("--store and --date are required")
	}
	d, err := a.openDB()
	if err != nil {
		return err
	}
	payload, err := resolveKey(ctx, d, *storeCode, *cameraCode, *date)
	if err != nil {
		return err
	}
	r, err := a.rebuilder()
	if err != nil {
		return err
	}
	sum, err := r.Rebuild(ctx, payload)
	if err != nil {
		return err
	}
	return a.printJSON(sum)
}

func resolveKey(ctx context.Context, d *db.DB, storeCode, cameraCode, date string) (processing.RebuildPayload, error) {
	st, err := d.GetStoreByCode(ctx, storeCode)
	if err != nil {
		return processing.RebuildPayload{}, err
	}
	p := processing.RebuildPayload{StoreID: st.ID, Date: date}
	if cameraCode != "" {
		cam, err := d.GetCameraByCode(ctx, st.ID, cameraCode)
		if err != nil {
			return processing.RebuildPayload{}, err
		}
		p.CameraID = &cam.ID
	}
	return p, nil
}

func cmdWorker(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	workers := fs.Int("workers", a.settings.Workers, "number of concurrent workers")
	once := fs.Bool("once", false, "drain the queue once and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	proc, err := a.processor(ctx)
	if err != nil {
		return err
	}
	r, err := a.rebuilder()
	if err != nil {
		return err
	}
	reg := jobs.NewRegistry()
	if err := processing.Register(reg, proc, r); err != nil {
		return err
	}
	s := a.settings
	pool, err := jobs.NewPool(*workers, s.WorkerID, func(id string) *jobs.Worker {
		return jobs.NewWorker(id, proc.Queue, reg, s.PollInterval, s.LockTimeout, a.log)
	})
	if err != nil {
		return err
	}
	if *once {
		return pool.Drain(ctx)
	}
	return pool.Run(ctx)
}

func cmdReport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	storeCode := fs.String("store", "", "store code (required)")
	cameraCode := fs.String("camera", "", "camera code; empty shows the all-cameras rollup")
	date := fs.String("date", "", "local date YYYY-MM-DD (required)")
	out := fs.String("out", "report.html", "output HTML file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *storeCode == "" || *date == "" {
		return errors.New("--store and --date are required")
	}
	d, err := a.openDB()
	if err != nil {
		return err
	}
	key, err := resolveKey(ctx, d, *storeCode, *cameraCode, *date)
	if err != nil {
		return err
	}
	title := "store " + *storeCode
	if *cameraCode != "" {
		title += " camera " + *cameraCode
	}
	day, err := report.Load(ctx, d, title, key.StoreID, key.CameraID, key.Date)
	if err != nil {
		return err
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := report.Render(f, day); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "wrote %s\n", *out)
	return nil
}

func cmdStores(ctx context.Context, a *app, _ []string) error {
	d, err := a.openDB()
	if err != nil {
		return err
	}
	stores, err := d.ListStores(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(stores)
}

func cmdSegments(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("segments", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum segments to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	d, err := a.openDB()
	if err != nil {
		return err
	}
	segs, err := d.ListSegments(ctx, *limit)
	if err != nil {
		return err
	}
	return a.printJSON(segs)
}
