package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/footfall.report/internal/timeutil"
)

// Settings are the process-wide options. They are built once at startup
// and passed to the components that need them.
type Settings struct {
	Env          string
	DatabasePath string
	// PostgresDSN, when set, moves the job queue to PostgreSQL.
	PostgresDSN string
	VideoRoot   string
	ConfigDir   string
	FacesRoot   string
	Timezone    string
	LogMode     string

	PollInterval time.Duration
	LockTimeout  time.Duration
	WorkerID     string
	Workers      int
	MaxAttempts  int

	// SequenceFPS is the rate assumed for directories of still frames.
	SequenceFPS float64
	// FaceCascade is an OpenCV Haar cascade file for face capture.
	FaceCascade string

	S3Endpoint  string
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
	S3Secure    bool
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Env:          "dev",
		DatabasePath: "./var/footfall.db",
		VideoRoot:    "./var/footfall/videos",
		ConfigDir:    "./config",
		FacesRoot:    "./var/footfall/faces",
		Timezone:     timeutil.DefaultTimezone,
		LogMode:      "dev",
		PollInterval: 5 * time.Second,
		LockTimeout:  300 * time.Second,
		Workers:      1,
		MaxAttempts:  3,
		SequenceFPS:  10,
	}
}

// EnvPrefix namespaces every settings variable.
const EnvPrefix = "FOOTFALL_"

// LoadSettings applies .env files (missing ones are skipped) and then
// FOOTFALL_* environment variables over DefaultSettings. Variables already
// present in the environment win over .env values.
func LoadSettings(envFiles ...string) (Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return SettingsFromEnv(os.LookupEnv)
}

// SettingsFromEnv builds settings from a lookup function.
func SettingsFromEnv(lookup func(string) (string, bool)) (Settings, error) {
	s := DefaultSettings()
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	var errs []error
	dur := func(name string, dst *time.Duration) {
		v, ok := get(name)
		if !ok {
			return
		}
		// Bare numbers are seconds.
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(secs * float64(time.Second))
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = d
	}
	integer := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("ENV", &s.Env)
	str("DATABASE_PATH", &s.DatabasePath)
	str("POSTGRES_DSN", &s.PostgresDSN)
	str("VIDEO_ROOT", &s.VideoRoot)
	str("CONFIG_DIR", &s.ConfigDir)
	str("FACES_ROOT", &s.FacesRoot)
	str("TIMEZONE", &s.Timezone)
	str("LOG_MODE", &s.LogMode)
	str("WORKER_ID", &s.WorkerID)
	str("FACE_CASCADE", &s.FaceCascade)
	str("S3_ENDPOINT", &s.S3Endpoint)
	str("S3_BUCKET", &s.S3Bucket)
	str("S3_PREFIX", &s.S3Prefix)
	str("S3_ACCESS_KEY", &s.S3AccessKey)
	str("S3_SECRET_KEY", &s.S3SecretKey)
	dur("JOB_POLL_INTERVAL", &s.PollInterval)
	dur("JOB_LOCK_TIMEOUT", &s.LockTimeout)
	integer("WORKERS", &s.Workers)
	integer("MAX_ATTEMPTS", &s.MaxAttempts)
	if v, ok := get("S3_SECURE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sS3_SECURE: %w", EnvPrefix, err))
		}
		s.S3Secure = b
	}
	if v, ok := get("SEQUENCE_FPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSEQUENCE_FPS: %w", EnvPrefix, err))
		}
		s.SequenceFPS = f
	}
	if err := errors.Join(errs...); err != nil {
		return Settings{}, err
	}

	if s.WorkerID == "" {
		s.WorkerID = DefaultWorkerID()
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// DefaultWorkerID is hostname-pid.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Validate checks cross-field constraints.
func (s Settings) Validate() error {
	if !timeutil.IsTimezoneValid(s.Timezone) {
		return fmt.Errorf("invalid timezone %q", s.Timezone)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("job poll interval must be positive, got %v", s.PollInterval)
	}
	if s.LockTimeout < 0 {
		return fmt.Errorf("job lock timeout must be non-negative, got %v", s.LockTimeout)
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", s.MaxAttempts)
	}
	if s.DatabasePath == "" && s.PostgresDSN == "" {
		return errors.New("no database configured")
	}
	return nil
}

// Location resolves Timezone.
func (s Settings) Location() (*time.Location, error) {
	return timeutil.LoadLocation(s.Timezone)
}

// UseObjectStore reports whether face crops go to S3 instead of FacesRoot.
func (s Settings) UseObjectStore() bool {
	return s.S3Endpoint != "" && s.S3Bucket != ""
}
