// Package ingest discovers recorded segments under the video root,
// registers them and queues them for processing.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/footfall.report/internal/timeutil"
)

// ErrBadPath is returned for files outside the partitioned layout.
var ErrBadPath = errors.New("invalid video path")

// DefaultExtensions are the recognised container types.
var DefaultExtensions = []string{".mp4", ".mkv", ".avi"}

var pathRE = regexp.MustCompile(
	`store=([^/\\]+)[/\\]` +
		`camera=([^/\\]+)[/\\]` +
		`date=(\d{4}-\d{2}-\d{2})[/\\]` +
		`(\d{2}-\d{2}-\d{2})__(\d{2}-\d{2}-\d{2})`)

// PathInfo is what a segment's location says about it:
// store=<s>/camera=<c>/date=YYYY-MM-DD/HH-MM-SS__HH-MM-SS.<ext>.
type PathInfo struct {
	StoreCode  string
	CameraCode string
	Date       string
	Start      timeutil.ClockTime
	End        timeutil.ClockTime
	// RelPath is relative to the video root, slash separated.
	RelPath string
}

// ParsePath extracts PathInfo from path. root, when non-empty, is stripped
// to form RelPath; a path outside root keeps its full form.
func ParsePath(path, root string) (*PathInfo, error) {
	m := pathRE.FindStringSubmatch(path)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrBadPath, path)
	}
	if _, err := time.Parse(timeutil.DateLayout, m[3]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPath, path, err)
	}
	start, err := timeutil.ParseClock(strings.ReplaceAll(m[4], "-", ":"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPath, path, err)
	}
	end, err := timeutil.ParseClock(strings.ReplaceAll(m[5], "-", ":"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPath, path, err)
	}

	rel := path
	if root != "" {
		if r, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	return &PathInfo{
		StoreCode:  m[1],
		CameraCode: m[2],
		Date:       m[3],
		Start:      start,
		End:        end,
		RelPath:    filepath.ToSlash(rel),
	}, nil
}

// Range returns the segment's start and end in loc. An end clock earlier
// than the start is taken to be on the following day.
func (p *PathInfo) Range(loc *time.Location) (time.Time, time.Time, error) {
	day, err := timeutil.ParseDate(p.Date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := atClock(day, p.Start)
	end := atClock(day, p.End)
	if end.Before(start) {
		end = atClock(day.AddDate(0, 0, 1), p.End)
	}
	return start, end, nil
}

func atClock(day time.Time, c timeutil.ClockTime) time.Time {
	s := c.Seconds()
	return time.Date(day.Year(), day.Month(), day.Day(), s/3600, s%3600/60, s%60, 0, day.Location())
}

// Fingerprint is sha256 of "path|size|mtime" with mtime in whole seconds.
func Fingerprint(path string, info fs.FileInfo) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().Unix())))
	return hex.EncodeToString(sum[:])
}

// Found is one recognised file.
type Found struct {
	Path string
	Info *PathInfo
	File fs.FileInfo
}

// Scan walks root for files with one of exts (case-insensitive) that match
// the partitioned layout. Files that do not parse are skipped. Results are
// in lexical path order.
func Scan(root string, exts []string) ([]Found, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		want[strings.ToLower(e)] = true
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("video root: %w", err)
	}

	var out []Found
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !want[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := ParsePath(path, root)
		if err != nil {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Found{Path: path, Info: info, File: fi})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
