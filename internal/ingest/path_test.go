package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/timeutil"
)

func TestParsePath(t *testing.T) {
	root := "/var/footfall/videos"
	path := filepath.Join(root, "store=001/camera=entrance/date=2025-12-31/14-00-00__14-10-00.mp4")

	info, err := ParsePath(path, root)
	require.NoError(t, err)
	assert.Equal(t, "001", info.StoreCode)
	assert.Equal(t, "entrance", info.CameraCode)
	assert.Equal(t, "2025-12-31", info.Date)
	assert.Equal(t, timeutil.ClockTime{Hour: 14}, info.Start)
	assert.Equal(t, timeutil.ClockTime{Hour: 14, Minute: 10}, info.End)
	assert.Equal(t, "store=001/camera=entrance/date=2025-12-31/14-00-00__14-10-00.mp4", info.RelPath)

	outside, err := ParsePath("/elsewhere/store=2/camera=c/date=2025-01-01/00-00-00__00-05-00.avi", root)
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/store=2/camera=c/date=2025-01-01/00-00-00__00-05-00.avi", outside.RelPath)
}

func TestParsePathErrors(t *testing.T) {
	for _, p := range []string{
		"/videos/camera=entrance/date=2025-12-31/14-00-00__14-10-00.mp4",
		"/videos/store=001/camera=entrance/date=2025-13-31/14-00-00__14-10-00.mp4",
		"/videos/store=001/camera=entrance/date=2025-12-31/25-00-00__14-10-00.mp4",
		"/videos/store=001/camera=entrance/date=2025-12-31/clip.mp4",
	} {
		_, err := ParsePath(p, "/videos")
		assert.ErrorIs(t, err, ErrBadPath, p)
	}
}

func TestPathInfoRange(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	info, err := ParsePath("store=1/camera=c/date=2025-01-15/09-00-00__09-10-00.mp4", "")
	require.NoError(t, err)
	start, end, err := info.Range(loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC), start.UTC())
	assert.Equal(t, 10*time.Minute, end.Sub(start))

	overnight, err := ParsePath("store=1/camera=c/date=2025-01-15/23-55-00__00-05-00.mp4", "")
	require.NoError(t, err)
	start, end, err = overnight.Range(loc)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, end.Sub(start))
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.mp4")
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
	fi, err := os.Stat(p)
	require.NoError(t, err)

	fp := Fingerprint(p, fi)
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, Fingerprint(p, fi))

	require.NoError(t, os.WriteFile(p, []byte("more data"), 0o644))
	fi2, err := os.Stat(p)
	require.NoError(t, err)
	assert.NotEqual(t, fp, Fingerprint(p, fi2))
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	touch := func(rel string) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	touch("store=001/camera=entrance/date=2025-01-15/09-10-00__09-20-00.MP4")
	touch("store=001/camera=entrance/date=2025-01-15/09-00-00__09-10-00.mp4")
	touch("store=001/camera=entrance/date=2025-01-15/notes.txt")
	touch("store=001/camera=entrance/date=2025-01-15/random.mkv")
	touch("store=002/camera=back/date=2025-01-15/10-00-00__10-10-00.avi")

	found, err := Scan(root, nil)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "store=001/camera=entrance/date=2025-01-15/09-00-00__09-10-00.mp4", found[0].Info.RelPath)
	assert.Equal(t, "002", found[2].Info.StoreCode)

	only, err := Scan(root, []string{".avi"})
	require.NoError(t, err)
	assert.Len(t, only, 1)

	_, err = Scan(filepath.Join(root, "missing"), nil)
	assert.Error(t, err)
}
