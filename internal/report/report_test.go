package report

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/db"
)

type fakeSource struct {
	hourly []db.HourlyBucket
	shifts []db.ShiftBucket
	err    error
}

func (f fakeSource) ListHourly(context.Context, int64, *int64, string) ([]db.HourlyBucket, error) {
	return f.hourly, f.err
}

func (f fakeSource) ListShift(context.Context, int64, *int64, string) ([]db.ShiftBucket, error) {
	return f.shifts, f.err
}

func TestRender(t *testing.T) {
	peak := 4.0
	src := fakeSource{
		hourly: []db.HourlyBucket{
			{Hour: 9, Counts: db.Counts{In: 5}, MaxPresence: &peak},
			{Hour: 10, Counts: db.Counts{Out: 2}},
		},
		shifts: []db.ShiftBucket{{ShiftID: "MORNING", Counts: db.Counts{In: 5, Out: 2}}},
	}
	day, err := Load(context.Background(), src, "store 001", 1, nil, "2025-01-15")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, day))
	html := buf.String()
	assert.Contains(t, html, "Hourly flow")
	assert.Contains(t, html, "MORNING")
	assert.Contains(t, html, "09:00")
	assert.Contains(t, html, "peak presence")
}

func TestLoadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Load(context.Background(), fakeSource{err: boom}, "x", 1, nil, "2025-01-15")
	assert.ErrorIs(t, err, boom)
}

func TestRenderEmptyDay(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, &Day{Title: "empty", Date: "2025-01-15"}))
	assert.Contains(t, buf.String(), "Shifts")
}
