// Package report renders a day's KPI buckets as an HTML chart page.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/footfall.report/internal/db"
)

// AssetsHost serves the echarts javascript.
const AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Source reads stored KPI buckets.
type Source interface {
	ListHourly(ctx context.Context, storeID int64, cameraID *int64, date string) ([]db.HourlyBucket, error)
	ListShift(ctx context.Context, storeID int64, cameraID *int64, date string) ([]db.ShiftBucket, error)
}

// Day is everything one page shows.
type Day struct {
	Title  string
	Date   string
	Hourly []db.HourlyBucket
	Shifts []db.ShiftBucket
}

// Load reads the buckets for one (store, camera, date) key.
func Load(ctx context.Context, src Source, title string, storeID int64, cameraID *int64, date string) (*Day, error) {
	hourly, err := src.ListHourly(ctx, storeID, cameraID, date)
	if err != nil {
		return nil, fmt.Errorf("load hourly buckets: %w", err)
	}
	shifts, err := src.ListShift(ctx, storeID, cameraID, date)
	if err != nil {
		return nil, fmt.Errorf("load shift buckets: %w", err)
	}
	return &Day{Title: title, Date: date, Hourly: hourly, Shifts: shifts}, nil
}

// Render writes the page: hourly IN/OUT bars with peak presence overlaid,
// then a per-shift bar chart.
func Render(w io.Writer, d *Day) error {
	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(hourlyChart(d), shiftChart(d))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}

func hourlyChart(d *Day) *charts.Bar {
	byHour := make(map[int]db.HourlyBucket, len(d.Hourly))
	for _, b := range d.Hourly {
		byHour[b.Hour] = b
	}
	x := make([]string, 24)
	in := make([]opts.BarData, 24)
	out := make([]opts.BarData, 24)
	presence := make([]opts.LineData, 24)
	for h := 0; h < 24; h++ {
		x[h] = fmt.Sprintf("%02d:00", h)
		b := byHour[h]
		in[h] = opts.BarData{Value: b.In}
		out[h] = opts.BarData{Value: b.Out}
		if b.MaxPresence != nil {
			presence[h] = opts.LineData{Value: *b.MaxPresence}
		} else {
			presence[h] = opts.LineData{Value: "-"}
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: fmt.Sprintf("%s %s", d.Title, d.Date), Width: "100%", Height: "480px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Hourly flow", Subtitle: fmt.Sprintf("%s %s", d.Title, d.Date)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "hour"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "people"}),
	)
	bar.SetXAxis(x).
		AddSeries("IN", in).
		AddSeries("OUT", out)

	line := charts.NewLine()
	line.SetXAxis(x).AddSeries("peak presence", presence)
	bar.Overlap(line)
	return bar
}

func shiftChart(d *Day) *charts.Bar {
	x := make([]string, 0, len(d.Shifts))
	in := make([]opts.BarData, 0, len(d.Shifts))
	out := make([]opts.BarData, 0, len(d.Shifts))
	staff := make([]opts.BarData, 0, len(d.Shifts))
	for _, s := range d.Shifts {
		x = append(x, s.ShiftID)
		in = append(in, opts.BarData{Value: s.In})
		out = append(out, opts.BarData{Value: s.Out})
		staff = append(staff, opts.BarData{Value: s.StaffIn + s.StaffOut})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Shifts", Subtitle: fmt.Sprintf("%d shifts", len(d.Shifts))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("IN", in, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("OUT", out, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("staff", staff)
	return bar
}
