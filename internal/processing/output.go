package processing

import (
	"time"

	"github.com/banshee-data/footfall.report/internal/vision/pipeline"
)

// Output is the JSON summary of one pipeline run.
type Output struct {
	Segment  SegmentOutput    `json:"segment"`
	Counts   pipeline.Counts  `json:"counts"`
	Events   []EventOutput    `json:"events"`
	Presence []PresenceOutput `json:"presence_samples"`
	Faces    int              `json:"face_captures"`
	Meta     Meta             `json:"meta"`
}

type SegmentOutput struct {
	ID         int64  `json:"id,omitempty"`
	StoreCode  string `json:"store_code"`
	CameraCode string `json:"camera_code"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Status     string `json:"status,omitempty"`
}

type EventOutput struct {
	Timestamp  string  `json:"ts"`
	Direction  string  `json:"direction"`
	TrackID    string  `json:"track_id"`
	Confidence float64 `json:"confidence"`
	IsStaff    bool    `json:"is_staff"`
}

type PresenceOutput struct {
	Timestamp string `json:"ts"`
	Count     int    `json:"count"`
}

type Meta struct {
	FramesRead int      `json:"frames_read"`
	DurationS  float64  `json:"duration_s"`
	Errors     []string `json:"errors"`
}

func newOutput(seg SegmentOutput, res *pipeline.Result, loc *time.Location) *Output {
	out := &Output{
		Segment:  seg,
		Counts:   res.Counts(),
		Events:   make([]EventOutput, 0, len(res.Events)),
		Presence: make([]PresenceOutput, 0, len(res.Presence)),
		Faces:    len(res.FaceCaptures),
		Meta: Meta{
			FramesRead: res.FramesRead,
			DurationS:  res.Duration,
			Errors:     append([]string{}, res.Errors...),
		},
	}
	for _, e := range res.Events {
		out.Events = append(out.Events, EventOutput{
			Timestamp:  formatLocal(e.Timestamp, loc),
			Direction:  string(e.Direction),
			TrackID:    e.TrackID,
			Confidence: e.Confidence,
			IsStaff:    e.IsStaff,
		})
	}
	for _, p := range res.Presence {
		out.Presence = append(out.Presence, PresenceOutput{Timestamp: formatLocal(p.Timestamp, loc), Count: p.Count})
	}
	return out
}

func formatLocal(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.RFC3339Nano)
}

