package testutil

import (
	"fmt"
	"time"

	"github.com/madello/paarvai/internal/detection"
)

// BaseTime is the fixed observation time fixtures count from.
var BaseTime = time.Date(2025, time.March, 14, 9, 0, 0, 0, time.UTC)

// RecordOption customizes a fixture record.
type RecordOption func(*detection.Record)

// Record returns a valid record with the given id observed at BaseTime.
func Record(id string, opts ...RecordOption) detection.Record {
	r := detection.Record{
		ID:             id,
		Classification: detection.Valid,
		SubjectName:    "Maya Singh",
		LocationLabel:  "Chennai",
		CameraID:       "CAM-1",
		CameraName:     "Gate 1",
		ObservedAt:     BaseTime,
		Confidence:     85,
		ThumbnailRef:   "https://picsum.photos/seed/" + id + "/92/92",
		Priority:       detection.PriorityLow,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Records returns n valid records DET-0..DET-(n-1), one minute apart,
// ordered oldest first as they would be ingested.
func Records(n int, opts ...RecordOption) []detection.Record {
	out := make([]detection.Record, n)
	for i := range n {
		out[i] = Record(fmt.Sprintf("DET-%d", i), append([]RecordOption{At(BaseTime.Add(time.Duration(i) * time.Minute))}, opts...)...)
	}
	return out
}

// At sets ObservedAt.
func At(t time.Time) RecordOption {
	return func(r *detection.Record) { r.ObservedAt = t }
}

// Location sets the location label.
func Location(label string) RecordOption {
	return func(r *detection.Record) { r.LocationLabel = label }
}

// Subject sets the subject name.
func Subject(name string) RecordOption {
	return func(r *detection.Record) { r.SubjectName = name }
}

// Stranger marks the record as an unnamed stranger.
func Stranger() RecordOption {
	return func(r *detection.Record) {
		r.Classification = detection.Stranger
		r.SubjectName = ""
	}
}

// Priority sets the priority.
func Priority(p detection.Priority) RecordOption {
	return func(r *detection.Record) { r.Priority = p }
}

// Confidence sets the confidence.
func Confidence(c float64) RecordOption {
	return func(r *detection.Record) { r.Confidence = c }
}

// Camera sets the camera id and name.
func Camera(id, name string) RecordOption {
	return func(r *detection.Record) {
		r.CameraID = id
		r.CameraName = name
	}
}
