// Package detection provides the domain model for face-recognition detection records.
//
// A Record is immutable once created. Classification and subject identity are
// independent fields; live status belongs to cameras, not to records.
package detection

import (
	"strings"
	"time"

	"github.com/madello/paarvai/internal/errors"
)

// Classification tells whether the detected face matched a known subject.
type Classification string

const (
	Stranger Classification = "Stranger"
	Valid    Classification = "Valid"
)

// Priority is the operator-facing urgency of a detection.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// LiveStatus is the live state of a capture point.
type LiveStatus string

const (
	StatusOnline   LiveStatus = "Online"
	StatusOffline  LiveStatus = "Offline"
	StatusDetected LiveStatus = "Detected"
)

// Confidence bounds, in percent.
const (
	MinConfidence = 0.0
	MaxConfidence = 100.0
)

// Record is one observed recognition event at a camera, location and time.
type Record struct {
	ID             string         `json:"id" yaml:"id"`
	Classification Classification `json:"classification" yaml:"classification"`
	SubjectName    string         `json:"subjectName,omitempty" yaml:"subject_name,omitempty"`
	LocationLabel  string         `json:"location" yaml:"location"`
	CameraID       string         `json:"cameraId,omitempty" yaml:"camera_id,omitempty"`
	CameraName     string         `json:"cameraName,omitempty" yaml:"camera_name,omitempty"`
	ObservedAt     time.Time      `json:"observedAt" yaml:"observed_at"`
	Confidence     float64        `json:"confidence" yaml:"confidence"`
	ThumbnailRef   string         `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
	Priority       Priority       `json:"priority" yaml:"priority"`
}

// IsStranger reports whether the record is an unrecognized face.
func (r *Record) IsStranger() bool {
	return r.Classification == Stranger
}

// DisplayName returns the subject name, or the classification for unnamed records.
func (r *Record) DisplayName() string {
	if r.SubjectName != "" {
		return r.SubjectName
	}
	return string(r.Classification)
}

// Date returns the calendar date of ObservedAt in loc. A nil loc uses UTC.
func (r *Record) Date(loc *time.Location) Date {
	return DateOf(r.ObservedAt, loc)
}

// ParseClassification parses a classification case-insensitively.
func ParseClassification(s string) (Classification, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stranger":
		return Stranger, nil
	case "valid":
		return Valid, nil
	}
	return "", invalidEnum("classification", s)
}

// ParsePriority parses a priority case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return "", invalidEnum("priority", s)
}

// ParseLiveStatus parses a live status case-insensitively.
func ParseLiveStatus(s string) (LiveStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online":
		return StatusOnline, nil
	case "offline":
		return StatusOffline, nil
	case "detected":
		return StatusDetected, nil
	}
	return "", invalidEnum("live status", s)
}

// Rank orders priorities from Low (1) to High (3). Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// UnmarshalText accepts any letter case.
func (c *Classification) UnmarshalText(text []byte) error {
	v, err := ParseClassification(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// UnmarshalText accepts any letter case.
func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// UnmarshalText accepts any letter case.
func (s *LiveStatus) UnmarshalText(text []byte) error {
	v, err := ParseLiveStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func invalidEnum(field, value string) error {
	return errors.Newf("invalid %s %q", field, value).
		Component("detection").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", value).
		Build()
}
