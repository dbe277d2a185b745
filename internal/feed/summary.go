package feed

import (
	"maps"
	"slices"
	"time"

	"github.com/madello/paarvai/internal/detection"
)

const (
	// DefaultRecentCount is the length of the recent alerts list.
	DefaultRecentCount = 10

	// MaxTrendBuckets bounds the length of a trend series.
	MaxTrendBuckets = 1440
)

// Summary holds KPI counts over a set of records.
type Summary struct {
	Total             int                        `json:"total"`
	Valid             int                        `json:"valid"`
	Stranger          int                        `json:"stranger"`
	ByPriority        map[detection.Priority]int `json:"byPriority"`
	ByLocation        map[string]int             `json:"byLocation"`
	AverageConfidence float64                    `json:"averageConfidence"`
}

// Summarize counts records by classification, priority and location.
func Summarize(records []detection.Record) Summary {
	sum := Summary{
		Total:      len(records),
		ByPriority: make(map[detection.Priority]int, 3),
		ByLocation: make(map[string]int),
	}

	var confidence float64
	for i := range records {
		r := &records[i]
		if r.IsStranger() {
			sum.Stranger++
		} else {
			sum.Valid++
		}
		sum.ByPriority[r.Priority]++
		sum.ByLocation[r.LocationLabel]++
		confidence += r.Confidence
	}

	if len(records) > 0 {
		sum.AverageConfidence = confidence / float64(len(records))
	}

	return sum
}

// Locations returns the distinct location labels in sorted order.
func (s Summary) Locations() []string {
	return slices.Sorted(maps.Keys(s.ByLocation))
}

// TrendBucket counts detections in one time bucket.
type TrendBucket struct {
	Start    time.Time `json:"start"`
	Valid    int       `json:"valid"`
	Stranger int       `json:"stranger"`
}

// Trend groups records into buckets of the given width, oldest bucket first.
// Buckets are aligned in loc; empty buckets between records are included.
// The series keeps at most MaxTrendBuckets buckets ending with the newest
// record; older records fall outside it.
func Trend(records []detection.Record, bucket time.Duration, loc *time.Location) []TrendBucket {
	if len(records) == 0 || bucket <= 0 {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}

	bucketStart := func(t time.Time) time.Time {
		t = t.In(loc)
		_, offset := t.Zone()
		shift := time.Duration(offset) * time.Second
		return t.Add(shift).Truncate(bucket).Add(-shift)
	}

	counts := make(map[int64]*TrendBucket)
	first, last := bucketStart(records[0].ObservedAt), bucketStart(records[0].ObservedAt)
	for i := range records {
		start := bucketStart(records[i].ObservedAt)
		if start.Before(first) {
			first = start
		}
		if start.After(last) {
			last = start
		}

		b, ok := counts[start.Unix()]
		if !ok {
			b = &TrendBucket{Start: start}
			counts[start.Unix()] = b
		}
		if records[i].IsStranger() {
			b.Stranger++
		} else {
			b.Valid++
		}
	}

	if last.Sub(first)/bucket >= MaxTrendBuckets {
		first = last.Add(-(MaxTrendBuckets - 1) * bucket)
	}

	buckets := make([]TrendBucket, 0, int(last.Sub(first)/bucket)+1)
	for t := first; !t.After(last); t = t.Add(bucket) {
		if b, ok := counts[t.Unix()]; ok {
			buckets = append(buckets, *b)
		} else {
			buckets = append(buckets, TrendBucket{Start: t})
		}
	}
	return buckets
}

// Recent returns up to n of the newest records. records must be newest-first.
func Recent(records []detection.Record, n int) []detection.Record {
	if n < 0 {
		n = 0
	}
	return slices.Clone(records[:min(n, len(records))])
}
