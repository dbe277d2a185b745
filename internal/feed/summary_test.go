package feed_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/feed"
	"github.com/madello/paarvai/internal/testutil"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	records := []detection.Record{
		testutil.Record("A", testutil.Confidence(80), testutil.Priority(detection.PriorityHigh)),
		testutil.Record("B", testutil.Stranger(), testutil.Confidence(90), testutil.Location("Delhi"),
			testutil.Priority(detection.PriorityHigh)),
		testutil.Record("C", testutil.Stranger(), testutil.Confidence(70), testutil.Location("Delhi")),
	}

	sum := feed.Summarize(records)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Valid)
	assert.Equal(t, 2, sum.Stranger)
	assert.Equal(t, 2, sum.ByPriority[detection.PriorityHigh])
	assert.Equal(t, 1, sum.ByPriority[detection.PriorityLow])
	assert.Equal(t, map[string]int{"Chennai": 1, "Delhi": 2}, sum.ByLocation)
	assert.InDelta(t, 80.0, sum.AverageConfidence, 0.001)
	assert.Equal(t, []string{"Chennai", "Delhi"}, sum.Locations())
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	sum := feed.Summarize(nil)
	assert.Zero(t, sum.Total)
	assert.Zero(t, sum.AverageConfidence)
	assert.Empty(t, sum.Locations())
}

func TestTrendFillsEmptyBuckets(t *testing.T) {
	t.Parallel()

	base := testutil.BaseTime
	records := []detection.Record{
		testutil.Record("C", testutil.At(base.Add(3*time.Hour+10*time.Minute))),
		testutil.Record("B", testutil.Stranger(), testutil.At(base.Add(20*time.Minute))),
		testutil.Record("A", testutil.At(base.Add(5*time.Minute))),
	}

	buckets := feed.Trend(records, time.Hour, time.UTC)
	require.Len(t, buckets, 4)
	assert.Equal(t, base, buckets[0].Start)
	assert.Equal(t, 1, buckets[0].Valid)
	assert.Equal(t, 1, buckets[0].Stranger)
	assert.Zero(t, buckets[1].Valid+buckets[1].Stranger)
	assert.Zero(t, buckets[2].Valid+buckets[2].Stranger)
	assert.Equal(t, base.Add(3*time.Hour), buckets[3].Start)
	assert.Equal(t, 1, buckets[3].Valid)
}

func TestTrendAlignsToLocalZone(t *testing.T) {
	t.Parallel()

	ist := time.FixedZone("IST", 5*3600+1800)
	// 09:00 UTC is 14:30 IST
	records := []detection.Record{testutil.Record("A")}

	buckets := feed.Trend(records, time.Hour, ist)
	require.Len(t, buckets, 1)
	assert.Equal(t, 14, buckets[0].Start.In(ist).Hour())
	assert.Zero(t, buckets[0].Start.In(ist).Minute())
}

func TestTrendDegenerateInputs(t *testing.T) {
	t.Parallel()

	assert.Nil(t, feed.Trend(nil, time.Hour, time.UTC))
	assert.Nil(t, feed.Trend(testutil.Records(2), 0, time.UTC))
}

func TestRecent(t *testing.T) {
	t.Parallel()

	records := testutil.Records(5)
	recent := feed.Recent(records, 3)
	assert.Equal(t, []string{"DET-0", "DET-1", "DET-2"}, ids(recent))

	recent[0].ID = "changed"
	assert.Equal(t, "DET-0", records[0].ID, "Recent must return a copy")

	assert.Len(t, feed.Recent(records, 10), 5)
	assert.Empty(t, feed.Recent(records, -1))
}

func TestTrendKeepsNewestBuckets(t *testing.T) {
	t.Parallel()

	stale := time.Date(2016, time.January, 1, 0, 0, 0, 0, time.UTC)
	records := []detection.Record{
		testutil.Record("NEW"),
		testutil.Record("OLD", testutil.At(stale)),
		testutil.Record("YEAR1", testutil.At(time.Date(1, time.January, 1, 0, 0, 1, 0, time.UTC))),
	}

	buckets := feed.Trend(records, time.Minute, time.UTC)
	require.Len(t, buckets, feed.MaxTrendBuckets)
	assert.Equal(t, testutil.BaseTime, buckets[len(buckets)-1].Start)
	assert.Equal(t, testutil.BaseTime.Add(-(feed.MaxTrendBuckets-1)*time.Minute), buckets[0].Start)

	var total int
	for _, b := range buckets {
		total += b.Valid + b.Stranger
	}
	assert.Equal(t, 1, total, "records before the window are left out")
}
