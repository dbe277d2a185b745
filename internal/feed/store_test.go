package feed_test

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/feed"
	"github.com/madello/paarvai/internal/testutil"
)

func newStore(t *testing.T, mutate func(o *feed.Options)) *feed.Store {
	t.Helper()
	opts := feed.DefaultOptions()
	opts.Location = time.UTC
	if mutate != nil {
		mutate(&opts)
	}
	return feed.NewStore(opts)
}

func ids(records []detection.Record) []string {
	out := make([]string, len(records))
	for i := range records {
		out[i] = records[i].ID
	}
	return out
}

func ptr(s string) *string { return &s }

func TestIngestCapacityScenario(t *testing.T) {
	t.Parallel()

	s := newStore(t, func(o *feed.Options) { o.Capacity = 3 })
	for _, id := range []string{"A", "B", "C", "D"} {
		res := s.Ingest(testutil.Record(id))
		require.True(t, res.Accepted)
	}

	assert.Equal(t, []string{"D", "C", "B"}, ids(s.Records()))
	assert.Equal(t, 3, s.Len())
}

func TestIngestReportsEvictionsOldestFirst(t *testing.T) {
	t.Parallel()

	s := newStore(t, func(o *feed.Options) { o.Capacity = 2 })
	s.Ingest(testutil.Record("A"))
	s.Ingest(testutil.Record("B"))
	res := s.Ingest(testutil.Record("C"))

	require.Len(t, res.Evicted, 1)
	assert.Equal(t, "A", res.Evicted[0].ID)
}

func TestIngestEvictionDeterminism(t *testing.T) {
	t.Parallel()

	const capacity = 7
	for k := 1; k <= 20; k++ {
		s := newStore(t, func(o *feed.Options) { o.Capacity = capacity })
		records := testutil.Records(capacity + k)
		for i := range records {
			s.Ingest(records[i])
		}

		want := ids(records[k:])
		slices.Reverse(want)
		assert.Equal(t, want, ids(s.Records()), "k=%d", k)
	}
}

func TestIngestNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	for trial := range 50 {
		capacity := 1 + rng.IntN(10)
		n := rng.IntN(40)
		s := newStore(t, func(o *feed.Options) { o.Capacity = capacity })

		ingested := make([]string, 0, n)
		for i := range n {
			id := fmt.Sprintf("T%d-%d", trial, i)
			s.Ingest(testutil.Record(id))
			ingested = append(ingested, id)
			require.LessOrEqual(t, s.Len(), capacity)
		}

		want := ingested[max(0, len(ingested)-capacity):]
		slices.Reverse(want)
		assert.Equal(t, want, ids(s.Records()), "trial %d", trial)
	}
}

func TestIngestDuplicatePolicies(t *testing.T) {
	t.Parallel()

	t.Run("ignore keeps original", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, nil)
		s.Ingest(testutil.Record("A", testutil.Subject("First")))
		s.Ingest(testutil.Record("B"))

		res := s.Ingest(testutil.Record("A", testutil.Subject("Second")))

		assert.False(t, res.Accepted)
		assert.Equal(t, feed.DropDuplicate, res.Dropped)
		assert.Equal(t, []string{"B", "A"}, ids(s.Records()))
		assert.Equal(t, "First", s.Records()[1].SubjectName)
	})

	t.Run("replace moves to front", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, func(o *feed.Options) { o.DuplicatePolicy = feed.DuplicateReplace })
		s.Ingest(testutil.Record("A", testutil.Subject("First")))
		s.Ingest(testutil.Record("B"))

		res := s.Ingest(testutil.Record("A", testutil.Subject("Second")))

		assert.True(t, res.Accepted)
		assert.True(t, res.Replaced)
		assert.Equal(t, []string{"A", "B"}, ids(s.Records()))
		assert.Equal(t, "Second", s.Records()[0].SubjectName)
	})
}

func TestIngestDropsInvalidRecord(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	res := s.Ingest(testutil.Record("A", testutil.Confidence(140)))

	assert.False(t, res.Accepted)
	assert.Equal(t, feed.DropInvalid, res.Dropped)
	require.Error(t, res.Err)
	assert.True(t, errors.IsValidation(res.Err))
	assert.Zero(t, s.Len())
}

func TestIngestEvictingSelectionClearsIt(t *testing.T) {
	t.Parallel()

	s := newStore(t, func(o *feed.Options) { o.Capacity = 2 })
	s.Ingest(testutil.Record("A"))
	s.Ingest(testutil.Record("B"))
	require.NoError(t, s.Select("A"))

	res := s.Ingest(testutil.Record("C"))

	assert.True(t, res.SelectionCleared)
	assert.Empty(t, s.SelectedID())
	_, ok := s.SelectedRecord()
	assert.False(t, ok)
}

func TestInitialize(t *testing.T) {
	t.Parallel()

	seed := []detection.Record{
		testutil.Record("S1"),
		testutil.Record("S2"),
		testutil.Record("S1", testutil.Subject("dup")),
		testutil.Record("", testutil.Subject("no id")),
		testutil.Record("S3"),
		testutil.Record("S4"),
	}

	t.Run("selects first record", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, func(o *feed.Options) { o.Capacity = 3 })
		s.Ingest(testutil.Record("old"))

		kept := s.Initialize(seed)

		assert.Equal(t, 3, kept)
		assert.Equal(t, []string{"S1", "S2", "S3"}, ids(s.Records()))
		assert.Equal(t, "S1", s.SelectedID())
	})

	t.Run("clears selection when configured", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, func(o *feed.Options) { o.SelectFirstOnInitialize = false })
		s.Ingest(testutil.Record("old"))
		require.NoError(t, s.Select("old"))

		s.Initialize(seed)

		assert.Empty(t, s.SelectedID())
		assert.Equal(t, 4, s.Len())
	})

	t.Run("empty seed", func(t *testing.T) {
		t.Parallel()
		s := newStore(t, nil)
		assert.Zero(t, s.Initialize(nil))
		assert.Empty(t, s.SelectedID())
	})
}

func TestSelect(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	s.Ingest(testutil.Record("A"))
	s.Ingest(testutil.Record("B"))

	require.NoError(t, s.Select("A"))
	r, ok := s.SelectedRecord()
	require.True(t, ok)
	assert.Equal(t, "A", r.ID)

	err := s.Select("missing-id")
	require.Error(t, err)
	assert.ErrorIs(t, err, feed.ErrNotFound)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, "A", s.SelectedID(), "failed select must leave selection unchanged")

	require.NoError(t, s.Select(""))
	assert.Empty(t, s.SelectedID())
	_, ok = s.SelectedRecord()
	assert.False(t, ok)
}

func TestSelectFilteredOutRecordStillResolves(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	s.Ingest(testutil.Record("A", testutil.Location("Delhi")))
	s.Ingest(testutil.Record("B", testutil.Location("Chennai")))
	require.NoError(t, s.SetFilter(feed.FilterUpdate{Location: ptr("Chennai")}))

	require.NoError(t, s.Select("A"))

	assert.Equal(t, []string{"B"}, ids(s.VisibleRecords()))
	r, ok := s.SelectedRecord()
	require.True(t, ok)
	assert.Equal(t, "A", r.ID)
}

func TestLocationMatchModes(t *testing.T) {
	t.Parallel()

	records := []detection.Record{
		testutil.Record("madurai", testutil.Location("Madurai - loc 3")),
		testutil.Record("chennai-loc", testutil.Location("Chennai - loc 1")),
		testutil.Record("chennai", testutil.Location("Chennai")),
		testutil.Record("chennai-east", testutil.Location("Chennai East")),
	}

	tests := []struct {
		mode feed.LocationMatch
		want []string
	}{
		{feed.LocationExact, []string{"chennai"}},
		{feed.LocationSite, []string{"chennai", "chennai-loc"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()
			s := newStore(t, func(o *feed.Options) { o.LocationMatch = tt.mode })
			for i := range records {
				s.Ingest(records[i])
			}
			require.NoError(t, s.SetFilter(feed.FilterUpdate{Location: ptr("Chennai")}))

			assert.Equal(t, tt.want, ids(s.VisibleRecords()))
		})
	}
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	s.Ingest(testutil.Record("1", testutil.Subject("Aarav Patel")))
	s.Ingest(testutil.Record("2", testutil.Stranger()))
	s.Ingest(testutil.Record("3", testutil.Subject("Rita Bose")))
	s.Ingest(testutil.Record("4", testutil.Subject("STRASSE Weiß")))

	require.NoError(t, s.SetFilter(feed.FilterUpdate{Search: ptr("PATEL")}))
	assert.Equal(t, []string{"1"}, ids(s.VisibleRecords()))

	require.NoError(t, s.SetFilter(feed.FilterUpdate{Search: ptr("weiss")}))
	assert.Equal(t, []string{"4"}, ids(s.VisibleRecords()))

	require.NoError(t, s.SetFilter(feed.FilterUpdate{Search: ptr("")}))
	assert.Len(t, s.VisibleRecords(), 4)
}

func TestDateFilterUsesStoreTimeZone(t *testing.T) {
	t.Parallel()

	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	s := newStore(t, func(o *feed.Options) { o.Location = ist })
	s.Ingest(testutil.Record("late-utc", testutil.At(time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC))))
	s.Ingest(testutil.Record("morning", testutil.At(time.Date(2025, 3, 14, 4, 0, 0, 0, time.UTC))))

	require.NoError(t, s.SetFilter(feed.FilterUpdate{Date: ptr("2025-03-15")}))
	assert.Equal(t, []string{"late-utc"}, ids(s.VisibleRecords()))

	require.NoError(t, s.SetFilter(feed.FilterUpdate{Date: ptr("")}))
	assert.Len(t, s.VisibleRecords(), 2)
}

func TestSetFilterRejectsInvalidFieldsAndKeepsValidOnes(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	require.NoError(t, s.SetFilter(feed.FilterUpdate{Location: ptr("Pune"), Date: ptr("2025-03-14")}))

	err := s.SetFilter(feed.FilterUpdate{
		Location: ptr("  "),
		Search:   ptr("maya"),
		Date:     ptr("14/03/2025"),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, feed.ErrInvalidFilterValue)
	assert.True(t, errors.IsValidation(err))

	c := s.Criteria()
	assert.Equal(t, "Pune", c.Location, "rejected location keeps previous value")
	assert.Equal(t, "2025-03-14", c.Date.String(), "rejected date keeps previous value")
	assert.Equal(t, "maya", c.Search, "valid field in the same update is applied")
}

func TestSetFilterNormalizesAll(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	require.NoError(t, s.SetFilter(feed.FilterUpdate{Location: ptr("all")}))
	assert.Equal(t, feed.AllLocations, s.Criteria().Location)
}

func TestSetFilterIdempotent(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	locations := []string{"Chennai", "Delhi", "Pune"}
	names := []string{"Aarav Patel", "Maya Singh", "Alex Kim", ""}

	s := newStore(t, nil)
	for i := range 60 {
		opts := []testutil.RecordOption{
			testutil.Location(locations[rng.IntN(len(locations))]),
			testutil.Subject(names[rng.IntN(len(names))]),
			testutil.At(testutil.BaseTime.Add(time.Duration(rng.IntN(72)) * time.Hour)),
		}
		s.Ingest(testutil.Record(fmt.Sprintf("R%d", i), opts...))
	}

	update := feed.FilterUpdate{Location: ptr("Delhi"), Search: ptr("a"), Date: ptr("2025-03-15")}
	require.NoError(t, s.SetFilter(update))
	once := s.VisibleRecords()
	require.NoError(t, s.SetFilter(update))
	twice := s.VisibleRecords()

	assert.Equal(t, ids(once), ids(twice))
}

func TestVisibleRecordsIsOrderedSubsequence(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 5))
	locations := []string{"Chennai", "Chennai - loc 1", "Delhi", "Mumbai"}
	names := []string{"Aarav Patel", "Maya Singh", "Alex Kim", "Rita Bose", ""}
	searches := []string{"", "a", "SINGH", "kim", "zzz"}
	dates := []string{"", "2025-03-14", "2025-03-15"}
	filters := []string{feed.AllLocations, "Chennai", "Delhi"}

	for trial := range 30 {
		s := newStore(t, func(o *feed.Options) {
			o.Capacity = 25
			if trial%2 == 1 {
				o.LocationMatch = feed.LocationSite
			}
		})
		for i := range 40 {
			s.Ingest(testutil.Record(fmt.Sprintf("R%d", i),
				testutil.Location(locations[rng.IntN(len(locations))]),
				testutil.Subject(names[rng.IntN(len(names))]),
				testutil.At(testutil.BaseTime.Add(time.Duration(rng.IntN(48))*time.Hour))))
		}

		loc := filters[rng.IntN(len(filters))]
		search := searches[rng.IntN(len(searches))]
		date := dates[rng.IntN(len(dates))]
		require.NoError(t, s.SetFilter(feed.FilterUpdate{Location: &loc, Search: &search, Date: &date}))

		all := ids(s.Records())
		visible := s.VisibleRecords()

		pos := -1
		for i := range visible {
			r := visible[i]
			idx := slices.Index(all, r.ID)
			require.Greater(t, idx, pos, "visible records must keep store order")
			pos = idx

			if loc != feed.AllLocations {
				if trial%2 == 1 {
					assert.True(t, r.LocationLabel == loc || strings.HasPrefix(r.LocationLabel, loc+" - "))
				} else {
					assert.Equal(t, loc, r.LocationLabel)
				}
			}
			if search != "" {
				assert.Contains(t, strings.ToLower(r.SubjectName), strings.ToLower(search))
			}
			if date != "" {
				assert.Equal(t, date, r.Date(time.UTC).String())
			}
		}
	}
}

func TestNewStoreAppliesDefaults(t *testing.T) {
	t.Parallel()

	s := feed.NewStore(feed.Options{})
	assert.Equal(t, feed.DefaultCapacity, s.Capacity())
	assert.Equal(t, feed.DuplicateIgnore, s.Options().DuplicatePolicy)
	assert.Equal(t, feed.LocationExact, s.Options().LocationMatch)
	assert.Equal(t, feed.AllLocations, s.Criteria().Location)
}

func TestParsePolicies(t *testing.T) {
	t.Parallel()

	p, ok := feed.ParseDuplicatePolicy("REPLACE")
	assert.True(t, ok)
	assert.Equal(t, feed.DuplicateReplace, p)
	_, ok = feed.ParseDuplicatePolicy("reject")
	assert.False(t, ok)

	m, ok := feed.ParseLocationMatch("")
	assert.True(t, ok)
	assert.Equal(t, feed.LocationExact, m)
	_, ok = feed.ParseLocationMatch("substring")
	assert.False(t, ok)
}
