// Package feed maintains the bounded, newest-first detection feed with its
// filter criteria and single selection.
//
// Store is a plain single-threaded state machine. Concurrent producers go
// through Service, which owns a Store on one goroutine and serializes every
// operation through a command queue.
package feed

import (
	"slices"
	"strings"
	"time"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
)

// DefaultCapacity is the default bound on stored records.
const DefaultCapacity = 120

// DuplicatePolicy decides what Ingest does with an id already in the store.
type DuplicatePolicy string

const (
	// DuplicateIgnore drops the incoming record and leaves the store unchanged.
	DuplicateIgnore DuplicatePolicy = "ignore"
	// DuplicateReplace removes the stored copy and prepends the incoming record.
	DuplicateReplace DuplicatePolicy = "replace"
)

// ParseDuplicatePolicy parses a policy name. Empty selects DuplicateIgnore.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, bool) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DuplicateIgnore:
		return DuplicateIgnore, true
	case DuplicateReplace:
		return DuplicateReplace, true
	}
	return "", false
}

// DropReason explains why Ingest did not accept a record.
type DropReason string

const (
	DropNone      DropReason = ""
	DropInvalid   DropReason = "invalid"
	DropDuplicate DropReason = "duplicate"
)

// Options configures a Store.
type Options struct {
	// Capacity bounds the number of stored records. Values below 1 use DefaultCapacity.
	Capacity int
	// DuplicatePolicy applies when an ingested id is already stored.
	DuplicatePolicy DuplicatePolicy
	// LocationMatch selects exact or site location matching.
	LocationMatch LocationMatch
	// SelectFirstOnInitialize selects the first seed record after Initialize.
	SelectFirstOnInitialize bool
	// Location is the time zone for date filtering. Nil uses time.Local.
	Location *time.Location
}

// DefaultOptions returns the dashboard defaults.
func DefaultOptions() Options {
	return Options{
		Capacity:                DefaultCapacity,
		DuplicatePolicy:         DuplicateIgnore,
		LocationMatch:           LocationExact,
		SelectFirstOnInitialize: true,
		Location:                time.Local,
	}
}

// IngestResult describes the effect of one Ingest call.
type IngestResult struct {
	Record           detection.Record
	Accepted         bool
	Replaced         bool
	Evicted          []detection.Record
	Dropped          DropReason
	SelectionCleared bool
	// Err carries the validation failure for DropInvalid.
	Err error
}

// Store holds records newest-first, the filter criteria and the selection.
// A Store is not safe for concurrent use.
type Store struct {
	opts       Options
	records    []detection.Record
	ids        map[string]struct{}
	criteria   Criteria
	selectedID string
}

// NewStore creates an empty store. Zero option fields take their defaults.
func NewStore(opts Options) *Store {
	def := DefaultOptions()
	if opts.Capacity < 1 {
		opts.Capacity = def.Capacity
	}
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = def.DuplicatePolicy
	}
	if opts.LocationMatch == "" {
		opts.LocationMatch = def.LocationMatch
	}
	if opts.Location == nil {
		opts.Location = def.Location
	}

	return &Store{
		opts:     opts,
		records:  make([]detection.Record, 0, opts.Capacity),
		ids:      make(map[string]struct{}, opts.Capacity),
		criteria: DefaultCriteria(),
	}
}

// Initialize replaces the records with seed, which is taken as newest-first.
// Invalid records and later duplicates of an id are skipped, and the result
// is truncated to capacity. It returns the number of records kept.
func (s *Store) Initialize(seed []detection.Record) int {
	s.records = s.records[:0]
	clear(s.ids)

	for i := range seed {
		if len(s.records) == s.opts.Capacity {
			break
		}
		r := &seed[i]
		if detection.Validate(r) != nil {
			continue
		}
		if _, dup := s.ids[r.ID]; dup {
			continue
		}
		s.records = append(s.records, *r)
		s.ids[r.ID] = struct{}{}
	}

	s.selectedID = ""
	if s.opts.SelectFirstOnInitialize && len(s.records) > 0 {
		s.selectedID = s.records[0].ID
	}

	return len(s.records)
}

// Ingest prepends r and evicts the oldest records beyond capacity. It never
// fails; invalid records and ignored duplicates are reported in the result.
func (s *Store) Ingest(r detection.Record) IngestResult {
	res := IngestResult{Record: r}

	if err := detection.Validate(&r); err != nil {
		res.Dropped = DropInvalid
		res.Err = err
		return res
	}

	if _, dup := s.ids[r.ID]; dup {
		if s.opts.DuplicatePolicy != DuplicateReplace {
			res.Dropped = DropDuplicate
			return res
		}
		s.records = slices.DeleteFunc(s.records, func(old detection.Record) bool {
			return old.ID == r.ID
		})
		res.Replaced = true
	}

	s.records = slices.Insert(s.records, 0, r)
	s.ids[r.ID] = struct{}{}
	res.Accepted = true

	if over := len(s.records) - s.opts.Capacity; over > 0 {
		tail := len(s.records) - over
		// oldest first
		res.Evicted = make([]detection.Record, 0, over)
		for i := len(s.records) - 1; i >= tail; i-- {
			evicted := s.records[i]
			res.Evicted = append(res.Evicted, evicted)
			delete(s.ids, evicted.ID)
			if evicted.ID == s.selectedID {
				s.selectedID = ""
				res.SelectionCleared = true
			}
		}
		clear(s.records[tail:])
		s.records = s.records[:tail]
	}

	return res
}

// SetFilter applies a partial criteria update. Each invalid field keeps its
// previous value and contributes an ErrInvalidFilterValue error; valid
// fields in the same update are applied.
func (s *Store) SetFilter(u FilterUpdate) error {
	var errs []error

	if u.Location != nil {
		loc := strings.TrimSpace(*u.Location)
		switch {
		case loc == "":
			errs = append(errs, invalidFilterError("location", *u.Location, nil))
		case strings.EqualFold(loc, AllLocations):
			s.criteria.Location = AllLocations
		default:
			s.criteria.Location = loc
		}
	}

	if u.Search != nil {
		s.criteria.Search = *u.Search
	}

	if u.Date != nil {
		text := strings.TrimSpace(*u.Date)
		if text == "" {
			s.criteria.Date = detection.Date{}
		} else if d, err := detection.ParseDate(text); err != nil {
			errs = append(errs, invalidFilterError("date", *u.Date, err))
		} else {
			s.criteria.Date = d
		}
	}

	return errors.Join(errs...)
}

// ResetFilter restores the default criteria.
func (s *Store) ResetFilter() {
	s.criteria = DefaultCriteria()
}

// Select sets the selection to id. An empty id clears the selection; an id
// not in the store returns ErrNotFound and leaves the selection unchanged.
func (s *Store) Select(id string) error {
	if id == "" {
		s.selectedID = ""
		return nil
	}
	if _, ok := s.ids[id]; !ok {
		return notFoundError(id)
	}
	s.selectedID = id
	return nil
}

// VisibleRecords returns the records matching every criterion, newest-first.
func (s *Store) VisibleRecords() []detection.Record {
	m := newMatcher(s.criteria, s.opts.LocationMatch, s.opts.Location)

	visible := make([]detection.Record, 0, len(s.records))
	for i := range s.records {
		if m.match(&s.records[i]) {
			visible = append(visible, s.records[i])
		}
	}
	return visible
}

// SelectedRecord resolves the selection against all records, filtered or not.
func (s *Store) SelectedRecord() (detection.Record, bool) {
	if s.selectedID == "" {
		return detection.Record{}, false
	}
	for i := range s.records {
		if s.records[i].ID == s.selectedID {
			return s.records[i], true
		}
	}
	return detection.Record{}, false
}

// Records returns a copy of all records, newest-first.
func (s *Store) Records() []detection.Record {
	return slices.Clone(s.records)
}

// Criteria returns the current filter criteria.
func (s *Store) Criteria() Criteria {
	return s.criteria
}

// SelectedID returns the selected id, or "" when nothing is selected.
func (s *Store) SelectedID() string {
	return s.selectedID
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return len(s.records)
}

// Capacity returns the record bound.
func (s *Store) Capacity() int {
	return s.opts.Capacity
}

// Options returns the effective store options.
func (s *Store) Options() Options {
	return s.opts
}
