package feed

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/madello/paarvai/internal/detection"
)

// AllLocations is the location filter value that imposes no constraint.
const AllLocations = "All"

// siteSeparator splits a site name from its sub-location, as in "Chennai - loc 1".
const siteSeparator = " - "

// LocationMatch selects how the location filter compares against record labels.
type LocationMatch string

const (
	// LocationExact matches labels equal to the filter value.
	LocationExact LocationMatch = "exact"
	// LocationSite also matches labels of the form "<value> - <sub-location>".
	LocationSite LocationMatch = "site"
)

// ParseLocationMatch parses a location match mode. Empty selects LocationExact.
func ParseLocationMatch(s string) (LocationMatch, bool) {
	switch LocationMatch(strings.ToLower(strings.TrimSpace(s))) {
	case "", LocationExact:
		return LocationExact, true
	case LocationSite:
		return LocationSite, true
	}
	return "", false
}

// Criteria is the conjunctive filter applied by VisibleRecords.
type Criteria struct {
	Location string         `json:"location"`
	Search   string         `json:"search"`
	Date     detection.Date `json:"date"`
}

// DefaultCriteria imposes no constraint.
func DefaultCriteria() Criteria {
	return Criteria{Location: AllLocations}
}

// FilterUpdate is a partial Criteria update. Nil fields are left unchanged.
// Date is YYYY-MM-DD text; an empty string clears the date filter.
type FilterUpdate struct {
	Location *string `json:"location,omitempty"`
	Search   *string `json:"search,omitempty"`
	Date     *string `json:"date,omitempty"`
}

// IsEmpty reports whether the update touches no field.
func (u FilterUpdate) IsEmpty() bool {
	return u.Location == nil && u.Search == nil && u.Date == nil
}

// matcher evaluates Criteria against records. It holds a case folder and is
// not safe for concurrent use.
type matcher struct {
	criteria Criteria
	mode     LocationMatch
	loc      *time.Location
	folder   cases.Caser
	needle   string
}

func newMatcher(c Criteria, mode LocationMatch, loc *time.Location) *matcher {
	m := &matcher{
		criteria: c,
		mode:     mode,
		loc:      loc,
		folder:   cases.Fold(),
	}
	if c.Search != "" {
		m.needle = m.folder.String(c.Search)
	}
	return m
}

func (m *matcher) match(r *detection.Record) bool {
	return m.matchLocation(r.LocationLabel) && m.matchSearch(r.SubjectName) && m.matchDate(r)
}

func (m *matcher) matchLocation(label string) bool {
	loc := m.criteria.Location
	if loc == "" || loc == AllLocations {
		return true
	}
	if label == loc {
		return true
	}
	return m.mode == LocationSite && strings.HasPrefix(label, loc+siteSeparator)
}

func (m *matcher) matchSearch(name string) bool {
	if m.needle == "" {
		return true
	}
	return strings.Contains(m.folder.String(name), m.needle)
}

func (m *matcher) matchDate(r *detection.Record) bool {
	if m.criteria.Date.IsZero() {
		return true
	}
	return r.Date(m.loc) == m.criteria.Date
}
