package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/madello/paarvai/internal/detection"
)

// Default value pools.
var (
	DefaultNames = []string{"Aarav Patel", "Maya Singh", "Alex Kim", "Rita Bose"}

	DefaultLocations = []string{
		"Chennai", "Bangalore", "Delhi", "Mumbai", "Hyderabad",
		"Pune", "Kolkata", "Ahmedabad", "Jaipur", "Lucknow",
	}

	DefaultCameras = []CameraRef{
		{ID: "CAM-1", Name: "Gate 1"},
		{ID: "CAM-2", Name: "Gate 2"},
		{ID: "CAM-3", Name: "Lobby"},
		{ID: "CAM-4", Name: "Parking P2"},
		{ID: "CAM-5", Name: "Atrium"},
		{ID: "CAM-6", Name: "Food Court"},
	}
)

const (
	// DefaultThumbnailPattern formats a thumbnail URL from a numeric seed.
	DefaultThumbnailPattern = "https://picsum.photos/seed/%d/92/92"

	// DefaultSeedStart is the numeric part of the first seed id.
	DefaultSeedStart = 1000

	// DefaultLiveStart is the first live id when the seed is unknown.
	DefaultLiveStart = 10000

	idPrefix = "DET-"

	// DefaultSeedSpacing is the time between consecutive seed records.
	DefaultSeedSpacing = 5 * time.Minute

	minConfidence = 70
	maxConfidence = 95

	// every strangerEvery-th record is a stranger
	strangerEvery = 4

	thumbnailSeedOffset = 99
)

// CameraRef names a capture point in the value pools.
type CameraRef struct {
	ID   string `yaml:"id" mapstructure:"id"`
	Name string `yaml:"name" mapstructure:"name"`
}

// Pools holds the values synthesized records draw from.
type Pools struct {
	Names     []string
	Locations []string
	Cameras   []CameraRef
}

// DefaultPools returns the built-in pools.
func DefaultPools() Pools {
	return Pools{Names: DefaultNames, Locations: DefaultLocations, Cameras: DefaultCameras}
}

func (p Pools) withDefaults() Pools {
	if len(p.Names) == 0 {
		p.Names = DefaultNames
	}
	if len(p.Locations) == 0 {
		p.Locations = DefaultLocations
	}
	if len(p.Cameras) == 0 {
		p.Cameras = DefaultCameras
	}
	return p
}

// Generator synthesizes detection records. It is not safe for concurrent use.
type Generator struct {
	pools        Pools
	rng          *rand.Rand
	next         uint64
	thumbPattern string
}

// NewGenerator creates a generator whose ids start at DET-<start>.
// A nil src seeds from the runtime's random source.
func NewGenerator(pools Pools, src rand.Source, start uint64) *Generator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{
		pools:        pools.withDefaults(),
		rng:          rand.New(src),
		next:         start,
		thumbPattern: DefaultThumbnailPattern,
	}
}

// Next returns a new record observed at now with the next id.
func (g *Generator) Next(now time.Time) detection.Record {
	n := g.next
	g.next++

	cam := g.pools.Cameras[g.rng.IntN(len(g.pools.Cameras))]
	r := detection.Record{
		ID:             fmt.Sprintf(idPrefix+"%d", n),
		Classification: detection.Valid,
		LocationLabel:  g.pools.Locations[g.rng.IntN(len(g.pools.Locations))],
		CameraID:       cam.ID,
		CameraName:     cam.Name,
		ObservedAt:     now,
		Confidence:     g.confidence(),
		ThumbnailRef:   fmt.Sprintf(g.thumbPattern, n+thumbnailSeedOffset),
		Priority:       g.priority(),
	}

	if g.rng.IntN(strangerEvery) == 0 {
		r.Classification = detection.Stranger
	} else {
		r.SubjectName = g.pools.Names[g.rng.IntN(len(g.pools.Names))]
	}

	return r
}

// NextID returns the numeric part of the next id.
func (g *Generator) NextID() uint64 {
	return g.next
}

// Seed returns n records newest-first, spaced DefaultSeedSpacing apart
// ending at now. Ids count up from DET-<DefaultSeedStart>; every fourth
// record is an unnamed stranger and locations and cameras rotate.
func (g *Generator) Seed(n int, now time.Time) []detection.Record {
	records := make([]detection.Record, 0, max(n, 0))
	for i := range n {
		cam := g.pools.Cameras[i%len(g.pools.Cameras)]
		r := detection.Record{
			ID:             fmt.Sprintf(idPrefix+"%d", DefaultSeedStart+i),
			Classification: detection.Valid,
			LocationLabel:  g.pools.Locations[i%len(g.pools.Locations)],
			CameraID:       cam.ID,
			CameraName:     cam.Name,
			ObservedAt:     now.Add(-time.Duration(i) * DefaultSeedSpacing),
			Confidence:     g.confidence(),
			ThumbnailRef:   fmt.Sprintf(g.thumbPattern, i+thumbnailSeedOffset),
			Priority:       seedPriority(i),
		}
		if i%strangerEvery == 0 {
			r.Classification = detection.Stranger
		} else {
			r.SubjectName = g.pools.Names[i%len(g.pools.Names)]
		}
		records = append(records, r)
	}
	return records
}

// NextIDAfter returns the numeric part of the first id that cannot collide
// with a DET-<n> id in records. Other ids are ignored.
func NextIDAfter(records []detection.Record) uint64 {
	next := uint64(DefaultSeedStart)
	for i := range records {
		digits, ok := strings.CutPrefix(records[i].ID, idPrefix)
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(digits, 10, 64)
		if err != nil || n == math.MaxUint64 {
			continue
		}
		next = max(next, n+1)
	}
	return next
}

// NewSource returns a deterministic source for seed, or nil when seed is 0.
func NewSource(seed uint64) rand.Source {
	if seed == 0 {
		return nil
	}
	return rand.NewPCG(seed, seed)
}

// GenerateSeed returns n seed records ending at now using the default pools.
func GenerateSeed(n int, now time.Time) []detection.Record {
	return NewGenerator(DefaultPools(), nil, DefaultSeedStart).Seed(n, now)
}

func (g *Generator) confidence() float64 {
	return math.Round(minConfidence + g.rng.Float64()*(maxConfidence-minConfidence))
}

func (g *Generator) priority() detection.Priority {
	switch v := g.rng.IntN(10); {
	case v < 2:
		return detection.PriorityHigh
	case v < 5:
		return detection.PriorityMedium
	default:
		return detection.PriorityLow
	}
}

func seedPriority(i int) detection.Priority {
	switch {
	case i%5 == 0:
		return detection.PriorityHigh
	case i%3 == 0:
		return detection.PriorityMedium
	default:
		return detection.PriorityLow
	}
}
