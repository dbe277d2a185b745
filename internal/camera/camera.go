// Package camera keeps the registry of capture points and their live status.
//
// Live status belongs to cameras, not to detection records. A camera shows
// Detected for a quiet period after its latest accepted detection and Online
// afterwards, unless an operator marked it Offline.
package camera

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/feed"
)

// DefaultQuietPeriod is how long a camera shows Detected after a detection.
const DefaultQuietPeriod = 30 * time.Second

// Camera is a capture point with an opaque stream source for the video widget.
type Camera struct {
	ID            string               `json:"id" yaml:"id" mapstructure:"id"`
	Name          string               `json:"name" yaml:"name" mapstructure:"name"`
	StreamURL     string               `json:"streamUrl,omitempty" yaml:"stream_url" mapstructure:"stream_url"`
	Status        detection.LiveStatus `json:"status" yaml:"-" mapstructure:"-"`
	LastDetection *time.Time           `json:"lastDetection,omitempty" yaml:"-" mapstructure:"-"`
	Detections    uint64               `json:"detections" yaml:"-" mapstructure:"-"`
}

// DefaultCameras returns the demo video sources.
func DefaultCameras() []Camera {
	return []Camera{
		{ID: "CAM-1", Name: "Gate 1", StreamURL: "https://www.w3schools.com/html/mov_bbb.mp4"},
		{ID: "CAM-2", Name: "Gate 2", StreamURL: "https://www.learningcontainer.com/wp-content/uploads/2020/05/sample-mp4-file.mp4"},
		{ID: "CAM-3", Name: "Lobby", StreamURL: "https://interactive-examples.mdn.mozilla.net/media/cc0-videos/flower.mp4"},
	}
}

type entry struct {
	cam     Camera
	offline bool
	last    time.Time
}

// Registry is a concurrency-safe camera registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	quiet   time.Duration
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithQuietPeriod sets how long Detected lasts after a detection.
func WithQuietPeriod(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.quiet = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry holding cams in order. Entries with an
// empty id are skipped and later duplicates replace earlier ones.
func NewRegistry(cams []Camera, opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry, len(cams)),
		quiet:   DefaultQuietPeriod,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, c := range cams {
		r.addLocked(c)
	}
	return r
}

func (r *Registry) addLocked(c Camera) *entry {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return nil
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if e, ok := r.entries[c.ID]; ok {
		e.cam.Name, e.cam.StreamURL = c.Name, c.StreamURL
		return e
	}
	e := &entry{cam: Camera{ID: c.ID, Name: c.Name, StreamURL: c.StreamURL}}
	r.entries[c.ID] = e
	r.order = append(r.order, c.ID)
	return e
}

// List returns every camera in registration order with resolved status.
func (r *Registry) List() []Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	out := make([]Camera, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.resolve(r.entries[id], now))
	}
	return out
}

// Get returns one camera.
func (r *Registry) Get(id string) (Camera, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Camera{}, notFound(id)
	}
	return r.resolve(e, r.now()), nil
}

// SetOffline marks a camera offline or brings it back online.
func (r *Registry) SetOffline(id string, offline bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return notFound(id)
	}
	e.offline = offline
	return nil
}

// SetStatus applies an operator status. Detected cannot be set directly.
func (r *Registry) SetStatus(id string, status detection.LiveStatus) error {
	switch status {
	case detection.StatusOffline:
		return r.SetOffline(id, true)
	case detection.StatusOnline:
		return r.SetOffline(id, false)
	default:
		return errors.Newf("camera status %q cannot be set manually", status).
			Component("camera").
			Category(errors.CategoryValidation).
			Context("id", id).
			Build()
	}
}

// Observe records a detection at its camera, registering unknown cameras.
// Records without a camera id are ignored.
func (r *Registry) Observe(rec *detection.Record) {
	if rec.CameraID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[rec.CameraID]
	if !ok {
		e = r.addLocked(Camera{ID: rec.CameraID, Name: rec.CameraName})
		if e == nil {
			return
		}
	}
	if rec.ObservedAt.After(e.last) {
		e.last = rec.ObservedAt
	}
	e.cam.Detections++
}

// ObserveIngest adapts Observe to feed.Service.OnIngest.
func (r *Registry) ObserveIngest(res feed.IngestResult) {
	if res.Accepted {
		r.Observe(&res.Record)
	}
}

// Len returns the number of cameras.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// IDs returns the camera ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Registry) resolve(e *entry, now time.Time) Camera {
	c := e.cam
	if !e.last.IsZero() {
		last := e.last
		c.LastDetection = &last
	}

	switch {
	case e.offline:
		c.Status = detection.StatusOffline
	case !e.last.IsZero() && now.Sub(e.last) < r.quiet:
		c.Status = detection.StatusDetected
	default:
		c.Status = detection.StatusOnline
	}
	return c
}

func notFound(id string) error {
	return errors.Newf("camera %q not found", id).
		Component("camera").
		Category(errors.CategoryNotFound).
		Context("id", id).
		Build()
}
