package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/feed"
)

const (
	defaultTrendBucket = time.Hour
	minTrendBucket     = time.Minute
)

// scopedRecords returns all records, or only the visible ones for scope=visible.
func (s *Server) scopedRecords(c echo.Context) ([]detection.Record, error) {
	ctx := c.Request().Context()
	switch scope := c.QueryParam("scope"); scope {
	case "", "all":
		return s.feed.Records(ctx)
	case "visible":
		snap, err := s.feed.Snapshot(ctx)
		return snap.Visible, err
	default:
		return nil, errors.Newf("scope must be all or visible, got %q", scope).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
}

func (s *Server) getStats(c echo.Context) error {
	records, err := s.scopedRecords(c)
	if err != nil {
		return s.handleError(c, err, "failed to compute stats")
	}
	return c.JSON(http.StatusOK, feed.Summarize(records))
}

// TrendResponse holds bucketed detection counts, oldest bucket first.
type TrendResponse struct {
	Bucket  string             `json:"bucket"`
	Buckets []feed.TrendBucket `json:"buckets"`
}

func (s *Server) getTrend(c echo.Context) error {
	bucket := defaultTrendBucket
	if raw := c.QueryParam("bucket"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < minTrendBucket {
			return s.handleError(c, errors.Newf("bucket must be a duration of at least %s, got %q", minTrendBucket, raw).
				Component("api").
				Category(errors.CategoryValidation).
				Build(), "invalid bucket")
		}
		bucket = d
	}

	records, err := s.scopedRecords(c)
	if err != nil {
		return s.handleError(c, err, "failed to compute trend")
	}

	buckets := feed.Trend(records, bucket, s.cfg.Location)
	if buckets == nil {
		buckets = []feed.TrendBucket{}
	}
	return c.JSON(http.StatusOK, TrendResponse{Bucket: bucket.String(), Buckets: buckets})
}

func (s *Server) listAlerts(c echo.Context) error {
	n, err := queryInt(c, "limit", feed.DefaultRecentCount)
	if err != nil {
		return s.handleError(c, err, "invalid limit")
	}

	records, err := s.feed.Records(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "failed to read alerts")
	}
	return c.JSON(http.StatusOK, feed.Recent(records, n))
}

// listLocations returns the filter choices: All, then every stored label.
func (s *Server) listLocations(c echo.Context) error {
	records, err := s.feed.Records(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "failed to read locations")
	}
	locations := slices.Concat([]string{feed.AllLocations}, feed.Summarize(records).Locations())
	return c.JSON(http.StatusOK, locations)
}
