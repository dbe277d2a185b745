package api

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/feed"
)

// SelectionRequest is the body of PUT /selection.
type SelectionRequest struct {
	ID string `json:"id"`
}

// SelectionResponse describes the current selection.
type SelectionResponse struct {
	SelectedID string            `json:"selectedId"`
	Record     *detection.Record `json:"record"`
}

// FilterResponse describes the criteria and how many records they show.
type FilterResponse struct {
	Criteria feed.Criteria `json:"criteria"`
	Visible  int           `json:"visible"`
	Total    int           `json:"total"`
}

// RecordsResponse lists records newest-first.
type RecordsResponse struct {
	Records []detection.Record `json:"records"`
	Count   int                `json:"count"`
	Total   int                `json:"total"`
}

func (s *Server) getFeed(c echo.Context) error {
	snap, err := s.feed.Snapshot(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "failed to read feed")
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) listRecords(c echo.Context) error {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return s.handleError(c, err, "invalid limit")
	}

	records, err := s.feed.Records(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "failed to read records")
	}

	total := len(records)
	if limit > 0 {
		records = feed.Recent(records, limit)
	}
	return c.JSON(http.StatusOK, RecordsResponse{Records: records, Count: len(records), Total: total})
}

func (s *Server) getRecord(c echo.Context) error {
	id := c.Param("id")
	records, err := s.feed.Records(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "failed to read records")
	}

	i := slices.IndexFunc(records, func(r detection.Record) bool { return r.ID == id })
	if i < 0 {
		return s.handleError(c, errors.Newf("record %q not found", id).
			Component("api").
			Category(errors.CategoryNotFound).
			Build(), "record not found")
	}
	return c.JSON(http.StatusOK, records[i])
}

func (s *Server) getSelection(c echo.Context) error {
	snap, err := s.feed.Snapshot(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "failed to read selection")
	}
	return c.JSON(http.StatusOK, SelectionResponse{SelectedID: snap.SelectedID, Record: snap.Selected})
}

func (s *Server) putSelection(c echo.Context) error {
	var req SelectionRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, err, "invalid selection request")
	}
	if err := s.feed.Select(c.Request().Context(), req.ID); err != nil {
		return s.handleError(c, err, "selection not changed")
	}
	return s.getSelection(c)
}

func (s *Server) deleteSelection(c echo.Context) error {
	if err := s.feed.Select(c.Request().Context(), ""); err != nil {
		return s.handleError(c, err, "selection not cleared")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getFilter(c echo.Context) error {
	snap, err := s.feed.Snapshot(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "failed to read filter")
	}
	return c.JSON(http.StatusOK, FilterResponse{Criteria: snap.Criteria, Visible: len(snap.Visible), Total: snap.Total})
}

// patchFilter applies a partial update. Invalid fields are rejected with 400
// while valid fields in the same request still apply.
func (s *Server) patchFilter(c echo.Context) error {
	var u feed.FilterUpdate
	if err := c.Bind(&u); err != nil {
		return s.handleError(c, err, "invalid filter request")
	}
	if err := s.feed.SetFilter(c.Request().Context(), u); err != nil {
		return s.handleError(c, err, "filter not fully applied")
	}
	return s.getFilter(c)
}

func (s *Server) deleteFilter(c echo.Context) error {
	if err := s.feed.ResetFilter(c.Request().Context()); err != nil {
		return s.handleError(c, err, "filter not reset")
	}
	return s.getFilter(c)
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Newf("%s must be a non-negative integer, got %q", name, raw).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return n, nil
}
