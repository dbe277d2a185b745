package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/madello/paarvai/internal/detection"
)

// CameraStatusRequest is the body of PUT /cameras/:id/status.
type CameraStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) listCameras(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cameras.List())
}

func (s *Server) getCamera(c echo.Context) error {
	cam, err := s.cameras.Get(c.Param("id"))
	if err != nil {
		return s.handleError(c, err, "camera not found")
	}
	return c.JSON(http.StatusOK, cam)
}

func (s *Server) putCameraStatus(c echo.Context) error {
	var req CameraStatusRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, err, "invalid status request")
	}
	status, err := detection.ParseLiveStatus(req.Status)
	if err != nil {
		return s.handleError(c, err, "invalid camera status")
	}

	id := c.Param("id")
	if err := s.cameras.SetStatus(id, status); err != nil {
		return s.handleError(c, err, "camera status not changed")
	}
	return s.getCamera(c)
}
