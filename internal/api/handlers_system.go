package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// getCapacity handles GET /api/v1/capacity
func (s *Server) getCapacity(c echo.Context) error {
	cap, err := s.instances.Capacity(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to determine host capacity",
			Details: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, cap)
}

// listVersions handles GET /api/v1/versions
//
// The catalog is fetched from the image registry when configured and
// degrades to the static list from config on any failure.
func (s *Server) listVersions(c echo.Context) error {
	versions := s.versions.List(c.Request().Context())

	return c.JSON(http.StatusOK, VersionsResponse{
		Versions: versions,
		Default:  versions[0],
	})
}

// previewCleanup handles GET /api/v1/cleanup/preview
func (s *Server) previewCleanup(c echo.Context) error {
	candidates, err := s.reaper.Preview(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to preview cleanup",
			Details: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, CleanupPreviewResponse{
		MaxAgeDays: s.config.Reaper.MaxAgeDays,
		Candidates: candidates,
	})
}

// runCleanup handles POST /api/v1/cleanup/run
//
// Triggers a sweep immediately instead of waiting for the next tick.
func (s *Server) runCleanup(c echo.Context) error {
	result, err := s.reaper.Sweep(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "cleanup sweep failed",
			Details: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, result)
}
