package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/roost-sh/roost/internal/instance"
)

// createInstance handles POST /api/v1/instances
//
// Provisioning is asynchronous: the request is validated, checked
// against host capacity and queued, and the client follows the
// returned job via the jobs endpoints.
func (s *Server) createInstance(c echo.Context) error {
	var req CreateInstanceRequest

	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Details: err.Error(),
		})
	}

	if result := s.validate.ValidateStruct(req); !result.Valid {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid provisioning request",
			Details: result.Summary(),
		})
	}

	// Validation passed; normalization cannot fail now.
	tenant, _ := instance.ValidateName(req.Name)
	if req.Version == "" {
		req.Version = "latest"
	}
	version, _ := instance.ValidateVersion(req.Version)

	ctx := c.Request().Context()

	// Re-provisioning an existing tenant replaces its container and
	// consumes no extra capacity; only genuinely new tenants are
	// subject to the capacity check.
	_, findErr := s.instances.FindByTenant(ctx, tenant)
	exists := findErr == nil
	if findErr != nil && !errors.Is(findErr, instance.ErrNotFound) {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to check existing instance",
			Details: findErr.Error(),
		})
	}

	if !exists {
		cap, err := s.instances.Capacity(ctx)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "failed to determine host capacity",
				Details: err.Error(),
			})
		}
		if !cap.CanCreate {
			return ConflictError(
				"Host is at capacity",
				"No room for another instance on this host",
			)
		}
	}

	job, err := s.queue.Enqueue(ctx, tenant, version)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to queue provisioning job",
			Details: err.Error(),
		})
	}

	s.debugLog("Queued job %s for tenant %s (version %s)", job.ID, tenant, version)

	return c.JSON(http.StatusAccepted, JobAcceptedResponse{
		JobID:   job.ID,
		Tenant:  tenant,
		Version: version,
		URL:     s.instances.URL(tenant),
	})
}

// listInstances handles GET /api/v1/instances
func (s *Server) listInstances(c echo.Context) error {
	instances, err := s.instances.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to list instances",
			Details: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, InstancesResponse{
		Count:     len(instances),
		Instances: instances,
	})
}

// getInstance handles GET /api/v1/instances/:tenant
func (s *Server) getInstance(c echo.Context) error {
	tenant := c.Param("tenant")

	inst, err := s.instances.Status(c.Request().Context(), tenant)
	if err != nil {
		if errors.Is(err, instance.ErrNotFound) {
			return NotFoundError("instance", tenant)
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to inspect instance",
			Details: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, inst)
}

// deleteInstance handles DELETE /api/v1/instances/:tenant
//
// The container and its data volume are both removed.
func (s *Server) deleteInstance(c echo.Context) error {
	tenant := c.Param("tenant")

	if err := s.instances.Remove(c.Request().Context(), tenant); err != nil {
		if errors.Is(err, instance.ErrNotFound) {
			return NotFoundError("instance", tenant)
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to delete instance",
			Details: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, MessageResponse{
		Message: "instance deleted",
		Tenant:  tenant,
	})
}

// restartInstance handles POST /api/v1/instances/:tenant/restart
func (s *Server) restartInstance(c echo.Context) error {
	tenant := c.Param("tenant")

	if err := s.instances.Restart(c.Request().Context(), tenant); err != nil {
		if errors.Is(err, instance.ErrNotFound) {
			return NotFoundError("instance", tenant)
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to restart instance",
			Details: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, MessageResponse{
		Message: "instance restarted",
		Tenant:  tenant,
	})
}

// resetInstance handles POST /api/v1/instances/:tenant/reset
//
// Reset destroys the container AND its data, then rebuilds with a
// fresh encryption key. Workflows and credentials are gone afterwards.
func (s *Server) resetInstance(c echo.Context) error {
	tenant := c.Param("tenant")

	var req UpdateVersionRequest
	_ = c.Bind(&req) // body optional, defaults to latest
	if req.Version == "" {
		req.Version = "latest"
	}
	version, err := instance.ValidateVersion(req.Version)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid version",
			Details: err.Error(),
		})
	}

	id, err := s.instances.Reset(c.Request().Context(), tenant, version)
	if err != nil {
		if errors.Is(err, instance.ErrNotFound) {
			return NotFoundError("instance", tenant)
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to reset instance",
			Details: err.Error(),
		})
	}

	s.debugLog("Reset instance %s, new container %s", tenant, id)

	return c.JSON(http.StatusOK, MessageResponse{
		Message: "instance reset",
		Tenant:  tenant,
	})
}

// updateInstanceVersion handles PUT /api/v1/instances/:tenant/version
//
// The container is replaced with the new image; the data volume and
// encryption key carry over.
func (s *Server) updateInstanceVersion(c echo.Context) error {
	tenant := c.Param("tenant")

	var req UpdateVersionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Details: err.Error(),
		})
	}

	if result := s.validate.ValidateStruct(req); !result.Valid {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid version",
			Details: result.Summary(),
		})
	}
	version, _ := instance.ValidateVersion(req.Version)

	id, err := s.instances.UpdateVersion(c.Request().Context(), tenant, version)
	if err != nil {
		if errors.Is(err, instance.ErrNotFound) {
			return NotFoundError("instance", tenant)
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to update instance version",
			Details: err.Error(),
		})
	}

	s.debugLog("Updated instance %s to version %s, new container %s", tenant, version, id)

	return c.JSON(http.StatusOK, MessageResponse{
		Message: "instance updated to " + version,
		Tenant:  tenant,
	})
}
