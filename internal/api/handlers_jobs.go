package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/roost-sh/roost/internal/events"
)

// getJobEvents handles GET /api/v1/jobs/:id/events?since=N
//
// Clients poll with the cursor from the previous response; the reply
// contains only events they have not seen plus the current phase.
func (s *Server) getJobEvents(c echo.Context) error {
	id := c.Param("id")

	var since int64
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return BadRequestError(
				"Invalid since parameter",
				"since must be a non-negative integer. Got: "+raw,
			)
		}
		since = parsed
	}

	ctx := c.Request().Context()
	evs, err := s.store.ReadSince(ctx, id, since)
	if err != nil {
		if errors.Is(err, events.ErrUnknownJob) {
			return NotFoundError("job", id)
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to read job events",
			Details: err.Error(),
		})
	}

	phase, err := s.store.Phase(ctx, id)
	if err != nil {
		if errors.Is(err, events.ErrUnknownJob) {
			return NotFoundError("job", id)
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to read job phase",
			Details: err.Error(),
		})
	}

	next := since
	if n := len(evs); n > 0 {
		next = evs[n-1].Sequence + 1
	}

	return c.JSON(http.StatusOK, JobEventsResponse{
		JobID:  id,
		Phase:  phase,
		Events: evs,
		Next:   next,
	})
}

// listActiveJobs handles GET /api/v1/jobs
func (s *Server) listActiveJobs(c echo.Context) error {
	jobs, err := s.store.ListActive(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to list active jobs",
			Details: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, JobsResponse{
		Count: len(jobs),
		Jobs:  jobs,
	})
}

// streamJobEvents handles GET /api/v1/jobs/:id/stream
//
// Server-sent events over the same cursor the polling endpoint uses.
// The stream closes once the job reaches a terminal phase or the
// client disconnects.
func (s *Server) streamJobEvents(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	// Reject unknown jobs before committing the stream headers.
	phase, err := s.store.Phase(ctx, id)
	if err != nil {
		if errors.Is(err, events.ErrUnknownJob) {
			return NotFoundError("job", id)
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "failed to read job phase",
			Details: err.Error(),
		})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return InternalError("Streaming unsupported", "response writer cannot flush")
	}

	var since int64
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		evs, err := s.store.ReadSince(ctx, id, since)
		if err != nil {
			// Terminal jobs eventually expire from the store; end the
			// stream rather than erroring mid-response.
			return nil
		}

		for _, ev := range evs {
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(res, "id: %d\nevent: progress\ndata: %s\n\n", ev.Sequence, payload)
			since = ev.Sequence + 1
		}
		if len(evs) > 0 {
			flusher.Flush()
		}

		if phase, err = s.store.Phase(ctx, id); err == nil && phase.Terminal() {
			fmt.Fprintf(res, "event: done\ndata: %q\n\n", phase)
			flusher.Flush()
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
