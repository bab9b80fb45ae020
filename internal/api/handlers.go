package api

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/kitsync/internal/mocksignal"
	"github.com/opensandbox/kitsync/pkg/types"
)

func (s *Server) health(c echo.Context) error {
	resp := map[string]any{
		"status": "ok",
		"kit_id": s.opts.KitID,
	}
	if s.opts.Channel != nil {
		resp["channel"] = s.opts.Channel.Connected()
	}
	if s.opts.Broker != nil {
		resp["databroker"] = s.opts.Broker.Connected()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) runtime(c echo.Context) error {
	info := s.opts.Runtime.RuntimeInfo()
	counts := s.opts.Runtime.RuntimeCount()
	return c.JSON(http.StatusOK, map[string]any{
		"kit_id":            s.opts.KitID,
		"noOfRunner":        counts.Runners,
		"noOfApiSubscriber": counts.Subscribers,
		"lsOfRunner":        info.Runners,
		"lsOfApiSubscriber": info.Subscribers,
	})
}

func (s *Server) listSignals(c echo.Context) error {
	entries, err := s.opts.Signals.Store().Load()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, entries)
}

// signalsResponse reports a synchronizer outcome.
type signalsResponse struct {
	Signals   []types.MockSignal `json:"signals,omitempty"`
	Added     []string           `json:"added"`
	Skipped   []skipJSON         `json:"skipped"`
	Restarted bool               `json:"restarted"`
}

type skipJSON struct {
	Signal string `json:"signal"`
	Reason string `json:"reason"`
}

func toResponse(stored []types.MockSignal, out mocksignal.Outcome) signalsResponse {
	resp := signalsResponse{
		Signals:   stored,
		Added:     append([]string{}, out.Added...),
		Skipped:   []skipJSON{},
		Restarted: out.Restarted,
	}
	for _, sk := range out.Skipped {
		resp.Skipped = append(resp.Skipped, skipJSON{Signal: sk.Path, Reason: sk.Reason})
	}
	return resp
}

func (s *Server) replaceSignals(c echo.Context) error {
	var entries []types.MockSignal
	if err := c.Bind(&entries); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}

	stored, out, err := s.opts.Signals.Replace(c.Request().Context(), entries)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, toResponse(stored, out))
}

func (s *Server) offerSignals(c echo.Context) error {
	var req struct {
		Signals []string `json:"signals"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}

	out, err := s.opts.Signals.Offer(c.Request().Context(), req.Signals)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, toResponse(nil, out))
}

func (s *Server) listRuns(c echo.Context) error {
	if s.opts.Runs == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "run history is disabled",
		})
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
		}
		limit = n
	}

	runs, err := s.opts.Runs.Recent(limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, runs)
}

// runCommand feeds a command envelope to the dispatcher as if it arrived
// from the kit server. Replies still go to the kit server.
func (s *Server) runCommand(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 16<<20))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read body: " + err.Error(),
		})
	}
	status := s.opts.Runtime.Handle(context.WithoutCancel(c.Request().Context()), body)
	return c.JSON(http.StatusOK, map[string]int{"status": status})
}
