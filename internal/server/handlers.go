package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/srinidhi621/knowledge-atlas/internal/agent/core"
	"github.com/srinidhi621/knowledge-atlas/internal/synthesis"
	"github.com/srinidhi621/knowledge-atlas/models"
)

type askRequest struct {
	Query           string `json:"query"`
	NotebookSummary string `json:"notebook_summary,omitempty"`
	PriorTraceID    string `json:"prior_trace_id,omitempty"`
}

type askResponse struct {
	Answer     string            `json:"answer"`
	Citations  []models.Citation `json:"citations"`
	References []string          `json:"references,omitempty"`
	TraceID    string            `json:"trace_id"`
	Outcome    models.Outcome    `json:"outcome"`
	Warnings   []string          `json:"warnings,omitempty"`
}

type runErrorResponse struct {
	Error    string   `json:"error"`
	Stage    string   `json:"stage,omitempty"`
	TraceID  string   `json:"trace_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ask runs one question against a notebook.
//
//	POST /api/notebooks/:id/ask {"query": "...", "prior_trace_id": "..."}
func (s *Server) ask(c echo.Context) error {
	var body askRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json body")
	}
	nb := models.Notebook{ID: c.Param("id"), Description: strings.TrimSpace(body.NotebookSummary)}

	resp, err := s.agent.Ask(c.Request().Context(), core.Request{
		Query:        body.Query,
		Notebook:     nb,
		PriorTraceID: strings.TrimSpace(body.PriorTraceID),
	})
	for _, w := range resp.Warnings {
		s.logger.Warn("run warning", zap.String("trace_id", resp.TraceID), zap.Error(w))
	}
	if err != nil {
		return s.runError(c, resp, err)
	}
	citations := resp.Citations
	if citations == nil {
		citations = []models.Citation{}
	}
	return c.JSON(http.StatusOK, askResponse{
		Answer:     resp.Answer,
		Citations:  citations,
		References: synthesis.FormatCitations(citations),
		TraceID:    resp.TraceID,
		Outcome:    resp.Outcome,
		Warnings:   resp.WarningMessages(),
	})
}

func (s *Server) runError(c echo.Context, resp core.Response, err error) error {
	var runErr *core.RunError
	if !errors.As(err, &runErr) {
		return err
	}
	code := http.StatusUnprocessableEntity
	switch {
	case runErr.Stage == core.StageRequest || errors.Is(err, core.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		code = 499
	}
	s.logger.Info("run failed", zap.String("trace_id", runErr.TraceID), zap.String("stage", string(runErr.Stage)), zap.Error(runErr.Err))
	return c.JSON(code, runErrorResponse{
		Error:    runErr.Err.Error(),
		Stage:    string(runErr.Stage),
		TraceID:  runErr.TraceID,
		Warnings: resp.WarningMessages(),
	})
}

// getTrace returns a sealed trace, or the journal replay of a run that never sealed one.
func (s *Server) getTrace(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	t, err := s.agent.Trace(ctx, id)
	if errors.Is(err, core.ErrInvalidRequest) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, core.ErrTraceNotFound) {
		recovered, rerr := s.agent.Recover(ctx, id)
		if rerr != nil {
			if errors.Is(rerr, core.ErrTraceNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "trace not found")
			}
			return rerr
		}
		c.Response().Header().Set("X-Trace-Recovered", "true")
		return c.JSON(http.StatusOK, recovered)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// listTraces returns a notebook's runs, newest first. ?limit= caps the page (default 50).
func (s *Server) listTraces(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	out, err := s.agent.ListTraces(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	if out == nil {
		out = []core.TraceSummary{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"traces": out})
}
