package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/memory"
)

func (s *Server) handleIndexMemory(c echo.Context) error {
	var body IndexMemoryRequest
	if err := c.Bind(&body); err != nil {
		s.logger.Warn("invalid index request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req := &memory.IndexRequest{
		Key:      body.Key,
		Value:    body.Value,
		Category: body.Category,
		TaskID:   body.TaskID,
		TTL:      time.Duration(body.TTLSeconds) * time.Second,
	}
	entry, err := s.memory.Index(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, entry)
}

func (s *Server) handleSearchMemory(c echo.Context) error {
	var body SearchMemoryRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid search request")
	}
	if body.Category != "" && !body.Category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown category "+string(body.Category))
	}
	if body.Limit < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must not be negative")
	}

	entries, err := s.memory.Search(c.Request().Context(), memory.Query{
		Text:     body.Query,
		Category: body.Category,
		TaskID:   body.TaskID,
		Limit:    body.Limit,
	})
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []*memory.Entry{}
	}
	return ok(c, http.StatusOK, entries)
}

func (s *Server) handleGetMemory(c echo.Context) error {
	entry, err := s.memory.Get(c.Request().Context(), c.Param("key"))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, entry)
}

func (s *Server) handleDeleteMemory(c echo.Context) error {
	key := c.Param("key")
	if err := s.memory.Delete(c.Request().Context(), key); err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]string{"deleted": key})
}

func (s *Server) handleMemoryStats(c echo.Context) error {
	stats, err := s.memory.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	memory.UpdateEntryMetrics(stats)
	return ok(c, http.StatusOK, stats)
}

func (s *Server) handleCleanupMemory(c echo.Context) error {
	removed, err := s.memory.CleanupExpired(c.Request().Context())
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, CleanupResponse{Removed: removed})
}

func (s *Server) handleSnapshot(c echo.Context) error {
	owner := c.QueryParam("owner")
	if owner == "" {
		owner = "api"
	}
	snap, err := s.memory.Snapshot(c.Request().Context(), owner)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, snap)
}
