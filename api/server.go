// Package api exposes the crawl lifecycle and the book catalog over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mkotliar/bookcrawl/models"
	"github.com/mkotliar/bookcrawl/scraper"
	"github.com/mkotliar/bookcrawl/store"
)

// Crawler is the run lifecycle surface the server exposes.
type Crawler interface {
	Start(ctx context.Context, pages int) (models.Run, error)
	Stop(ctx context.Context) (int, error)
	Status(ctx context.Context, id uint) (models.Run, error)
	Recent(ctx context.Context, n int) ([]models.Run, error)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type startRequest struct {
	Pages int `json:"pages"`
}

type stopResponse struct {
	Stopped int `json:"stopped"`
}

// Server wraps the echo engine with crawl and catalog routes.
type Server struct {
	echo    *echo.Echo
	crawler Crawler
	store   store.Store
}

// NewServer wires routes over the given crawler and store.
func NewServer(crawler Crawler, st store.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, crawler: crawler, store: st}

	e.GET("/healthz", s.health)
	e.POST("/api/scraper/start", s.startRun)
	e.POST("/api/scraper/stop", s.stopRun)
	e.GET("/api/scraper/status", s.latestStatus)
	e.GET("/api/scraper/status/:id", s.runStatus)
	e.GET("/api/books", s.listBooks)
	e.GET("/api/books/:id", s.getBook)

	return s
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins serving on addr and blocks until shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) startRun(c echo.Context) error {
	var req startRequest
	// An empty body means "use the configured page limit".
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "invalid request body",
		}})
	}

	run, err := s.crawler.Start(c.Request().Context(), req.Pages)
	if err != nil {
		if errors.Is(err, store.ErrRunActive) {
			return c.JSON(http.StatusConflict, apiResponse{Error: &errorBody{
				Code:    "run_active",
				Message: "a crawl run is already in progress",
			}})
		}
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to start crawl run",
		}})
	}

	return c.JSON(http.StatusAccepted, apiResponse{Data: run})
}

func (s *Server) stopRun(c echo.Context) error {
	stopped, err := s.crawler.Stop(c.Request().Context())
	if err != nil {
		if errors.Is(err, scraper.ErrNoActiveRun) {
			return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
				Code:    "no_active_run",
				Message: "no crawl run is in progress",
			}})
		}
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to stop crawl run",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: stopResponse{Stopped: stopped}})
}

func (s *Server) latestStatus(c echo.Context) error {
	runs, err := s.crawler.Recent(c.Request().Context(), 10)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to load runs",
		}})
	}
	if len(runs) == 0 {
		return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
			Code:    "not_found",
			Message: "no crawl runs recorded yet",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: runs})
}

func (s *Server) runStatus(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "run id must be a positive integer",
		}})
	}

	run, err := s.crawler.Status(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
				Code:    "not_found",
				Message: "run not found",
			}})
		}
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to load run",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: run})
}

func (s *Server) listBooks(c echo.Context) error {
	books, err := s.store.ListBooks(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to load books",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: books})
}

func (s *Server) getBook(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "book id must be a positive integer",
		}})
	}

	book, err := s.store.GetBook(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
				Code:    "not_found",
				Message: "book not found",
			}})
		}
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to load book",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: book})
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}
