// Package server exposes the mosaic tools over HTTP with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hips-mosaic/internal/catalog"
	"hips-mosaic/internal/downloads"
	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/hips"
	"hips-mosaic/internal/pipeline"
	"hips-mosaic/internal/report"
	"hips-mosaic/internal/sky"
	"hips-mosaic/internal/taskqueue"
)

// Server manages the HTTP API
type Server struct {
	pipeline *pipeline.Pipeline
	client   *hips.Client
	queue    *taskqueue.QueueManager
	router   *gin.Engine

	httpServer *http.Server
	serverURL  string
}

// New creates a server. queue may be nil, which disables asynchronous runs.
func New(p *pipeline.Pipeline, client *hips.Client, queue *taskqueue.QueueManager) *Server {
	if client == nil {
		client = hips.NewClient(p.Settings().TileTimeout(), nil)
	}
	s := &Server{pipeline: p, client: client, queue: queue}
	s.router = s.setupRouter()
	return s
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler {
	return s.router
}

// URL returns the base URL once Start has bound a port.
func (s *Server) URL() string {
	return s.serverURL
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), loggerMiddleware(), corsMiddleware())

	r.GET("/health", s.health)

	api := r.Group("/api/v1")
	{
		api.GET("/surveys", s.listSurveys)
		api.GET("/targets", s.listTargets)
		api.GET("/pixel", s.pixelInfo)
		api.GET("/grid", s.gridInfo)
		api.GET("/tiles/:survey/:order/:pixel", s.tile)

		api.POST("/mosaics", s.createMosaic)

		runs := api.Group("/runs")
		{
			runs.GET("", s.listRuns)
			runs.GET("/:id", s.getRun)
		}

		tasks := api.Group("/tasks")
		{
			tasks.GET("", s.listTasks)
			tasks.GET("/:id", s.getTask)
			tasks.DELETE("/:id", s.deleteTask)
		}
	}
	return r
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in the
// background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.serverURL = fmt.Sprintf("http://%s", listener.Addr().String())
	log.Printf("[Server] Listening on %s", s.serverURL)

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Server] Stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// statusFor maps pipeline errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrUnknownTarget),
		errors.Is(err, report.ErrRunNotFound),
		errors.Is(err, taskqueue.ErrTaskNotFound),
		errors.Is(err, hips.ErrTileNotFound):
		return http.StatusNotFound
	case errors.Is(err, hips.ErrUnknownSurvey),
		errors.Is(err, hips.ErrOrderTooDeep),
		errors.Is(err, pipeline.ErrNoTarget),
		errors.Is(err, sky.ErrUnparseable),
		errors.Is(err, sky.ErrInvalidDeclination),
		errors.Is(err, healpix.ErrInvalidOrder),
		errors.Is(err, healpix.ErrPixelOutOfRange),
		errors.Is(err, downloads.ErrInvalidGrid):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNoTiles),
		errors.Is(err, hips.ErrRateLimited):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
