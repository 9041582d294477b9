package server

import (
	"context"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelpanel/internal/backend"
	"modelpanel/internal/common/config"
	"modelpanel/internal/common/logger"
	"modelpanel/internal/discussion"
	"modelpanel/internal/search"
	"modelpanel/internal/store"
)

// Server wires the manager, searcher and stores behind a fiber app.
type Server struct {
	app      *fiber.App
	manager  *Manager
	searcher *search.Searcher
	registry *backend.Registry
	cache    *store.SnapshotCache
	archive  *store.Archive
	cfg      config.ServerConfig
	logger   logger.Logger
}

// Options carries the optional persistence backends; nil disables
// them.
type Options struct {
	Cache   *store.SnapshotCache
	Archive *store.Archive
}

func New(manager *Manager, searcher *search.Searcher, registry *backend.Registry, cfg config.ServerConfig, log logger.Logger, opts Options) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  config.GetDuration(cfg.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.WriteTimeout),
	})

	s := &Server{
		app:      app,
		manager:  manager,
		searcher: searcher,
		registry: registry,
		cache:    opts.Cache,
		archive:  opts.Archive,
		cfg:      cfg,
		logger:   log.With(map[string]interface{}{"component": "server"}),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.app.Group("/api")

	api.Get("/health", s.handleHealth)
	api.Get("/backends", s.handleBackends)

	api.Post("/discussions", s.handleStartDiscussion)
	// Static segment must register before the :id parameter.
	api.Get("/discussions/archive", s.handleListArchive)
	api.Get("/discussions/:id", s.handleGetDiscussion)
	api.Delete("/discussions/:id", s.handleClearDiscussion)
	api.Get("/discussions/:id/export", s.handleExportDiscussion)

	api.Post("/search", s.handleSearch)

	s.app.Get("/ws/discussions/:id", wsUpgrade, websocket.New(s.handleWatchDiscussion))

	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// Listen blocks serving the configured address.
func (s *Server) Listen() error {
	s.logger.Info("server listening", map[string]interface{}{"address": s.cfg.Address})
	return s.app.Listen(s.cfg.Address)
}

// Shutdown drains in-flight requests within the configured deadline.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(config.GetDuration(s.cfg.ShutdownTimeout))
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleBackends(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"backends": s.registry.IDs()})
}

type startDiscussionRequest struct {
	Question     string                          `json:"question"`
	Participants []discussion.ParticipantProfile `json:"participants"`
}

type startDiscussionResponse struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleStartDiscussion(c *fiber.Ctx) error {
	var req startDiscussionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	for _, p := range req.Participants {
		if _, err := s.registry.Lookup(p.Backend); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
		}
	}

	// The discussion outlives this request; fasthttp recycles the
	// request context, so the run must not inherit it.
	id, err := s.manager.Start(context.Background(), req.Question, req.Participants)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(startDiscussionResponse{SessionID: id})
}

func (s *Server) handleGetDiscussion(c *fiber.Ctx) error {
	session, err := s.manager.Session(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: err.Error()})
	}
	return c.JSON(session)
}

func (s *Server) handleClearDiscussion(c *fiber.Ctx) error {
	if err := s.manager.Clear(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleExportDiscussion serves the snapshot, persisting it to the
// configured stores on the way out.
func (s *Server) handleExportDiscussion(c *fiber.Ctx) error {
	id := c.Params("id")

	snap, err := s.manager.Export(id)
	if err != nil {
		// Fall back to the archive for sessions no longer in memory.
		if s.archive != nil {
			if archived, archiveErr := s.archive.Load(c.Context(), id); archiveErr == nil {
				return c.JSON(archived)
			}
		}
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: err.Error()})
	}

	if s.cache != nil {
		if err := s.cache.Put(c.Context(), snap); err != nil {
			s.logger.Warn("snapshot cache write failed", map[string]interface{}{"session": id, "error": err.Error()})
		}
	}
	if s.archive != nil {
		if err := s.archive.Save(c.Context(), snap); err != nil {
			s.logger.Warn("snapshot archive write failed", map[string]interface{}{"session": id, "error": err.Error()})
		}
	}
	return c.JSON(snap)
}

func (s *Server) handleListArchive(c *fiber.Ctx) error {
	if s.archive == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(errorResponse{Error: "archive is not configured"})
	}
	summaries, err := s.archive.List(c.Context(), c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}
	if summaries == nil {
		summaries = []store.SnapshotSummary{}
	}
	return c.JSON(fiber.Map{"snapshots": summaries})
}

type searchRequest struct {
	Query    string   `json:"query"`
	N        int      `json:"n"`
	Backends []string `json:"backends"`
	Mode     string   `json:"mode"`
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	var req searchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}

	mode := search.ModeSelf
	if req.Mode != "" {
		var err error
		if mode, err = search.ParseMode(req.Mode); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
		}
	}

	backends := make([]backend.ID, 0, len(req.Backends))
	for _, b := range req.Backends {
		id := backend.ID(b)
		if _, err := s.registry.Lookup(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
		}
		backends = append(backends, id)
	}
	if len(backends) == 0 {
		backends = s.registry.IDs()
	}

	result, err := s.searcher.Search(c.Context(), req.Query, req.N, backends, mode)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}
	return c.JSON(result)
}

func wsUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// handleWatchDiscussion streams turn records to a websocket client
// until the discussion completes or the client disconnects.
func (s *Server) handleWatchDiscussion(c *websocket.Conn) {
	defer func() { _ = c.Close() }()

	id := c.Params("id")
	ch, cancel, err := s.manager.Watch(id)
	if err != nil {
		_ = c.WriteJSON(errorResponse{Error: err.Error()})
		return
	}
	defer cancel()

	// Reader goroutine notices client disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case record, ok := <-ch:
			if !ok {
				_ = c.WriteJSON(fiber.Map{"event": "completed", "sessionId": id})
				return
			}
			if err := c.WriteJSON(fiber.Map{"event": "turn", "record": record}); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
