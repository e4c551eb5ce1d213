package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/finsight/api/mcp"
	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/rag"
)

// Server is the API server over a rag.Service.
type Server struct {
	config Config
	svc    *rag.Service
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server. The service is owned by the caller and
// outlives the server.
func NewServer(config Config, svc *rag.Service, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("rag service is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		svc:    svc,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Get("/status", s.handleStatus)
	v1.Post("/retrieve", s.handleRetrieve)
	v1.Get("/search", s.handleSearch)
	v1.Get("/categories/:name/search", s.scopedSearch(document.KeyCategory))
	v1.Get("/sources/:name/search", s.scopedSearch(document.KeySource))
	v1.Get("/suggestions", s.handleSuggestions)
	v1.Post("/ask", s.handleAsk)
	v1.Post("/insights", s.handleInsights)

	v1.Post("/documents", s.handleAddDocuments)
	v1.Get("/documents", s.handleListDocuments)
	v1.Get("/documents/:id", s.handleGetDocument)
	v1.Patch("/documents/:id", s.handleUpdateDocument)
	v1.Delete("/documents/:id", s.handleDeleteDocument)
	v1.Get("/summary", s.handleSummary)
	v1.Get("/jobs/:id", s.handleJob)
	v1.Post("/reconcile", s.handleReconcile)

	if !config.DisableMCP {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Service: svc,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		app.All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Handler exposes the server as a net/http handler.
func (s *Server) Handler() http.Handler {
	return adaptor.FiberApp(s.app)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
