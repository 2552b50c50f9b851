package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/alfredhq/alfred/internal/ai"
	"github.com/alfredhq/alfred/internal/chat"
	"github.com/alfredhq/alfred/internal/config"
	"github.com/alfredhq/alfred/internal/database"
	"github.com/alfredhq/alfred/internal/memory"
	"github.com/alfredhq/alfred/internal/user"
	"github.com/alfredhq/alfred/internal/ws"
	"github.com/go-chi/chi/v5"
)

// Server is the main application server.
type Server struct {
	config   *config.Config
	router   *chi.Mux
	hub      *ws.Hub
	db       *sql.DB
	dbDriver *database.SQLiteDriver
	memory   *memory.Service
	users    *user.Store
	chat     *chat.Store
}

// New creates a new Server instance.
func New(cfg *config.Config) (*Server, error) {
	driver, err := database.NewSQLiteDriver(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := driver.Initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	db := driver.DB()
	log.Printf("[INFO] Connected to SQLite database: %s", cfg.DatabasePath)

	embedder := ai.NewEmbedder(cfg.EmbedURL, cfg.EmbedModel, cfg.EmbedTimeout)
	store := memory.NewStore(db, embedder)
	memoryService := memory.NewService(store, memory.NewClassifier(nil))

	hub := ws.NewHub()
	go hub.Run()

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		hub:      hub,
		db:       db,
		dbDriver: driver,
		memory:   memoryService,
		users:    user.NewStore(db),
		chat:     chat.NewStore(db),
	}

	s.setupRoutes()

	return s, nil
}

// Router returns the HTTP router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.dbDriver != nil {
		if err := s.dbDriver.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
