// Package api exposes views over HTTP: JSON commands and a Server-Sent Events
// stream of session snapshots.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/iamvkosarev/ca-study-chat/config"
	"github.com/iamvkosarev/ca-study-chat/internal/catalog"
	"github.com/iamvkosarev/ca-study-chat/internal/usecase"
)

type ServerDeps struct {
	Views   *usecase.ViewUsecase
	Catalog *catalog.Catalog
	Logger  *slog.Logger
}

type Server struct {
	ServerDeps
	cfg    config.HTTP
	router *gin.Engine

	// streams is cancelled on shutdown to end the open event streams, which
	// would otherwise keep Shutdown waiting.
	streams     context.Context
	stopStreams context.CancelFunc
}

func NewServer(cfg config.HTTP, deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), withRequestID(), withLogging(deps.Logger), withCORS())

	streams, stopStreams := context.WithCancel(context.Background())
	s := &Server{
		ServerDeps:  deps,
		cfg:         cfg,
		router:      router,
		streams:     streams,
		stopStreams: stopStreams,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully. Open
// event streams are ended first.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.stopStreams)

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server started", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http: shutdown: %w", err)
	}
	s.Logger.Info("http server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/api/catalog", s.handleCatalog)

	views := s.router.Group("/api/views")
	views.POST("", s.handleOpenView)
	views.GET("/:viewID", s.handleGetView)
	views.DELETE("/:viewID", s.handleCloseView)
	views.POST("/:viewID/messages", s.handleSubmit)
	views.PUT("/:viewID/draft", s.handleSetDraft)
	views.POST("/:viewID/suggestions/:index", s.handleUseSuggestion)
	views.GET("/:viewID/events", s.handleEvents)
	views.GET("/:viewID/chats", s.handleListChats)
	views.POST("/:viewID/chats", s.handleNewChat)
	views.PUT("/:viewID/chats/active", s.handleSelectChat)
	views.DELETE("/:viewID/chats/:chatID", s.handleDeleteChat)
	views.GET("/:viewID/preferences", s.handleGetPreferences)
	views.PATCH("/:viewID/preferences", s.handleUpdatePreferences)
	views.POST("/:viewID/syllabus", s.handleUploadSyllabus)
	views.GET("/:viewID/syllabus", s.handleGetSyllabus)
	views.DELETE("/:viewID/syllabus", s.handleDeleteSyllabus)
}
