package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kbats183/simple-mjpeg-restreamer/pkg/registry"
	log "github.com/sirupsen/logrus"
)

type ServerConfig struct {
	Addr string
	// FrameInterval is the pause after each frame written to a viewer.
	FrameInterval time.Duration
	AuthUser      string
	AuthPass      string
}

type webServer struct {
	config   ServerConfig
	registry registry.Registry
	router   *chi.Mux
	server   *http.Server
}

func NewWebServer(config ServerConfig, registry registry.Registry) *webServer {
	if config.Addr == "" {
		config.Addr = ":6070"
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = 100 * time.Millisecond
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(loggerMiddleware())
	router.Use(middleware.Recoverer)

	streamRouter := newStreamRouter(router, registry, config.FrameInterval)
	streamRouter.Routes()
	sourcesRouter := newSourcesRouter(router, registry, BasicAuth(config.AuthUser, config.AuthPass))
	sourcesRouter.Routes()
	router.Get("/healthz", healthz)
	router.Mount("/debug", middleware.Profiler())

	return &webServer{
		config:   config,
		registry: registry,
		router:   router,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			// Viewer responses stream until the client leaves.
			WriteTimeout: 0,
		},
	}
}

func (a *webServer) Handler() http.Handler {
	return a.router
}

func (a *webServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := a.Stop(); err != nil {
			log.Printf("Error stopping web server: %v", err)
		}
	}()

	log.Printf("Starting web server on %s", a.config.Addr)
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *webServer) Stop() error {
	log.Println("Stopping web server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}
