package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kbats183/simple-mjpeg-restreamer/pkg/api"
	"github.com/kbats183/simple-mjpeg-restreamer/pkg/mjpeg"
	"github.com/kbats183/simple-mjpeg-restreamer/pkg/registry"
	"github.com/kbats183/simple-mjpeg-restreamer/pkg/utils"
	log "github.com/sirupsen/logrus"
)

type streamRouter struct {
	r             chi.Router
	registry      registry.Registry
	frameInterval time.Duration
}

func newStreamRouter(router chi.Router, registry registry.Registry, frameInterval time.Duration) *streamRouter {
	return &streamRouter{
		r:             router,
		registry:      registry,
		frameInterval: frameInterval,
	}
}

func (router *streamRouter) Routes() {
	router.r.Get("/api/mjpeg-proxy/camera-video", router.getCameraVideo())
}

func (router *streamRouter) getCameraVideo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceUrl, err := api.ParseSourceUrl(r.URL.Query().Get("url"))
		if err != nil {
			handleErrors(w, err)
			return
		}

		handle, err := router.registry.Acquire(r.Context(), sourceUrl.String())
		if err != nil {
			handleErrors(w, err)
			return
		}
		defer handle.Release()

		v := newViewer(utils.GenId(), handle, w, router.frameInterval)
		v.log = v.log.WithField("request_id", middleware.GetReqID(r.Context()))
		v.log.Printf("Viewer connected")

		copyHeaders(w.Header(), handle.Headers())
		w.WriteHeader(http.StatusOK)

		err = v.sendToClient(r.Context())
		v.log.Printf("Viewer disconnected: %v", err)
	}
}

type sourcesRouter struct {
	r        chi.Router
	registry registry.Registry
	auth     func(http.Handler) http.Handler
}

func newSourcesRouter(router chi.Router, registry registry.Registry, auth func(http.Handler) http.Handler) *sourcesRouter {
	return &sourcesRouter{
		r:        router,
		registry: registry,
		auth:     auth,
	}
}

func (router *sourcesRouter) Routes() {
	router.r.Route("/api/sources", func(r chi.Router) {
		r.Use(router.auth)
		r.Use(ContentTypeJson)
		r.Get("/", router.getSources())
		r.Get("/status", router.getSourceStatus())
	})
}

func (router *sourcesRouter) getSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := router.registry.GetSources()
		if err != nil {
			handleErrors(w, err)
			return
		}
		if err := json.NewEncoder(w).Encode(sources); err != nil {
			handleErrors(w, err)
			return
		}
	}
}

func (router *sourcesRouter) getSourceStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := router.registry.GetStatus(r.URL.Query().Get("url"))
		if err != nil {
			handleErrors(w, err)
			return
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			handleErrors(w, err)
			return
		}
	}
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{OK: true})
}

func JSONError(w http.ResponseWriter, error string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{error}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func handleErrors(w http.ResponseWriter, err error) {
	const logFormat = "fatal: %+v\n"
	var connErr *mjpeg.SourceConnectionError
	var notFound registry.SourceNotFound
	switch {
	case errors.As(err, &connErr):
		log.Printf("Source connection failed: %v", err)
		JSONError(w, "SOURCE_CONNECTION_FAIL", http.StatusBadGateway)
	case errors.Is(err, api.ErrInvalidSourceUrl):
		JSONError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &notFound):
		JSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, registry.ErrRegistryClosed):
		JSONError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		log.Printf(logFormat, err)
		JSONError(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
