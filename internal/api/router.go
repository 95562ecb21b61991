package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voxd/voxd/internal/config"
	"github.com/voxd/voxd/internal/session"
	"github.com/voxd/voxd/internal/websocket"
	"github.com/voxd/voxd/pkg/logger"
)

// Router wires the API handlers into a chi mux
type Router struct {
	handler *Handler
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(service *session.Service, devices DeviceLister, tester ConnectionTester, config *config.Config, log *logger.Logger, wsServer *websocket.Server) *Router {
	return &Router{
		handler: NewHandler(service, devices, tester, config, log, wsServer),
		logger:  log.Named("api-router"),
	}
}

// Routes returns the HTTP handler with all routes registered
func (r *Router) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(r.requestLogger)

	mux.Route("/api/v1", func(mux chi.Router) {
		mux.Route("/dictation", func(mux chi.Router) {
			mux.Post("/start", r.handler.StartDictation)
			mux.Post("/stop", r.handler.StopDictation)
			mux.Post("/cancel", r.handler.CancelDictation)
		})

		mux.Route("/capture", func(mux chi.Router) {
			mux.Post("/start", r.handler.StartCapture)
			mux.Post("/stop", r.handler.StopCapture)
		})

		mux.Get("/status", r.handler.GetStatus)
		mux.Get("/history", r.handler.GetHistory)
		mux.Get("/devices", r.handler.GetDevices)
		mux.Post("/settings/test-connection", r.handler.TestConnection)

		mux.Get("/ws", r.handler.HandleWebSocket)
	})

	return mux
}

// requestLogger logs each request with method, path, and duration
func (r *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

		next.ServeHTTP(ww, req)

		r.logger.Debug("Request handled",
			logger.String("method", req.Method),
			logger.String("path", req.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)))
	})
}
