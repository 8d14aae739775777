package web

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/familiar-faces/internal/web/handlers"
	"github.com/kozaktomas/familiar-faces/internal/web/middleware"
	"github.com/kozaktomas/familiar-faces/internal/web/static"
)

func (s *Server) setupRoutes() {
	d := s.deps

	healthHandler := handlers.NewHealthHandler(d.Store, d.Session, d.Backend)
	personsHandler := handlers.NewPersonsHandler(d.Store, d.Detector, s.config.Storage.PersonImageDir)
	recognizeHandler := handlers.NewRecognizeHandler(d.Store, d.Matcher, d.Detector,
		s.config.Recognition.DetectionConfidenceThreshold)

	var sessionHandler *handlers.SessionHandler
	var cooldownHandler *handlers.CooldownHandler
	if d.Session != nil {
		sessionHandler = handlers.NewSessionHandler(d.Session)
		cooldownHandler = handlers.NewCooldownHandler(d.Session.Gate())
	}

	// Health check (no auth required)
	s.router.Get("/api/v1/health", healthHandler.Check)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Server-sent events must not be cut by the request timeout.
		r.Get("/events", d.Events.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(2 * time.Minute))

			r.Get("/persons", personsHandler.List)
			r.Get("/persons/{id}", personsHandler.Get)
			r.Post("/recognize", recognizeHandler.Recognize)

			if d.Session != nil {
				r.Get("/session", sessionHandler.Get)
				r.Get("/cooldown/{id}", cooldownHandler.Get)
			}

			// Everything below changes state
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireToken(s.config.Web.APIToken))

				r.Post("/persons", personsHandler.Create)
				r.Post("/persons/image", personsHandler.CreateFromImage)
				r.Put("/persons/{id}", personsHandler.Update)
				r.Delete("/persons/{id}", personsHandler.Delete)
				r.Post("/persons/{id}/embeddings", personsHandler.AddEmbedding)
				r.Post("/persons/{id}/images", personsHandler.AddImage)

				if d.Session != nil {
					r.Delete("/cooldown/{id}", cooldownHandler.Reset)
					r.Delete("/cooldown", cooldownHandler.Clear)
				}
			})
		})
	})

	// Live monitor page
	s.router.Get("/*", serveMonitor)
}

// serveMonitor serves the embedded monitor page and its assets.
func serveMonitor(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	f, err := static.GetFileSystem().Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		http.NotFound(w, r)
		return
	}

	contentType := "application/octet-stream"
	switch {
	case strings.HasSuffix(path, ".html"):
		contentType = "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".css"):
		contentType = "text/css; charset=utf-8"
	case strings.HasSuffix(path, ".js"):
		contentType = "application/javascript; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}
