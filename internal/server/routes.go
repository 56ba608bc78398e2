package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	markup2pdf "github.com/alnah/go-markup2pdf"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(forwardedFor(s.proxies))
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	r.Handle("/output/*", http.StripPrefix("/output/", noDirListing(http.FileServer(http.Dir(s.cfg.Server.OutputDir)))))

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}

		r.Post("/convert-html", s.handleConvertText(markup2pdf.ContentHTML, markup2pdf.FormatPDF))
		r.Post("/convert-svg", s.handleConvertText(markup2pdf.ContentSVG, markup2pdf.FormatPNG))
		r.Post("/convert-file", s.handleConvertFileText("htmlFile", markup2pdf.ContentHTML, markup2pdf.FormatPDF))
		r.Post("/convert-svg-file", s.handleConvertFileText("svgFile", markup2pdf.ContentSVG, markup2pdf.FormatPNG))

		r.Route("/api", func(r chi.Router) {
			r.Use(s.gates.middleware)
			r.Post("/convert", s.handleConvertJSON(deliverAttachment))
			r.Post("/convert/url", s.handleConvertJSON(deliverLink))
			r.Post("/convert/file", s.handleConvertUpload(deliverAttachment))
			r.Post("/convert/file/url", s.handleConvertUpload(deliverLink))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	return r
}

// noDirListing hides directory indexes of the output directory.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		InFlight:       s.conv.InFlight(),
		MaxConcurrency: s.conv.MaxConcurrency(),
	})
}

type healthResponse struct {
	Status         string `json:"status"`
	InFlight       int    `json:"inFlight"`
	MaxConcurrency int    `json:"maxConcurrency"`
}
