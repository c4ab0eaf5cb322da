package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	server *http.Server
}

// NewServer поднимает /health, /metrics и, если задан webhook, POST /yookassa
func NewServer(addr string, webhook http.Handler) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           Router(webhook),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func Router(webhook http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	if webhook != nil {
		r.Method(http.MethodPost, "/yookassa", webhook)
	}
	return r
}

func (s *Server) Start() error {
	slog.Info("HTTP сервер запущен", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
