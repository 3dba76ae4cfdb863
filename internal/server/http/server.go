package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/driftq/driftq/internal/journal"
	"github.com/driftq/driftq/internal/query"
	"github.com/driftq/driftq/pkg/log"
)

// Server serves the query and write endpoints.
type Server struct {
	queries *query.Queries
	writer  *journal.Writer
	log     log.Logger
	srv     *http.Server
}

// New builds a Server listening on addr.
func New(addr string, queries *query.Queries, writer *journal.Writer, logger log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	s := &Server{
		queries: queries,
		writer:  writer,
		log:     logger.With(log.Component("http")),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/query/pid/{id}", s.handleQueryByID)
	mux.HandleFunc("GET /v1/query/tag/{tag}", s.handleQueryByTag)
	mux.HandleFunc("POST /v1/append", s.handleAppend)
	mux.HandleFunc("POST /v1/delete", s.handleDelete)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve accepts connections on l and blocks until Shutdown or a fatal
// listener error.
func (s *Server) Serve(l net.Listener) error {
	err := s.srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", log.Str("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
