// Package rest serves the read-only HTTP API. It reads the persistence
// layer through the ui data builder and never calls the master, so heavy UI
// traffic cannot slow the write path down.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pinterest/pinball/internal/log"
	"github.com/pinterest/pinball/internal/ui"
	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/storage"
)

type Server struct {
	addr    string
	builder *ui.DataBuilder
	store   storage.TokenReader
	archive storage.ArchiveReader
	// Status reports daemon state for /system/status.
	status func() any
	server *http.Server
}

func NewServer(addr string, builder *ui.DataBuilder, store storage.TokenReader, archive storage.ArchiveReader, status func() any) *Server {
	r := chi.NewRouter()
	s := &Server{
		addr:    addr,
		builder: builder,
		store:   store,
		archive: archive,
		status:  status,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              addr,
		},
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/workflows", s.getWorkflows)
		r.Get("/workflows/{workflow}/instances", s.getInstances)
		r.Get("/workflows/{workflow}/instances/{instance}/jobs", s.getJobs)
		r.Get("/workflows/{workflow}/instances/{instance}/jobs/{job}/executions", s.getExecutions)
		r.Get("/tokens", s.getTokens)
	})
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/status", s.getStatus)
	})
	return s
}

func (s *Server) Start() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	log.Info("read-only HTTP server listening on %s", s.addr)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server stopped: %s", err)
		}
	}()
	return listener, nil
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Error("stopping HTTP server: %s", err)
	}
}

func (s *Server) getWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.builder.Workflows(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, workflows)
}

func (s *Server) getInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.builder.Instances(r.Context(), chi.URLParam(r, "workflow"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, instances)
}

func (s *Server) getJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.builder.Jobs(r.Context(),
		chi.URLParam(r, "workflow"), chi.URLParam(r, "instance"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, jobs)
}

func (s *Server) getExecutions(w http.ResponseWriter, r *http.Request) {
	executions, err := s.builder.Executions(r.Context(),
		chi.URLParam(r, "workflow"), chi.URLParam(r, "instance"), chi.URLParam(r, "job"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, executions)
}

// getTokens lists raw tokens under a prefix, from the live namespace or the
// archive when the prefix points there.
func (s *Server) getTokens(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		http.Error(w, "prefix query parameter is required", http.StatusBadRequest)
		return
	}
	var tokens []*api.Token
	var err error
	if len(prefix) >= len(api.ArchivePrefix) && prefix[:len(api.ArchivePrefix)] == api.ArchivePrefix {
		tokens, err = s.archive.ReadArchivedTokens(r.Context(), prefix)
	} else {
		tokens, err = s.store.ReadActiveTokens(r.Context(), prefix)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	type tokenView struct {
		Name           string  `json:"name"`
		Version        int64   `json:"version"`
		Owner          string  `json:"owner,omitempty"`
		ExpirationTime int64   `json:"expirationTime,omitempty"`
		Priority       float64 `json:"priority,omitempty"`
		Data           string  `json:"data,omitempty"`
	}
	views := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, tokenView{
			Name:           t.Name,
			Version:        t.Version,
			Owner:          t.Owner,
			ExpirationTime: t.ExpirationTime,
			Priority:       t.Priority,
			Data:           string(t.Data),
		})
	}
	writeJSON(w, views)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, s.status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encoding response: %s", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
