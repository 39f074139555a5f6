// Package server exposes recibod's local admin surface: a health probe, the
// manual per-user test trigger, and an optional pprof mux.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"recibod/internal/dispatch"
	"recibod/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	Token   string // optional bearer token for /v1/*
	Pprof   bool
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8787"
	}
	return c
}

// Runner is the slice of the dispatcher the admin surface needs.
type Runner interface {
	RunSlot(ctx context.Context, uid, label string, dry bool) (dispatch.SlotResult, error)
}

type Server struct {
	cfg    Config
	log    logx.Logger
	runner Runner

	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, runner Runner, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg.withDefaults(), runner: runner, log: log.With(logx.String("comp", "admin"))}
}

// Start binds the listener and serves in the background. Disabled config is
// a no-op.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/run", s.auth(s.handleRun))
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server exited", logx.Err(err))
		}
	}()
	s.log.Info("admin server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(shutdownCtx)
	s.srv = nil
	s.ln = nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.cfg.Token {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

// handleRun runs the per-user slot logic once, outside the slot window.
//
//	GET /v1/run?uid=<uid>&slot=loans|products|rentals|daily[&dry=1]
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	uid := strings.TrimSpace(r.URL.Query().Get("uid"))
	slot := strings.TrimSpace(r.URL.Query().Get("slot"))
	if uid == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("uid is required"))
		return
	}
	if slot == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("slot is required"))
		return
	}
	dry := false
	if raw := r.URL.Query().Get("dry"); raw != "" {
		dry, _ = strconv.ParseBool(raw)
	}

	res, err := s.runner.RunSlot(r.Context(), uid, slot, dry)
	switch {
	case errors.Is(err, dispatch.ErrUnknownUser):
		writeJSON(w, http.StatusNotFound, errorBody("unknown uid"))
		return
	case errors.Is(err, dispatch.ErrUnknownSlot):
		writeJSON(w, http.StatusBadRequest, errorBody("unknown slot label"))
		return
	case err != nil:
		s.log.Warn("manual run failed", logx.String("uid", uid), logx.String("slot", slot), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "dry": dry, "result": res})
}

func errorBody(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
