package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rideralert/internal/history"
	"rideralert/internal/metrics"
	"rideralert/internal/monitor"
)

const (
	timelineWindow    = time.Hour
	maxTimelinePoints = 240
)

//go:embed static/*
var embeddedStatic embed.FS

// Server wraps HTTP serving of API + static assets.
type Server struct {
	httpServer   *http.Server
	monitor      *monitor.Monitor
	hub          *Hub
	staticFS     fs.FS
	log          *zap.Logger
	historyLimit int
	startedAt    time.Time
}

// New creates a configured HTTP server for the rider alert UI.
func New(addr string, mon *monitor.Monitor, hub *Hub, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	staticFS, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		panic("static assets missing: " + err.Error())
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		monitor:      mon,
		hub:          hub,
		staticFS:     staticFS,
		log:          log.Named("server"),
		historyLimit: 200,
		startedAt:    time.Now(),
	}
	s.registerRoutes(mux, gatherer)
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Serve serves HTTP traffic on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	fileServer := http.FileServer(http.FS(s.staticFS))

	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		data, err := fs.ReadFile(s.staticFS, "index.html")
		if err != nil {
			http.Error(w, "index missing", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(data)
	}))
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/uptime", s.handleUptime)
	mux.HandleFunc("/api/timeline", s.handleTimeline)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/online", postOnly(s.handleOnline))
	mux.HandleFunc("/api/refresh", postOnly(s.handleRefresh))
	mux.HandleFunc("/api/silence", postOnly(s.handleSilence))
	mux.HandleFunc("/api/simulate", postOnly(s.handleSimulate))
	mux.HandleFunc("/api/check", postOnly(s.handleCheck))

	mux.HandleFunc("/livez", s.handleLivez)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), s.historyLimit, s.historyLimit)
	writeJSON(w, http.StatusOK, s.monitor.History(limit))
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), s.historyLimit, s.historyLimit)
	writeJSON(w, http.StatusOK, metrics.ComputePollUptime(s.monitor.History(limit)))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	window := timelineWindow
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 && minutes <= 24*60 {
			window = time.Duration(minutes) * time.Minute
		}
	}
	points := parseLimit(r.URL.Query().Get("points"), history.DefaultTimelinePoints, maxTimelinePoints)

	end := time.Now().UTC()
	start := end.Add(-window)
	writeJSON(w, http.StatusOK, history.BuildPollTimeline(s.monitor.History(0), start, end, points))
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	snap, err := s.monitor.GoOnline(r.Context())
	if err != nil {
		s.log.Error("go online", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.RefreshView())
}

func (s *Server) handleSilence(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Silence())
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	snap, err := s.monitor.Simulate(r.Context())
	if errors.Is(err, monitor.ErrOffline) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckNow(r.Context()))
}

func postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		next(w, r)
	}
}

// parseLimit reads a positive integer capped at ceiling, or returns fallback.
func parseLimit(raw string, fallback, ceiling int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > ceiling {
		return ceiling
	}
	return value
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
