// Package api serves the occupancy counter over HTTP: the live machine
// snapshot, stored crossings and hourly rollups, plus debug charts.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/httputil"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/version"
)

// ANSI escape codes used by the access log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Snapshotter exposes the live state machine. *occupancy.Machine implements it.
type Snapshotter interface {
	Snapshot() occupancy.Snapshot
	Config() occupancy.Config
}

// EventStore reads stored crossings. *db.DB implements it.
type EventStore interface {
	RecentEvents(ctx context.Context, limit int) ([]occupancy.Event, error)
	HourlyRollup(ctx context.Context, since time.Time) ([]db.HourlyCount, error)
}

type Server struct {
	machine Snapshotter
	store   EventStore
	scores  *occupancy.ScoreLog
	now     func() time.Time
}

// NewServer builds the API over m. store and scores may be nil, in which case
// the routes that need them report the data as unavailable.
func NewServer(m Snapshotter, store EventStore, scores *occupancy.ScoreLog) *Server {
	return &Server{
		machine: m,
		store:   store,
		scores:  scores,
		now:     time.Now,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/occupancy", s.showOccupancy)
	mux.HandleFunc("/api/occupancy/hourly", s.showHourly)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

type presenceAPI struct {
	Score    *float64 `json:"score"`
	Detected bool     `json:"detected"`
	Fault    bool     `json:"fault"`
}

func presenceToAPI(p occupancy.Presence) presenceAPI {
	return presenceAPI{Score: p.ScoreOrNil(), Detected: p.Detected, Fault: p.Fault}
}

type occupancyAPI struct {
	State         occupancy.State `json:"state"`
	Count         uint32          `json:"count"`
	EnterCm       int             `json:"enter_cm"`
	LeaveCm       int             `json:"leave_cm"`
	Presence      presenceAPI     `json:"presence"`
	DetectStartMs int64           `json:"detect_start_ms"`
	LastStepMs    int64           `json:"last_step_ms"`
	Steps         uint64          `json:"steps"`
	Stats         occupancy.Stats `json:"stats"`
}

func (s *Server) showOccupancy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snap := s.machine.Snapshot()
	httputil.WriteJSONOK(w, occupancyAPI{
		State:         snap.State,
		Count:         snap.Count,
		EnterCm:       snap.Enter.Centimeters,
		LeaveCm:       snap.Leave.Centimeters,
		Presence:      presenceToAPI(snap.Presence),
		DetectStartMs: snap.DetectStartMs,
		LastStepMs:    snap.LastStepMs,
		Steps:         snap.Steps,
		Stats:         snap.Stats,
	})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "event store unavailable")
		return
	}

	limit, err := httputil.QueryInt(r, "limit", db.DefaultEventLimit, 1, 1000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	events, err := s.store.RecentEvents(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	if events == nil {
		events = []occupancy.Event{}
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) showHourly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "event store unavailable")
		return
	}

	days, err := httputil.QueryInt(r, "days", 1, 1, 31)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	rollup, err := s.store.HourlyRollup(r.Context(), since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve hourly counts: %v", err))
		return
	}
	if rollup == nil {
		rollup = []db.HourlyCount{}
	}
	httputil.WriteJSONOK(w, rollup)
}

type configAPI struct {
	DistanceThresholdCm int          `json:"distance_threshold_cm"`
	PresenceThreshold   float64      `json:"presence_threshold"`
	PresenceMetric      string       `json:"presence_metric"`
	DetectionTimeoutMs  int64        `json:"detection_timeout_ms"`
	PollIntervalMs      int64        `json:"poll_interval_ms"`
	Version             version.Info `json:"version"`
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	cfg := s.machine.Config()
	httputil.WriteJSONOK(w, configAPI{
		DistanceThresholdCm: cfg.DistanceThresholdCm,
		PresenceThreshold:   cfg.PresenceThreshold,
		PresenceMetric:      string(cfg.PresenceMetric),
		DetectionTimeoutMs:  cfg.DetectionTimeout.Milliseconds(),
		PollIntervalMs:      cfg.PollInterval.Milliseconds(),
		Version:             version.Current(),
	})
}
