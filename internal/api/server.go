// Package api serves the healthboard: a read-only HTTP view over the health
// log, live artifact checks and the run archive.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"auction-batch/internal/health"
	"auction-batch/internal/healthlog"
	"auction-batch/internal/models"
	"auction-batch/internal/ratelimit"
	"auction-batch/internal/store"
	"auction-batch/internal/telemetry"
)

// Bounds on a single request: maxDays and the registered services cap the
// live matrix, maxRuns caps archive listings.
const (
	maxDays = 31
	maxRuns = 100
)

// RunLister is the slice of the run archive the healthboard reads.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]store.RunRow, error)
}

// Server wires HTTP handlers for the healthboard.
type Server struct {
	verifier *health.Verifier
	log      healthlog.Log
	runs     RunLister
	limiter  *ratelimit.TokenBucket
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// New constructs the healthboard server. runs and limiter may be nil.
func New(verifier *health.Verifier, hlog healthlog.Log, runs RunLister, limiter *ratelimit.TokenBucket, loc *time.Location, logger *zap.Logger) *Server {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		verifier: verifier,
		log:      hlog,
		runs:     runs,
		limiter:  limiter,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware("rl:healthboard"))
		}
		r.Get("/health", s.handleMatrix)
	})
	r.Get("/health/log/{date}", s.handleLog)
	r.Get("/runs", s.handleRuns)
	return r
}

type matrixRow struct {
	RunDate  string                `json:"run_date"`
	DataDate string                `json:"data_date"`
	Records  []models.HealthRecord `json:"records"`
}

type matrixResponse struct {
	Services []string       `json:"services"`
	Ignored  []string       `json:"ignored,omitempty"`
	Rows     []matrixRow    `json:"rows"`
	Counts   map[string]int `json:"counts"`
}

// handleMatrix evaluates every requested service for the last `days` run
// dates ending at `date`. Nothing is appended to the health log.
func (s *Server) handleMatrix(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	end := models.Day(s.now().In(s.loc))
	if v := q.Get("date"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		end = d
	}

	days := 1
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxDays {
			http.Error(w, "days must be between 1 and 31", http.StatusBadRequest)
			return
		}
		days = n
	}

	services := s.verifier.Registry().Services()
	var ignored []string
	if v := q.Get("services"); v != "" {
		services, ignored = s.registered(splitList(v))
	}

	resp := matrixResponse{
		Services: services,
		Ignored:  ignored,
		Counts:   map[string]int{models.HealthOK: 0, models.HealthFail: 0, models.HealthUnknown: 0},
	}
	for i := days - 1; i >= 0; i-- {
		runDate := end.AddDate(0, 0, -i)
		row := matrixRow{
			RunDate:  models.FormatDate(runDate),
			DataDate: models.FormatDate(models.DataDate(runDate)),
		}
		for _, svc := range services {
			rec := s.verifier.Evaluate(r.Context(), svc, runDate)
			resp.Counts[rec.Status]++
			row.Records = append(row.Records, rec)
		}
		resp.Rows = append(resp.Rows, row)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := models.ParseDate(date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if s.log == nil {
		http.Error(w, "health log not configured", http.StatusNotFound)
		return
	}
	recs, err := s.log.Records(r.Context(), date)
	if err != nil {
		s.logger.Error("read health log", zap.String("run_date", date), zap.Error(err))
		http.Error(w, "failed to read health log", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []models.HealthRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_date": date, "records": recs})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "run archive not configured", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > maxRuns {
		limit = maxRuns
	}
	rows, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs", zap.Error(err))
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []store.RunRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": rows})
}

// registered keeps the first occurrence of each registered name and returns
// the rest separately.
func (s *Server) registered(names []string) (keep, ignored []string) {
	reg := s.verifier.Registry()
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if _, ok := reg.Lookup(n); ok {
			keep = append(keep, n)
		} else {
			ignored = append(ignored, n)
		}
	}
	return keep, ignored
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
