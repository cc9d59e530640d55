package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"factor-backtest-go/internal/models"
	"factor-backtest-go/internal/store"
	"go.uber.org/zap"
)

const defaultListLimit = 50

// RunReader is the read side of the run store used by the server.
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]models.BacktestRun, error)
	GetRun(ctx context.Context, runID string) (*models.BacktestRun, error)
	Trades(ctx context.Context, runID string) ([]models.Trade, error)
	Snapshots(ctx context.Context, runID string) ([]models.Snapshot, error)
	Statistics(ctx context.Context, now time.Time) (*store.Statistics, error)
}

// Server provides an HTTP interface for stored backtest runs.
type Server struct {
	server *http.Server
	runs   RunReader
	logger *zap.Logger
	now    func() time.Time
}

// NewServer creates a new report server listening on port.
func NewServer(port int, runs RunReader, logger *zap.Logger) *Server {
	s := &Server{
		runs:   runs,
		logger: logger.Named("api-server"),
		now:    time.Now,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs", s.listRunsHandler)
	mux.HandleFunc("GET /api/runs/{id}", s.runHandler)
	mux.HandleFunc("GET /api/runs/{id}/trades", s.tradesHandler)
	mux.HandleFunc("GET /api/runs/{id}/snapshots", s.snapshotsHandler)
	mux.HandleFunc("GET /api/statistics", s.statisticsHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// RunView is the JSON shape of a stored run.
type RunView struct {
	RunID          string         `json:"run_id"`
	Strategy       string         `json:"strategy"`
	Symbols        []string       `json:"symbols"`
	StartDate      string         `json:"start_date"`
	EndDate        string         `json:"end_date"`
	InitialCapital float64        `json:"initial_capital"`
	FinalValue     float64        `json:"final_value"`
	TotalReturn    float64        `json:"total_return"`
	AnnualReturn   float64        `json:"annual_return"`
	SharpeRatio    float64        `json:"sharpe_ratio"`
	MaxDrawdown    float64        `json:"max_drawdown"`
	WinRate        float64        `json:"win_rate"`
	TotalTrades    int            `json:"total_trades"`
	Positions      map[string]int `json:"positions"`
	CreatedAt      time.Time      `json:"created_at"`
}

func newRunView(run models.BacktestRun) RunView {
	v := RunView{
		RunID:          run.RunID,
		Strategy:       run.Strategy,
		StartDate:      run.StartDate.Format(time.DateOnly),
		EndDate:        run.EndDate.Format(time.DateOnly),
		InitialCapital: run.InitialCapital,
		FinalValue:     run.FinalValue,
		TotalReturn:    run.TotalReturn,
		AnnualReturn:   run.AnnualReturn,
		SharpeRatio:    run.SharpeRatio,
		MaxDrawdown:    run.MaxDrawdown,
		WinRate:        run.WinRate,
		TotalTrades:    run.TotalTrades,
		Positions:      map[string]int{},
		CreatedAt:      run.CreatedAt,
	}
	if run.Symbols != "" {
		v.Symbols = strings.Split(run.Symbols, ",")
	}
	if run.Positions != "" {
		// a malformed column leaves the map empty
		_ = json.Unmarshal([]byte(run.Positions), &v.Positions)
	}
	return v
}

func (s *Server) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	views := make([]RunView, len(runs))
	for i, run := range runs {
		views[i] = newRunView(run)
	}
	s.writeJSON(w, views)
}

func (s *Server) runHandler(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, newRunView(*run))
}

func (s *Server) tradesHandler(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	trades, err := s.runs.Trades(r.Context(), run.RunID)
	if err != nil {
		s.logger.Error("Failed to get trades", zap.String("run_id", run.RunID), zap.Error(err))
		http.Error(w, "Failed to get trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

func (s *Server) snapshotsHandler(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	snapshots, err := s.runs.Snapshots(r.Context(), run.RunID)
	if err != nil {
		s.logger.Error("Failed to get snapshots", zap.String("run_id", run.RunID), zap.Error(err))
		http.Error(w, "Failed to get snapshots", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, snapshots)
}

func (s *Server) statisticsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.runs.Statistics(r.Context(), s.now())
	if err != nil {
		s.logger.Error("Failed to calculate statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// lookupRun writes the error response itself when the run cannot be loaded.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*models.BacktestRun, bool) {
	id := r.PathValue("id")
	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.logger.Error("Failed to get run", zap.String("run_id", id), zap.Error(err))
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}
