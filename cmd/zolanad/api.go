// api.go - Read-only HTTP status endpoints
package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"zolana/internal/chain"
	"zolana/internal/consensus"
	"zolana/internal/ledger"
	"zolana/internal/metrics"
)

// StatusServer exposes ledger snapshots for operators.
type StatusServer struct {
	ledger  *ledger.Ledger
	health  *HealthChecker
	metrics *metrics.Collector
	limiter *ClientRateLimiter
	log     zerolog.Logger
}

// NewStatusServer builds the status API.
func NewStatusServer(l *ledger.Ledger, hc *HealthChecker, mc *metrics.Collector, rl *ClientRateLimiter, log zerolog.Logger) *StatusServer {
	return &StatusServer{ledger: l, health: hc, metrics: mc, limiter: rl, log: log}
}

// Handler returns the routes wrapped in request counting and rate limiting.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /validators", s.handleValidators)
	mux.HandleFunc("GET /balance/{address}", s.handleBalance)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.IncrementCounter(metrics.MetricHTTPRequests, map[string]string{"path": r.URL.Path})
		mux.ServeHTTP(w, r)
	})
	return s.limiter.Middleware(counted, func() {
		s.metrics.IncrementCounter(metrics.MetricHTTPRateLimited, nil)
	})
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.health.CheckHealth()
	code := http.StatusOK
	if health.OverallStatus == Unhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, CreateHealthResponse(health))
}

type statsResponse struct {
	Chain    ledger.Stats         `json:"chain"`
	Network  ledger.NetworkStats  `json:"network"`
	Shielded ledger.ShieldedStats `json:"shielded"`
}

func (s *StatusServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statsResponse{
		Chain:    s.ledger.Stats(),
		Network:  s.ledger.NetworkStats(),
		Shielded: s.ledger.ShieldedPoolStats(),
	})
}

type validatorsResponse struct {
	Validators []consensus.Validator `json:"validators"`
	TotalStake chain.Amount          `json:"total_stake"`
}

func (s *StatusServer) handleValidators(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, validatorsResponse{
		Validators: s.ledger.Validators(),
		TotalStake: s.ledger.TotalStake(),
	})
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Atomic  uint64 `json:"atomic"`
	Outputs int    `json:"unspent_outputs"`
}

func (s *StatusServer) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	bal := s.ledger.Balance(addr)
	s.writeJSON(w, http.StatusOK, balanceResponse{
		Address: addr,
		Balance: bal.String(),
		Atomic:  uint64(bal),
		Outputs: len(s.ledger.UTXOs(addr)),
	})
}

type metricsResponse struct {
	Summary metrics.Summary  `json:"summary"`
	Series  []metrics.Metric `json:"series"`
}

func (s *StatusServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, metricsResponse{
		Summary: s.metrics.GetMetricsSummary(),
		Series:  s.metrics.GetAllMetrics(),
	})
}

func (s *StatusServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("failed to write response")
	}
}
