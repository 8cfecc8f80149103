// Package server exposes the settlement operations over HTTP/JSON and
// runs the gRPC health endpoint for orchestration probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mintd/internal/engine"
	"mintd/internal/ledger"
	"mintd/internal/liquidity"
	"mintd/internal/observability"
	"mintd/internal/oracle"
	"mintd/internal/pricing"
)

// HTTPServer serves the settlement API. Admin routes mutate pricing
// parameters and liquidity policy and sit behind a bearer token.
type HTTPServer struct {
	engine     *engine.Engine
	health     *observability.HealthChecker
	metrics    *observability.Metrics
	adminToken string
	log        zerolog.Logger

	srv *http.Server
}

func NewHTTPServer(addr string, eng *engine.Engine, health *observability.HealthChecker, metrics *observability.Metrics, adminToken string, log zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		engine:     eng,
		health:     health,
		metrics:    metrics,
		adminToken: adminToken,
		log:        log,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.instrument)
		v1.Post("/buy", s.handleBuy)
		v1.Post("/redeem", s.handleRedeem)
		v1.Post("/deposit", s.handleDeposit)
		v1.Post("/settle", s.handleSettle)
		v1.Get("/quote", s.handleQuote)
		v1.Get("/queue", s.handleQueue)
		v1.Get("/status", s.handleStatus)

		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(s.requireAdmin)
			admin.Put("/pricing", s.handleSetPricing)
			admin.Put("/policy", s.handleSetPolicy)
			admin.Put("/fee-collector", s.handleSetFeeCollector)
		})
	})

	return r
}

// Start serves until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================
// Middleware
// ============================================================

func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		endpoint := r.Method + " " + r.URL.Path
		s.metrics.APIRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", ww.code)).Inc()
		s.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			s.writeError(w, http.StatusForbidden, errors.New("admin API disabled"))
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token != s.adminToken {
			s.writeError(w, http.StatusUnauthorized, errors.New("invalid admin token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================
// Settlement handlers
// ============================================================

type amountRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *HTTPServer) decodeAmountRequest(r *http.Request) (ledger.AccountID, *big.Int, error) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ledger.ZeroAccount, nil, fmt.Errorf("decode body: %w", err)
	}
	account, err := ledger.ParseAccountID(req.Account)
	if err != nil {
		return ledger.ZeroAccount, nil, err
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		return ledger.ZeroAccount, nil, fmt.Errorf("invalid amount %q", req.Amount)
	}
	return account, amount, nil
}

func (s *HTTPServer) handleBuy(w http.ResponseWriter, r *http.Request) {
	account, amount, err := s.decodeAmountRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.engine.Buy(r.Context(), account, amount)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"tokens_minted": res.TokensMinted.String(),
		"net_amount":    res.NetAmount.String(),
		"exec_price":    res.ExecPrice.String(),
		"fee":           res.Fee.String(),
	})
}

func (s *HTTPServer) handleRedeem(w http.ResponseWriter, r *http.Request) {
	account, amount, err := s.decodeAmountRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.engine.Redeem(r.Context(), account, amount)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": res.RequestID.String(),
		"net_amount": res.NetAmount.String(),
		"exec_price": res.ExecPrice.String(),
		"fee":        res.Fee.String(),
		"paid":       res.Paid,
		"queue_len":  res.QueueLen,
	})
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	account, amount, err := s.decodeAmountRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.engine.Deposit(r.Context(), account, amount)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeSettleResult(w, res)
}

func (s *HTTPServer) handleSettle(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Settle(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeSettleResult(w, res)
}

func (s *HTTPServer) writeSettleResult(w http.ResponseWriter, res *engine.SettleResult) {
	body := map[string]interface{}{
		"requests_paid": res.RequestsPaid,
		"paid_value":    res.PaidValue.String(),
		"queue_len":     res.QueueLen,
	}
	if res.Forwarded != nil {
		body["forwarded"] = res.Forwarded.String()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Quote(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"base_price": res.BasePrice.String(),
		"buy": map[string]string{
			"exec_price": res.Buy.ExecPrice.String(),
			"fee":        res.Buy.Fee.String(),
		},
		"redeem": map[string]string{
			"exec_price": res.Redeem.ExecPrice.String(),
			"fee":        res.Redeem.Fee.String(),
		},
	})
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	body := map[string]interface{}{
		"depth": st.QueueDepth,
	}
	if st.QueueHead != nil {
		body["head_amount"] = st.QueueHead.String()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue_depth":      st.QueueDepth,
		"local_reserve":    st.LocalReserve.String(),
		"outstanding_auth": st.OutstandingAuth.String(),
		"total_supply":     st.TotalSupply.String(),
	})
}

// ============================================================
// Admin handlers
// ============================================================

type pricingRequest struct {
	BuySpread    string `json:"buy_spread"`
	RedeemSpread string `json:"redeem_spread"`
	BuyFee       string `json:"buy_fee"`
	RedeemFee    string `json:"redeem_fee"`
}

func (s *HTTPServer) handleSetPricing(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	params := &pricing.Params{}
	var err error
	if params.BuySpread, err = parseBig(req.BuySpread); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if params.RedeemSpread, err = parseBig(req.RedeemSpread); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if params.BuyFee, err = parseBig(req.BuyFee); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if params.RedeemFee, err = parseBig(req.RedeemFee); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Pricing().SetParams(params); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.log.Info().Interface("params", req).Msg("pricing parameters updated")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type policyRequest struct {
	BufferThreshold string `json:"buffer_threshold"`
	MinBridgeAmount string `json:"min_bridge_amount"`
}

func (s *HTTPServer) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	policy := &liquidity.Policy{}
	var err error
	if policy.BufferThreshold, err = parseBig(req.BufferThreshold); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if policy.MinBridgeAmount, err = parseBig(req.MinBridgeAmount); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Liquidity().SetPolicy(policy); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.log.Info().Interface("policy", req).Msg("liquidity policy updated")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type feeCollectorRequest struct {
	Account string `json:"account"`
}

func (s *HTTPServer) handleSetFeeCollector(w http.ResponseWriter, r *http.Request) {
	var req feeCollectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := ledger.ParseAccountID(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SetFeeCollector(account); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.log.Info().Str("account", req.Account).Msg("fee collector updated")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

// ============================================================
// Responses
// ============================================================

// statusFor maps engine errors onto HTTP codes: invalid inputs 400,
// balance rejections 409, a dead oracle 503, a failing bridge 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrZeroAmount),
		errors.Is(err, engine.ErrAmountTooSmall),
		errors.Is(err, engine.ErrShortTransfer),
		errors.Is(err, pricing.ErrNonPositivePrice),
		errors.Is(err, pricing.ErrSpreadTooLarge),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrZeroAccount):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrUnavailable), errors.Is(err, oracle.ErrStale):
		return http.StatusServiceUnavailable
	case errors.Is(err, liquidity.ErrBridgeTransfer):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
