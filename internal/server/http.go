package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"FeeRouter/internal/engine"
	"FeeRouter/internal/feesource"
	"FeeRouter/internal/guard"
	"FeeRouter/internal/observability"
	"FeeRouter/internal/persistence"
	"FeeRouter/internal/projection"
	"FeeRouter/internal/query"
	"FeeRouter/internal/service"
	"FeeRouter/internal/state"
)

// Server is the HTTP API: policy setup, position registration, crank
// invocation and read-only queries.
type Server struct {
	svc      *service.CrankService
	queries  *query.QueryService
	accruals *feesource.PostgresFeeSource
	history  *projection.DayHistory
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func New(
	svc *service.CrankService,
	queries *query.QueryService,
	accruals *feesource.PostgresFeeSource,
	history *projection.DayHistory,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	return &Server{
		svc:      svc,
		queries:  queries,
		accruals: accruals,
		history:  history,
		health:   health,
		metrics:  metrics,
		log:      log,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/policies", s.handleCreatePolicy)
		r.Post("/positions", s.handleInitPosition)
		r.Post("/accruals", s.handleAccrue)
		r.Route("/vaults/{vault}", func(r chi.Router) {
			r.Post("/crank", s.handleCrank)
			r.Get("/progress", s.handleGetProgress)
			r.Get("/transfers", s.handleGetTransfers)
			r.Get("/investors", s.handleGetInvestors)
			r.Get("/days", s.handleGetDays)
		})
		r.Get("/admin/integrity", s.handleIntegrity)
	})

	return r
}

// --- request/response types ---

type investorSetupRequest struct {
	Wallet          state.Address `json:"wallet"`
	Stream          state.Address `json:"stream"`
	TotalAllocation uint64        `json:"total_allocation"`
	StartTs         int64         `json:"start_ts"`
	CliffTs         int64         `json:"cliff_ts"`
	EndTs           int64         `json:"end_ts"`
}

type createPolicyRequest struct {
	Vault               state.Address          `json:"vault"`
	CreatorWallet       state.Address          `json:"creator_wallet"`
	InvestorFeeShareBps uint16                 `json:"investor_fee_share_bps"`
	DailyCapLamports    *uint64                `json:"daily_cap_lamports,omitempty"`
	MinPayoutLamports   uint64                 `json:"min_payout_lamports"`
	Y0TotalAllocation   uint64                 `json:"y0_total_allocation"`
	Investors           []investorSetupRequest `json:"investors"`
}

type initPositionRequest struct {
	Vault          state.Address `json:"vault"`
	Pool           state.Address `json:"pool"`
	TokenAMint     state.Address `json:"token_a_mint"`
	TokenBMint     state.Address `json:"token_b_mint"`
	CollectFeeMode uint8         `json:"collect_fee_mode"`
	QuoteMint      state.Address `json:"quote_mint"`
	PositionHandle state.Address `json:"position_handle"`
}

type accrueRequest struct {
	PositionHandle state.Address `json:"position_handle"`
	QuoteAmount    uint64        `json:"quote_amount"`
	BaseAmount     uint64        `json:"base_amount"`
}

type crankRequest struct {
	PageStart uint32 `json:"page_start"`
	PageSize  uint32 `json:"page_size"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// --- handlers ---

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}

	params := state.PolicyParams{
		CreatorWallet:       req.CreatorWallet,
		InvestorFeeShareBps: req.InvestorFeeShareBps,
		DailyCapLamports:    req.DailyCapLamports,
		MinPayoutLamports:   req.MinPayoutLamports,
		Y0TotalAllocation:   req.Y0TotalAllocation,
		TotalInvestors:      uint32(len(req.Investors)),
	}
	investors := make([]service.InvestorSetup, 0, len(req.Investors))
	for _, inv := range req.Investors {
		investors = append(investors, service.InvestorSetup{
			Wallet:          inv.Wallet,
			Stream:          inv.Stream,
			TotalAllocation: inv.TotalAllocation,
			StartTs:         inv.StartTs,
			CliffTs:         inv.CliffTs,
			EndTs:           inv.EndTs,
		})
	}

	policy, err := s.svc.SetupPolicy(r.Context(), req.Vault, params, investors)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, policy)
}

func (s *Server) handleInitPosition(w http.ResponseWriter, r *http.Request) {
	var req initPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}

	pos, err := s.svc.InitializePosition(r.Context(), req.Vault, guard.PoolConfig{
		Pool:           req.Pool,
		TokenAMint:     req.TokenAMint,
		TokenBMint:     req.TokenBMint,
		CollectFeeMode: guard.CollectFeeMode(req.CollectFeeMode),
		Enabled:        true,
	}, req.QuoteMint, req.PositionHandle)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, pos)
}

func (s *Server) handleAccrue(w http.ResponseWriter, r *http.Request) {
	var req accrueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	if req.QuoteAmount == 0 && req.BaseAmount == 0 {
		s.writeError(w, http.StatusBadRequest, "bad_request", "nothing to accrue")
		return
	}

	if err := s.accruals.Accrue(r.Context(), req.PositionHandle, req.QuoteAmount, req.BaseAmount); err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accrued"})
}

func (s *Server) handleCrank(w http.ResponseWriter, r *http.Request) {
	vault, ok := s.vaultParam(w, r)
	if !ok {
		return
	}

	var req crankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}

	res, err := s.svc.Crank(r.Context(), vault, req.PageStart, req.PageSize)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	vault, ok := s.vaultParam(w, r)
	if !ok {
		return
	}

	progress, found, err := s.queries.GetProgress(r.Context(), vault)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "not_found", "unknown vault")
		return
	}
	s.writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleGetTransfers(w http.ResponseWriter, r *http.Request) {
	vault, ok := s.vaultParam(w, r)
	if !ok {
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	var kind *string
	if k := r.URL.Query().Get("kind"); k != "" {
		kind = &k
	}

	transfers, err := s.queries.GetTransfers(r.Context(), vault, kind, offset, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": transfers})
}

func (s *Server) handleGetInvestors(w http.ResponseWriter, r *http.Request) {
	vault, ok := s.vaultParam(w, r)
	if !ok {
		return
	}

	summaries, err := s.queries.GetInvestorSummaries(r.Context(), vault)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"investors": summaries})
}

func (s *Server) handleGetDays(w http.ResponseWriter, r *http.Request) {
	vault, ok := s.vaultParam(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	resp := map[string]interface{}{
		"days": s.history.RecentDays(vault, limit),
	}
	if current := s.history.InFlight(vault); current != nil {
		resp["current_day"] = current
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

func (s *Server) vaultParam(w http.ResponseWriter, r *http.Request) (state.Address, bool) {
	vault, err := state.AddressFromBase58(chi.URLParam(r, "vault"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid vault address")
		return state.Address{}, false
	}
	return vault, true
}

// writeServiceError maps domain errors onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidPolicyConfig),
		errors.Is(err, engine.ErrInvalidPagination),
		errors.Is(err, engine.ErrAccountCountMismatch),
		errors.Is(err, guard.ErrInvalidPoolConfiguration),
		errors.Is(err, guard.ErrQuoteOnlyValidationFailed):
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, engine.ErrPolicyAlreadyExists),
		errors.Is(err, engine.ErrPositionAlreadyExists):
		s.writeError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, engine.ErrInvalidPaginationSequence),
		errors.Is(err, persistence.ErrVersionConflict):
		s.writeError(w, http.StatusConflict, "sequence_conflict", err.Error())
	case errors.Is(err, engine.ErrDistributionWindowNotElapsed):
		s.writeError(w, http.StatusTooEarly, "window_not_elapsed", err.Error())
	case errors.Is(err, guard.ErrBaseFeesDetected):
		s.writeError(w, http.StatusUnprocessableEntity, "base_fees_detected", err.Error())
	case errors.Is(err, persistence.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.log.Error().Err(err).Msg("internal error")
		s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// instrument records per-route request metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(ww.Status())
		s.metrics.APIRequests.WithLabelValues(route, status).Inc()
		s.metrics.APIDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		if ww.Status() >= 500 {
			s.metrics.APIErrors.WithLabelValues(route, status).Inc()
		}
	})
}
