// Package api serves the marketlens analysis entry points over HTTP.
//
// Endpoints cover instrument resolution, multi-asset fetches, look-through
// decomposition, contribution attribution and regression driver attribution.
// Every response uses the APIResponse envelope.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/seenimoa/marketlens/internal/analysis/attribution"
	"github.com/seenimoa/marketlens/internal/analysis/decompose"
	"github.com/seenimoa/marketlens/internal/config"
	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/internal/metrics"
	"github.com/seenimoa/marketlens/pkg/models"
	"github.com/seenimoa/marketlens/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is reported by /health. The CLI sets it from build flags.
var Version = "dev"

const maxBodyBytes = 1 << 20

// InstrumentDirectory is the read-only instrument lookup.
type InstrumentDirectory interface {
	Resolve(symbol string) (models.Instrument, bool)
	NextExpiry(symbol string, asOf time.Time) (string, bool)
	FuturesContracts(symbol string, now time.Time) []models.ContractRef
}

// Fetcher returns one result per distinct symbol.
type Fetcher interface {
	FetchMultipleAssets(ctx context.Context, symbols []string, start, end time.Time) map[string]models.FetchResult
}

// Services are the collaborators behind the handlers. Directory, Fetcher
// and Metrics may be nil; endpoints that need a missing one answer 503.
type Services struct {
	Directory   InstrumentDirectory
	Fetcher     Fetcher
	Decomposer  *decompose.Engine
	Attribution *attribution.Engine
	Metrics     *metrics.Metrics
}

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	cfg      *config.Config
	svc      Services
	validate *validator.Validate
	now      func() time.Time
	log      *logger.Entry
}

// NewServer creates a server with all routes and middleware.
func NewServer(cfg *config.Config, svc Services) *Server {
	if svc.Decomposer == nil {
		svc.Decomposer = decompose.New(nil)
	}
	if svc.Attribution == nil {
		svc.Attribution = attribution.New(cfg.Attribution)
	}
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      utils.NowIST,
		log:      logger.GetLogger().WithComponent("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe runs until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	if s.svc.Metrics != nil {
		r.Handle("/metrics", s.svc.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Instrument directory
		r.Get("/instruments/{symbol}", s.handleInstrument)
		r.Get("/expiry/{symbol}", s.handleExpiry)
		r.Get("/futures/{symbol}", s.handleFutures)

		// Analysis
		r.Post("/fetch", s.handleFetch)
		r.Post("/decompose", s.handleDecompose)
		r.Post("/contribution", s.handleContribution)
		r.Post("/attribution", s.handleAttribution)

		// Configuration
		r.Get("/config", s.handleGetConfig)
		r.Get("/config/keys", s.handleGetConfigKeys)
	})

	return r
}

type requestIDKey struct{}

// requestID propagates X-Request-ID, generating a UUID when the client sent none.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFrom returns the request ID stored by the middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logger.Fields{
			"request_id":  RequestIDFrom(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request")
	})
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// FetchRequest is the body for POST /api/v1/fetch. Dates are YYYY-MM-DD in IST.
type FetchRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=500,dive,required"`
	Start   string   `json:"start"   validate:"required,datetime=2006-01-02"`
	End     string   `json:"end"     validate:"omitempty,datetime=2006-01-02"` // default today
}

// FetchResponse summarises a fetch and carries every per-symbol result.
type FetchResponse struct {
	Requested int                           `json:"requested"`
	Succeeded int                           `json:"succeeded"`
	Results   map[string]models.FetchResult `json:"results"`
}

// DecomposeRequest is the body for POST /api/v1/decompose. Changes, keyed by
// symbol, are optional percentage moves used to compute portfolio impact.
type DecomposeRequest struct {
	Holdings []models.Holding  `json:"holdings"          validate:"required,min=1,dive"`
	Changes  map[string]float64 `json:"changes,omitempty"`
	TopN     int               `json:"top_n,omitempty"   validate:"omitempty,min=1,max=50"`
}

// DecomposeResponse is the look-through result with optional impact.
type DecomposeResponse struct {
	*models.Decomposition
	TotalImpact float64                `json:"total_impact,omitempty"`
	Pullers     []models.ExposureEntry `json:"pullers,omitempty"`
	Draggers    []models.ExposureEntry `json:"draggers,omitempty"`
}

// ContributionRequest is the body for POST /api/v1/contribution. Without
// changes, the latest moves of the index constituents are fetched.
type ContributionRequest struct {
	Index   string             `json:"index"             validate:"required"`
	Changes map[string]float64 `json:"changes,omitempty"`
	TopN    int                `json:"top_n,omitempty"   validate:"omitempty,min=1,max=50"`
}

// ContributionResponse wraps the report with pullers and draggers.
type ContributionResponse struct {
	*models.ContributionReport
	Index    string                           `json:"index"`
	Pullers  []models.ConstituentContribution `json:"pullers"`
	Draggers []models.ConstituentContribution `json:"draggers"`
}

// AttributionRequest is the body for POST /api/v1/attribution.
type AttributionRequest struct {
	Target  string   `json:"target"            validate:"required"`
	Drivers []string `json:"drivers"           validate:"required,min=1,max=20,dive,required"`
	Date    string   `json:"date,omitempty"    validate:"omitempty,datetime=2006-01-02"`
	Window  int      `json:"window,omitempty"  validate:"omitempty,min=20,max=500"`
	MaxLag  int      `json:"max_lag,omitempty" validate:"omitempty,min=1,max=20"`
}

// AttributionResponse carries the regression attribution and lead-lag scans.
type AttributionResponse struct {
	Attribution models.AttributionResult `json:"attribution"`
	LeadLag     []models.LeadLag         `json:"lead_lag,omitempty"`
	Missing     map[string]string        `json:"missing,omitempty"` // driver -> fetch error
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":        "ok",
			"version":       Version,
			"market_status": utils.MarketStatus(now),
			"time_ist":      utils.FormatDateTimeIST(now),
			"instruments":   s.svc.Directory != nil,
			"fetcher":       s.svc.Fetcher != nil,
		},
	})
}

func (s *Server) handleInstrument(w http.ResponseWriter, r *http.Request) {
	if !s.requireDirectory(w) {
		return
	}
	symbol := chi.URLParam(r, "symbol")
	inst, ok := s.svc.Directory.Resolve(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("instrument %q not found", symbol))
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: inst})
}

func (s *Server) handleExpiry(w http.ResponseWriter, r *http.Request) {
	if !s.requireDirectory(w) {
		return
	}
	symbol := chi.URLParam(r, "symbol")
	expiry, ok := s.svc.Directory.NextExpiry(symbol, s.now())
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no upcoming expiry for %q", symbol))
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]string{"symbol": symbol, "expiry": expiry},
	})
}

func (s *Server) handleFutures(w http.ResponseWriter, r *http.Request) {
	if !s.requireDirectory(w) {
		return
	}
	symbol := chi.URLParam(r, "symbol")
	contracts := s.svc.Directory.FuturesContracts(symbol, s.now())
	if len(contracts) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no futures contracts for %q", symbol))
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: contracts})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if !s.decode(w, r, &req) || !s.requireFetcher(w) {
		return
	}
	start, end, err := s.dateRange(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	results := s.svc.Fetcher.FetchMultipleAssets(ctx, req.Symbols, start, end)

	resp := FetchResponse{Requested: len(results), Results: results}
	for _, res := range results {
		if res.OK() {
			resp.Succeeded++
		}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleDecompose(w http.ResponseWriter, r *http.Request) {
	var req DecomposeRequest
	if !s.decode(w, r, &req) {
		return
	}
	d := s.svc.Decomposer.Decompose(req.Holdings)
	resp := DecomposeResponse{Decomposition: d}
	if len(req.Changes) > 0 {
		resp.TotalImpact = decompose.ApplyChanges(d, req.Changes)
		resp.Pullers, resp.Draggers = decompose.TopMovers(d, topN(req.TopN))
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleContribution(w http.ResponseWriter, r *http.Request) {
	var req ContributionRequest
	if !s.decode(w, r, &req) {
		return
	}
	weights, ok := s.svc.Decomposer.Composition().Weights(req.Index)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("index %q has no constituent weights", req.Index))
		return
	}

	changes := req.Changes
	if len(changes) == 0 {
		if !s.requireFetcher(w) {
			return
		}
		symbols := make([]string, len(weights))
		for i, c := range weights {
			symbols[i] = c.Symbol
		}
		changes = s.latestChanges(r.Context(), symbols)
	}

	report := s.svc.Decomposer.AttributeContribution(weights, changes)
	n := topN(req.TopN)
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: ContributionResponse{
		ContributionReport: report,
		Index:              req.Index,
		Pullers:            report.Pullers(n),
		Draggers:           report.Draggers(n),
	}})
}

func (s *Server) handleAttribution(w http.ResponseWriter, r *http.Request) {
	var req AttributionRequest
	if !s.decode(w, r, &req) || !s.requireFetcher(w) {
		return
	}

	end := s.now()
	var date time.Time
	if req.Date != "" {
		d, err := utils.ParseDateIST(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date: "+err.Error())
			return
		}
		date, end = d, d.Add(24*time.Hour)
	}
	window := req.Window
	if window == 0 {
		window = s.cfg.Attribution.Window
	}
	// calendar days comfortably covering window trading days plus the lag scan
	lookback := (window+attribution.MinLeadLagObs)*2 + 30
	start := end.AddDate(0, 0, -lookback)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	symbols := append([]string{req.Target}, req.Drivers...)
	results := s.svc.Fetcher.FetchMultipleAssets(ctx, symbols, start, end)

	target := results[req.Target]
	if !target.OK() {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("target %s: %s", req.Target, target.Err))
		return
	}
	targetReturns := attribution.FrameReturns(target.Frame)

	resp := AttributionResponse{}
	drivers := make(map[string]attribution.Returns, len(req.Drivers))
	for _, d := range req.Drivers {
		if d == req.Target {
			continue
		}
		res := results[d]
		if !res.OK() {
			if resp.Missing == nil {
				resp.Missing = map[string]string{}
			}
			resp.Missing[d] = res.Err
			continue
		}
		drivers[d] = attribution.FrameReturns(res.Frame)
	}

	resp.Attribution = s.svc.Attribution.AttributeDriverReturns(req.Target, targetReturns, drivers, date, req.Window)
	for _, d := range req.Drivers {
		if series, ok := drivers[d]; ok {
			resp.LeadLag = append(resp.LeadLag, s.svc.Attribution.LeadLag(d, targetReturns, series, req.MaxLag))
		}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

// latestChanges fetches a short window and returns each symbol's last move,
// keyed by the requested symbol. Symbols that fail are left out.
func (s *Server) latestChanges(ctx context.Context, symbols []string) map[string]float64 {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	end := s.now()
	results := s.svc.Fetcher.FetchMultipleAssets(ctx, symbols, end.AddDate(0, 0, -5), end)

	changes := make(map[string]float64, len(results))
	failed := 0
	for sym, res := range results {
		if pct, ok := res.Frame.LatestChangePct(); ok && res.OK() {
			changes[sym] = pct
			continue
		}
		failed++
	}
	if failed > 0 {
		s.log.WithFields(logger.Fields{"fetched": len(changes), "failed": failed}).Warn("some constituents have no change data")
	}
	return changes
}

// ============================================================
// Helpers
// ============================================================

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func (s *Server) dateRange(from, to string) (time.Time, time.Time, error) {
	start, err := utils.ParseDateIST(from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	end := s.now()
	if to != "" {
		if end, err = utils.ParseDateIST(to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end is before start")
	}
	return start, end, nil
}

func (s *Server) requireDirectory(w http.ResponseWriter) bool {
	if s.svc.Directory == nil {
		writeError(w, http.StatusServiceUnavailable, "instrument directory not loaded")
		return false
	}
	return true
}

func (s *Server) requireFetcher(w http.ResponseWriter) bool {
	if s.svc.Fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "price fetcher not configured")
		return false
	}
	return true
}

func topN(n int) int {
	if n <= 0 {
		return 5
	}
	return n
}

// validationMessage renders validator errors as "field: tag" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Namespace() + ": " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		parts = append(parts, msg)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.GetLogger().WithComponent("api").WithError(err).Warn("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
