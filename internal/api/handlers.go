package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc/codes"

	"marketintel/internal/analysis"
	"marketintel/internal/domain"
	"marketintel/internal/store"
	"marketintel/internal/telemetry"
	"marketintel/pkg/marketintel"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

// httpStatus maps an error kind to its HTTP status.
func httpStatus(kind string) int {
	switch kind {
	case telemetry.StatusInvalid:
		return http.StatusBadRequest
	case telemetry.StatusInsufficientHistory, telemetry.StatusDataIntegrity:
		return http.StatusUnprocessableEntity
	case telemetry.StatusTimeout:
		return http.StatusGatewayTimeout
	case telemetry.StatusCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// grpcCode maps an error kind to its gRPC status code.
func grpcCode(kind string) codes.Code {
	switch kind {
	case telemetry.StatusInvalid:
		return codes.InvalidArgument
	case telemetry.StatusInsufficientHistory, telemetry.StatusDataIntegrity:
		return codes.FailedPrecondition
	case telemetry.StatusTimeout:
		return codes.DeadlineExceeded
	case telemetry.StatusCancelled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

func validationField(err error) string {
	var v *domain.ValidationError
	if errors.As(err, &v) {
		return v.Field
	}
	return ""
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, field, msg string) {
	writeJSON(w, status, marketintel.ErrorResponse{Error: msg, Kind: kind, Field: field})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := telemetry.StatusOf(err)
	status := httpStatus(kind)
	if status >= 500 {
		s.log.Error().Err(err).Str("path", r.URL.Path).Str("kind", kind).Msg("request failed")
	}
	writeError(w, status, kind, validationField(err), err.Error())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Message: fmt.Sprintf("malformed JSON body: %v", err)}
	}
	return nil
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, "unavailable", "", what+" is not configured")
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleBacktest runs a backtest and waits for the result.
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		unavailable(w, "backtest engine")
		return
	}
	var body marketintel.BacktestRequest
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := ParseBacktestRequest(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, cached, err := s.deps.Engine.Run(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewBacktestResponse(res, cached))
}

// handleSubmitJob starts a backtest job and returns it immediately.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		unavailable(w, "backtest engine")
		return
	}
	var body marketintel.BacktestRequest
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := ParseBacktestRequest(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.deps.Engine.Submit(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, NewJob(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Engine == nil {
		unavailable(w, "backtest engine")
		return
	}
	jobs := s.deps.Engine.Jobs()
	out := make([]marketintel.Job, len(jobs))
	for i, j := range jobs {
		out[i] = NewJob(j)
		out[i].Result = nil
	}
	writeJSON(w, http.StatusOK, map[string][]marketintel.Job{"jobs": out})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		unavailable(w, "backtest engine")
		return
	}
	id := mux.Vars(r)["id"]
	job, ok := s.deps.Engine.Job(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "", fmt.Sprintf("job %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, NewJob(job))
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if s.deps.Forecaster == nil {
		unavailable(w, "forecaster")
		return
	}
	var body marketintel.ForecastRequest
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := ParseForecastRequest(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Forecaster.Forecast(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewForecastResponse(res))
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		unavailable(w, "asset catalog")
		return
	}
	class := domain.AssetClass(strings.ToLower(r.URL.Query().Get("class")))
	assets, err := s.deps.Catalog.ListAssets(r.Context(), class)
	if err != nil {
		s.fail(w, r, fmt.Errorf("listing assets: %w", err))
		return
	}
	out := marketintel.AssetsResponse{Assets: make([]marketintel.Asset, len(assets))}
	for i, a := range assets {
		out.Assets[i] = newAsset(a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		unavailable(w, "asset catalog")
		return
	}
	symbol := mux.Vars(r)["symbol"]
	a, err := s.deps.Catalog.GetAsset(r.Context(), symbol)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "", fmt.Sprintf("asset %s not found", strings.ToUpper(symbol)))
		return
	}
	if err != nil {
		s.fail(w, r, fmt.Errorf("getting asset: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, newAsset(*a))
}

func (s *Server) handleAssetCategories(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		unavailable(w, "asset catalog")
		return
	}
	assets, err := s.deps.Catalog.ListAssets(r.Context(), "")
	if err != nil {
		s.fail(w, r, fmt.Errorf("listing assets: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, marketintel.AssetCategoriesResponse{Categories: analysis.Categories(assets)})
}

// queryRange reads the required start_date and end_date query parameters.
func queryRange(r *http.Request) (start, end time.Time, err error) {
	q := r.URL.Query()
	if start, err = parseDate("start_date", q.Get("start_date")); err != nil {
		return
	}
	end, err = parseDate("end_date", q.Get("end_date"))
	return
}

func (s *Server) handleQuickStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analyzer == nil {
		unavailable(w, "analyzer")
		return
	}
	start, end, err := queryRange(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	qs, err := s.deps.Analyzer.QuickStats(r.Context(), mux.Vars(r)["symbol"], start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewQuickStatsResponse(qs))
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analyzer == nil {
		unavailable(w, "analyzer")
		return
	}
	var body marketintel.AnalysisRequest
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := ParseAnalysisRequest(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewAnalysisResponse(res))
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analyzer == nil {
		unavailable(w, "analyzer")
		return
	}
	start, end, err := queryRange(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	bars, err := s.deps.Analyzer.PriceHistory(r.Context(), mux.Vars(r)["symbol"], start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewPriceHistoryResponse(bars[0].Symbol, bars))
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	out := marketintel.ModelsResponse{Models: []string{}}
	if s.deps.Forecaster != nil {
		for _, mt := range s.deps.Forecaster.Models() {
			out.Models = append(out.Models, string(mt))
		}
	}
	writeJSON(w, http.StatusOK, out)
}
