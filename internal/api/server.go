// Package api provides the HTTP and gRPC servers for marketintel, exposing
// backtests, jobs, forecasts and the asset catalog.
package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"marketintel/internal/analysis"
	"marketintel/internal/backtest"
	"marketintel/internal/config"
	"marketintel/internal/domain"
	"marketintel/internal/engine"
	"marketintel/internal/store"
	"marketintel/internal/telemetry"
)

// shutdownGrace bounds the graceful stop of both listeners.
const shutdownGrace = 30 * time.Second

// Forecaster serves forecasts and lists the available models.
type Forecaster interface {
	Forecast(ctx context.Context, req backtest.ForecastRequest) (*backtest.ForecastResult, error)
	Models() []domain.ModelType
}

// Analyzer serves descriptive statistics over price history.
type Analyzer interface {
	QuickStats(ctx context.Context, symbol string, start, end time.Time) (*analysis.QuickStats, error)
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
	PriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// Deps are the services the API exposes. Analyzer, Catalog, Hub and
// Gatherer are optional; their routes answer 503 when unset.
type Deps struct {
	Engine     *engine.Engine
	Forecaster Forecaster
	Analyzer   Analyzer
	Catalog    store.CatalogStore
	Hub        *Hub
	Gatherer   prometheus.Gatherer
	Logger     zerolog.Logger
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	cfg    config.Server
	deps   Deps
	log    zerolog.Logger
	router *mux.Router

	httpServer *http.Server
	grpcServer *grpc.Server
}

// NewServer creates a new Server configured from the given config.
func NewServer(cfg config.Server, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		log:    deps.Logger.With().Str("component", "api").Logger(),
		router: mux.NewRouter(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.grpcServer = grpc.NewServer()
	RegisterBacktestServer(s.grpcServer, NewGRPCService(deps.Engine, s.log))
	return s
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler { return s.router }

// GRPC returns the gRPC server with the backtest service registered.
func (s *Server) GRPC() *grpc.Server { return s.grpcServer }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", telemetry.Handler(s.deps.Gatherer)).Methods(http.MethodGet)
	}
	if s.deps.Hub != nil {
		s.router.HandleFunc("/ws", s.deps.Hub.ServeWS).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(jsonContentTypeMiddleware)
	v1.HandleFunc("/backtest", s.handleBacktest).Methods(http.MethodPost)
	v1.HandleFunc("/backtest/quick-stats/{symbol:.+}", s.handleQuickStats).Methods(http.MethodGet)
	v1.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	v1.HandleFunc("/forecast", s.handleForecast).Methods(http.MethodPost)
	v1.HandleFunc("/analysis", s.handleAnalysis).Methods(http.MethodPost)
	v1.HandleFunc("/analysis/price-history/{symbol:.+}", s.handlePriceHistory).Methods(http.MethodGet)
	v1.HandleFunc("/assets", s.handleAssets).Methods(http.MethodGet)
	v1.HandleFunc("/assets/categories", s.handleAssetCategories).Methods(http.MethodGet)
	v1.HandleFunc("/assets/{symbol:.+}", s.handleAsset).Methods(http.MethodGet)
	v1.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "", fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.cfg.HTTPAddr())
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.cfg.HTTPAddr(), err)
	}
	grpcLn, err := net.Listen("tcp", s.cfg.GRPCAddr())
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("grpc listen %s: %w", s.cfg.GRPCAddr(), err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info().Str("addr", httpLn.Addr().String()).Msg("http server listening")
		if err := s.httpServer.Serve(httpLn); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.log.Info().Str("addr", grpcLn.Addr().String()).Msg("grpc server listening")
		if err := s.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	err := s.httpServer.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		id, _ := r.Context().Value(requestIDKey{}).(string)
		s.log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging. It forwards
// Hijack so websocket upgrades pass through.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer does not support hijacking")
	}
	return h.Hijack()
}
