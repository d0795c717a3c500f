package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"PMMEngine/internal/core"
	"PMMEngine/internal/event"
	fpmath "PMMEngine/internal/math"
	"PMMEngine/internal/observability"
	"PMMEngine/internal/state"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// PoolReader is the read side of the engine exposed over the query API.
type PoolReader interface {
	Pool(ctx context.Context, id uuid.UUID) (*core.Pool, error)
	Pools(ctx context.Context) ([]*core.Pool, error)
	MidPrice(ctx context.Context, id uuid.UUID) (fpmath.FixedPoint, error)
	Quote(ctx context.Context, id uuid.UUID, side event.Side, amount uint64) (state.TradeResult, error)
}

// Config holds the listen addresses.
type Config struct {
	GRPCAddr string
	HTTPAddr string
}

// Deps holds everything the gRPC and HTTP surfaces need.
type Deps struct {
	Pools         PoolReader
	HealthChecker *observability.HealthChecker
	Gatherer      prometheus.Gatherer
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// Server wraps the gRPC server and the gateway HTTP mux.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	handler      http.Handler
	grpcAddr     string
	httpAddr     string
	logger       zerolog.Logger
}

// NewServer registers the query service, gRPC health and reflection, and
// builds the HTTP handler tree.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Pools == nil {
		return nil, errors.New("server: pool reader is required")
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(metricsInterceptor(deps.Metrics)))
	grpcServer.RegisterService(&poolQueryServiceDesc, &poolQueryServer{pools: deps.Pools})

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	handler, err := newHTTPHandler(deps)
	if err != nil {
		return nil, err
	}

	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		handler:      handler,
		grpcAddr:     cfg.GRPCAddr,
		httpAddr:     cfg.HTTPAddr,
		logger:       deps.Logger,
	}, nil
}

// Handler returns the HTTP handler tree (gateway routes, health, metrics).
func (s *Server) Handler() http.Handler { return s.handler }

// GRPC exposes the underlying gRPC server.
func (s *Server) GRPC() *grpc.Server { return s.grpcServer }

// SetServing flips the gRPC health status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP server (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newHTTPHandler(deps Deps) (http.Handler, error) {
	gw := runtime.NewServeMux()
	api := &httpAPI{pools: deps.Pools, metrics: deps.Metrics, logger: deps.Logger}
	if err := api.register(gw); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	if deps.HealthChecker != nil {
		mux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	}
	if deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", gw)
	return mux, nil
}

func metricsInterceptor(m *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if m != nil {
			code := "ok"
			if err != nil {
				code = grpcCode(err).String()
			}
			m.QueryRequests.WithLabelValues(info.FullMethod, code).Inc()
			m.QueryDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}
