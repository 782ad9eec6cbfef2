package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	platformgrpc "github.com/louisbranch/cuerposonoro/internal/platform/grpc"
	"github.com/louisbranch/cuerposonoro/internal/platform/timeouts"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/features"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/storage/sqlite"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// HealthService is the gRPC health service name reported by the motion server.
const HealthService = "cuerposonoro.motion"

// Config defines the inputs for the motion transport boundary.
type Config struct {
	HTTPAddr   string
	GRPCAddr   string
	StaticDir  string
	DBPath     string
	AuthSecret string

	Features features.Config

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the motion HTTP/WebSocket process and its optional gRPC
// health endpoint.
type Server struct {
	httpAddr        string
	grpcAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	grpcServer      *gogrpc.Server
	healthServer    *health.Server
	ledger          *sqlite.Store
}

// NewServer builds a configured motion server.
func NewServer(config Config) (*Server, error) {
	return NewServerWithContext(context.Background(), config)
}

// NewServerWithContext builds a configured motion server with an explicit
// context for opening the session ledger.
func NewServerWithContext(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if err := config.Features.Validate(); err != nil {
		return nil, fmt.Errorf("feature config: %w", err)
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	opts := handlerOptions{
		features:   config.Features,
		staticDir:  strings.TrimSpace(config.StaticDir),
		authorizer: newTokenAuthorizer(config.AuthSecret),
	}

	var ledger *sqlite.Store
	if dbPath := strings.TrimSpace(config.DBPath); dbPath != "" {
		store, err := sqlite.Open(ctx, dbPath)
		if err != nil {
			return nil, fmt.Errorf("open session ledger: %w", err)
		}
		ledger = store
		opts.ledger = store
	}

	server := &Server{
		httpAddr:        httpAddr,
		grpcAddr:        strings.TrimSpace(config.GRPCAddr),
		shutdownTimeout: config.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           newHandler(opts),
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		ledger: ledger,
	}
	if server.grpcAddr != "" {
		server.grpcServer, server.healthServer = platformgrpc.NewHealthServer(HealthService)
	}
	return server, nil
}

// Run creates and serves a motion server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServerWithContext(ctx, config)
	if err != nil {
		return fmt.Errorf("init motion server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve motion: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server, and the gRPC health server when
// configured, until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("motion server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 2)
	if s.grpcServer != nil {
		listener, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", s.grpcAddr, err)
		}
		log.Printf("motion health listening on %s", listener.Addr())
		go func() {
			if err := s.grpcServer.Serve(listener); err != nil {
				serveErr <- fmt.Errorf("serve grpc: %w", err)
			}
		}()
	}

	log.Printf("motion server listening on %s", s.httpAddr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("serve http: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-serveErr:
		_ = s.shutdown()
		return err
	}
}

func (s *Server) shutdown() error {
	if s.healthServer != nil {
		s.healthServer.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			log.Printf("close session ledger: %v", err)
		}
	}
}
