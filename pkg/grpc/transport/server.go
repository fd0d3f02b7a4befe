package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevoDB/chainlog/pkg/common/log"
	"github.com/KevoDB/chainlog/pkg/grpc/service"
	"github.com/KevoDB/chainlog/pkg/telemetry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
)

// ServerOptions configures a Server
type ServerOptions struct {
	Address   string
	TLSConfig *tls.Config
	Logger    log.Logger
	Telemetry telemetry.Telemetry

	MaxConnectionIdle time.Duration
	MaxConnectionAge  time.Duration
	KeepAliveTime     time.Duration
	KeepAliveTimeout  time.Duration
}

// DefaultServerOptions returns default server options
func DefaultServerOptions(address string) ServerOptions {
	return ServerOptions{
		Address:           address,
		MaxConnectionIdle: defaultMaxConnIdle,
		MaxConnectionAge:  defaultMaxConnAge,
		KeepAliveTime:     defaultKeepAliveTime,
		KeepAliveTimeout:  defaultKeepAliveTimeout,
	}
}

const (
	defaultKeepAliveTime    = 15 * time.Second
	defaultKeepAliveTimeout = 5 * time.Second
	defaultKeepAlivePolicy  = 5 * time.Second
	defaultMaxConnIdle      = 60 * time.Second
	defaultMaxConnAge       = 5 * time.Minute
)

// Server runs a gRPC server for one chain service
type Server struct {
	options  ServerOptions
	svc      *service.ChainService
	server   *grpc.Server
	listener net.Listener
	logger   log.Logger
	mu       sync.Mutex
	started  bool
}

// NewServer creates a server for svc
func NewServer(svc *service.ChainService, options ServerOptions) *Server {
	if options.Logger == nil {
		options.Logger = log.GetDefaultLogger()
	}
	if options.Telemetry == nil {
		options.Telemetry = telemetry.NewNoop()
	}
	return &Server{
		options: options,
		svc:     svc,
		logger:  options.Logger.WithField("component", "grpc_server"),
	}
}

func (s *Server) serverOptions() []grpc.ServerOption {
	var serverOpts []grpc.ServerOption

	if s.options.TLSConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(s.options.TLSConfig)))
	}

	keepaliveParams := keepalive.ServerParameters{
		MaxConnectionIdle:     s.options.MaxConnectionIdle,
		MaxConnectionAge:      s.options.MaxConnectionAge,
		MaxConnectionAgeGrace: 5 * time.Second,
		Time:                  s.options.KeepAliveTime,
		Timeout:               s.options.KeepAliveTimeout,
	}

	keepalivePolicy := keepalive.EnforcementPolicy{
		MinTime:             defaultKeepAlivePolicy,
		PermitWithoutStream: true,
	}

	metrics := newRPCMetrics(s.options.Telemetry)
	serverOpts = append(serverOpts,
		grpc.KeepaliveParams(keepaliveParams),
		grpc.KeepaliveEnforcementPolicy(keepalivePolicy),
		grpc.UnaryInterceptor(metrics.unaryInterceptor),
		grpc.StreamInterceptor(metrics.streamInterceptor),
	)
	return serverOpts
}

// Start listens and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.listen(); err != nil {
		return err
	}

	go func() {
		if err := s.server.Serve(s.listener); err != nil {
			s.logger.Error("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Serve listens and blocks until the server is stopped
func (s *Server) Serve() error {
	s.mu.Lock()
	if err := s.listen(); err != nil {
		s.mu.Unlock()
		return err
	}
	server, listener := s.server, s.listener
	s.mu.Unlock()

	return server.Serve(listener)
}

// listen must be called with mu held
func (s *Server) listen() error {
	if s.started {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", s.options.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.Address, err)
	}

	s.server = grpc.NewServer(s.serverOptions()...)
	s.svc.Register(s.server)
	s.listener = listener
	s.started = true

	s.logger.WithFields(map[string]interface{}{
		"address": listener.Addr().String(),
		"tls":     s.options.TLSConfig != nil,
	}).Info("gRPC server listening")
	return nil
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the server gracefully, forcing it if ctx ends first
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.started = false
	s.logger.Info("gRPC server stopped")
	return nil
}
