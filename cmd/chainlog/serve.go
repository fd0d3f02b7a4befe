package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KevoDB/chainlog/pkg/chain"
	"github.com/KevoDB/chainlog/pkg/grpc/service"
	"github.com/KevoDB/chainlog/pkg/grpc/transport"
	"github.com/KevoDB/chainlog/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	Listen  string
	TLSCert string
	TLSKey  string
	TLSCA   string
}

func (a *app) serveCommand() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chain over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.localOnly("serve"); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.serve(ctx, flags, func(addr net.Addr) {
				fmt.Fprintf(a.out, "chainlog serving %s on %s\n", a.cfg.DataPath, addr)
			})
		},
	}
	cmd.Flags().StringVarP(&flags.Listen, "listen", "l", "", "Address to listen on (default from config)")
	cmd.Flags().StringVar(&flags.TLSCert, "tls-cert", "", "TLS certificate file")
	cmd.Flags().StringVar(&flags.TLSKey, "tls-key", "", "TLS private key file")
	cmd.Flags().StringVar(&flags.TLSCA, "tls-ca", "", "CA file clients must be signed by")
	return cmd
}

// serve runs the gRPC server until ctx ends. ready is called once the
// listener is bound.
func (a *app) serve(ctx context.Context, flags serveFlags, ready func(net.Addr)) error {
	tel, err := telemetry.New(a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Telemetry shutdown failed: %v", err)
		}
	}()
	if p, ok := tel.(*telemetry.TelemetryProvider); ok && p.MetricsAddr() != nil {
		a.logger.WithField("address", p.MetricsAddr().String()).Info("Serving metrics")
	}

	addr := a.cfg.ListenAddr
	if flags.Listen != "" {
		addr = flags.Listen
	}
	tlsConfig, err := a.serverTLS(flags)
	if err != nil {
		return err
	}

	c := a.chain(chain.WithMetrics(chain.NewChainMetrics(tel)))
	opts := transport.DefaultServerOptions(addr)
	opts.TLSConfig = tlsConfig
	opts.Logger = a.logger
	opts.Telemetry = tel

	server := transport.NewServer(service.NewChainService(c, a.logger), opts)
	if err := server.Start(); err != nil {
		return err
	}
	a.logger.WithField("address", server.Addr().String()).Info("Serving chain %s", c.DataPath())
	if ready != nil {
		ready(server.Addr())
	}

	<-ctx.Done()
	a.logger.Info("Shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Stop(stopCtx)
}

// serverTLS prefers the serve flags and falls back to the config
func (a *app) serverTLS(flags serveFlags) (*tls.Config, error) {
	cert, key := flags.TLSCert, flags.TLSKey
	if cert == "" && key == "" {
		cert, key = a.cfg.TLSCertFile, a.cfg.TLSKeyFile
	}
	if cert == "" && key == "" {
		if flags.TLSCA != "" {
			return nil, fmt.Errorf("--tls-ca needs a server certificate and key")
		}
		return nil, nil
	}
	return transport.LoadServerTLSConfig(cert, key, flags.TLSCA)
}
