package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/bridge"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/profile"
)

type serveFlags struct {
	address         string
	shutdownTimeout time.Duration
}

func newServeCmd(global *globalFlags) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP bridge",
		Long: `Start an HTTP server exposing the pipeline to page scripts and debug tools.

Routes:
  GET  /consent               current consent state
  POST /consent               {"accepted": true|false}
  POST /events/{type}         page, track, identify, component-view, component-seen
  POST /experiences/resolve   assign the visitor to an experience
  POST /reset                 forget the visitor's identity
  GET  /resolve               server-side profile resolution with cookie
  GET  /debug[/{namespace}]   plugin states and shared debug context
  GET  /queue                 events blocked by consent

Examples:
  experience serve -c experience.yaml
  experience serve --address 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, global, flags)
		},
	}
	cmd.Flags().StringVar(&flags.address, "address", "", "Listen address (overrides server.address)")
	cmd.Flags().DurationVar(&flags.shutdownTimeout, "shutdown-timeout", 10*time.Second, "Grace period for in-flight requests")
	return cmd
}

func runServe(cmd *cobra.Command, global *globalFlags, flags *serveFlags) error {
	s, err := loadSettings(global)
	if err != nil {
		return err
	}
	if flags.address != "" {
		s.Server.Address = flags.address
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, s, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	resolver, err := profile.NewServerResolver(a.store,
		profile.WithLogger(a.logger),
		profile.WithCookieOptions(s.Cookie),
		profile.WithAnonymousIDTTL(s.AnonymousIDTTL),
		profile.WithFeatures(a.pipeline.Gate().Features),
	)
	if err != nil {
		return err
	}
	handler := bridge.NewHandler(a.pipeline,
		bridge.WithLogger(a.logger),
		bridge.WithServerResolver(resolver),
	)

	srv := &http.Server{
		Addr:              s.Server.Address,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	listener, err := net.Listen("tcp", s.Server.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Server.Address, err)
	}
	a.logger.Info("bridge listening", slog.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), flags.shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
