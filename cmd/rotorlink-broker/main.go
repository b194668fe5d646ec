package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/rotortrack/internal/channel"
	"github.com/signalsfoundry/rotortrack/internal/channel/grpclink"
	"github.com/signalsfoundry/rotortrack/internal/config"
	"github.com/signalsfoundry/rotortrack/internal/logging"
	"github.com/signalsfoundry/rotortrack/internal/observability"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "rotorlink-broker"
	app.Usage = "relay motion commands and position reports between antenna controller and rotator"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "env-file",
			Usage: ".env file read before ROTOR_* variables (default .env if present)",
		},
		cli.StringFlag{
			Name:  "addr",
			Usage: "gRPC listen address, overrides ROTOR_BROKER_ADDR",
		},
		cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "HTTP address for Prometheus /metrics, overrides ROTOR_BROKER_METRICS_ADDR",
		},
	}
	app.Action = func(c *cli.Context) error {
		cfg, err := loadConfig(c.String("env-file"))
		if err != nil {
			return err
		}
		if v := c.String("addr"); v != "" {
			cfg.Broker.Addr = v
		}
		if v := c.String("metrics-addr"); v != "" {
			cfg.Broker.MetricsAddr = v
		}

		log := logging.NewFromEnv(app.Name)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Tracing.ServiceName == "" {
			cfg.Tracing.ServiceName = app.Name
		}
		tracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer tracing.Shutdown(context.Background())

		lis, err := net.Listen("tcp", cfg.Broker.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Broker.Addr, err)
		}
		return run(ctx, cfg, log, lis)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "rotorlink-broker:", err)
		os.Exit(1)
	}
}

func loadConfig(envFile string) (config.Config, error) {
	if envFile != "" {
		return config.Load(envFile)
	}
	return config.Load()
}

// run serves the broker on lis until ctx is done.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	collector, err := observability.NewBrokerCollector(nil)
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}
	metricsSrv := serveMetrics(cfg.Broker.MetricsAddr, collector.Handler(), log)

	bus := channel.NewBus(channel.WithQueueSize(cfg.Broker.QueueSize))
	defer bus.Close()

	server := grpclink.NewServer(grpclink.NewBroker(bus, log, collector), collector)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(lis) }()
	log.Info(ctx, "rotorlink broker listening",
		logging.String("addr", lis.Addr().String()),
		logging.Int("queue_size", cfg.Broker.QueueSize),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down rotorlink broker")
	// Subscriber streams only end when their clients go away.
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		server.Stop()
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
