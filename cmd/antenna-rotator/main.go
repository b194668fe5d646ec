package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/rotortrack/core"
	"github.com/signalsfoundry/rotortrack/internal/channel"
	"github.com/signalsfoundry/rotortrack/internal/channel/grpclink"
	"github.com/signalsfoundry/rotortrack/internal/config"
	"github.com/signalsfoundry/rotortrack/internal/logging"
	"github.com/signalsfoundry/rotortrack/internal/observability"
	"github.com/signalsfoundry/rotortrack/internal/rotator"
	"github.com/signalsfoundry/rotortrack/internal/wire"
	"github.com/signalsfoundry/rotortrack/timectrl"
	"github.com/urfave/cli"
	"go.uber.org/multierr"
)

func main() {
	app := cli.NewApp()
	app.Name = "antenna-rotator"
	app.Usage = "execute relative motion commands and report the rotator's absolute position"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "env-file",
			Usage: ".env file read before ROTOR_* variables (default .env if present)",
		},
		cli.StringFlag{
			Name:  "link",
			Usage: "rotorlink broker address, overrides ROTOR_LINK_TARGET",
		},
		cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "HTTP address for Prometheus /metrics, overrides ROTOR_ROTATOR_METRICS_ADDR",
		},
		cli.StringFlag{
			Name:  "initial-position",
			Usage: "absolute start position such as [180,45], overrides ROTOR_INITIAL_POSITION",
		},
		cli.BoolFlag{
			Name:  "instant",
			Usage: "simulate motion without waiting out pulse half-periods",
		},
	}
	app.Action = func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
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

		link, err := grpclink.Dial(cfg.Link.Target,
			grpclink.WithRetryDelay(cfg.Link.RetryDelay),
			grpclink.WithLogger(log),
		)
		if err != nil {
			return fmt.Errorf("dial %s: %w", cfg.Link.Target, err)
		}

		var clock timectrl.Clock = timectrl.RealClock{}
		if c.Bool("instant") {
			clock = timectrl.NewFakeClock(time.Now())
		}
		err = run(ctx, cfg, log, link, simulatedDriver(clock))
		return multierr.Combine(err, link.Close())
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "antenna-rotator:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if f := c.String("env-file"); f != "" {
		cfg, err = config.Load(f)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cfg, err
	}
	if v := c.String("link"); v != "" {
		cfg.Link.Target = v
	}
	if c.IsSet("metrics-addr") {
		cfg.RotatorMetricsAddr = c.String("metrics-addr")
	}
	if v := c.String("initial-position"); v != "" {
		pos, err := wire.DecodeAbsolute(v)
		if err != nil {
			return cfg, fmt.Errorf("initial position: %w", err)
		}
		cfg.InitialPosition = pos
	}
	return cfg, cfg.Validate()
}

// simulatedDriver drives in-memory step and direction lines. Motor driver
// GPIO wiring is board specific and plugs in through core.Pin.
func simulatedDriver(clock timectrl.Clock) core.StepDriver {
	return core.NewPinStepper(clock,
		core.AxisPins{Step: core.NewMemoryPin(false), Dir: core.NewMemoryPin(false)},
		core.AxisPins{Step: core.NewMemoryPin(false), Dir: core.NewMemoryPin(false)},
	)
}

// run executes commands from ch until ctx is done or the executor halts.
func run(ctx context.Context, cfg config.Config, log logging.Logger, ch channel.Channel, driver core.StepDriver) error {
	collector, err := observability.NewRotatorCollector(nil)
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}
	exec, err := core.NewExecutor(cfg.Executor, driver, cfg.InitialPosition)
	if err != nil {
		return err
	}
	rot, err := rotator.New(cfg.Rotator, ch, exec,
		rotator.WithLogger(log),
		rotator.WithMetrics(collector),
	)
	if err != nil {
		return err
	}

	metricsSrv := serveMetrics(cfg.RotatorMetricsAddr, collector.Handler(), log)
	defer func() {
		if metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	if err := rot.Run(ctx); err != nil {
		log.Error(context.Background(), "rotator stopped", logging.Err(err))
		return err
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
