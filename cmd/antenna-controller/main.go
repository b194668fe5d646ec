package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/rotortrack/internal/channel"
	"github.com/signalsfoundry/rotortrack/internal/channel/grpclink"
	"github.com/signalsfoundry/rotortrack/internal/config"
	"github.com/signalsfoundry/rotortrack/internal/controller"
	"github.com/signalsfoundry/rotortrack/internal/logging"
	"github.com/signalsfoundry/rotortrack/internal/observability"
	"github.com/signalsfoundry/rotortrack/internal/status"
	"github.com/signalsfoundry/rotortrack/internal/tracker"
	"github.com/urfave/cli"
	"go.uber.org/multierr"
)

func main() {
	app := cli.NewApp()
	app.Name = "antenna-controller"
	app.Usage = "keep the antenna rotator pointed at the satellite reported by the tracking software"
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
			Name:  "status-addr",
			Usage: "HTTP address of the status server, overrides ROTOR_STATUS_ADDR",
		},
		cli.StringFlag{
			Name:  "source",
			Usage: "tracker source: serial, stdin or file, overrides ROTOR_TRACKER_SOURCE",
		},
		cli.StringFlag{
			Name:  "port",
			Usage: "serial port the tracking software writes to, overrides ROTOR_TRACKER_PORT",
		},
		cli.StringFlag{
			Name:  "file",
			Usage: "file or named pipe to read tracker lines from, overrides ROTOR_TRACKER_FILE",
		},
		cli.BoolFlag{
			Name:  "list-ports",
			Usage: "print the serial ports visible to the process and exit",
		},
	}
	app.Action = func(c *cli.Context) error {
		if c.Bool("list-ports") {
			return listPorts()
		}

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

		src, closeSource, err := openSource(cfg.Tracker)
		if err != nil {
			return err
		}
		link, err := grpclink.Dial(cfg.Link.Target,
			grpclink.WithRetryDelay(cfg.Link.RetryDelay),
			grpclink.WithLogger(log),
		)
		if err != nil {
			return multierr.Append(fmt.Errorf("dial %s: %w", cfg.Link.Target, err), closeSource())
		}
		log.Info(ctx, "controller starting",
			logging.String("link", cfg.Link.Target),
			logging.String("tracker_source", cfg.Tracker.Source),
			logging.String("status_addr", cfg.Status.Addr),
		)

		err = run(ctx, cfg, log, src, link)
		return multierr.Combine(err, link.Close(), closeSource())
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "antenna-controller:", err)
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
	if c.IsSet("status-addr") {
		cfg.Status.Addr = c.String("status-addr")
	}
	if v := c.String("source"); v != "" {
		cfg.Tracker.Source = v
	}
	if v := c.String("port"); v != "" {
		cfg.Tracker.Port = v
	}
	if v := c.String("file"); v != "" {
		cfg.Tracker.File = v
	}
	return cfg, cfg.Validate()
}

func listPorts() error {
	ports, err := tracker.SerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func openSource(cfg config.TrackerConfig) (tracker.Source, func() error, error) {
	switch cfg.Source {
	case config.SourceSerial:
		src, err := tracker.OpenSerial(tracker.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			MaxAge:   cfg.MaxAge,
		}, nil)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case config.SourceFile:
		f, err := os.Open(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("open tracker file: %w", err)
		}
		return tracker.NewReaderSource(f, cfg.MaxAge, nil), f.Close, nil
	case config.SourceStdin:
		return tracker.NewReaderSource(os.Stdin, cfg.MaxAge, nil), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown tracker source %q", cfg.Source)
	}
}

// run drives the controller loop over ch until ctx is done.
func run(ctx context.Context, cfg config.Config, log logging.Logger, src tracker.Source, ch channel.Channel) error {
	collector, err := observability.NewControllerCollector(nil)
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}

	ctrl, err := controller.New(cfg.Controller, ch, tracker.New(src, log, nil),
		controller.WithLogger(log),
		controller.WithMetrics(collector),
		controller.WithMotionEstimate(cfg.Executor.MoveDuration),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	surfaceDone := make(chan error, 1)
	if cfg.Status.Addr != "" {
		srv := status.New(cfg.Status, ctrl, collector.Handler(), log)
		go func() { surfaceDone <- srv.Run(ctx) }()
	} else {
		metricsSrv := serveMetrics(cfg.ControllerMetricsAddr, collector.Handler(), log)
		go func() {
			<-ctx.Done()
			if metricsSrv == nil {
				surfaceDone <- nil
				return
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			surfaceDone <- metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	loopErr := ctrl.Run(ctx)
	cancel()
	surfaceErr := <-surfaceDone
	if errors.Is(surfaceErr, http.ErrServerClosed) {
		surfaceErr = nil
	}
	return multierr.Combine(loopErr, surfaceErr)
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
