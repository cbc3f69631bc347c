package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"yar-rpc/config"
	"yar-rpc/lifecycle"
	"yar-rpc/logging"
	"yar-rpc/metrics"
	"yar-rpc/middleware"
	"yar-rpc/registry"
	"yar-rpc/server"
)

const usage = `Usage: yar-server [options] [stop|reload|restart]

  -h <hostname>      Server hostname (default: 0.0.0.0).
  -p <port>          Server port (default: 9501).
  -c <file>          TOML config file.
  -d                 Run server in daemon mode.
  -v                 Output version and exit.
`

type options struct {
	host       string
	port       int
	configPath string
	daemonize  bool
	version    bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "yar-server: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	fs := flag.NewFlagSet("yar-server", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	fs.StringVar(&opts.host, "h", "", "server hostname")
	fs.IntVar(&opts.port, "p", 0, "server port")
	fs.StringVar(&opts.configPath, "c", "", "config file")
	fs.BoolVar(&opts.daemonize, "d", false, "daemonize")
	fs.BoolVar(&opts.version, "v", false, "print version")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.version {
		fmt.Println(server.Version)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if fs.NArg() > 0 {
		return control(fs.Arg(0), cfg)
	}
	return serve(cfg)
}

func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.host != "" {
		cfg.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Port = opts.port
	}
	if opts.daemonize {
		cfg.Daemonize = true
	}
	return cfg, cfg.Validate()
}

// control runs one of the management subcommands against a running server.
func control(action string, cfg config.Config) error {
	pidFile := lifecycle.PIDFile(cfg.PIDFile)
	grace := cfg.ShutdownTimeout + time.Second

	switch action {
	case "stop":
		fmt.Println("Server is stopping...")
		return lifecycle.Stop(pidFile, grace)
	case "reload":
		return lifecycle.Reload(pidFile)
	case "restart":
		fmt.Println("Server is restarting...")
		return lifecycle.Restart(pidFile, grace)
	}
	return fmt.Errorf("unknown command %q\n%s", action, usage)
}

func serve(cfg config.Config) error {
	if cfg.Daemonize {
		parent, err := lifecycle.Daemonize()
		if err != nil {
			return err
		}
		if parent {
			return nil
		}
	}

	logger := logging.Init("yar-server", cfg.LogLevel, cfg.LogFormat, nil)

	pidFile := lifecycle.PIDFile(cfg.PIDFile)
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer pidFile.Remove()

	metrics.RegisterMetrics()

	srv, err := newServer(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve("tcp", cfg.Addr())
	})

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		waitSignals(ctx, srv, logger)
		err := srv.Shutdown(cfg.ShutdownTimeout)
		if metricsSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			metricsSrv.Shutdown(sctx)
		}
		return err
	})

	return g.Wait()
}

// newServer wires routes, middleware and the optional etcd registry.
func newServer(cfg config.Config, logger zerolog.Logger) (*server.Server, error) {
	routes, resolver, err := buildRoutes()
	if err != nil {
		return nil, err
	}
	reporter := server.NewReporter(logger)
	d := server.NewDispatcher(routes, resolver, reporter)

	opts := server.Options{
		TaskWorkers:   cfg.TaskWorkerNum,
		TaskQueueSize: cfg.TaskQueueSize,
		MaxBodyLen:    cfg.PackageMaxLength,
		Logger:        &logger,
		ServiceName:   cfg.Registry.Service,
		AdvertiseAddr: cfg.AdvertiseAddr(),
		RegistryTTL:   cfg.Registry.TTL,
	}
	if len(cfg.Registry.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("connect registry: %w", err)
		}
		opts.Registry = reg
	}

	srv := server.NewServer(d, opts)
	srv.Use(middleware.Logging(logger))
	srv.Use(middleware.Metrics(routes))
	if cfg.RateLimit.Rate > 0 {
		srv.Use(middleware.RateLimit(cfg.RateLimit.Rate, cfg.RateLimit.Burst))
	}
	return srv, nil
}
