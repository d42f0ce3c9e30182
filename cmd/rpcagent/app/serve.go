package app

import (
	"errors"
	"time"

	"dist-rpc/middleware"
	"dist-rpc/registry"
	"dist-rpc/server"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func serveCmd() *cli.Command {
	var (
		listen          = ":8080"
		advertise       string
		etcd            = cli.NewStringSlice()
		rateLimit       float64
		burst           = 100
		timeout         = 5 * time.Second
		shutdownTimeout = 10 * time.Second
	)
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a worker exposing the Echo service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "Address to accept connections on", EnvVars: envVar("listen"), Destination: &listen, Value: listen},
			&cli.StringFlag{Name: "advertise", Usage: "Address registered in etcd, required with --etcd", EnvVars: envVar("advertise"), Destination: &advertise},
			&cli.StringSliceFlag{Name: "etcd", Usage: "etcd endpoints for worker registration", EnvVars: envVar("etcd"), Destination: etcd},
			&cli.Float64Flag{Name: "rate", Usage: "Requests per second, 0 disables rate limiting", EnvVars: envVar("rate"), Destination: &rateLimit},
			&cli.IntFlag{Name: "burst", Usage: "Rate limiter burst size", EnvVars: envVar("burst"), Destination: &burst, Value: burst},
			&cli.DurationFlag{Name: "timeout", Usage: "Per-request timeout, 0 disables it", EnvVars: envVar("timeout"), Destination: &timeout, Value: timeout},
			&cli.DurationFlag{Name: "shutdown-timeout", Usage: "How long to wait for in-flight requests on exit", EnvVars: envVar("shutdown-timeout"), Destination: &shutdownTimeout, Value: shutdownTimeout},
		},
		Action: func(ctx *cli.Context) error {
			svr := server.NewServer()
			if err := svr.Register(&Echo{}); err != nil {
				return err
			}
			svr.Use(middleware.LoggingMiddleware(zap.L().Named("rpc")))
			if rateLimit > 0 {
				svr.Use(middleware.RateLimitMiddleware(rateLimit, burst))
			}
			if timeout > 0 {
				svr.Use(middleware.TimeOutMiddleware(timeout))
			}

			var reg registry.Registry
			if endpoints := etcd.Value(); len(endpoints) > 0 {
				if advertise == "" {
					return errors.New("--advertise is required with --etcd")
				}
				etcdReg, err := registry.NewEtcdRegistry(endpoints)
				if err != nil {
					return err
				}
				defer etcdReg.Close()
				reg = etcdReg
			}

			served := make(chan error, 1)
			go func() { served <- svr.Serve("tcp", listen, advertise, reg) }()

			select {
			case err := <-served:
				return err
			case <-ctx.Context.Done():
			}
			zap.L().Info("shutting down", zap.Duration("timeout", shutdownTimeout))
			if err := svr.Shutdown(shutdownTimeout); err != nil {
				return err
			}
			return <-served
		},
	}
}
