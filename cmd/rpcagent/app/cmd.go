// Package app holds the rpcagent command line: a worker that serves RPC
// messages and a one-shot caller.
package app

import (
	"context"
	"regexp"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var unsafeFlagName = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// envVar maps a flag name to its RPCAGENT_* environment variable.
func envVar(name string) []string {
	return []string{"RPCAGENT_" + strings.ToUpper(unsafeFlagName.ReplaceAllString(name, "_"))}
}

func Instance() *cli.App {
	loglevel := "info"
	return &cli.App{
		Name:  "rpcagent",
		Usage: "Serve or call dist-rpc workers",
		Commands: []*cli.Command{
			serveCmd(),
			callCmd(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Verbosity of log, valid values are: debug, info, warn, error",
				EnvVars:     envVar("log-level"),
				Destination: &loglevel,
				Value:       loglevel,
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := zapcore.ParseLevel(loglevel)
			if err != nil {
				return err
			}
			core := zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(ctx.App.ErrWriter),
				level,
			)
			zap.ReplaceGlobals(zap.New(core))
			return nil
		},
		After: func(ctx *cli.Context) error {
			zap.L().Sync()
			return nil
		},
	}
}

func Run(ctx context.Context, args []string) error {
	app := Instance()
	return app.RunContext(ctx, args)
}
