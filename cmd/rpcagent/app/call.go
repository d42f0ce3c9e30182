package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dist-rpc/client"
	"dist-rpc/codec"
	"dist-rpc/invoke"
	"dist-rpc/loadbalance"
	"dist-rpc/middleware"
	"dist-rpc/registry"

	"github.com/urfave/cli/v2"
)

func callCmd() *cli.Command {
	var (
		addr      string
		etcd      = cli.NewStringSlice()
		service   string
		codecName = "binary"
		timeout   = 5 * time.Second
		retries   = 2
	)
	return &cli.Command{
		Name:      "call",
		Usage:     "Call Service.Method on a worker and print the JSON reply",
		ArgsUsage: "Service.Method [json-args]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "Worker address, skips discovery", EnvVars: envVar("addr"), Destination: &addr},
			&cli.StringSliceFlag{Name: "etcd", Usage: "etcd endpoints to discover workers", EnvVars: envVar("etcd"), Destination: etcd},
			&cli.StringFlag{Name: "service", Usage: "Registered service name, defaults to the method's service", EnvVars: envVar("service"), Destination: &service},
			&cli.StringFlag{Name: "codec", Usage: "Body codec: json, binary, msgpack", EnvVars: envVar("codec"), Destination: &codecName, Value: codecName},
			&cli.DurationFlag{Name: "timeout", Usage: "Call timeout", EnvVars: envVar("timeout"), Destination: &timeout, Value: timeout},
			&cli.IntFlag{Name: "retries", Usage: "Retries on transient failures", EnvVars: envVar("retries"), Destination: &retries, Value: retries},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() < 1 {
				return errors.New("missing Service.Method")
			}
			method := ctx.Args().Get(0)
			svcName, _, err := invoke.SplitMethod(method)
			if err != nil {
				return err
			}
			if service == "" {
				service = svcName
			}
			args := json.RawMessage("null")
			if ctx.NArg() > 1 {
				args = json.RawMessage(ctx.Args().Get(1))
				if !json.Valid(args) {
					return fmt.Errorf("args are not valid JSON: %s", args)
				}
			}
			ct, err := codec.ParseCodecType(codecName)
			if err != nil {
				return err
			}

			var reg registry.Registry
			switch {
			case addr != "":
				mem := registry.NewMemoryRegistry()
				mem.Register(service, registry.WorkerInfo{Addr: addr}, 0)
				reg = mem
			case len(etcd.Value()) > 0:
				etcdReg, err := registry.NewEtcdRegistry(etcd.Value())
				if err != nil {
					return err
				}
				defer etcdReg.Close()
				reg = etcdReg
			default:
				return errors.New("one of --addr or --etcd is required")
			}

			rpcClient := client.NewClient(reg, &loadbalance.RoundRobinBalancer{}, ct, 1)
			defer rpcClient.Close()
			if retries > 0 {
				rpcClient.Use(middleware.RetryMiddleware(retries, 100*time.Millisecond))
			}

			callCtx, cancel := context.WithTimeout(ctx.Context, timeout)
			defer cancel()
			var reply json.RawMessage
			if err := rpcClient.CallFunc(callCtx, service, method, args, &reply); err != nil {
				return err
			}
			_, err = fmt.Fprintln(ctx.App.Writer, string(reply))
			return err
		},
	}
}
