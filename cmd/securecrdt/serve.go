package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"securecrdt/internal/broker"
	"securecrdt/internal/debuglog"
	"securecrdt/internal/network"
	"securecrdt/internal/node"
	"securecrdt/internal/pprofutil"
	"securecrdt/internal/syncer"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for QUIC exchanges, relay through MQTT and sync with peers periodically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return g.withNode(ctx, func(n *node.Node) error {
				return serve(ctx, n, once)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sync round and exit")
	return cmd
}

func serve(ctx context.Context, n *node.Node, once bool) error {
	cfg := n.Config()

	if _, err := pprofutil.StartFromEnv(ctx); err != nil {
		return err
	}

	client, err := network.NewClient(network.ClientOptions{
		Insecure: cfg.Sync.Insecure,
		CAPath:   cfg.Sync.CAPath,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	opts := syncer.Options{
		Interval:    cfg.Sync.Interval,
		Concurrency: cfg.Sync.Concurrency,
		Exchanger:   client,
		Metrics:     n.Metrics(),
	}
	if cfg.MQTT.Broker != "" {
		b, err := broker.Connect(broker.Options{
			BrokerURL: cfg.MQTT.Broker,
			Prefix:    cfg.MQTT.Topic,
			Instance:  n.ID(),
			Metrics:   n.Metrics(),
		}, n)
		if err != nil {
			return err
		}
		defer b.Close()
		opts.Publisher = b
	}
	s := syncer.New(n, opts)

	if once {
		return s.Round(ctx)
	}

	grp, gctx := errgroup.WithContext(ctx)
	if cfg.Sync.Listen != "" {
		srv, err := network.Listen(cfg.Sync.Listen, n.HandleExchange, network.ServerOptions{Metrics: n.Metrics()})
		if err != nil {
			return err
		}
		grp.Go(func() error { return srv.Serve(gctx) })
	}
	grp.Go(func() error { return s.Run(gctx) })
	debuglog.Logf("serving instance %s", n.ID())
	return grp.Wait()
}
