package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"securecrdt/internal/config"
	"securecrdt/internal/debuglog"
	"securecrdt/internal/node"
	"securecrdt/internal/replica"
)

type globalFlags struct {
	configFile string
	instanceID string
	dataDir    string
	backend    string
	debug      bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "securecrdt",
		Short: "Encrypted, eventually consistent messaging between trusted instances",
		Long: `securecrdt keeps a replicated message log and peer registry on every
instance. Replicas converge by exchanging snapshots over QUIC or MQTT; message
bodies are sealed with keys derived from a shared secret.`,
		Version:       replica.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.debug {
				debuglog.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "configuration file path")
	root.PersistentFlags().StringVar(&g.instanceID, "id", "", "instance id (overrides instance_id)")
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "data directory (overrides data_dir)")
	root.PersistentFlags().StringVar(&g.backend, "backend", "", "storage backend: file, pebble, leveldb, sqlite, memory")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newSendCmd(g),
		newReceiveCmd(g),
		newPeersCmd(g),
		newExportCmd(g),
		newMergeCmd(g),
		newCleanCmd(g),
		newStatusCmd(g),
		newReportCmd(g),
		newServeCmd(g),
	)
	return root
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return nil, err
	}
	if g.instanceID != "" {
		cfg.InstanceID = g.instanceID
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.backend != "" {
		cfg.Storage.Backend = g.backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withNode opens the instance, runs fn and closes it, persisting state.
func (g *globalFlags) withNode(ctx context.Context, fn func(n *node.Node) error) (err error) {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	n, err := node.Open(ctx, cfg, node.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := n.Close(ctx); err == nil {
			err = cerr
		}
	}()
	return fn(n)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
