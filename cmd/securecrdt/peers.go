package main

import (
	"github.com/spf13/cobra"

	"securecrdt/internal/node"
	"securecrdt/internal/syncer"
)

func newPeersCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Manage the replicated peer registry",
	}

	var (
		addr string
		meta []string
	)
	add := &cobra.Command{
		Use:   "add <id>",
		Short: "Record a peer as present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMeta(meta)
			if err != nil {
				return err
			}
			if addr != "" {
				if m == nil {
					m = make(map[string]string)
				}
				m[syncer.AddrKey] = addr
			}
			return g.withNode(cmd.Context(), func(n *node.Node) error {
				n.Replica.AddPeer(args[0], m)
				return printJSON(cmd.OutOrStdout(), n.Peers())
			})
		},
	}
	add.Flags().StringVar(&addr, "addr", "", "QUIC address used by serve to sync with this peer")
	add.Flags().StringSliceVar(&meta, "meta", nil, "metadata as key=value, repeatable")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Record a peer as removed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withNode(cmd.Context(), func(n *node.Node) error {
				n.Replica.RemovePeer(args[0])
				return printJSON(cmd.OutOrStdout(), n.Peers())
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List active peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withNode(cmd.Context(), func(n *node.Node) error {
				return printJSON(cmd.OutOrStdout(), n.Peers())
			})
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}
