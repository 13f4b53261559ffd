package main

import (
	"github.com/spf13/cobra"

	"securecrdt/internal/node"
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show instance, encryption and replica statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withNode(cmd.Context(), func(n *node.Node) error {
				return printJSON(cmd.OutOrStdout(), n.Replica.Status())
			})
		},
	}
}

func newReportCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show a health summary suitable for a monitoring hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withNode(cmd.Context(), func(n *node.Node) error {
				return printJSON(cmd.OutOrStdout(), n.Replica.HubReport())
			})
		},
	}
}
