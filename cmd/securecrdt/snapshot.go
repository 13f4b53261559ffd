package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"securecrdt/internal/node"
)

func newExportCmd(g *globalFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of this replica for another instance to merge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withNode(cmd.Context(), func(n *node.Node) error {
				data, err := n.ExportBytes()
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = cmd.OutOrStdout().Write(append(data, '\n'))
					return err
				}
				return os.WriteFile(out, data, 0600)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newMergeCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <snapshot-file|->",
		Short: "Merge a snapshot exported by another instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			return g.withNode(cmd.Context(), func(n *node.Node) error {
				res, err := n.Ingest(cmd.Context(), "", data)
				if err != nil {
					return err
				}
				for _, r := range res.Rejected {
					fmt.Fprintf(cmd.ErrOrStderr(), "rejected: %v\n", r)
				}
				return printJSON(cmd.OutOrStdout(), mergeSummary{
					From:     res.From,
					Accepted: res.Accepted,
					Rejected: len(res.Rejected),
					Expired:  res.Expired,
				})
			})
		},
	}
	return cmd
}

type mergeSummary struct {
	From     string `json:"from"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Expired  int    `json:"expired"`
}

func newCleanCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete messages whose TTL has elapsed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withNode(cmd.Context(), func(n *node.Node) error {
				cleaned, err := n.CleanExpired(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"cleaned": cleaned})
			})
		},
	}
}
