package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"securecrdt/internal/message"
	"securecrdt/internal/node"
)

func newSendCmd(g *globalFlags) *cobra.Command {
	var (
		to       string
		msgType  string
		priority string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [content|-]",
		Short: "Store a new message for an instance or for everyone",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content []byte
			if len(args) == 0 || args[0] == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				content = b
			} else {
				content = []byte(args[0])
			}
			return g.withNode(cmd.Context(), func(n *node.Node) error {
				rc, err := n.Send(cmd.Context(), to, content, message.Options{Type: msgType, Priority: priority, TTL: ttl})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rc)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", message.Broadcast, "recipient instance id, or ALL")
	cmd.Flags().StringVar(&msgType, "type", message.DefaultType, "message type tag")
	cmd.Flags().StringVar(&priority, "priority", message.DefaultPriority, "message priority tag")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "time to live (default message.max_age)")
	return cmd
}

func newReceiveCmd(g *globalFlags) *cobra.Command {
	var forID string
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Print live messages addressed to this instance in causal order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withNode(cmd.Context(), func(n *node.Node) error {
				id := forID
				if id == "" {
					id = n.ID()
				}
				inbox := n.Replica.Receive(id)
				for _, f := range inbox.Failed {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", f.ID, f.Err)
				}
				out := make([]receivedMessage, 0, len(inbox.Messages))
				for _, m := range inbox.Messages {
					out = append(out, receivedMessage{
						ID:        m.ID,
						From:      m.From,
						To:        m.To,
						Content:   string(m.Content),
						Timestamp: m.Timestamp,
						Type:      m.Type,
						Priority:  m.Priority,
						Verified:  m.Verified,
					})
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&forID, "for", "", "recipient to read for (default this instance)")
	return cmd
}

type receivedMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Priority  string `json:"priority"`
	Verified  bool   `json:"verified"`
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q is not key=value", p)
		}
		meta[k] = v
	}
	return meta, nil
}
