// Package syncer runs the periodic anti-entropy loop: export the local
// replica, exchange it with every peer that advertises an address, merge
// the replies and optionally publish through the broker.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"securecrdt/internal/debuglog"
	"securecrdt/internal/metrics"
	"securecrdt/internal/peer"
	"securecrdt/internal/replica"
)

// AddrKey is the peer metadata key holding a QUIC address.
const AddrKey = "addr"

const DefaultInterval = 10 * time.Second

// Node is the local side of a round. *node.Node satisfies it.
type Node interface {
	ID() string
	ExportBytes() ([]byte, error)
	Peers() []peer.Peer
	Ingest(ctx context.Context, from string, data []byte) (replica.MergeResult, error)
	CleanExpired(ctx context.Context) (int, error)
}

// Exchanger sends our snapshot to addr and returns the peer's.
// *network.Client satisfies it.
type Exchanger interface {
	Exchange(ctx context.Context, addr string, payload []byte) ([]byte, error)
}

// Publisher broadcasts our snapshot. *broker.Broker satisfies it.
type Publisher interface {
	Publish(payload []byte) error
}

type Options struct {
	Interval    time.Duration
	Concurrency int
	Exchanger   Exchanger
	Publisher   Publisher
	Metrics     *metrics.Metrics
}

type Syncer struct {
	node        Node
	ex          Exchanger
	pub         Publisher
	interval    time.Duration
	concurrency int
	metrics     *metrics.Metrics
	log         *logrus.Entry
}

func New(n Node, opts Options) *Syncer {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Syncer{
		node:        n,
		ex:          opts.Exchanger,
		pub:         opts.Publisher,
		interval:    interval,
		concurrency: concurrency,
		metrics:     m,
		log:         debuglog.With(logrus.Fields{"component": "syncer", "instance": n.ID()}),
	}
}

// Run performs a round immediately and then every interval until ctx is
// done. Round errors are logged, not fatal.
func (s *Syncer) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if err := s.Round(ctx); err != nil && ctx.Err() == nil {
			s.log.WithField("error", err).Warn("sync round finished with errors")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Round runs one export/exchange/merge pass. Every peer is attempted; the
// returned error joins the per-peer failures.
func (s *Syncer) Round(ctx context.Context) error {
	s.metrics.IncSyncRound()
	if _, err := s.node.CleanExpired(ctx); err != nil {
		return fmt.Errorf("clean expired: %w", err)
	}
	data, err := s.node.ExportBytes()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		s.metrics.IncSyncError()
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	if s.pub != nil {
		if err := s.pub.Publish(data); err != nil {
			fail(fmt.Errorf("publish: %w", err))
		}
	}

	if s.ex != nil {
		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for _, p := range s.targets() {
			g.Go(func() error {
				if err := s.exchange(ctx, p, data); err != nil {
					fail(err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return errors.Join(errs...)
}

func (s *Syncer) targets() []peer.Peer {
	self := s.node.ID()
	var out []peer.Peer
	for _, p := range s.node.Peers() {
		if p.ID == self || p.Metadata[AddrKey] == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Syncer) exchange(ctx context.Context, p peer.Peer, data []byte) error {
	addr := p.Metadata[AddrKey]
	resp, err := s.ex.Exchange(ctx, addr, data)
	if err != nil {
		return fmt.Errorf("exchange with %s (%s): %w", p.ID, addr, err)
	}
	res, err := s.node.Ingest(ctx, p.ID, resp)
	if err != nil {
		return fmt.Errorf("merge reply from %s: %w", p.ID, err)
	}
	s.log.WithFields(logrus.Fields{"peer": p.ID, "accepted": res.Accepted, "rejected": len(res.Rejected)}).Debug("synced with peer")
	return nil
}
