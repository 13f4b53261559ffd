// Package node assembles one instance: configuration, storage backend,
// derived keys and the replica, and persists the replica after each change.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"securecrdt/internal/config"
	"securecrdt/internal/crypto"
	"securecrdt/internal/debuglog"
	"securecrdt/internal/message"
	"securecrdt/internal/metrics"
	"securecrdt/internal/peer"
	"securecrdt/internal/replica"
	"securecrdt/internal/snapshot"
	"securecrdt/internal/store"
)

type Options struct {
	// Now overrides the replica clock.
	Now     func() time.Time
	Metrics *metrics.Metrics
}

type Node struct {
	Replica *replica.Replica

	cfg     *config.Config
	backend store.Backend
	codec   snapshot.Codec
	keys    *crypto.Keys
	metrics *metrics.Metrics
	log     *logrus.Entry

	// serialises persistence so states are written in order
	saveMu sync.Mutex
}

// Open creates the data directory if needed, opens the configured backend,
// derives keys from the shared secret and restores the replica.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Node, error) {
	if cfg.InstanceID == "" {
		return nil, errors.New("instance_id is not set")
	}
	if cfg.Storage.Backend != store.KindMemory {
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, err
		}
	}
	log := debuglog.With(logrus.Fields{"instance": cfg.InstanceID})
	var keys *crypto.Keys
	if cfg.SharedSecret != "" {
		k, err := crypto.DeriveKeys([]byte(cfg.SharedSecret), cfg.KDF.Iterations)
		if err != nil {
			return nil, fmt.Errorf("derive keys: %w", err)
		}
		keys = k
	} else {
		log.Warn("no shared secret configured, messages are stored and sent in plaintext")
	}
	backend, err := store.Open(cfg.Storage.Backend, cfg.StorePath())
	if err != nil {
		keys.Destroy()
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	codec := snapshot.Codec{Backend: backend}
	st, err := codec.Load(ctx)
	if err != nil {
		_ = backend.Close()
		keys.Destroy()
		return nil, fmt.Errorf("load state: %w", err)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	r, err := replica.New(cfg.InstanceID, replica.Options{
		Keys:      keys,
		State:     &st,
		Now:       opts.Now,
		CacheSize: cfg.Cache.Size,
		Metrics:   m,
	})
	if err != nil {
		_ = backend.Close()
		keys.Destroy()
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"backend":    cfg.Storage.Backend,
		"messages":   r.Len(),
		"encryption": r.EncryptionEnabled(),
	}).Debug("node opened")
	return &Node{
		Replica: r,
		cfg:     cfg,
		backend: backend,
		codec:   codec,
		keys:    keys,
		metrics: m,
		log:     log,
	}, nil
}

func (n *Node) ID() string {
	return n.Replica.ID()
}

func (n *Node) Config() *config.Config {
	return n.cfg
}

func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

// Save persists the current replica state and, when configured, the metrics
// snapshot.
func (n *Node) Save(ctx context.Context) error {
	n.saveMu.Lock()
	defer n.saveMu.Unlock()
	if err := n.codec.Save(ctx, n.Replica.State()); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := n.metrics.WriteSnapshot(n.cfg.Metrics.Path); err != nil {
		n.log.WithField("error", err).Warn("metrics snapshot write failed")
	}
	return nil
}

// Send stores a new message and persists. A zero TTL selects message.max_age.
func (n *Node) Send(ctx context.Context, to string, content []byte, opts message.Options) (replica.Receipt, error) {
	if opts.TTL <= 0 {
		opts.TTL = n.cfg.Message.MaxAge
	}
	rc, err := n.Replica.Send(to, content, opts)
	if err != nil {
		return replica.Receipt{}, err
	}
	return rc, n.Save(ctx)
}

// ExportBytes encodes the replica for transport.
func (n *Node) ExportBytes() ([]byte, error) {
	return n.Replica.ExportBytes()
}

func (n *Node) Peers() []peer.Peer {
	return n.Replica.Peers()
}

// Ingest merges an encoded remote snapshot received from a transport and
// persists the result. from names the transport-level sender, for logs.
func (n *Node) Ingest(ctx context.Context, from string, data []byte) (replica.MergeResult, error) {
	res, err := n.Replica.MergeBytes(data)
	if err != nil {
		n.log.WithFields(logrus.Fields{"from": from, "error": err}).Warn("rejected remote snapshot")
		return res, err
	}
	if from != "" && res.From != "" && from != res.From {
		n.log.WithFields(logrus.Fields{"from": from, "exportedBy": res.From}).Debug("snapshot relayed by another instance")
	}
	return res, n.Save(ctx)
}

// HandleExchange serves a QUIC push: merge the sender's snapshot, answer with
// our own.
func (n *Node) HandleExchange(ctx context.Context, remote net.Addr, payload []byte) ([]byte, error) {
	from := ""
	if remote != nil {
		from = remote.String()
	}
	if _, err := n.Ingest(ctx, from, payload); err != nil {
		return nil, err
	}
	return n.ExportBytes()
}

// CleanExpired evicts expired messages and persists when any were removed.
func (n *Node) CleanExpired(ctx context.Context) (int, error) {
	cleaned := n.Replica.CleanExpired()
	if cleaned == 0 {
		return 0, nil
	}
	return cleaned, n.Save(ctx)
}

// Close persists, wipes the key material and closes the backend. The final
// save ignores cancellation of ctx so a signal-driven shutdown still persists.
func (n *Node) Close(ctx context.Context) error {
	saveErr := n.Save(context.WithoutCancel(ctx))
	n.keys.Destroy()
	closeErr := n.backend.Close()
	return errors.Join(saveErr, closeErr)
}
