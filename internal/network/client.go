package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	quic "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"securecrdt/internal/debuglog"
	"securecrdt/internal/proto"
)

const (
	maxIdleTimeout       = 30 * time.Second
	keepAlivePeriod      = 10 * time.Second
	handshakeIdleTimeout = 5 * time.Second
	streamRWTimeout      = 10 * time.Second
)

// ErrRemote is returned when the peer answered with an error frame.
var ErrRemote = errors.New("remote rejected exchange")

type ClientOptions struct {
	// Insecure skips certificate verification.
	Insecure bool
	// CAPath overrides the trusted certificate bundle.
	CAPath string
	// Timeout bounds one Exchange when ctx carries no deadline.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transport failure.
	// Zero selects the default, negative disables retries.
	Retries int
}

// Client performs push/reply snapshot exchanges over pooled QUIC connections.
type Client struct {
	tlsConf  *tls.Config
	quicConf *quic.Config
	pool     *clientPool
	timeout  time.Duration
	retries  int
	log      *logrus.Entry
}

func NewClient(opts ClientOptions) (*Client, error) {
	conf, err := clientTLSConfig(opts.Insecure, opts.CAPath)
	if err != nil {
		return nil, err
	}
	retries := opts.Retries
	switch {
	case retries == 0:
		retries = clientMaxRetries
	case retries < 0:
		retries = 0
	}
	return &Client{
		tlsConf: conf,
		quicConf: &quic.Config{
			MaxIdleTimeout:       maxIdleTimeout,
			KeepAlivePeriod:      keepAlivePeriod,
			HandshakeIdleTimeout: handshakeIdleTimeout,
		},
		pool:    newClientPool(clientConnIdle),
		timeout: opts.Timeout,
		retries: retries,
		log:     debuglog.With(logrus.Fields{"component": "quic-client"}),
	}, nil
}

// Exchange opens a stream to addr, writes payload as a push frame, closes the
// send side and returns the payload of the reply frame. Transport failures are
// retried with backoff; an error frame from the peer is not.
func (c *Client) Exchange(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		}
		resp, err := c.exchangeOnce(ctx, addr, payload)
		if err == nil {
			c.pool.resetFailures(addr)
			return resp, nil
		}
		if errors.Is(err, ErrRemote) || errors.Is(err, proto.ErrFrameTooLarge) {
			return nil, err
		}
		lastErr = err
		c.log.WithFields(logrus.Fields{"addr": addr, "attempt": attempt, "error": err}).Debug("exchange attempt failed")
		if attempt == c.retries || !backoffRetry(ctx, c.pool.recordFailure(addr)) {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("exchange failed")
	}
	return nil, lastErr
}

func (c *Client) exchangeOnce(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	conn, err := c.pool.get(ctx, addr, c.tlsConf, c.quicConf)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		c.pool.drop(addr, conn, "open stream failed")
		return nil, fmt.Errorf("open stream: %w", err)
	}
	_ = stream.SetDeadline(time.Now().Add(streamRWTimeout))
	if err := proto.WriteFrame(stream, proto.KindPush, payload); err != nil {
		stream.CancelWrite(0)
		c.pool.drop(addr, conn, "write failed")
		return nil, fmt.Errorf("write push: %w", err)
	}
	// Close only ends our send direction; the reply still arrives.
	if err := stream.Close(); err != nil {
		c.log.WithField("error", err).Debug("stream close")
	}
	fr, err := proto.ReadFrame(stream)
	if err != nil {
		c.pool.drop(addr, conn, "read failed")
		return nil, fmt.Errorf("read reply: %w", err)
	}
	c.pool.touch(addr, conn)
	switch fr.Kind {
	case proto.KindReply:
		return fr.Payload, nil
	case proto.KindError:
		return nil, fmt.Errorf("%w: %s", ErrRemote, fr.Payload)
	default:
		return nil, fmt.Errorf("%w: unexpected %s frame", proto.ErrBadFrame, fr.Kind)
	}
}

// Close tears down pooled connections.
func (c *Client) Close() {
	c.pool.closeAll()
}
