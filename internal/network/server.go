package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"securecrdt/internal/debuglog"
	"securecrdt/internal/metrics"
	"securecrdt/internal/proto"
)

const (
	DefaultMaxConnsPerIP   = 8
	DefaultMaxStreamsPerIP = 32

	codeLimit      quic.ApplicationErrorCode = 0x10
	codeStreamDrop quic.StreamErrorCode      = 0x11
)

// Handler consumes the payload of a push frame and returns the payload of
// the reply. An error is sent back as an error frame.
type Handler func(ctx context.Context, remote net.Addr, payload []byte) ([]byte, error)

type ServerOptions struct {
	MaxConnsPerIP   int
	MaxStreamsPerIP int
	Metrics         *metrics.Metrics
}

type Server struct {
	listener *quic.Listener
	handler  Handler
	limiter  *ipLimiter
	metrics  *metrics.Metrics
	log      *logrus.Entry
	wg       sync.WaitGroup
}

// Listen binds addr. Serve must be called to accept exchanges.
func Listen(addr string, handler Handler, opts ServerOptions) (*Server, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	maxConns, maxStreams := opts.MaxConnsPerIP, opts.MaxStreamsPerIP
	if maxConns == 0 {
		maxConns = DefaultMaxConnsPerIP
	}
	if maxStreams == 0 {
		maxStreams = DefaultMaxStreamsPerIP
	}
	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{
		MaxIdleTimeout:       maxIdleTimeout,
		KeepAlivePeriod:      keepAlivePeriod,
		HandshakeIdleTimeout: handshakeIdleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		listener: ln,
		handler:  handler,
		limiter:  newIPLimiter(maxConns, maxStreams),
		metrics:  m,
		log:      debuglog.With(logrus.Fields{"component": "quic-server"}),
	}
	s.log.WithField("addr", ln.Addr().String()).Info("quic listen ready")
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done or the server is closed, then
// waits for in-flight exchanges.
func (s *Server) Serve(ctx context.Context) error {
	defer s.wg.Wait()
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("quic accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, conn *quic.Conn) {
	ip := remoteIP(conn.RemoteAddr())
	if !s.limiter.acquireConn(ip) {
		s.metrics.IncDropByReason("conn_limit")
		debuglog.RateLimitedf("conn_limit:"+ip, time.Minute, "quic conn limit reached for %s", ip)
		_ = conn.CloseWithError(codeLimit, "too many connections")
		return
	}
	s.metrics.AddCurrentConns(1)
	defer func() {
		s.limiter.releaseConn(ip)
		s.metrics.AddCurrentConns(-1)
	}()
	var streams sync.WaitGroup
	defer streams.Wait()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		if !s.limiter.acquireStream(ip) {
			s.metrics.IncDropByReason("stream_limit")
			stream.CancelRead(codeStreamDrop)
			stream.CancelWrite(codeStreamDrop)
			continue
		}
		streams.Add(1)
		go func() {
			defer streams.Done()
			defer s.limiter.releaseStream(ip)
			s.metrics.AddCurrentStreams(1)
			defer s.metrics.AddCurrentStreams(-1)
			s.handleStream(ctx, conn.RemoteAddr(), stream)
		}()
	}
}

func (s *Server) handleStream(ctx context.Context, remote net.Addr, stream *quic.Stream) {
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(streamRWTimeout))
	fr, err := proto.ReadFrame(stream)
	if err != nil {
		s.metrics.IncDropByReason("bad_frame")
		s.log.WithFields(logrus.Fields{"remote": remote.String(), "error": err}).Warn("dropping stream")
		stream.CancelRead(codeStreamDrop)
		return
	}
	if fr.Kind != proto.KindPush {
		s.reply(stream, proto.KindError, []byte("expected push frame, got "+fr.Kind.String()))
		return
	}
	resp, err := s.handler(ctx, remote, fr.Payload)
	if err != nil {
		s.log.WithFields(logrus.Fields{"remote": remote.String(), "error": err}).Warn("exchange rejected")
		s.reply(stream, proto.KindError, []byte(err.Error()))
		return
	}
	s.reply(stream, proto.KindReply, resp)
}

func (s *Server) reply(stream *quic.Stream, kind proto.Kind, payload []byte) {
	if err := proto.WriteFrame(stream, kind, payload); err != nil {
		s.log.WithField("error", err).Debug("write reply")
	}
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
