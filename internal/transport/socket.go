// Package transport delivers raw backend frames over a reconnecting
// WebSocket and sends outbound frames over it or a REST fallback.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/chatsync/internal/frame"
)

// ErrNotConnected is returned by Send while no socket is up.
var ErrNotConnected = errors.New("socket not connected")

// SocketConfig configures a Socket.
type SocketConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	// BackoffBase and BackoffMax bound the reconnect delay.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Buffer is the capacity of the Frames channel.
	Buffer int
}

func (c SocketConfig) withDefaults() SocketConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	return c
}

// Socket is a WebSocket client that reconnects indefinitely with
// exponential backoff. Frames are delivered in read order by a single
// reader goroutine.
type Socket struct {
	cfg    SocketConfig
	dialer websocket.Dialer
	logger *slog.Logger
	frames chan []byte

	mu   sync.Mutex
	conn *websocket.Conn
	// writeMu serializes writers; gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
}

// NewSocket returns an unconnected socket. Call Run to connect.
func NewSocket(cfg SocketConfig, logger *slog.Logger) *Socket {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger: logger,
		frames: make(chan []byte, cfg.Buffer),
	}
}

// Frames returns the inbound frame stream. It is closed when Run returns.
func (s *Socket) Frames() <-chan []byte {
	return s.frames
}

// Connected reports whether a socket is currently up.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Run connects and keeps the connection alive until ctx is done.
func (s *Socket) Run(ctx context.Context) error {
	defer close(s.frames)

	b := s.newBackoff()
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := b.NextBackOff()
			s.logger.Warn("socket connect failed", "url", s.cfg.URL, "error", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}

		s.logger.Info("socket connected", "url", s.cfg.URL)
		s.setConn(conn)
		if err := s.write(conn, frame.PingFrame()); err != nil {
			s.logger.Warn("send ping failed", "error", err)
		}

		delivered, err := s.readLoop(ctx, conn)
		s.setConn(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			b.Reset()
		}
		wait := b.NextBackOff()
		s.logger.Warn("socket disconnected", "error", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// readLoop forwards frames until the connection fails. delivered reports
// whether at least one frame was read.
func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) (delivered bool, err error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return delivered, fmt.Errorf("read message: %w", err)
		}
		delivered = true
		select {
		case s.frames <- data:
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}

// Send writes v as a JSON text frame.
func (s *Socket) Send(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := s.write(conn, v); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (s *Socket) write(conn *websocket.Conn, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	return conn.WriteJSON(v)
}

func (s *Socket) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func (s *Socket) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BackoffBase
	b.MaxInterval = s.cfg.BackoffMax
	b.Multiplier = 2.0
	// Reconnect forever.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
