// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package report

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeema/ollyhook/pkg/hook"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the observer is considered down.
var ErrCircuitOpen = errors.New("observer circuit open")

const (
	socketWriteTimeout  = 50 * time.Millisecond
	socketFailThreshold = 5
	socketResetTimeout  = 30 * time.Second
)

// Socket sends one JSON event per datagram to a hook.Listener bound on a
// Unix DGRAM socket. Writes are serialized so events from one goroutine
// arrive in call order.
type Socket struct {
	path    string
	logger  *zap.Logger
	breaker *CircuitBreaker

	mu   sync.Mutex
	conn *net.UnixConn

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewSocket creates a socket reporter. The connection is dialed lazily on
// the first event and re-dialed after a write error.
func NewSocket(path string, logger *zap.Logger) *Socket {
	return &Socket{
		path:    path,
		logger:  logger,
		breaker: NewCircuitBreaker(socketFailThreshold, socketResetTimeout),
	}
}

// Report implements hook.Reporter.
func (s *Socket) Report(ev *hook.Event) error {
	b, err := hook.EncodeEvent(ev)
	if err != nil {
		s.dropped.Add(1)
		return err
	}

	if !s.breaker.Allow() {
		s.dropped.Add(1)
		return ErrCircuitOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: s.path, Net: "unixgram"})
		if err != nil {
			s.fail()
			return fmt.Errorf("dial observer %s: %w", s.path, err)
		}
		s.conn = conn
		s.logger.Debug("connected to observer", zap.String("socket", s.path))
	}

	s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	if _, err := s.conn.Write(b); err != nil {
		s.conn.Close()
		s.conn = nil
		s.fail()
		return fmt.Errorf("write observer %s: %w", s.path, err)
	}

	s.breaker.RecordSuccess()
	s.sent.Add(1)
	return nil
}

func (s *Socket) fail() {
	s.dropped.Add(1)
	s.breaker.RecordFailure()
	if s.breaker.State() == CircuitOpen {
		s.logger.Warn("observer unreachable, dropping events",
			zap.String("socket", s.path),
			zap.Int("failures", s.breaker.FailureCount()),
		)
	}
}

// Sent returns how many events were written.
func (s *Socket) Sent() int64 { return s.sent.Load() }

// Dropped returns how many events were not delivered.
func (s *Socket) Dropped() int64 { return s.dropped.Load() }

// Close releases the connection.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
