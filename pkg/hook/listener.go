// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Callbacks for events received by a Listener. Callbacks run on reader
// goroutines and may be called concurrently.
type Callbacks struct {
	OnCapture    func(ev *Event)
	OnHookFailed func(ev *Event)
}

// methodHandler receives the events of one hook request.
type methodHandler struct {
	filter *string
	fn     func(ev *Event)
}

func (h methodHandler) matches(ev *Event) bool {
	return h.filter == nil || normalizeSignature(*h.filter) == ev.Signature()
}

// Listener is the observer side of the socket reporting channel. It binds
// a Unix DGRAM socket and decodes one JSON event per datagram.
type Listener struct {
	socketPath string
	logger     *zap.Logger
	callbacks  Callbacks
	numWorkers int

	mu       sync.RWMutex
	handlers map[string][]methodHandler // keyed by qualified method name

	conn   *net.UnixConn
	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once
}

// NewListener creates a listener for socketPath.
func NewListener(socketPath string, callbacks Callbacks, logger *zap.Logger) *Listener {
	// Use at least 2 workers, up to GOMAXPROCS
	workers := runtime.GOMAXPROCS(0)
	if workers < 2 {
		workers = 2
	}
	if workers > 8 {
		workers = 8
	}

	return &Listener{
		socketPath: socketPath,
		logger:     logger,
		callbacks:  callbacks,
		numWorkers: workers,
		handlers:   make(map[string][]methodHandler),
		stopCh:     make(chan struct{}),
	}
}

// Handle routes events whose callee is method to fn, mirroring a hook
// request on the agent. With a nil overloadFilter every overload matches;
// otherwise only events carrying that signature do, which for HookFailed
// is the filter the request named. Handlers run before Callbacks and may be
// added while the listener is running.
func (l *Listener) Handle(method string, overloadFilter *string, fn func(ev *Event)) {
	method = strings.TrimSpace(method)
	l.mu.Lock()
	if l.handlers == nil {
		l.handlers = make(map[string][]methodHandler)
	}
	l.handlers[method] = append(l.handlers[method], methodHandler{filter: overloadFilter, fn: fn})
	l.mu.Unlock()
}

// Start binds the socket and begins dispatching events.
func (l *Listener) Start(ctx context.Context) error {
	dir := filepath.Dir(l.socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	// Remove stale socket
	os.Remove(l.socketPath)

	addr := &net.UnixAddr{Name: l.socketPath, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return fmt.Errorf("listen unix: %w", err)
	}
	l.conn = conn

	conn.SetReadBuffer(4 * 1024 * 1024)

	l.logger.Info("event listener started",
		zap.String("socket", l.socketPath),
		zap.Int("workers", l.numWorkers),
	)

	// DGRAM sockets deliver whole messages, so readers need no framing and
	// can share the socket.
	for i := 0; i < l.numWorkers; i++ {
		l.wg.Add(1)
		go l.readLoop(ctx, i)
	}

	// Unblock readers parked in Read when ctx ends before Stop.
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-l.stopCh:
		}
	}()

	return nil
}

// Stop closes the socket and waits for readers to exit. It is safe to
// call more than once.
func (l *Listener) Stop() error {
	l.once.Do(func() {
		close(l.stopCh)
		if l.conn != nil {
			l.conn.Close()
		}
		l.wg.Wait()
		os.Remove(l.socketPath)
	})
	return nil
}

// SocketPath returns the bound socket path.
func (l *Listener) SocketPath() string {
	return l.socketPath
}

func (l *Listener) readLoop(ctx context.Context, workerID int) {
	defer l.wg.Done()

	buf := make([]byte, MaxEventSize+1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		default:
		}

		n, err := l.conn.Read(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			default:
				l.logger.Debug("read error", zap.Int("worker", workerID), zap.Error(err))
				continue
			}
		}

		ev, err := DecodeEvent(buf[:n])
		if err != nil {
			l.logger.Debug("discarding datagram", zap.Int("size", n), zap.Error(err))
			continue
		}

		l.dispatch(ev)
	}
}

func (l *Listener) dispatch(ev *Event) {
	l.mu.RLock()
	handlers := l.handlers[ev.Method()]
	l.mu.RUnlock()
	for _, h := range handlers {
		if h.matches(ev) {
			h.fn(ev)
		}
	}

	switch ev.Type {
	case EventCapture:
		if l.callbacks.OnCapture != nil {
			l.callbacks.OnCapture(ev)
		}
	case EventHookFailed:
		if l.callbacks.OnHookFailed != nil {
			l.callbacks.OnHookFailed(ev)
		}
	}
}
