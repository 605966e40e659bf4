// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package report

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/mbeema/ollyhook/pkg/config"
	"github.com/mbeema/ollyhook/pkg/hook"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	_ "google.golang.org/grpc/encoding/gzip" // Register gzip compressor
	"google.golang.org/grpc/metadata"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

// ErrQueueFull is returned when the OTLP export queue cannot take an event.
var ErrQueueFull = errors.New("otlp queue full")

const (
	scopeName    = "ollyhook"
	scopeVersion = "0.1.0"

	exportTimeout = 10 * time.Second
)

// OTLP exports events as OTLP log records over gRPC. Report only enqueues;
// batching and network I/O happen on a background goroutine.
type OTLP struct {
	logger      *zap.Logger
	serviceName string
	sessionID   string
	endpoint    string
	headers     map[string]string
	opts        []grpc.DialOption

	batchSize     int
	flushInterval time.Duration

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	logSvc collogspb.LogsServiceClient

	ch      chan *queued
	breaker *CircuitBreaker

	exported atomic.Int64
	dropped  atomic.Int64

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// queued pairs an event with the time it was observed.
type queued struct {
	ev *hook.Event
	at time.Time
}

// NewOTLP creates an OTLP exporter and dials the collector. Start must be
// called to begin exporting.
func NewOTLP(cfg *config.OTLPConfig, serviceName, sessionID string, logger *zap.Logger) (*OTLP, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(4 * 1024 * 1024)),
	}

	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	}

	if cfg.Compression == "" || cfg.Compression == "gzip" {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.UseCompressor("gzip")))
	}

	e := &OTLP{
		logger:        logger,
		serviceName:   serviceName,
		sessionID:     sessionID,
		endpoint:      cfg.Endpoint,
		headers:       cfg.Headers,
		opts:          opts,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		ch:            make(chan *queued, cfg.QueueSize),
		breaker:       NewCircuitBreaker(5, 30*time.Second),
		stopCh:        make(chan struct{}),
	}

	if err := e.connect(); err != nil {
		return nil, err
	}

	return e, nil
}

func (e *OTLP) connect() error {
	conn, err := grpc.Dial(e.endpoint, e.opts...)
	if err != nil {
		return fmt.Errorf("dial OTLP endpoint %s: %w", e.endpoint, err)
	}

	e.conn = conn
	e.logSvc = collogspb.NewLogsServiceClient(conn)
	return nil
}

// ensureConnected checks connection health and reconnects if needed.
func (e *OTLP) ensureConnected() error {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()

	if conn == nil {
		return e.reconnect()
	}

	switch conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return e.reconnect()
	default:
		return nil
	}
}

func (e *OTLP) reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check under write lock
	if e.conn != nil {
		state := e.conn.GetState()
		if state == connectivity.Ready || state == connectivity.Idle {
			return nil
		}
		e.conn.Close()
	}

	e.logger.Info("reconnecting to OTLP endpoint", zap.String("endpoint", e.endpoint))

	if err := e.connect(); err != nil {
		e.logger.Error("reconnect failed", zap.Error(err))
		return err
	}
	return nil
}

// Report implements hook.Reporter. It never blocks.
func (e *OTLP) Report(ev *hook.Event) error {
	select {
	case e.ch <- &queued{ev: ev, at: time.Now()}:
		return nil
	default:
		e.dropped.Add(1)
		return ErrQueueFull
	}
}

// Start begins the batch export goroutine.
func (e *OTLP) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.run(ctx)

	e.logger.Info("otlp reporter started",
		zap.String("endpoint", e.endpoint),
		zap.Int("batch_size", e.batchSize),
		zap.Duration("flush_interval", e.flushInterval),
	)
}

// Stop flushes queued events and closes the connection.
func (e *OTLP) Stop() error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()

	e.logger.Info("otlp reporter stopped",
		zap.Int64("exported", e.exported.Load()),
		zap.Int64("dropped", e.dropped.Load()),
	)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func (e *OTLP) run(ctx context.Context) {
	defer e.wg.Done()

	batch := make([]*queued, 0, e.batchSize)
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	drain := func(flushCtx context.Context) {
		for {
			select {
			case q := <-e.ch:
				batch = append(batch, q)
				if len(batch) >= e.batchSize {
					e.flush(flushCtx, batch)
					batch = batch[:0]
				}
			default:
				if len(batch) > 0 {
					e.flush(flushCtx, batch)
				}
				return
			}
		}
	}

	for {
		select {
		case q := <-e.ch:
			batch = append(batch, q)
			if len(batch) >= e.batchSize {
				e.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				e.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-e.stopCh:
			drain(context.Background())
			return

		case <-ctx.Done():
			drain(context.Background())
			return
		}
	}
}

func (e *OTLP) flush(ctx context.Context, batch []*queued) {
	if !e.breaker.Allow() {
		e.dropped.Add(int64(len(batch)))
		return
	}

	if err := e.export(ctx, batch); err != nil {
		e.breaker.RecordFailure()
		e.dropped.Add(int64(len(batch)))
		e.logger.Warn("otlp export failed",
			zap.Int("events", len(batch)),
			zap.String("circuit", e.breaker.State().String()),
			zap.Error(err),
		)
		return
	}

	e.breaker.RecordSuccess()
	e.exported.Add(int64(len(batch)))
}

func (e *OTLP) export(ctx context.Context, batch []*queued) error {
	if err := e.ensureConnected(); err != nil {
		return fmt.Errorf("connection not ready: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()
	if len(e.headers) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, metadata.New(e.headers))
	}

	e.mu.RLock()
	svc := e.logSvc
	e.mu.RUnlock()

	_, err := svc.Export(ctx, e.buildRequest(batch))
	return err
}

func (e *OTLP) buildRequest(batch []*queued) *collogspb.ExportLogsServiceRequest {
	records := make([]*logspb.LogRecord, 0, len(batch))
	for _, q := range batch {
		records = append(records, convertEvent(q.ev, q.at))
	}

	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{
			{
				Resource: e.resource(),
				ScopeLogs: []*logspb.ScopeLogs{
					{
						Scope:      &commonpb.InstrumentationScope{Name: scopeName, Version: scopeVersion},
						LogRecords: records,
					},
				},
			},
		},
	}
}

func (e *OTLP) resource() *resourcepb.Resource {
	hostname, _ := os.Hostname()
	pid := os.Getpid()

	attrs := []*commonpb.KeyValue{
		strAttr("service.name", e.serviceName),
		strAttr("service.instance.id", fmt.Sprintf("%s-%d", hostname, pid)),
		strAttr("telemetry.sdk.name", scopeName),
		strAttr("telemetry.sdk.language", "go"),
		strAttr("telemetry.sdk.version", scopeVersion),
		strAttr("host.name", hostname),
		strAttr("host.arch", runtime.GOARCH),
		intAttr("process.pid", int64(pid)),
	}
	if e.sessionID != "" {
		attrs = append(attrs, strAttr("session.id", e.sessionID))
	}
	return &resourcepb.Resource{Attributes: attrs}
}

// convertEvent maps an event to a log record whose body is the wire JSON.
func convertEvent(ev *hook.Event, at time.Time) *logspb.LogRecord {
	body, err := hook.EncodeEvent(ev)
	if err != nil {
		body = []byte(fmt.Sprintf(`{"type":%q,"error":%q}`, ev.Type, err.Error()))
	}

	severity := logspb.SeverityNumber_SEVERITY_NUMBER_INFO
	severityText := "INFO"
	if ev.Type == hook.EventHookFailed {
		severity = logspb.SeverityNumber_SEVERITY_NUMBER_WARN
		severityText = "WARN"
	}

	return &logspb.LogRecord{
		TimeUnixNano:         uint64(at.UnixNano()),
		ObservedTimeUnixNano: uint64(at.UnixNano()),
		SeverityNumber:       severity,
		SeverityText:         severityText,
		Body: &commonpb.AnyValue{
			Value: &commonpb.AnyValue_StringValue{StringValue: sanitizeUTF8(string(body))},
		},
		Attributes: []*commonpb.KeyValue{
			strAttr("hook.type", string(ev.Type)),
			strAttr("hook.method", sanitizeUTF8(ev.Method())),
			strAttr("hook.signature", sanitizeUTF8(ev.Signature())),
			intAttr("hook.param_count", int64(len(ev.ParamValues))),
		},
	}
}

// Exported returns how many events reached the collector.
func (e *OTLP) Exported() int64 { return e.exported.Load() }

// Dropped returns how many events were discarded.
func (e *OTLP) Dropped() int64 { return e.dropped.Load() }

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}

// sanitizeUTF8 replaces invalid UTF-8 sequences; protobuf refuses to
// marshal invalid strings.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return string([]rune(s))
}
