// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// MetricKind is the Prometheus metric type.
type MetricKind string

const (
	Gauge   MetricKind = "gauge"
	Counter MetricKind = "counter"
)

type source struct {
	name string
	kind MetricKind
	help string
	fn   func() float64
}

// Stats collects self-monitoring values. Components register read
// functions; values are sampled when a snapshot is taken.
type Stats struct {
	startTime time.Time
	proc      *process.Process

	mu      sync.RWMutex
	sources []source
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	s := &Stats{startTime: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}
	return s
}

// Uptime returns agent uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Register adds a metric sampled from fn. Registering a name twice
// replaces the earlier source.
func (s *Stats) Register(name string, kind MetricKind, help string, fn func() float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sources {
		if s.sources[i].name == name {
			s.sources[i] = source{name: name, kind: kind, help: help, fn: fn}
			return
		}
	}
	s.sources = append(s.sources, source{name: name, kind: kind, help: help, fn: fn})
}

// Sample is one metric value in a Snapshot.
type Sample struct {
	Name  string     `json:"name"`
	Kind  MetricKind `json:"kind"`
	Help  string     `json:"-"`
	Value float64    `json:"value"`
}

// Snapshot is a point-in-time copy of process and registered metrics.
type Snapshot struct {
	UptimeSeconds  float64  `json:"uptime_seconds"`
	Goroutines     int      `json:"goroutines"`
	MemoryRSSBytes uint64   `json:"memory_rss_bytes"`
	CPUPercent     float64  `json:"cpu_percent"`
	Samples        []Sample `json:"samples"`
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds: s.Uptime().Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if s.proc != nil {
		if mi, err := s.proc.MemoryInfo(); err == nil {
			snap.MemoryRSSBytes = mi.RSS
		}
		if pct, err := s.proc.CPUPercent(); err == nil {
			snap.CPUPercent = pct
		}
	}
	if snap.MemoryRSSBytes == 0 {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		snap.MemoryRSSBytes = memStats.Sys
	}

	s.mu.RLock()
	sources := append([]source(nil), s.sources...)
	s.mu.RUnlock()

	sort.Slice(sources, func(i, j int) bool { return sources[i].name < sources[j].name })
	for _, src := range sources {
		snap.Samples = append(snap.Samples, Sample{
			Name:  src.name,
			Kind:  src.kind,
			Help:  src.help,
			Value: src.fn(),
		})
	}
	return snap
}

// Value returns a registered sample by name.
func (snap Snapshot) Value(name string) (float64, bool) {
	for _, s := range snap.Samples {
		if s.Name == name {
			return s.Value, true
		}
	}
	return 0, false
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	return prometheusFormat(s.Snapshot())
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "ollyhook_agent_uptime_seconds", Gauge, "Agent uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "ollyhook_agent_goroutines", Gauge, "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "ollyhook_agent_memory_rss_bytes", Gauge, "Resident memory in bytes", float64(snap.MemoryRSSBytes))
	b = appendMetric(b, "ollyhook_agent_cpu_percent", Gauge, "Process CPU usage percent", snap.CPUPercent)
	for _, smp := range snap.Samples {
		b = appendMetric(b, smp.Name, smp.Kind, smp.Help, smp.Value)
	}
	return string(b)
}

func appendMetric(b []byte, name string, kind MetricKind, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, kind...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'f', -1, 64)
	b = append(b, '\n')
	return b
}
