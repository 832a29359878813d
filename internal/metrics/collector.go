// Package metrics provides in-memory runtime statistics for a chat session.
package metrics

import (
	"math"
	"maps"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for generations)
	TotalInputTokens  int64
	TotalOutputTokens int64
	MinInputTokens    int64
	MaxInputTokens    int64
	MinOutputTokens   int64
	MaxOutputTokens   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count" yaml:"count"`
	TotalTimeMs int64   `json:"total_time_ms" yaml:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms" yaml:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms" yaml:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms" yaml:"max_time_ms"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64   `json:"total_input_tokens,omitempty" yaml:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64   `json:"total_output_tokens,omitempty" yaml:"total_output_tokens,omitempty"`
	AvgInputTokens    *float64 `json:"avg_input_tokens,omitempty" yaml:"avg_input_tokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avg_output_tokens,omitempty" yaml:"avg_output_tokens,omitempty"`
	MinInputTokens    *int64   `json:"min_input_tokens,omitempty" yaml:"min_input_tokens,omitempty"`
	MaxInputTokens    *int64   `json:"max_input_tokens,omitempty" yaml:"max_input_tokens,omitempty"`
	MinOutputTokens   *int64   `json:"min_output_tokens,omitempty" yaml:"min_output_tokens,omitempty"`
	MaxOutputTokens   *int64   `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`
}

// Snapshot represents the session statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds" yaml:"uptime_seconds"`
	Generation    *OperationSnapshot `json:"generation,omitempty" yaml:"generation,omitempty"`
	HistoryLoad   *OperationSnapshot `json:"history_load,omitempty" yaml:"history_load,omitempty"`
	StoreWrite    *OperationSnapshot `json:"store_write,omitempty" yaml:"store_write,omitempty"`

	// Frames counts inbound frames by classified kind.
	Frames     map[string]int64 `json:"frames" yaml:"frames"`
	Duplicates int64            `json:"duplicates" yaml:"duplicates"`
	Malformed  int64            `json:"malformed" yaml:"malformed"`
	Reconnects int64            `json:"reconnects" yaml:"reconnects"`
}

// Operation names for the collector.
const (
	OpGeneration  = "generation"
	OpHistoryLoad = "history_load"
	OpStoreWrite  = "store_write"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics

	frames     map[string]int64
	duplicates int64
	malformed  int64
	reconnects int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		frames:    make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:         time.Duration(math.MaxInt64),
			MinInputTokens:  math.MaxInt64,
			MinOutputTokens: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

func (m *OperationMetrics) addTiming(d time.Duration) {
	m.Count++
	m.TotalTime += d
	if d < m.MinTime {
		m.MinTime = d
	}
	if d > m.MaxTime {
		m.MaxTime = d
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(op).addTiming(duration)
}

// RecordGeneration records the duration and token usage of a finalized generation.
func (c *Collector) RecordGeneration(duration time.Duration, inputTokens, outputTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(OpGeneration)
	m.addTiming(duration)

	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens
	m.MinInputTokens = min(m.MinInputTokens, inputTokens)
	m.MaxInputTokens = max(m.MaxInputTokens, inputTokens)
	m.MinOutputTokens = min(m.MinOutputTokens, outputTokens)
	m.MaxOutputTokens = max(m.MaxOutputTokens, outputTokens)
}

// RecordFrame counts an inbound frame of the given kind.
func (c *Collector) RecordFrame(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[kind]++
}

// RecordDuplicate counts a finalize dropped by the dedup guard.
func (c *Collector) RecordDuplicate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duplicates++
}

// RecordMalformed counts a frame that failed to decode.
func (c *Collector) RecordMalformed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed++
}

// RecordReconnect counts a connection established after the first one.
func (c *Collector) RecordReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeTokens bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeTokens && (m.TotalInputTokens > 0 || m.TotalOutputTokens > 0) {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		avgIn := float64(m.TotalInputTokens) / float64(m.Count)
		avgOut := float64(m.TotalOutputTokens) / float64(m.Count)
		minIn := m.MinInputTokens
		maxIn := m.MaxInputTokens
		minOut := m.MinOutputTokens
		maxOut := m.MaxOutputTokens

		// Reset sentinel values for display
		if minIn == math.MaxInt64 {
			minIn = 0
		}
		if minOut == math.MaxInt64 {
			minOut = 0
		}

		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
		snap.AvgInputTokens = &avgIn
		snap.AvgOutputTokens = &avgOut
		snap.MinInputTokens = &minIn
		snap.MaxInputTokens = &maxIn
		snap.MinOutputTokens = &minOut
		snap.MaxOutputTokens = &maxOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Generation:    snapshotOp(c.ops[OpGeneration], true),
		HistoryLoad:   snapshotOp(c.ops[OpHistoryLoad], false),
		StoreWrite:    snapshotOp(c.ops[OpStoreWrite], false),
		Frames:        maps.Clone(c.frames),
		Duplicates:    c.duplicates,
		Malformed:     c.malformed,
		Reconnects:    c.reconnects,
	}
}
