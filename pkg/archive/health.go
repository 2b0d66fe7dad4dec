// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package archive

import (
	"context"
	"errors"
	"sync"
	"time"
)

// HealthState is the archiver's view of the object store.
type HealthState string

const (
	HealthOK          HealthState = "ok"
	HealthDegraded    HealthState = "degraded"
	HealthUnavailable HealthState = "unavailable"
)

// HealthConfig holds the thresholds a HealthMonitor moves between states on.
type HealthConfig struct {
	Window      time.Duration
	LatencyWarn time.Duration
	LatencyCrit time.Duration
	ErrorWarn   float64
	ErrorCrit   float64
	MaxSamples  int
}

// HealthReport is a point-in-time view of a HealthMonitor.
type HealthReport struct {
	State      HealthState   `json:"state"`
	Since      time.Time     `json:"since"`
	AvgLatency time.Duration `json:"avgLatency"`
	ErrorRate  float64       `json:"errorRate"`
	Samples    int           `json:"samples"`
}

type bucketCall struct {
	at      time.Time
	latency time.Duration
	failed  bool
}

// HealthMonitor grades recent bucket calls inside a sliding window.
type HealthMonitor struct {
	cfg HealthConfig
	now func() time.Time

	mu     sync.Mutex
	calls  []bucketCall
	report HealthReport
}

// NewHealthMonitor fills unset thresholds with defaults.
func NewHealthMonitor(cfg HealthConfig) *HealthMonitor {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.LatencyWarn <= 0 {
		cfg.LatencyWarn = time.Second
	}
	if cfg.LatencyCrit <= 0 {
		cfg.LatencyCrit = 5 * time.Second
	}
	if cfg.ErrorWarn <= 0 {
		cfg.ErrorWarn = 0.25
	}
	if cfg.ErrorCrit <= 0 {
		cfg.ErrorCrit = 0.75
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 256
	}
	m := &HealthMonitor{cfg: cfg, now: time.Now}
	m.report = HealthReport{State: HealthOK, Since: m.now()}
	return m
}

// Record adds the outcome of one bucket call.
func (m *HealthMonitor) Record(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.calls = append(m.calls, bucketCall{at: now, latency: latency, failed: err != nil})
	if over := len(m.calls) - m.cfg.MaxSamples; over > 0 {
		m.calls = m.calls[over:]
	}
	m.evaluateLocked(now)
}

// Report returns the current grade. Calls that aged out of the window are
// dropped first.
func (m *HealthMonitor) Report() HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluateLocked(m.now())
	return m.report
}

func (m *HealthMonitor) evaluateLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	keep := 0
	for keep < len(m.calls) && !m.calls[keep].at.After(cutoff) {
		keep++
	}
	m.calls = m.calls[keep:]

	next := HealthReport{State: HealthOK, Samples: len(m.calls)}
	if len(m.calls) > 0 {
		var total time.Duration
		failed := 0
		for _, c := range m.calls {
			total += c.latency
			if c.failed {
				failed++
			}
		}
		next.AvgLatency = total / time.Duration(len(m.calls))
		next.ErrorRate = float64(failed) / float64(len(m.calls))
		switch {
		case next.AvgLatency >= m.cfg.LatencyCrit || next.ErrorRate >= m.cfg.ErrorCrit:
			next.State = HealthUnavailable
		case next.AvgLatency >= m.cfg.LatencyWarn || next.ErrorRate >= m.cfg.ErrorWarn:
			next.State = HealthDegraded
		}
	}
	next.Since = m.report.Since
	if next.State != m.report.State {
		next.Since = now
		archiveHealth.WithLabelValues(string(m.report.State)).Set(0)
	}
	archiveHealth.WithLabelValues(string(next.State)).Set(1)
	m.report = next
}

// monitoredBucket reports the latency and result of every call to a monitor.
type monitoredBucket struct {
	Bucket
	monitor *HealthMonitor
}

// WithHealth wraps bucket so each call is graded by monitor.
func WithHealth(bucket Bucket, monitor *HealthMonitor) Bucket {
	return &monitoredBucket{Bucket: bucket, monitor: monitor}
}

func (b *monitoredBucket) Put(ctx context.Context, key string, body []byte) error {
	start := time.Now()
	err := b.Bucket.Put(ctx, key, body)
	b.monitor.Record(time.Since(start), err)
	return err
}

func (b *monitoredBucket) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := b.Bucket.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		b.monitor.Record(time.Since(start), err)
		return nil, err
	}
	b.monitor.Record(time.Since(start), nil)
	return data, err
}

func (b *monitoredBucket) EnsureBucket(ctx context.Context) error {
	start := time.Now()
	err := b.Bucket.EnsureBucket(ctx)
	b.monitor.Record(time.Since(start), err)
	return err
}
