// Package metrics aggregates lightweight counters and timings for
// ingest, search, and manifestation dispatch. No per-operation data is
// retained.
package metrics

import (
	"sync"
	"time"
)

// Recorder collects aggregate operation metrics.
type Recorder struct {
	mu sync.Mutex

	IngestTotal int
	IngestOK    int
	IngestError int
	IngestTime  time.Duration

	SearchTotal int
	SearchHits  int
	SearchError int
	SearchTime  time.Duration

	ManifestTotal int
}

// New creates an empty Recorder.
func New() *Recorder { return &Recorder{} }

// RecordIngest records one ingest outcome.
func (m *Recorder) RecordIngest(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IngestTotal++
	if err != nil {
		m.IngestError++
	} else {
		m.IngestOK++
	}
	m.IngestTime += d
}

// RecordSearch records one search outcome and its hit count.
func (m *Recorder) RecordSearch(d time.Duration, hits int, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchTotal++
	if err != nil {
		m.SearchError++
	} else {
		m.SearchHits += hits
	}
	m.SearchTime += d
}

// RecordManifest counts one dispatched manifestation.
func (m *Recorder) RecordManifest() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ManifestTotal++
}

// Snapshot returns a loggable view of the current aggregates.
func (m *Recorder) Snapshot() map[string]any {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	avg := func(d time.Duration, n int) float64 {
		if n <= 0 {
			return 0
		}
		return float64(d.Milliseconds()) / float64(n)
	}

	return map[string]any{
		"ingest": map[string]any{
			"total":  m.IngestTotal,
			"ok":     m.IngestOK,
			"error":  m.IngestError,
			"avg_ms": avg(m.IngestTime, m.IngestTotal),
		},
		"search": map[string]any{
			"total":  m.SearchTotal,
			"hits":   m.SearchHits,
			"error":  m.SearchError,
			"avg_ms": avg(m.SearchTime, m.SearchTotal),
		},
		"manifestations": m.ManifestTotal,
	}
}
