// Package orchestrator implements the Chōwasha admission scheduler: a
// FIFO queue of candidate manifestations released over time so that no
// two active sounds occupy overlapping frequency niches.
package orchestrator

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// Config tunes admission behavior.
type Config struct {
	// OverlapThreshold is the maximum tolerated logarithmic band
	// overlap against any active niche, in (0, 1].
	OverlapThreshold float64
	// MaxAdmitsPerTick bounds admissions per Tick call.
	MaxAdmitsPerTick int
	// Defaults substituted for candidates missing band or duration.
	DefaultDuration float64
	DefaultFreqLow  float64
	DefaultFreqHigh float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		OverlapThreshold: 0.2,
		MaxAdmitsPerTick: 5,
		DefaultDuration:  1.0,
		DefaultFreqLow:   200,
		DefaultFreqHigh:  2000,
	}
}

// Payload is the manifestation event returned to the client verbatim on
// admission.
type Payload struct {
	Index       int
	Collection  string
	Score       float32
	Path        string
	Description string
	Start       float64
	End         float64
	Parameters  string // JSON
}

// Candidate is a queued manifestation request. Nil band or duration
// fields take the configured defaults.
type Candidate struct {
	Payload  Payload
	SoundID  string
	FreqLow  *float64
	FreqHigh *float64
	Duration *float64
}

type queued struct {
	payload   Payload
	soundID   string
	freqLow   float64
	freqHigh  float64
	duration  float64
	enqueueAt time.Time
}

type niche struct {
	soundID  string
	start    time.Time
	end      time.Time
	freqLow  float64
	freqHigh float64
}

// Orchestrator owns the candidate queue and the active niche table. All
// methods are safe for concurrent use; critical sections are bounded by
// MaxAdmitsPerTick.
type Orchestrator struct {
	mu     sync.Mutex
	cfg    Config
	queue  []queued
	niches map[string]niche // keyed by sound id, at most one each
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Orchestrator. now may be nil for the wall clock.
func New(cfg Config, now func() time.Time, logger *slog.Logger) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAdmitsPerTick <= 0 {
		cfg.MaxAdmitsPerTick = DefaultConfig().MaxAdmitsPerTick
	}
	return &Orchestrator{
		cfg:    cfg,
		niches: make(map[string]niche),
		now:    now,
		logger: logger,
	}
}

// Enqueue appends a candidate to the queue. Enqueue never rejects.
func (o *Orchestrator) Enqueue(c Candidate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := queued{
		payload:   c.Payload,
		soundID:   c.SoundID,
		freqLow:   orDefault(c.FreqLow, o.cfg.DefaultFreqLow),
		freqHigh:  orDefault(c.FreqHigh, o.cfg.DefaultFreqHigh),
		duration:  orDefault(c.Duration, o.cfg.DefaultDuration),
		enqueueAt: o.now(),
	}
	o.queue = append(o.queue, q)
	o.logger.Debug("queued manifestation",
		"sound", q.soundID, "freq_low", q.freqLow, "freq_high", q.freqHigh)
}

// Tick expires finished niches, then admits candidates from the head of
// the queue. The queue is strictly FIFO: a conflicting head blocks and
// ends admission for this tick, so older candidates are never starved by
// younger ones. Returns the admitted payloads in order.
func (o *Orchestrator) Tick() []Payload {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	o.expireLocked(now)

	var admitted []Payload
	for len(o.queue) > 0 && len(admitted) < o.cfg.MaxAdmitsPerTick {
		head := o.queue[0]

		// A sound already holding a niche cannot hold a second one;
		// the duplicate request is discarded.
		if _, active := o.niches[head.soundID]; active {
			o.queue = o.queue[1:]
			continue
		}

		if o.conflictsLocked(head.freqLow, head.freqHigh) {
			break // head blocks; preserves age ordering
		}

		o.niches[head.soundID] = niche{
			soundID:  head.soundID,
			start:    now,
			end:      now.Add(time.Duration(head.duration * float64(time.Second))),
			freqLow:  head.freqLow,
			freqHigh: head.freqHigh,
		}
		o.queue = o.queue[1:]
		admitted = append(admitted, head.payload)
		o.logger.Debug("admitted manifestation",
			"sound", head.soundID, "queued_for", now.Sub(head.enqueueAt))
	}
	return admitted
}

// Stats returns the active niche count and queue length.
func (o *Orchestrator) Stats() (activeNiches, queueLength int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.niches), len(o.queue)
}

func (o *Orchestrator) expireLocked(now time.Time) {
	for id, n := range o.niches {
		if !now.Before(n.end) {
			delete(o.niches, id)
		}
	}
}

func (o *Orchestrator) conflictsLocked(freqLow, freqHigh float64) bool {
	for _, n := range o.niches {
		if logOverlap(freqLow, freqHigh, n.freqLow, n.freqHigh) > o.cfg.OverlapThreshold {
			return true
		}
	}
	return false
}

// logOverlap is the intersection-over-union of two frequency bands on a
// log2 scale. A zero-width union yields zero, so degenerate bands are
// freely admitted.
func logOverlap(f1Low, f1High, f2Low, f2High float64) float64 {
	a := log2Hz(f1Low)
	b := log2Hz(f1High)
	c := log2Hz(f2Low)
	d := log2Hz(f2High)

	inter := math.Min(b, d) - math.Max(a, c)
	if inter < 0 {
		inter = 0
	}
	union := math.Max(b, d) - math.Min(a, c)
	if union == 0 {
		return 0
	}
	return inter / union
}

// log2Hz clamps to 1 Hz before taking log2 so zero or negative bounds
// stay finite.
func log2Hz(f float64) float64 {
	return math.Log2(math.Max(f, 1))
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
