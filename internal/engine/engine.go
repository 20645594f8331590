// Package engine binds the embedder, vector index, text composer, and
// document store into the retrieval pipeline: ingestion assigns each
// searchable document a vector row, search resolves rows back to
// documents.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hibikido/hibikido/internal/embedding"
	"github.com/hibikido/hibikido/internal/metrics"
	"github.com/hibikido/hibikido/internal/store"
	"github.com/hibikido/hibikido/internal/textproc"
	"github.com/hibikido/hibikido/internal/vectorindex"
)

// DefaultSegmentationID groups the auto-created full-length segments
// made on recording ingest.
const DefaultSegmentationID = "default"

// Engine is the retrieval pipeline. Ingest and rebuild serialize behind
// the write lock; searches share the read lock.
type Engine struct {
	mu sync.RWMutex

	store     *store.Store
	index     *vectorindex.Index
	embedder  embedding.Embedder
	composer  *textproc.Composer
	metrics   *metrics.Recorder
	indexPath string
	logger    *slog.Logger
}

// New creates an Engine. metrics may be nil.
func New(st *store.Store, ix *vectorindex.Index, emb embedding.Embedder,
	comp *textproc.Composer, indexPath string, rec *metrics.Recorder,
	logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		index:     ix,
		embedder:  emb,
		composer:  comp,
		metrics:   rec,
		indexPath: indexPath,
		logger:    logger,
	}
}

// EnsureDefaults creates the built-in segmentations used by recording
// ingest and CSV import.
func (e *Engine) EnsureDefaults(ctx context.Context) error {
	err := e.store.EnsureSegmentation(ctx, store.Segmentation{
		ID:          DefaultSegmentationID,
		Method:      "auto",
		Description: "full-length auto segment",
	})
	if err != nil {
		return fmt.Errorf("engine: ensure default segmentation: %w", err)
	}
	return nil
}

// RecordingInput describes a recording to ingest.
type RecordingInput struct {
	Path        string
	Description string
}

// SegmentInput describes a segment to ingest.
type SegmentInput struct {
	SourcePath     string
	SegmentationID string
	Start          float64
	End            float64
	Description    string
	FreqLow        *float64
	FreqHigh       *float64
	Duration       *float64
}

// EffectInput describes an effect to ingest.
type EffectInput struct {
	Path        string
	Name        string
	Description string
}

// PresetInput describes a preset to ingest.
type PresetInput struct {
	EffectPath  string
	Parameters  []store.Parameter
	Description string
}

// IngestRecording upserts a recording and, when it is new, auto-ingests
// a full-length segment under the default segmentation. Re-adding an
// existing path is a no-op.
func (e *Engine) IngestRecording(ctx context.Context, in RecordingInput) (created bool, segmentID string, err error) {
	start := time.Now()
	defer func() { e.metrics.RecordIngest(time.Since(start), err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	created, err = e.store.UpsertRecording(ctx, store.Recording{
		Path:        in.Path,
		Description: in.Description,
	})
	if err != nil {
		return false, "", err
	}
	if !created {
		return false, "", nil
	}
	segmentID, err = e.ingestSegmentLocked(ctx, SegmentInput{
		SourcePath:     in.Path,
		SegmentationID: DefaultSegmentationID,
		Start:          0.0,
		End:            1.0,
		Description:    in.Description,
	})
	if err != nil {
		return true, "", err
	}
	return true, segmentID, nil
}

// IngestSegment embeds and persists a new segment, returning its id.
func (e *Engine) IngestSegment(ctx context.Context, in SegmentInput) (id string, err error) {
	start := time.Now()
	defer func() { e.metrics.RecordIngest(time.Since(start), err) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ingestSegmentLocked(ctx, in)
}

func (e *Engine) ingestSegmentLocked(ctx context.Context, in SegmentInput) (string, error) {
	rec, err := e.store.GetRecording(ctx, in.SourcePath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: recording %s", store.ErrDanglingReference, in.SourcePath)
		}
		return "", err
	}
	segmentationID := in.SegmentationID
	if segmentationID == "" {
		segmentationID = DefaultSegmentationID
	}
	sgm, err := e.store.GetSegmentation(ctx, segmentationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: segmentation %s", store.ErrDanglingReference, segmentationID)
		}
		return "", err
	}

	text := e.composer.SegmentText(in.Description, sgm.Description, rec.Description)
	row, err := e.embedAndIndex(ctx, text)
	if err != nil {
		return "", err
	}

	seg := store.Segment{
		ID:             uuid.NewString(),
		SourcePath:     in.SourcePath,
		SegmentationID: segmentationID,
		Start:          in.Start,
		End:            in.End,
		Description:    in.Description,
		EmbeddingText:  text,
		VectorRow:      &row,
		FreqLow:        in.FreqLow,
		FreqHigh:       in.FreqHigh,
		Duration:       in.Duration,
	}
	if err := e.store.InsertSegment(ctx, seg); err != nil {
		// Row stays orphaned until the next rebuild.
		return "", err
	}
	e.logger.Debug("ingested segment", "id", seg.ID, "row", row, "text", text)
	return seg.ID, nil
}

// IngestEffect upserts an effect and, when it is new, auto-ingests a
// default preset with empty parameters.
func (e *Engine) IngestEffect(ctx context.Context, in EffectInput) (created bool, presetID string, err error) {
	start := time.Now()
	defer func() { e.metrics.RecordIngest(time.Since(start), err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	created, err = e.store.UpsertEffect(ctx, store.Effect{
		Path:        in.Path,
		Name:        in.Name,
		Description: in.Description,
	})
	if err != nil {
		return false, "", err
	}
	if !created {
		return false, "", nil
	}
	presetID, err = e.ingestPresetLocked(ctx, PresetInput{
		EffectPath:  in.Path,
		Parameters:  nil,
		Description: in.Description,
	})
	if err != nil {
		return true, "", err
	}
	return true, presetID, nil
}

// IngestPreset embeds and persists a new preset, returning its id.
func (e *Engine) IngestPreset(ctx context.Context, in PresetInput) (id string, err error) {
	start := time.Now()
	defer func() { e.metrics.RecordIngest(time.Since(start), err) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ingestPresetLocked(ctx, in)
}

func (e *Engine) ingestPresetLocked(ctx context.Context, in PresetInput) (string, error) {
	eff, err := e.store.GetEffect(ctx, in.EffectPath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: effect %s", store.ErrDanglingReference, in.EffectPath)
		}
		return "", err
	}

	text := e.composer.PresetText(in.Description, eff.Description)
	row, err := e.embedAndIndex(ctx, text)
	if err != nil {
		return "", err
	}

	p := store.Preset{
		ID:            uuid.NewString(),
		EffectPath:    in.EffectPath,
		Parameters:    in.Parameters,
		Description:   in.Description,
		EmbeddingText: text,
		VectorRow:     &row,
	}
	if err := e.store.InsertPreset(ctx, p); err != nil {
		return "", err
	}
	e.logger.Debug("ingested preset", "id", p.ID, "row", row, "text", text)
	return p.ID, nil
}

func (e *Engine) embedAndIndex(ctx context.Context, text string) (int, error) {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("engine: embedding failed: %w", err)
	}
	row, err := e.index.Add(vec)
	if err != nil {
		return 0, fmt.Errorf("engine: index append: %w", err)
	}
	return row, nil
}

// Hit is one resolved search result. Exactly one of Segment or Preset
// is set, matching Collection.
type Hit struct {
	Collection string
	Row        int
	Score      float32
	Segment    *store.Segment
	Preset     *store.Preset
}

// Search embeds the enhanced query, runs a top-k vector search, and
// resolves each row to its owning document, preserving descending score
// order and dropping hits below minScore.
func (e *Engine) Search(ctx context.Context, query string, topK int, minScore float64) (hits []Hit, err error) {
	start := time.Now()
	defer func() { e.metrics.RecordSearch(time.Since(start), len(hits), err) }()

	if topK <= 0 {
		return nil, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	enhanced := e.composer.EnhanceQuery(query)
	if enhanced == "" {
		enhanced = query
	}
	vec, err := e.embedder.Embed(ctx, enhanced)
	if err != nil {
		return nil, fmt.Errorf("engine: embedding failed: %w", err)
	}
	raw, err := e.index.Search(vec, topK)
	if err != nil {
		return nil, fmt.Errorf("engine: vector search: %w", err)
	}

	for _, h := range raw {
		if float64(h.Score) < minScore {
			continue
		}
		if seg, err := e.store.FindSegmentByRow(ctx, h.Row); err == nil {
			s := seg
			hits = append(hits, Hit{Collection: store.CollectionSegments, Row: h.Row, Score: h.Score, Segment: &s})
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if p, err := e.store.FindPresetByRow(ctx, h.Row); err == nil {
			pp := p
			hits = append(hits, Hit{Collection: store.CollectionPresets, Row: h.Row, Score: h.Score, Preset: &pp})
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		// Orphaned row (document persist failed after append, or a
		// pre-rebuild leftover). Skipped.
		e.logger.Debug("orphaned vector row", "row", h.Row)
	}
	return hits, nil
}

// RebuildStats reports a rebuild outcome. Failed holds the ids of
// documents whose re-embedding failed; those keep no vector row.
type RebuildStats struct {
	Segments int
	Presets  int
	Errors   int
	Failed   []string
}

// Rebuild drops the vector index and re-embeds every segment, then
// every preset, reassigning rows in deterministic iteration order.
// Failures are atomic per document: a failed document is skipped and
// reported, all others complete.
func (e *Engine) Rebuild(ctx context.Context) (RebuildStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stats RebuildStats

	if err := e.store.ClearSegmentRows(ctx); err != nil {
		return stats, err
	}
	if err := e.store.ClearPresetRows(ctx); err != nil {
		return stats, err
	}
	e.index.Reset()

	segments, err := e.store.AllSegments(ctx)
	if err != nil {
		return stats, err
	}
	for _, seg := range segments {
		if err := e.rebuildSegment(ctx, seg); err != nil {
			stats.Errors++
			stats.Failed = append(stats.Failed, seg.ID)
			e.logger.Warn("rebuild: segment failed", "id", seg.ID, "error", err)
			continue
		}
		stats.Segments++
	}

	presets, err := e.store.AllPresets(ctx)
	if err != nil {
		return stats, err
	}
	for _, p := range presets {
		if err := e.rebuildPreset(ctx, p); err != nil {
			stats.Errors++
			stats.Failed = append(stats.Failed, p.ID)
			e.logger.Warn("rebuild: preset failed", "id", p.ID, "error", err)
			continue
		}
		stats.Presets++
	}

	if err := e.index.Save(e.indexPath); err != nil {
		return stats, err
	}
	e.logger.Info("index rebuilt",
		"segments", stats.Segments, "presets", stats.Presets, "errors", stats.Errors)
	return stats, nil
}

func (e *Engine) rebuildSegment(ctx context.Context, seg store.Segment) error {
	rec, err := e.store.GetRecording(ctx, seg.SourcePath)
	if err != nil {
		return err
	}
	sgm, err := e.store.GetSegmentation(ctx, seg.SegmentationID)
	if err != nil {
		return err
	}
	text := e.composer.SegmentText(seg.Description, sgm.Description, rec.Description)
	row, err := e.embedAndIndex(ctx, text)
	if err != nil {
		return err
	}
	return e.store.SetSegmentEmbedding(ctx, seg.ID, text, &row)
}

func (e *Engine) rebuildPreset(ctx context.Context, p store.Preset) error {
	eff, err := e.store.GetEffect(ctx, p.EffectPath)
	if err != nil {
		return err
	}
	text := e.composer.PresetText(p.Description, eff.Description)
	row, err := e.embedAndIndex(ctx, text)
	if err != nil {
		return err
	}
	return e.store.SetPresetEmbedding(ctx, p.ID, text, &row)
}

// SaveIndex persists the vector index to its configured file.
func (e *Engine) SaveIndex() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Save(e.indexPath)
}

// Embeddings returns the vector index size.
func (e *Engine) Embeddings() int {
	return e.index.Size()
}

// Counts returns the store's per-collection counts.
func (e *Engine) Counts(ctx context.Context) (store.Counts, error) {
	return e.store.Counts(ctx)
}

// Store exposes the underlying document store for peripheral sinks
// (performance logging, CSV import).
func (e *Engine) Store() *store.Store {
	return e.store
}
