package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/hibikido/hibikido/internal/engine"
	"github.com/hibikido/hibikido/internal/orchestrator"
	"github.com/hibikido/hibikido/internal/store"
)

func (s *Server) routes() map[string]osc.HandlerFunc {
	return map[string]osc.HandlerFunc{
		"/invoke":        s.handleInvoke,
		"/search":        s.handleInvoke, // legacy synonym
		"/add_recording": s.handleAddRecording,
		"/add_effect":    s.handleAddEffect,
		"/add_segment":   s.handleAddSegment,
		"/add_preset":    s.handleAddPreset,
		"/rebuild_index": s.handleRebuildIndex,
		"/stats":         s.handleStats,
		"/stop":          s.handleStop,
	}
}

// handleInvoke searches for the incantation and queues every segment
// hit for manifestation. Preset hits are searchable but not yet
// orchestrated; they are dropped here.
func (s *Server) handleInvoke(msg *osc.Message) {
	ctx := context.Background()
	query := strings.TrimSpace(argString(msg, 0))
	if query == "" {
		s.reportError("invoke requires incantation text")
		return
	}
	s.logger.Info("invocation", "text", query)

	hits, err := s.engine.Search(ctx, query, s.cfg.Search.TopK, s.cfg.Search.MinScore)
	if err != nil {
		s.reportError(fmt.Sprintf("invoke failed: %v", err))
		return
	}

	queued := 0
	topSegmentID := ""
	for _, hit := range hits {
		if hit.Collection != store.CollectionSegments {
			continue
		}
		seg := hit.Segment
		if topSegmentID == "" {
			topSegmentID = seg.ID
		}
		s.orch.Enqueue(orchestrator.Candidate{
			Payload: orchestrator.Payload{
				Index:       queued,
				Collection:  store.CollectionSegments,
				Score:       hit.Score,
				Path:        seg.SourcePath,
				Description: seg.Description,
				Start:       seg.Start,
				End:         seg.End,
				Parameters:  "[]",
			},
			SoundID:  seg.ID,
			FreqLow:  seg.FreqLow,
			FreqHigh: seg.FreqHigh,
			Duration: seg.Duration,
		})
		queued++
	}

	s.logInvocation(ctx, query, topSegmentID)
	s.confirm(fmt.Sprintf("queued %d resonances", queued))
}

func (s *Server) handleAddRecording(msg *osc.Message) {
	ctx := context.Background()
	path := strings.TrimSpace(argString(msg, 0))
	if path == "" {
		s.reportError("add_recording requires a path")
		return
	}
	var meta struct {
		Description string `json:"description"`
	}
	if err := decodeBlob(argString(msg, 1), &meta); err != nil {
		s.reportError(fmt.Sprintf("add_recording: %v", err))
		return
	}

	created, segmentID, err := s.engine.IngestRecording(ctx, engine.RecordingInput{
		Path:        path,
		Description: meta.Description,
	})
	if err != nil {
		s.reportError(fmt.Sprintf("add_recording failed: %v", err))
		return
	}
	if !created {
		s.confirm(fmt.Sprintf("recording exists: %s", path))
		return
	}
	s.confirm(fmt.Sprintf("added recording: %s (segment %s)", path, segmentID))
}

func (s *Server) handleAddEffect(msg *osc.Message) {
	ctx := context.Background()
	path := strings.TrimSpace(argString(msg, 0))
	if path == "" {
		s.reportError("add_effect requires a path")
		return
	}
	var meta struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeBlob(argString(msg, 1), &meta); err != nil {
		s.reportError(fmt.Sprintf("add_effect: %v", err))
		return
	}
	if meta.Name == "" {
		meta.Name = path
	}

	created, presetID, err := s.engine.IngestEffect(ctx, engine.EffectInput{
		Path:        path,
		Name:        meta.Name,
		Description: meta.Description,
	})
	if err != nil {
		s.reportError(fmt.Sprintf("add_effect failed: %v", err))
		return
	}
	if !created {
		s.confirm(fmt.Sprintf("effect exists: %s", path))
		return
	}
	s.confirm(fmt.Sprintf("added effect: %s (preset %s)", path, presetID))
}

func (s *Server) handleAddSegment(msg *osc.Message) {
	ctx := context.Background()
	description := strings.TrimSpace(argString(msg, 0))
	if description == "" {
		s.reportError("add_segment requires a description")
		return
	}
	var meta struct {
		SourcePath     string   `json:"source_path"`
		SegmentationID string   `json:"segmentation_id"`
		Start          *float64 `json:"start"`
		End            *float64 `json:"end"`
		FreqLow        *float64 `json:"freq_low"`
		FreqHigh       *float64 `json:"freq_high"`
		Duration       *float64 `json:"duration"`
	}
	if err := decodeBlob(argString(msg, 1), &meta); err != nil {
		s.reportError(fmt.Sprintf("add_segment: %v", err))
		return
	}
	if meta.SourcePath == "" {
		s.reportError("add_segment requires source_path")
		return
	}
	if meta.Start == nil || meta.End == nil {
		s.reportError("add_segment requires start and end")
		return
	}

	id, err := s.engine.IngestSegment(ctx, engine.SegmentInput{
		SourcePath:     meta.SourcePath,
		SegmentationID: meta.SegmentationID,
		Start:          *meta.Start,
		End:            *meta.End,
		Description:    description,
		FreqLow:        meta.FreqLow,
		FreqHigh:       meta.FreqHigh,
		Duration:       meta.Duration,
	})
	if err != nil {
		s.reportError(fmt.Sprintf("add_segment failed: %v", err))
		return
	}
	s.confirm(fmt.Sprintf("added segment: %s", id))
}

func (s *Server) handleAddPreset(msg *osc.Message) {
	ctx := context.Background()
	description := strings.TrimSpace(argString(msg, 0))
	if description == "" {
		s.reportError("add_preset requires a description")
		return
	}
	var meta struct {
		EffectPath string            `json:"effect_path"`
		Parameters []store.Parameter `json:"parameters"`
	}
	if err := decodeBlob(argString(msg, 1), &meta); err != nil {
		s.reportError(fmt.Sprintf("add_preset: %v", err))
		return
	}
	if meta.EffectPath == "" {
		s.reportError("add_preset requires effect_path")
		return
	}

	id, err := s.engine.IngestPreset(ctx, engine.PresetInput{
		EffectPath:  meta.EffectPath,
		Parameters:  meta.Parameters,
		Description: description,
	})
	if err != nil {
		s.reportError(fmt.Sprintf("add_preset failed: %v", err))
		return
	}
	s.confirm(fmt.Sprintf("added preset: %s", id))
}

func (s *Server) handleRebuildIndex(msg *osc.Message) {
	ctx := context.Background()
	stats, err := s.engine.Rebuild(ctx)
	if err != nil {
		s.reportError(fmt.Sprintf("rebuild_index failed: %v", err))
		return
	}
	result := fmt.Sprintf("index rebuilt: %d segments, %d presets", stats.Segments, stats.Presets)
	if stats.Errors > 0 {
		result += fmt.Sprintf(" (%d failed: %s)", stats.Errors, strings.Join(stats.Failed, ", "))
	}
	s.confirm(result)
}

func (s *Server) handleStats(msg *osc.Message) {
	ctx := context.Background()
	counts, err := s.engine.Counts(ctx)
	if err != nil {
		s.reportError(fmt.Sprintf("stats failed: %v", err))
		return
	}
	active, queued := s.orch.Stats()
	err = s.emitter.StatsResult(counts.Recordings, counts.Segments,
		counts.Effects, counts.Presets, s.engine.Embeddings(), active, queued)
	if err != nil {
		s.logger.Error("stats dispatch failed", "error", err)
	}
}

func (s *Server) handleStop(msg *osc.Message) {
	s.logger.Info("stop requested")
	s.confirm("stopping")
	s.initiateStop()
}

// logInvocation appends to the session performance log; failures are
// logged, not surfaced to the client.
func (s *Server) logInvocation(ctx context.Context, text, segmentID string) {
	inv := store.Invocation{
		Text:       text,
		SegmentID:  segmentID,
		TimeOffset: time.Since(s.startedAt).Seconds(),
	}
	if err := s.engine.Store().AppendInvocation(ctx, s.performanceID, inv); err != nil {
		s.logger.Warn("invocation log failed", "error", err)
	}
}

func (s *Server) confirm(message string) {
	if err := s.emitter.Confirm(message); err != nil {
		s.logger.Error("confirm dispatch failed", "error", err)
	}
}

func (s *Server) reportError(message string) {
	s.logger.Warn(message)
	if err := s.emitter.Error(message); err != nil {
		s.logger.Error("error dispatch failed", "error", err)
	}
}

func performance(id string) store.Performance {
	now := time.Now()
	return store.Performance{ID: id, Date: now, CreatedAt: now}
}

// argString returns message argument i as a string, or "" if absent.
func argString(msg *osc.Message, i int) string {
	if msg == nil || i >= len(msg.Arguments) {
		return ""
	}
	switch v := msg.Arguments[i].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// decodeBlob parses a JSON argument blob into out. Empty blobs decode
// to the zero value; unknown fields are ignored.
func decodeBlob(blob string, out any) error {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(blob), out); err != nil {
		return fmt.Errorf("invalid metadata JSON: %w", err)
	}
	return nil
}
