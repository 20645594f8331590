// Package store implements the schema-validated document database backing
// the retrieval engine: recordings, segmentations, segments, effects,
// presets, and performance logs, with referential integrity enforced on
// insert and reverse lookup from vector-index rows to documents.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Sentinel errors for the store's failure taxonomy.
var (
	ErrNotFound          = errors.New("store: not found")
	ErrConflict          = errors.New("store: conflict")
	ErrDanglingReference = errors.New("store: dangling reference")
	ErrInvalidDocument   = errors.New("store: invalid document")
)

// Store wraps the sqlite document database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the document database at path and
// applies the schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- recordings ---

// UpsertRecording inserts a recording or, if the path already exists,
// leaves the stored document untouched. Returns true when a new
// recording was created.
func (s *Store) UpsertRecording(ctx context.Context, r Recording) (bool, error) {
	if r.Path == "" {
		return false, fmt.Errorf("%w: recording path is required", ErrInvalidDocument)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (path, description, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO NOTHING
	`, r.Path, r.Description, unixOrNow(r.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("store: upsert recording: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetRecording returns the recording with the given path.
func (s *Store) GetRecording(ctx context.Context, path string) (Recording, error) {
	var r Recording
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT path, description, created_at FROM recordings WHERE path = ?
	`, path).Scan(&r.Path, &r.Description, &created)
	if err == sql.ErrNoRows {
		return Recording{}, fmt.Errorf("%w: recording %s", ErrNotFound, path)
	}
	if err != nil {
		return Recording{}, fmt.Errorf("store: get recording: %w", err)
	}
	r.CreatedAt = time.Unix(created, 0)
	return r, nil
}

// --- segmentations ---

// AddSegmentation inserts a new segmentation. Fails with ErrConflict if
// the id is taken.
func (s *Store) AddSegmentation(ctx context.Context, sg Segmentation) error {
	if sg.ID == "" || sg.Method == "" {
		return fmt.Errorf("%w: segmentation id and method are required", ErrInvalidDocument)
	}
	params, err := json.Marshal(paramsOrEmpty(sg.Parameters))
	if err != nil {
		return fmt.Errorf("store: marshal segmentation parameters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO segmentations (id, method, parameters_json, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sg.ID, sg.Method, string(params), sg.Description, unixOrNow(sg.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: segmentation %s", ErrConflict, sg.ID)
	}
	if err != nil {
		return fmt.Errorf("store: add segmentation: %w", err)
	}
	return nil
}

// EnsureSegmentation inserts the segmentation unless its id already
// exists. Used for the default and import segmentations.
func (s *Store) EnsureSegmentation(ctx context.Context, sg Segmentation) error {
	err := s.AddSegmentation(ctx, sg)
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

// GetSegmentation returns the segmentation with the given id.
func (s *Store) GetSegmentation(ctx context.Context, id string) (Segmentation, error) {
	var sg Segmentation
	var params string
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, method, parameters_json, description, created_at
		FROM segmentations WHERE id = ?
	`, id).Scan(&sg.ID, &sg.Method, &params, &sg.Description, &created)
	if err == sql.ErrNoRows {
		return Segmentation{}, fmt.Errorf("%w: segmentation %s", ErrNotFound, id)
	}
	if err != nil {
		return Segmentation{}, fmt.Errorf("store: get segmentation: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &sg.Parameters); err != nil {
		return Segmentation{}, fmt.Errorf("store: decode segmentation parameters: %w", err)
	}
	sg.CreatedAt = time.Unix(created, 0)
	return sg, nil
}

// --- segments ---

// InsertSegment validates and inserts a segment. The source recording
// and segmentation must already exist.
func (s *Store) InsertSegment(ctx context.Context, seg Segment) error {
	if seg.ID == "" {
		return fmt.Errorf("%w: segment id is required", ErrInvalidDocument)
	}
	if !(seg.Start >= 0 && seg.Start < seg.End && seg.End <= 1) {
		return fmt.Errorf("%w: segment bounds [%g, %g] out of range", ErrInvalidDocument, seg.Start, seg.End)
	}
	if seg.FreqLow != nil && seg.FreqHigh != nil && *seg.FreqLow > *seg.FreqHigh {
		return fmt.Errorf("%w: segment frequency band inverted", ErrInvalidDocument)
	}
	if seg.Duration != nil && *seg.Duration <= 0 {
		return fmt.Errorf("%w: segment duration must be positive", ErrInvalidDocument)
	}
	if _, err := s.GetRecording(ctx, seg.SourcePath); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: segment source %s", ErrDanglingReference, seg.SourcePath)
		}
		return err
	}
	if _, err := s.GetSegmentation(ctx, seg.SegmentationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: segmentation %s", ErrDanglingReference, seg.SegmentationID)
		}
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segments (
			id, source_path, segmentation_id, start, "end", description,
			embedding_text, vector_row, freq_low, freq_high, duration, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, seg.ID, seg.SourcePath, seg.SegmentationID, seg.Start, seg.End,
		seg.Description, seg.EmbeddingText, nullInt(seg.VectorRow),
		nullFloat(seg.FreqLow), nullFloat(seg.FreqHigh), nullFloat(seg.Duration),
		unixOrNow(seg.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: segment %s", ErrConflict, seg.ID)
	}
	if err != nil {
		return fmt.Errorf("store: insert segment: %w", err)
	}
	return nil
}

// GetSegment returns the segment with the given id.
func (s *Store) GetSegment(ctx context.Context, id string) (Segment, error) {
	return s.querySegment(ctx, "id = ?", id)
}

// FindSegmentByRow returns the segment owning the given vector row.
func (s *Store) FindSegmentByRow(ctx context.Context, row int) (Segment, error) {
	return s.querySegment(ctx, "vector_row = ?", row)
}

func (s *Store) querySegment(ctx context.Context, where string, arg any) (Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, segmentation_id, start, "end", description,
		       embedding_text, vector_row, freq_low, freq_high, duration, created_at
		FROM segments WHERE `+where, arg)
	if err != nil {
		return Segment{}, fmt.Errorf("store: query segment: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return Segment{}, fmt.Errorf("%w: segment (%s %v)", ErrNotFound, where, arg)
	}
	return scanSegment(rows)
}

// AllSegments returns every segment in deterministic creation order.
func (s *Store) AllSegments(ctx context.Context) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, segmentation_id, start, "end", description,
		       embedding_text, vector_row, freq_low, freq_high, duration, created_at
		FROM segments ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list segments: %w", err)
	}
	defer rows.Close()
	var out []Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// SetSegmentEmbedding updates a segment's composed embedding text and
// vector row in one statement. A nil row clears the assignment.
func (s *Store) SetSegmentEmbedding(ctx context.Context, id, embeddingText string, row *int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE segments SET embedding_text = ?, vector_row = ? WHERE id = ?
	`, embeddingText, nullInt(row), id)
	if err != nil {
		return fmt.Errorf("store: set segment embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: segment %s", ErrNotFound, id)
	}
	return nil
}

// ClearSegmentRows detaches every segment from the vector index.
func (s *Store) ClearSegmentRows(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE segments SET vector_row = NULL`); err != nil {
		return fmt.Errorf("store: clear segment rows: %w", err)
	}
	return nil
}

func scanSegment(rows *sql.Rows) (Segment, error) {
	var seg Segment
	var row sql.NullInt64
	var fLow, fHigh, dur sql.NullFloat64
	var created int64
	err := rows.Scan(&seg.ID, &seg.SourcePath, &seg.SegmentationID, &seg.Start,
		&seg.End, &seg.Description, &seg.EmbeddingText, &row, &fLow, &fHigh,
		&dur, &created)
	if err != nil {
		return Segment{}, fmt.Errorf("store: scan segment: %w", err)
	}
	if row.Valid {
		v := int(row.Int64)
		seg.VectorRow = &v
	}
	seg.FreqLow = floatPtr(fLow)
	seg.FreqHigh = floatPtr(fHigh)
	seg.Duration = floatPtr(dur)
	seg.CreatedAt = time.Unix(created, 0)
	return seg, nil
}

// --- effects ---

// UpsertEffect inserts an effect or leaves an existing one untouched.
// Returns true when a new effect was created.
func (s *Store) UpsertEffect(ctx context.Context, e Effect) (bool, error) {
	if e.Path == "" {
		return false, fmt.Errorf("%w: effect path is required", ErrInvalidDocument)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO effects (path, name, description, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO NOTHING
	`, e.Path, e.Name, e.Description, unixOrNow(e.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("store: upsert effect: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetEffect returns the effect with the given path.
func (s *Store) GetEffect(ctx context.Context, path string) (Effect, error) {
	var e Effect
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT path, name, description, created_at FROM effects WHERE path = ?
	`, path).Scan(&e.Path, &e.Name, &e.Description, &created)
	if err == sql.ErrNoRows {
		return Effect{}, fmt.Errorf("%w: effect %s", ErrNotFound, path)
	}
	if err != nil {
		return Effect{}, fmt.Errorf("store: get effect: %w", err)
	}
	e.CreatedAt = time.Unix(created, 0)
	return e, nil
}

// --- presets ---

// InsertPreset validates and inserts a preset. The referenced effect
// must already exist.
func (s *Store) InsertPreset(ctx context.Context, p Preset) error {
	if p.ID == "" {
		return fmt.Errorf("%w: preset id is required", ErrInvalidDocument)
	}
	if _, err := s.GetEffect(ctx, p.EffectPath); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: preset effect %s", ErrDanglingReference, p.EffectPath)
		}
		return err
	}
	params, err := json.Marshal(paramListOrEmpty(p.Parameters))
	if err != nil {
		return fmt.Errorf("store: marshal preset parameters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO presets (
			id, effect_path, parameters_json, description, embedding_text,
			vector_row, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.EffectPath, string(params), p.Description, p.EmbeddingText,
		nullInt(p.VectorRow), unixOrNow(p.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: preset %s", ErrConflict, p.ID)
	}
	if err != nil {
		return fmt.Errorf("store: insert preset: %w", err)
	}
	return nil
}

// GetPreset returns the preset with the given id.
func (s *Store) GetPreset(ctx context.Context, id string) (Preset, error) {
	return s.queryPreset(ctx, "id = ?", id)
}

// FindPresetByRow returns the preset owning the given vector row.
func (s *Store) FindPresetByRow(ctx context.Context, row int) (Preset, error) {
	return s.queryPreset(ctx, "vector_row = ?", row)
}

func (s *Store) queryPreset(ctx context.Context, where string, arg any) (Preset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, effect_path, parameters_json, description, embedding_text,
		       vector_row, created_at
		FROM presets WHERE `+where, arg)
	if err != nil {
		return Preset{}, fmt.Errorf("store: query preset: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return Preset{}, fmt.Errorf("%w: preset (%s %v)", ErrNotFound, where, arg)
	}
	return scanPreset(rows)
}

// AllPresets returns every preset in deterministic creation order.
func (s *Store) AllPresets(ctx context.Context) ([]Preset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, effect_path, parameters_json, description, embedding_text,
		       vector_row, created_at
		FROM presets ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list presets: %w", err)
	}
	defer rows.Close()
	var out []Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetPresetEmbedding updates a preset's embedding text and vector row.
func (s *Store) SetPresetEmbedding(ctx context.Context, id, embeddingText string, row *int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE presets SET embedding_text = ?, vector_row = ? WHERE id = ?
	`, embeddingText, nullInt(row), id)
	if err != nil {
		return fmt.Errorf("store: set preset embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: preset %s", ErrNotFound, id)
	}
	return nil
}

// ClearPresetRows detaches every preset from the vector index.
func (s *Store) ClearPresetRows(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE presets SET vector_row = NULL`); err != nil {
		return fmt.Errorf("store: clear preset rows: %w", err)
	}
	return nil
}

func scanPreset(rows *sql.Rows) (Preset, error) {
	var p Preset
	var params string
	var row sql.NullInt64
	var created int64
	err := rows.Scan(&p.ID, &p.EffectPath, &params, &p.Description,
		&p.EmbeddingText, &row, &created)
	if err != nil {
		return Preset{}, fmt.Errorf("store: scan preset: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &p.Parameters); err != nil {
		return Preset{}, fmt.Errorf("store: decode preset parameters: %w", err)
	}
	if row.Valid {
		v := int(row.Int64)
		p.VectorRow = &v
	}
	p.CreatedAt = time.Unix(created, 0)
	return p, nil
}

// --- performances ---

// AddPerformance opens a new performance session.
func (s *Store) AddPerformance(ctx context.Context, p Performance) error {
	if p.ID == "" {
		return fmt.Errorf("%w: performance id is required", ErrInvalidDocument)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO performances (id, date, created_at) VALUES (?, ?, ?)
	`, p.ID, unixOrNow(p.Date), unixOrNow(p.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: performance %s", ErrConflict, p.ID)
	}
	if err != nil {
		return fmt.Errorf("store: add performance: %w", err)
	}
	return nil
}

// AppendInvocation appends an invocation to a performance's log.
func (s *Store) AppendInvocation(ctx context.Context, performanceID string, inv Invocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocations (performance_id, seq, text, segment_id, effect_id, time_offset)
		VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM invocations WHERE performance_id = ?),
		        ?, ?, ?, ?)
	`, performanceID, performanceID, inv.Text,
		nullString(inv.SegmentID), nullString(inv.EffectID), inv.TimeOffset)
	if err != nil {
		return fmt.Errorf("store: append invocation: %w", err)
	}
	return nil
}

// Invocations returns a performance's log in append order.
func (s *Store) Invocations(ctx context.Context, performanceID string) ([]Invocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text, segment_id, effect_id, time_offset
		FROM invocations WHERE performance_id = ? ORDER BY seq
	`, performanceID)
	if err != nil {
		return nil, fmt.Errorf("store: list invocations: %w", err)
	}
	defer rows.Close()
	var out []Invocation
	for rows.Next() {
		var inv Invocation
		var segID, effID sql.NullString
		if err := rows.Scan(&inv.Text, &segID, &effID, &inv.TimeOffset); err != nil {
			return nil, fmt.Errorf("store: scan invocation: %w", err)
		}
		inv.SegmentID = segID.String
		inv.EffectID = effID.String
		out = append(out, inv)
	}
	return out, rows.Err()
}

// --- counts ---

// Counts returns per-collection document counts.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM recordings),
			(SELECT COUNT(*) FROM segmentations),
			(SELECT COUNT(*) FROM segments),
			(SELECT COUNT(*) FROM effects),
			(SELECT COUNT(*) FROM presets),
			(SELECT COUNT(*) FROM performances)
	`)
	err := row.Scan(&c.Recordings, &c.Segmentations, &c.Segments,
		&c.Effects, &c.Presets, &c.Performances)
	if err != nil {
		return Counts{}, fmt.Errorf("store: counts: %w", err)
	}
	return c, nil
}

// --- helpers ---

func unixOrNow(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().Unix()
	}
	return t.Unix()
}

func paramsOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func paramListOrEmpty(p []Parameter) []Parameter {
	if p == nil {
		return []Parameter{}
	}
	return p
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
