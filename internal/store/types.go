package store

import "time"

// Collection names used for row resolution and manifestation payloads.
const (
	CollectionSegments = "segments"
	CollectionPresets  = "presets"
)

// Recording is an immutable source audio file, keyed by path.
type Recording struct {
	Path        string
	Description string
	CreatedAt   time.Time
}

// Segmentation names a method/run that produced a batch of segments.
type Segmentation struct {
	ID          string
	Method      string
	Parameters  map[string]any
	Description string
	CreatedAt   time.Time
}

// Segment is a normalized slice of a recording. VectorRow is nil until
// the segment's embedding has been assigned a row in the vector index.
type Segment struct {
	ID             string
	SourcePath     string
	SegmentationID string
	Start          float64
	End            float64
	Description    string
	EmbeddingText  string
	VectorRow      *int
	FreqLow        *float64
	FreqHigh       *float64
	Duration       *float64
	CreatedAt      time.Time
}

// Effect is an audio processing tool, keyed by path.
type Effect struct {
	Path        string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Parameter is one named value in a preset's ordered parameter list.
type Parameter struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Preset is a named configuration of an effect.
type Preset struct {
	ID            string
	EffectPath    string
	Parameters    []Parameter
	Description   string
	EmbeddingText string
	VectorRow     *int
	CreatedAt     time.Time
}

// Performance is a session log of invocations.
type Performance struct {
	ID        string
	Date      time.Time
	CreatedAt time.Time
}

// Invocation is one logged incantation within a performance.
type Invocation struct {
	Text       string
	SegmentID  string
	EffectID   string
	TimeOffset float64 // seconds since performance start
}

// Counts summarizes collection sizes.
type Counts struct {
	Recordings    int
	Segmentations int
	Segments      int
	Effects       int
	Presets       int
	Performances  int
}
