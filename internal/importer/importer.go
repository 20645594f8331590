// Package importer bulk-loads recordings and segments from CSV files.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/hibikido/hibikido/internal/engine"
	"github.com/hibikido/hibikido/internal/store"
)

// SegmentationID groups all CSV-imported segments.
const SegmentationID = "csv_import"

// Result summarizes one import run.
type Result struct {
	Recordings int
	Segments   int
	Errors     int
}

// Importer feeds CSV rows through the retrieval engine.
type Importer struct {
	engine *engine.Engine
	logger *slog.Logger
}

// New creates an Importer.
func New(eng *engine.Engine, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{engine: eng, logger: logger}
}

// ImportCSV ingests a CSV file with a header row. Recognized columns:
// path, description, start, end, freq_low, freq_high, duration,
// segment_description. Recordings are created on first sight of a path;
// each row becomes one segment. Row failures are counted and logged,
// not fatal.
func (im *Importer) ImportCSV(ctx context.Context, path string) (Result, error) {
	var res Result

	f, err := os.Open(path)
	if err != nil {
		return res, fmt.Errorf("importer: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return res, fmt.Errorf("importer: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["path"]; !ok {
		return res, fmt.Errorf("importer: missing required column %q", "path")
	}

	err = im.engine.Store().EnsureSegmentation(ctx, store.Segmentation{
		ID:          SegmentationID,
		Method:      "csv",
		Description: "bulk csv import",
	})
	if err != nil {
		return res, err
	}

	seen := make(map[string]bool)
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			res.Errors++
			im.logger.Warn("csv row unreadable", "line", line, "error", err)
			continue
		}
		if err := im.importRow(ctx, cols, record, seen, &res); err != nil {
			res.Errors++
			im.logger.Warn("csv row failed", "line", line, "error", err)
		}
	}
	im.logger.Info("csv import complete",
		"recordings", res.Recordings, "segments", res.Segments, "errors", res.Errors)
	return res, nil
}

func (im *Importer) importRow(ctx context.Context, cols map[string]int,
	record []string, seen map[string]bool, res *Result) error {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	recPath := field("path")
	if recPath == "" {
		return fmt.Errorf("empty path")
	}
	description := field("description")

	if !seen[recPath] {
		created, err := im.engine.Store().UpsertRecording(ctx, store.Recording{
			Path:        recPath,
			Description: description,
		})
		if err != nil {
			return err
		}
		if created {
			res.Recordings++
		}
		seen[recPath] = true
	}

	start, err := floatField(field("start"), 0.0)
	if err != nil {
		return fmt.Errorf("bad start: %w", err)
	}
	end, err := floatField(field("end"), 1.0)
	if err != nil {
		return fmt.Errorf("bad end: %w", err)
	}
	segDescription := field("segment_description")
	if segDescription == "" {
		segDescription = description
	}

	in := engine.SegmentInput{
		SourcePath:     recPath,
		SegmentationID: SegmentationID,
		Start:          start,
		End:            end,
		Description:    segDescription,
	}
	if in.FreqLow, err = optFloatField(field("freq_low")); err != nil {
		return fmt.Errorf("bad freq_low: %w", err)
	}
	if in.FreqHigh, err = optFloatField(field("freq_high")); err != nil {
		return fmt.Errorf("bad freq_high: %w", err)
	}
	if in.Duration, err = optFloatField(field("duration")); err != nil {
		return fmt.Errorf("bad duration: %w", err)
	}

	if _, err := im.engine.IngestSegment(ctx, in); err != nil {
		return err
	}
	res.Segments++
	return nil
}

func floatField(s string, def float64) (float64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseFloat(s, 64)
}

func optFloatField(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
