package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestRecorderAggregates(t *testing.T) {
	m := New()
	m.RecordIngest(10*time.Millisecond, nil)
	m.RecordIngest(30*time.Millisecond, errors.New("boom"))
	m.RecordSearch(5*time.Millisecond, 3, nil)
	m.RecordManifest()
	m.RecordManifest()

	if m.IngestTotal != 2 || m.IngestOK != 1 || m.IngestError != 1 {
		t.Fatalf("ingest counters = %d/%d/%d", m.IngestTotal, m.IngestOK, m.IngestError)
	}
	if m.SearchTotal != 1 || m.SearchHits != 3 {
		t.Fatalf("search counters = %d/%d", m.SearchTotal, m.SearchHits)
	}
	if m.ManifestTotal != 2 {
		t.Fatalf("manifest counter = %d", m.ManifestTotal)
	}

	snap := m.Snapshot()
	ingest := snap["ingest"].(map[string]any)
	if ingest["total"] != 2 || ingest["avg_ms"] != 20.0 {
		t.Fatalf("snapshot ingest = %v", ingest)
	}
	if snap["manifestations"] != 2 {
		t.Fatalf("snapshot manifestations = %v", snap["manifestations"])
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var m *Recorder
	m.RecordIngest(time.Millisecond, nil)
	m.RecordSearch(time.Millisecond, 1, nil)
	m.RecordManifest()
	if m.Snapshot() != nil {
		t.Fatal("nil recorder snapshot should be nil")
	}
}
