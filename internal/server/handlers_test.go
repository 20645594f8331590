package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/hibikido/hibikido/internal/config"
	"github.com/hibikido/hibikido/internal/metrics"
	"github.com/hibikido/hibikido/internal/orchestrator"
	"github.com/hibikido/hibikido/internal/testutil"
)

// fakeEmitter records outgoing events instead of sending OSC packets.
type fakeEmitter struct {
	mu        sync.Mutex
	manifests []orchestrator.Payload
	confirms  []string
	errors    []string
	stats     [][7]int
}

func (f *fakeEmitter) Manifest(p orchestrator.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests = append(f.manifests, p)
	return nil
}

func (f *fakeEmitter) Confirm(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms = append(f.confirms, message)
	return nil
}

func (f *fakeEmitter) Error(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, message)
	return nil
}

func (f *fakeEmitter) StatsResult(recordings, segments, effects, presets, embeddings, activeNiches, queued int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, [7]int{recordings, segments, effects, presets, embeddings, activeNiches, queued})
	return nil
}

func (f *fakeEmitter) lastConfirm(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.confirms) == 0 {
		t.Fatalf("no confirms; errors: %v", f.errors)
	}
	return f.confirms[len(f.confirms)-1]
}

func (f *fakeEmitter) lastError(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errors) == 0 {
		t.Fatalf("no errors; confirms: %v", f.confirms)
	}
	return f.errors[len(f.errors)-1]
}

func newTestServer(t *testing.T) (*Server, *fakeEmitter) {
	t.Helper()
	eng := testutil.NewTestEngine(t)
	fe := &fakeEmitter{}
	orch := orchestrator.New(orchestrator.DefaultConfig(), nil, nil)
	srv := New(config.Default(), eng, orch, fe, metrics.New(), nil)
	srv.startedAt = time.Now()
	if err := srv.openPerformance(context.Background()); err != nil {
		t.Fatalf("open performance: %v", err)
	}
	return srv, fe
}

func msg(addr string, args ...any) *osc.Message {
	m := osc.NewMessage(addr)
	for _, a := range args {
		m.Append(a)
	}
	return m
}

func TestRoutesCoverProtocol(t *testing.T) {
	srv, _ := newTestServer(t)
	routes := srv.routes()
	for _, addr := range []string{
		"/invoke", "/search", "/add_recording", "/add_effect",
		"/add_segment", "/add_preset", "/rebuild_index", "/stats", "/stop",
	} {
		if routes[addr] == nil {
			t.Fatalf("no handler for %s", addr)
		}
	}
}

func TestHandleAddRecording(t *testing.T) {
	srv, fe := newTestServer(t)

	srv.handleAddRecording(msg("/add_recording", "gong.wav", `{"description":"large gong hit"}`))
	if got := fe.lastConfirm(t); !strings.Contains(got, "added recording: gong.wav") {
		t.Fatalf("confirm = %q", got)
	}

	srv.handleAddRecording(msg("/add_recording", "gong.wav", `{"description":"changed"}`))
	if got := fe.lastConfirm(t); !strings.Contains(got, "recording exists: gong.wav") {
		t.Fatalf("confirm = %q", got)
	}

	srv.handleAddRecording(msg("/add_recording"))
	if got := fe.lastError(t); !strings.Contains(got, "requires a path") {
		t.Fatalf("error = %q", got)
	}

	srv.handleAddRecording(msg("/add_recording", "bad.wav", "{not json"))
	if got := fe.lastError(t); !strings.Contains(got, "invalid metadata JSON") {
		t.Fatalf("error = %q", got)
	}
}

func TestHandleAddSegment(t *testing.T) {
	srv, fe := newTestServer(t)
	srv.handleAddRecording(msg("/add_recording", "field.wav", `{"description":"open field"}`))

	srv.handleAddSegment(msg("/add_segment", "skylark rising song",
		`{"source_path":"field.wav","start":0.2,"end":0.6,"freq_low":2000,"freq_high":7000}`))
	if got := fe.lastConfirm(t); !strings.Contains(got, "added segment:") {
		t.Fatalf("confirm = %q", got)
	}

	srv.handleAddSegment(msg("/add_segment", "no bounds", `{"source_path":"field.wav"}`))
	if got := fe.lastError(t); !strings.Contains(got, "requires start and end") {
		t.Fatalf("error = %q", got)
	}

	srv.handleAddSegment(msg("/add_segment", "no source", `{"start":0,"end":1}`))
	if got := fe.lastError(t); !strings.Contains(got, "requires source_path") {
		t.Fatalf("error = %q", got)
	}

	srv.handleAddSegment(msg("/add_segment", "dangling",
		`{"source_path":"absent.wav","start":0,"end":1}`))
	if got := fe.lastError(t); !strings.Contains(got, "add_segment failed") {
		t.Fatalf("error = %q", got)
	}
}

func TestHandleAddEffectAndPreset(t *testing.T) {
	srv, fe := newTestServer(t)

	srv.handleAddEffect(msg("/add_effect", "delay.amxd", `{"name":"tape delay","description":"wobbly tape delay"}`))
	if got := fe.lastConfirm(t); !strings.Contains(got, "added effect: delay.amxd") {
		t.Fatalf("confirm = %q", got)
	}

	srv.handleAddEffect(msg("/add_effect", "delay.amxd", `{}`))
	if got := fe.lastConfirm(t); !strings.Contains(got, "effect exists: delay.amxd") {
		t.Fatalf("confirm = %q", got)
	}

	srv.handleAddPreset(msg("/add_preset", "long murky trails",
		`{"effect_path":"delay.amxd","parameters":[{"name":"feedback","value":0.8}]}`))
	if got := fe.lastConfirm(t); !strings.Contains(got, "added preset:") {
		t.Fatalf("confirm = %q", got)
	}

	srv.handleAddPreset(msg("/add_preset", "nowhere", `{"effect_path":"absent.amxd"}`))
	if got := fe.lastError(t); !strings.Contains(got, "add_preset failed") {
		t.Fatalf("error = %q", got)
	}

	srv.handleAddPreset(msg("/add_preset", "no effect", `{}`))
	if got := fe.lastError(t); !strings.Contains(got, "requires effect_path") {
		t.Fatalf("error = %q", got)
	}
}

func TestHandleInvokeQueuesSegments(t *testing.T) {
	srv, fe := newTestServer(t)
	ctx := context.Background()

	srv.handleAddRecording(msg("/add_recording", "ocean.wav",
		`{"description":"rolling breakers against basalt"}`))

	srv.handleInvoke(msg("/invoke", "rolling breakers against basalt"))
	if got := fe.lastConfirm(t); got != "queued 1 resonances" {
		t.Fatalf("confirm = %q", got)
	}
	if active, queued := srv.orch.Stats(); active != 0 || queued != 1 {
		t.Fatalf("orchestrator stats = (%d, %d), want (0, 1)", active, queued)
	}

	// The incantation lands in the session performance log.
	invs, err := srv.engine.Store().Invocations(ctx, srv.performanceID)
	if err != nil {
		t.Fatalf("invocations: %v", err)
	}
	if len(invs) != 1 || invs[0].Text != "rolling breakers against basalt" {
		t.Fatalf("invocation log = %+v", invs)
	}
	if invs[0].SegmentID == "" {
		t.Fatal("top segment id not logged")
	}

	// The queued candidate manifests on the next tick.
	admitted := srv.orch.Tick()
	if len(admitted) != 1 || admitted[0].Path != "ocean.wav" {
		t.Fatalf("admitted = %+v", admitted)
	}
	if admitted[0].Collection != "segments" || admitted[0].Parameters != "[]" {
		t.Fatalf("payload = %+v", admitted[0])
	}
}

func TestHandleInvokeEmptyText(t *testing.T) {
	srv, fe := newTestServer(t)
	srv.handleInvoke(msg("/invoke", "   "))
	if got := fe.lastError(t); !strings.Contains(got, "requires incantation text") {
		t.Fatalf("error = %q", got)
	}
}

func TestHandleStats(t *testing.T) {
	srv, fe := newTestServer(t)

	srv.handleAddRecording(msg("/add_recording", "a.wav", `{"description":"low drone"}`))
	srv.handleAddEffect(msg("/add_effect", "fx.amxd", `{"name":"fx","description":"granular haze"}`))

	srv.handleStats(msg("/stats"))
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if len(fe.stats) != 1 {
		t.Fatalf("stats emissions = %d", len(fe.stats))
	}
	want := [7]int{1, 1, 1, 1, 2, 0, 0}
	if fe.stats[0] != want {
		t.Fatalf("stats = %v, want %v", fe.stats[0], want)
	}
}

func TestHandleRebuildIndex(t *testing.T) {
	srv, fe := newTestServer(t)
	srv.handleAddRecording(msg("/add_recording", "a.wav", `{"description":"low drone"}`))

	srv.handleRebuildIndex(msg("/rebuild_index"))
	if got := fe.lastConfirm(t); !strings.Contains(got, "index rebuilt: 1 segments, 0 presets") {
		t.Fatalf("confirm = %q", got)
	}
}

func TestHandleStop(t *testing.T) {
	srv, fe := newTestServer(t)

	srv.handleStop(msg("/stop"))
	if got := fe.lastConfirm(t); got != "stopping" {
		t.Fatalf("confirm = %q", got)
	}
	select {
	case <-srv.stopCh:
	default:
		t.Fatal("stop channel not closed")
	}

	// Repeat stops are harmless.
	srv.handleStop(msg("/stop"))
}

func TestArgString(t *testing.T) {
	m := msg("/x", "text", []byte("blob"), int32(5))
	if got := argString(m, 0); got != "text" {
		t.Fatalf("string arg = %q", got)
	}
	if got := argString(m, 1); got != "blob" {
		t.Fatalf("blob arg = %q", got)
	}
	if got := argString(m, 2); got != "5" {
		t.Fatalf("int arg = %q", got)
	}
	if got := argString(m, 3); got != "" {
		t.Fatalf("missing arg = %q", got)
	}
	if got := argString(nil, 0); got != "" {
		t.Fatalf("nil message arg = %q", got)
	}
}

func TestDecodeBlob(t *testing.T) {
	var meta struct {
		Description string `json:"description"`
	}
	if err := decodeBlob("", &meta); err != nil || meta.Description != "" {
		t.Fatalf("empty blob: %v %+v", err, meta)
	}
	if err := decodeBlob(`{"description":"x","unknown":1}`, &meta); err != nil {
		t.Fatalf("unknown field rejected: %v", err)
	}
	if meta.Description != "x" {
		t.Fatalf("decoded = %+v", meta)
	}
	if err := decodeBlob("{broken", &meta); err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(fmt.Sprintf("%v", decodeBlob("{broken", &meta)), "invalid metadata JSON") {
		t.Fatal("error should name invalid metadata JSON")
	}
}
