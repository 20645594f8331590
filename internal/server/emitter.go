package server

import (
	"github.com/hypebeast/go-osc/osc"

	"github.com/hibikido/hibikido/internal/orchestrator"
)

// Emitter sends outgoing control messages. Abstracted from the OSC
// client so handlers can be exercised without a UDP peer.
type Emitter interface {
	Manifest(p orchestrator.Payload) error
	Confirm(message string) error
	Error(message string) error
	StatsResult(recordings, segments, effects, presets, embeddings, activeNiches, queued int) error
}

// OSCEmitter emits events to the configured OSC client endpoint.
type OSCEmitter struct {
	client *osc.Client
}

// NewOSCEmitter creates an emitter sending to ip:port.
func NewOSCEmitter(ip string, port int) *OSCEmitter {
	return &OSCEmitter{client: osc.NewClient(ip, port)}
}

// Manifest emits one admitted candidate as the 8-field /manifest event.
func (e *OSCEmitter) Manifest(p orchestrator.Payload) error {
	msg := osc.NewMessage("/manifest")
	msg.Append(int32(p.Index))
	msg.Append(p.Collection)
	msg.Append(p.Score)
	msg.Append(p.Path)
	msg.Append(p.Description)
	msg.Append(float32(p.Start))
	msg.Append(float32(p.End))
	msg.Append(p.Parameters)
	return e.client.Send(msg)
}

// Confirm emits /confirm with a message.
func (e *OSCEmitter) Confirm(message string) error {
	msg := osc.NewMessage("/confirm")
	msg.Append(message)
	return e.client.Send(msg)
}

// Error emits /error with a message.
func (e *OSCEmitter) Error(message string) error {
	msg := osc.NewMessage("/error")
	msg.Append(message)
	return e.client.Send(msg)
}

// StatsResult emits the 7-integer /stats_result tuple.
func (e *OSCEmitter) StatsResult(recordings, segments, effects, presets, embeddings, activeNiches, queued int) error {
	msg := osc.NewMessage("/stats_result")
	msg.Append(int32(recordings))
	msg.Append(int32(segments))
	msg.Append(int32(effects))
	msg.Append(int32(presets))
	msg.Append(int32(embeddings))
	msg.Append(int32(activeNiches))
	msg.Append(int32(queued))
	return e.client.Send(msg)
}
