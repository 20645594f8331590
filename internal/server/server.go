// Package server exposes the invocation surface over OSC, wiring ingest
// and search to the Chōwasha orchestrator and driving its periodic tick.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hypebeast/go-osc/osc"

	"github.com/hibikido/hibikido/internal/config"
	"github.com/hibikido/hibikido/internal/engine"
	"github.com/hibikido/hibikido/internal/metrics"
	"github.com/hibikido/hibikido/internal/orchestrator"
)

// Server owns the OSC transport, the retrieval engine, and the
// orchestrator tick loop.
type Server struct {
	cfg     *config.Config
	engine  *engine.Engine
	orch    *orchestrator.Orchestrator
	emitter Emitter
	metrics *metrics.Recorder
	logger  *slog.Logger

	performanceID string
	startedAt     time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	conn     net.PacketConn
}

// New wires a Server. emitter may be nil, in which case an OSC client
// is created from the config.
func New(cfg *config.Config, eng *engine.Engine, orch *orchestrator.Orchestrator,
	emitter Emitter, rec *metrics.Recorder, logger *slog.Logger) *Server {
	if emitter == nil {
		emitter = NewOSCEmitter(cfg.OSC.SendIP, cfg.OSC.SendPort)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		engine:  eng,
		orch:    orch,
		emitter: emitter,
		metrics: rec,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Run binds the transport and serves until /stop or ctx cancellation.
// On return the tick loop is stopped, the vector index is persisted,
// and the transport is closed.
func (s *Server) Run(ctx context.Context) error {
	if err := s.openPerformance(ctx); err != nil {
		return err
	}

	dispatcher := osc.NewStandardDispatcher()
	for addr, handler := range s.routes() {
		if err := dispatcher.AddMsgHandler(addr, handler); err != nil {
			return fmt.Errorf("server: register %s: %w", addr, err)
		}
	}

	listenAddr := fmt.Sprintf("%s:%d", s.cfg.OSC.ListenIP, s.cfg.OSC.ListenPort)
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", listenAddr, err)
	}
	s.conn = conn
	oscServer := &osc.Server{Addr: listenAddr, Dispatcher: dispatcher}

	s.startedAt = time.Now()
	tickDone := make(chan struct{})
	go s.tickLoop(tickDone)

	serveErr := make(chan error, 1)
	go func() { serveErr <- oscServer.Serve(conn) }()

	counts, _ := s.engine.Counts(ctx)
	s.logger.Info("hibikido server ready",
		"listen", listenAddr,
		"send", fmt.Sprintf("%s:%d", s.cfg.OSC.SendIP, s.cfg.OSC.SendPort),
		"recordings", counts.Recordings,
		"segments", counts.Segments,
		"effects", counts.Effects,
		"presets", counts.Presets,
		"embeddings", s.engine.Embeddings())
	if err := s.emitter.Confirm("hibikido_server_ready"); err != nil {
		s.logger.Warn("ready signal failed", "error", err)
	}

	select {
	case <-ctx.Done():
		s.initiateStop()
	case <-s.stopCh:
	case err := <-serveErr:
		// Transport died before a stop was requested.
		s.initiateStop()
		<-tickDone
		return fmt.Errorf("server: transport: %w", err)
	}

	conn.Close()
	<-tickDone

	if err := s.engine.SaveIndex(); err != nil {
		s.logger.Error("index save on shutdown failed", "error", err)
	}
	s.logger.Info("server stopped", "metrics", s.metrics.Snapshot())
	return nil
}

// initiateStop begins graceful shutdown; safe to call more than once.
func (s *Server) initiateStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// tickLoop drives orchestrator admission at the configured interval and
// dispatches each admitted payload as a /manifest event.
func (s *Server) tickLoop(done chan<- struct{}) {
	defer close(done)
	interval := time.Duration(s.cfg.Orchestrator.TickInterval * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			for _, p := range s.orch.Tick() {
				if err := s.emitter.Manifest(p); err != nil {
					s.logger.Error("manifest dispatch failed", "error", err)
					continue
				}
				s.metrics.RecordManifest()
			}
		}
	}
}

// openPerformance starts this process's session log.
func (s *Server) openPerformance(ctx context.Context) error {
	s.performanceID = uuid.NewString()
	if err := s.engine.Store().AddPerformance(ctx, performance(s.performanceID)); err != nil {
		return fmt.Errorf("server: open performance: %w", err)
	}
	return nil
}
