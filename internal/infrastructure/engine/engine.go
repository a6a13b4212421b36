// Package engine adapts pion/webrtc to the media-engine ports. Each
// worker owns its own webrtc API instance and meters the time it spends
// forwarding packets; routers group the producers of one session and
// fan their RTP out to peer-connection consumers and plain UDP bridges.
package engine

import (
	"context"

	"liveclass/internal/core/ports"

	"go.uber.org/zap"
)

// Config holds the engine listen settings.
type Config struct {
	ListenIP    string
	AnnouncedIP string
	MinPort     uint16
	MaxPort     uint16
}

// Engine creates workers. Implements ports.Engine.
type Engine struct {
	cfg Config
	log *zap.SugaredLogger
}

// New builds the engine.
func New(cfg Config, log *zap.Logger) *Engine {
	return &Engine{cfg: cfg, log: log.Sugar()}
}

// CreateWorker builds one media worker with its own API instance.
func (e *Engine) CreateWorker(ctx context.Context) (ports.Worker, error) {
	return newWorker(e.cfg, e.log)
}

// Close is a no-op: workers are closed individually by their owner.
func (e *Engine) Close() error { return nil }
