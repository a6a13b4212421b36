package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	"liveclass/pkg/utils"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// worker is one media-processing worker: an isolated webrtc API with a
// monotonic work clock. The balancer only needs a cumulative quantity
// that grows with processing effort, so the clock meters time spent in
// forwarding loops rather than OS CPU accounting.
type worker struct {
	id  domain.WorkerID
	cfg Config
	api *webrtc.API
	log *zap.SugaredLogger

	workClock atomic.Int64 // nanoseconds

	mu      sync.Mutex
	routers map[string]*router
	onDied  func(error)
	closed  bool
}

func newWorker(cfg Config, log *zap.SugaredLogger) (*worker, error) {
	settings := webrtc.SettingEngine{}
	if cfg.MinPort > 0 && cfg.MaxPort > 0 {
		if err := settings.SetEphemeralUDPPortRange(cfg.MinPort, cfg.MaxPort); err != nil {
			return nil, fmt.Errorf("failed to set port range: %w", err)
		}
	}
	if cfg.AnnouncedIP != "" {
		settings.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	return &worker{
		id:      domain.WorkerID(fmt.Sprintf("worker_%s", uuid.NewString())),
		cfg:     cfg,
		api:     webrtc.NewAPI(webrtc.WithSettingEngine(settings), webrtc.WithMediaEngine(media)),
		log:     log,
		routers: make(map[string]*router),
	}, nil
}

func (w *worker) ID() domain.WorkerID { return w.id }

// CPUTime reports the cumulative forwarding time of this worker.
func (w *worker) CPUTime() (time.Duration, error) {
	return time.Duration(w.workClock.Load()), nil
}

func (w *worker) CreateRouter(ctx context.Context) (ports.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("worker %s is closed", w.id)
	}

	r := newRouter(utils.NewRouterID(), w)
	w.routers[r.ID()] = r
	return r, nil
}

func (w *worker) OnDied(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDied = fn
}

// die reports an unrecoverable worker failure to the owner.
func (w *worker) die(err error) {
	w.mu.Lock()
	fn := w.onDied
	w.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (w *worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := make([]*router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.routers = make(map[string]*router)
	w.mu.Unlock()

	for _, r := range routers {
		if err := r.Close(); err != nil {
			w.log.Warnw("failed to close router", "worker_id", w.id, "router_id", r.ID(), "error", err)
		}
	}
	return nil
}

// meter adds elapsed forwarding time to the work clock.
func (w *worker) meter(d time.Duration) {
	w.workClock.Add(int64(d))
}

func (w *worker) dropRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}
