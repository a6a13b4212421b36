package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	"liveclass/pkg/utils"
)

// routerCapabilities is the static codec set every router advertises.
// It mirrors the defaults registered on the worker's media engine.
var routerCapabilities = ports.RTPCapabilities{
	Codecs: []ports.CodecInfo{
		{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2},
		{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000},
	},
}

// router is the per-session routing context: the set of live producers
// and the transports attached to them.
type router struct {
	id     string
	worker *worker

	mu         sync.Mutex
	producers  map[domain.ProducerID]*producer
	transports []interface{ Close() error }
	closed     bool
}

func newRouter(id string, w *worker) *router {
	return &router{
		id:        id,
		worker:    w,
		producers: make(map[domain.ProducerID]*producer),
	}
}

func (r *router) ID() string { return r.id }

func (r *router) RTPCapabilities() ports.RTPCapabilities { return routerCapabilities }

// CanConsume reports whether the given capabilities include a codec
// matching the producer's.
func (r *router) CanConsume(producerID domain.ProducerID, caps ports.RTPCapabilities) bool {
	r.mu.Lock()
	prod, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok || prod.Closed() {
		return false
	}
	want := prod.Codec().MimeType
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, want) {
			return true
		}
	}
	return false
}

func (r *router) CreateTransport(ctx context.Context, listen ports.ListenConfig) (ports.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router %s is closed", r.id)
	}

	t, err := newTransport(domain.TransportID(utils.NewTransportID()), r)
	if err != nil {
		return nil, err
	}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *router) CreatePlainTransport(ctx context.Context, listen ports.ListenConfig) (ports.PlainTransport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router %s is closed", r.id)
	}

	t, err := newPlainTransport(domain.TransportID(utils.NewTransportID()), r, listen)
	if err != nil {
		return nil, err
	}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := r.transports
	r.transports = nil
	producers := make([]*producer, 0, len(r.producers))
	for _, p := range r.producers {
		producers = append(producers, p)
	}
	r.producers = make(map[domain.ProducerID]*producer)
	r.mu.Unlock()

	for _, p := range producers {
		_ = p.Close()
	}
	for _, t := range transports {
		_ = t.Close()
	}
	r.worker.dropRouter(r.id)
	return nil
}

func (r *router) registerProducer(p *producer) {
	r.mu.Lock()
	r.producers[p.ID()] = p
	r.mu.Unlock()
}

func (r *router) dropProducer(id domain.ProducerID) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *router) producerByID(id domain.ProducerID) (*producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}
