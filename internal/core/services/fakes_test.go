package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var idCounter atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, idCounter.Add(1))
}

type fakeWorker struct {
	id domain.WorkerID

	mu      sync.Mutex
	cpu     time.Duration
	routers int
	closed  bool
}

func newFakeWorker(id string) *fakeWorker {
	return &fakeWorker{id: domain.WorkerID(id)}
}

func (w *fakeWorker) ID() domain.WorkerID { return w.id }

func (w *fakeWorker) CPUTime() (time.Duration, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cpu, nil
}

func (w *fakeWorker) setCPU(d time.Duration) {
	w.mu.Lock()
	w.cpu = d
	w.mu.Unlock()
}

func (w *fakeWorker) CreateRouter(ctx context.Context) (ports.Router, error) {
	w.mu.Lock()
	w.routers++
	w.mu.Unlock()
	return newFakeRouter(), nil
}

func (w *fakeWorker) routerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.routers
}

func (w *fakeWorker) OnDied(fn func(error)) {}

func (w *fakeWorker) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

type fakeRouter struct {
	id string

	mu        sync.Mutex
	producers map[domain.ProducerID]*fakeProducer
	closed    bool
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		id:        nextID("router"),
		producers: make(map[domain.ProducerID]*fakeProducer),
	}
}

func (r *fakeRouter) ID() string { return r.id }

func (r *fakeRouter) RTPCapabilities() ports.RTPCapabilities {
	return ports.RTPCapabilities{Codecs: []ports.CodecInfo{
		{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2},
		{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000},
	}}
}

func (r *fakeRouter) CanConsume(producerID domain.ProducerID, caps ports.RTPCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[producerID]
	return ok && !p.Closed() && len(caps.Codecs) > 0
}

func (r *fakeRouter) CreateTransport(ctx context.Context, listen ports.ListenConfig) (ports.Transport, error) {
	return &fakeTransport{id: domain.TransportID(nextID("transport")), router: r}, nil
}

func (r *fakeRouter) CreatePlainTransport(ctx context.Context, listen ports.ListenConfig) (ports.PlainTransport, error) {
	return &fakePlainTransport{
		id:     domain.TransportID(nextID("plain")),
		router: r,
		tuple:  ports.PlainTuple{IP: listen.AnnouncedIP, Port: 40000, RTCPPort: 40001},
	}, nil
}

func (r *fakeRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRouter) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeTransport struct {
	id     domain.TransportID
	router *fakeRouter

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (t *fakeTransport) ID() domain.TransportID { return t.id }

func (t *fakeTransport) Params() ports.TransportParams {
	return ports.TransportParams{TransportID: t.id, OfferSDP: "v=0"}
}

func (t *fakeTransport) Connect(ctx context.Context, params ports.ConnectParams) error {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Produce(ctx context.Context, kind domain.MediaKind, params ports.ProduceParams) (ports.Producer, error) {
	codec := params.Codec
	if codec.MimeType == "" {
		if kind == domain.MediaAudio {
			codec = ports.CodecInfo{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}
		} else {
			codec = ports.CodecInfo{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}
		}
	}
	p := &fakeProducer{id: domain.ProducerID(nextID("producer")), kind: kind, codec: codec}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *fakeTransport) Consume(ctx context.Context, producerID domain.ProducerID, caps ports.RTPCapabilities, paused bool) (ports.Consumer, error) {
	t.router.mu.Lock()
	p, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	return &fakeConsumer{id: domain.ConsumerID(nextID("consumer")), producer: p, paused: paused}, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakePlainTransport struct {
	id     domain.TransportID
	router *fakeRouter
	tuple  ports.PlainTuple

	mu         sync.Mutex
	remoteIP   string
	remotePort int
	closed     bool
}

func (t *fakePlainTransport) ID() domain.TransportID  { return t.id }
func (t *fakePlainTransport) Tuple() ports.PlainTuple { return t.tuple }

func (t *fakePlainTransport) Connect(ctx context.Context, ip string, port, rtcpPort int) error {
	t.mu.Lock()
	t.remoteIP = ip
	t.remotePort = port
	t.mu.Unlock()
	return nil
}

func (t *fakePlainTransport) Consume(ctx context.Context, producerID domain.ProducerID, caps ports.RTPCapabilities, paused bool) (ports.Consumer, error) {
	t.router.mu.Lock()
	p, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	return &fakeConsumer{id: domain.ConsumerID(nextID("consumer")), producer: p, paused: paused}, nil
}

func (t *fakePlainTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

type fakeProducer struct {
	id    domain.ProducerID
	kind  domain.MediaKind
	codec ports.CodecInfo

	mu     sync.Mutex
	paused bool
	closed bool
}

func (p *fakeProducer) ID() domain.ProducerID  { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }
func (p *fakeProducer) Codec() ports.CodecInfo { return p.codec }

func (p *fakeProducer) Pause(ctx context.Context) error {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProducer) Resume(ctx context.Context) error {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	return nil
}

func (p *fakeProducer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *fakeProducer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProducer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeConsumer struct {
	id       domain.ConsumerID
	producer *fakeProducer

	mu        sync.Mutex
	paused    bool
	closed    bool
	keyframes int
}

func (c *fakeConsumer) ID() domain.ConsumerID         { return c.id }
func (c *fakeConsumer) ProducerID() domain.ProducerID { return c.producer.id }

func (c *fakeConsumer) Params() ports.ConsumerParams {
	return ports.ConsumerParams{
		ConsumerID: c.id,
		ProducerID: c.producer.id,
		Kind:       c.producer.kind,
		Codec:      c.producer.codec,
	}
}

func (c *fakeConsumer) Pause(ctx context.Context) error {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConsumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

func (c *fakeConsumer) RequestKeyFrame(ctx context.Context) error {
	c.mu.Lock()
	c.keyframes++
	c.mu.Unlock()
	return nil
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sentEvent is one captured notification, direct or broadcast.
type sentEvent struct {
	broadcast bool
	connID    domain.ConnID
	sessionID domain.SessionID
	event     string
	payload   interface{}
	exclude   []domain.ConnID
}

type notifierStub struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *notifierStub) Notify(connID domain.ConnID, event string, payload interface{}) {
	n.mu.Lock()
	n.events = append(n.events, sentEvent{connID: connID, event: event, payload: payload})
	n.mu.Unlock()
}

func (n *notifierStub) Broadcast(sessionID domain.SessionID, event string, payload interface{}, exclude ...domain.ConnID) {
	n.mu.Lock()
	n.events = append(n.events, sentEvent{broadcast: true, sessionID: sessionID, event: event, payload: payload, exclude: exclude})
	n.mu.Unlock()
}

func (n *notifierStub) all() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sentEvent, len(n.events))
	copy(out, n.events)
	return out
}

func (n *notifierStub) byEvent(event string) []sentEvent {
	var out []sentEvent
	for _, e := range n.all() {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (n *notifierStub) reset() {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}

type recorderStub struct {
	mu       sync.Mutex
	startErr error
	gate     *startGate
	starts   []ports.RecorderStartRequest
	stops    []ports.RecorderStopRequest
}

// startGate parks Start calls: each arrival is signalled on arrived and
// held until release is closed.
type startGate struct {
	arrived chan struct{}
	release chan struct{}
}

func (r *recorderStub) Start(ctx context.Context, req ports.RecorderStartRequest) (*ports.RecorderTarget, error) {
	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		gate.arrived <- struct{}{}
		<-gate.release
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	r.starts = append(r.starts, req)
	return &ports.RecorderTarget{IP: "10.0.0.9", Port: 50000, RTCPPort: 50001}, nil
}

func (r *recorderStub) blockStarts() *startGate {
	gate := &startGate{arrived: make(chan struct{}, 4), release: make(chan struct{})}
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()
	return gate
}

func (r *recorderStub) Stop(ctx context.Context, req ports.RecorderStopRequest) error {
	r.mu.Lock()
	r.stops = append(r.stops, req)
	r.mu.Unlock()
	return nil
}

func (r *recorderStub) Status(ctx context.Context) error { return nil }

func (r *recorderStub) setStartErr(err error) {
	r.mu.Lock()
	r.startErr = err
	r.mu.Unlock()
}

func (r *recorderStub) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

func (r *recorderStub) stopRequests() []ports.RecorderStopRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.RecorderStopRequest, len(r.stops))
	copy(out, r.stops)
	return out
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted(domain.SessionKind)               {}
func (nopMetrics) SessionEnded(domain.SessionKind)                 {}
func (nopMetrics) PeerJoined(domain.SessionKind)                   {}
func (nopMetrics) PeerLeft(domain.SessionKind)                     {}
func (nopMetrics) ProducerOpened(domain.MediaKind)                 {}
func (nopMetrics) ProducerClosed(domain.MediaKind)                 {}
func (nopMetrics) ConsumerOpened()                                 {}
func (nopMetrics) ConsumerClosed()                                 {}
func (nopMetrics) SpeakRequested()                                 {}
func (nopMetrics) SpeakDecided(bool)                               {}
func (nopMetrics) RecordingStarted(domain.RecordKind)              {}
func (nopMetrics) RecordingStopped(domain.RecordKind)              {}
func (nopMetrics) RecorderRequest(string, time.Duration, error)    {}

type nopPresence struct{}

func (nopPresence) SessionStarted(context.Context, domain.SessionID, domain.SessionKind) error {
	return nil
}
func (nopPresence) SessionEnded(context.Context, domain.SessionID) error { return nil }
func (nopPresence) PeerJoined(context.Context, domain.SessionID, domain.ParticipantID, domain.Role) error {
	return nil
}
func (nopPresence) PeerLeft(context.Context, domain.SessionID, domain.ParticipantID) error {
	return nil
}

// env wires the full service graph over fakes for one test.
type env struct {
	workers   []*fakeWorker
	pool      *WorkerPool
	notifier  *notifierStub
	recorder  *recorderStub
	registry  *Registry
	speak     *SpeakArbiter
	media     *MediaManager
	recording *RecordingController
}

func newEnv(t *testing.T, workerCount int) *env {
	t.Helper()

	log := zap.NewNop()
	workers := make([]*fakeWorker, 0, workerCount)
	portWorkers := make([]ports.Worker, 0, workerCount)
	for i := 0; i < workerCount; i++ {
		w := newFakeWorker(fmt.Sprintf("worker_%d", i))
		workers = append(workers, w)
		portWorkers = append(portWorkers, w)
	}

	pool, err := NewWorkerPool(portWorkers, log)
	require.NoError(t, err)

	notifier := &notifierStub{}
	rec := &recorderStub{}
	listen := ports.ListenConfig{IP: "127.0.0.1", AnnouncedIP: "127.0.0.1"}

	registry := NewRegistry(pool, notifier, nopPresence{}, nopMetrics{}, listen, log)
	recording := NewRecordingController(registry, rec, nopMetrics{}, time.Second, log)
	registry.SetRecording(recording)
	speak := NewSpeakArbiter(registry, notifier, nopMetrics{}, log)
	media := NewMediaManager(registry, notifier, nopMetrics{}, log)
	media.SetRecording(recording)

	return &env{
		workers:   workers,
		pool:      pool,
		notifier:  notifier,
		recorder:  rec,
		registry:  registry,
		speak:     speak,
		media:     media,
		recording: recording,
	}
}

func (e *env) join(t *testing.T, sessionID string, kind domain.SessionKind, participantID, connID, name string, role domain.Role) *ports.JoinResult {
	t.Helper()
	result, err := e.registry.Join(context.Background(), ports.JoinParams{
		SessionID:     domain.SessionID(sessionID),
		Kind:          kind,
		ParticipantID: domain.ParticipantID(participantID),
		ConnID:        domain.ConnID(connID),
		DisplayName:   name,
		Role:          role,
	})
	require.NoError(t, err)
	return result
}

func produceParams() ports.ProduceParams {
	return ports.ProduceParams{TrackID: nextID("track")}
}

// produce creates a transport when needed and publishes a track.
func (e *env) produce(t *testing.T, sessionID, participantID string, kind domain.MediaKind, source domain.MediaSource) domain.ProducerID {
	t.Helper()
	ctx := context.Background()
	tp, err := e.media.CreateTransport(ctx, domain.SessionID(sessionID), domain.ParticipantID(participantID), domain.DirectionSend)
	require.NoError(t, err)
	id, err := e.media.Produce(ctx, domain.SessionID(sessionID), domain.ParticipantID(participantID),
		tp.TransportID, kind, ports.ProduceParams{TrackID: nextID("track")}, source)
	require.NoError(t, err)
	return id
}
