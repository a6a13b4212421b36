package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	"liveclass/pkg/utils"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// transport is one client-facing peer connection. It carries both the
// peer's published tracks and the tracks it subscribes to; sessions
// that split directions simply create two of these.
type transport struct {
	id     domain.TransportID
	router *router
	pc     *webrtc.PeerConnection
	params ports.TransportParams

	mu      sync.Mutex
	pending map[string]*producer // track id -> producer awaiting its remote track
	byKind  map[domain.MediaKind][]*producer
	closed  bool
}

func newTransport(id domain.TransportID, r *router) (*transport, error) {
	pc, err := r.worker.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &transport{
		id:      id,
		router:  r,
		pc:      pc,
		pending: make(map[string]*producer),
		byKind:  make(map[domain.MediaKind][]*producer),
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to add transceiver: %w", err)
		}
	}

	pc.OnTrack(t.handleTrack)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gathered

	t.params = ports.TransportParams{
		TransportID: id,
		OfferSDP:    pc.LocalDescription().SDP,
	}
	return t, nil
}

func (t *transport) ID() domain.TransportID      { return t.id }
func (t *transport) Params() ports.TransportParams { return t.params }

func (t *transport) Connect(ctx context.Context, params ports.ConnectParams) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  params.AnswerSDP,
	})
}

// Produce registers an outbound producer for a track the client is
// about to publish. The producer goes live once the matching remote
// track arrives on the peer connection.
func (t *transport) Produce(ctx context.Context, kind domain.MediaKind, params ports.ProduceParams) (ports.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport %s is closed", t.id)
	}

	local, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  params.Codec.MimeType,
		ClockRate: params.Codec.ClockRate,
		Channels:  params.Codec.Channels,
	}, params.TrackID, string(t.id))
	if err != nil {
		return nil, fmt.Errorf("failed to create forward track: %w", err)
	}

	p := newProducer(domain.ProducerID(utils.NewProducerID()), kind, params.Codec, local, t)
	if params.TrackID != "" {
		t.pending[params.TrackID] = p
	}
	t.byKind[kind] = append(t.byKind[kind], p)
	t.router.registerProducer(p)
	return p, nil
}

// handleTrack attaches an incoming remote track to its producer and
// runs the forwarding loop until the track ends.
func (t *transport) handleTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	p := t.matchProducer(remote)
	if p == nil {
		t.router.worker.log.Warnw("remote track without producer, draining",
			"transport_id", t.id, "track_id", remote.ID())
		go drainTrack(remote)
		return
	}
	p.attachRemote(remote.SSRC(), t.pc)

	go func() {
		buf := make([]byte, 1500)
		pkt := &rtp.Packet{}
		for {
			n, _, err := remote.Read(buf)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					t.router.worker.log.Debugw("remote track read ended",
						"producer_id", p.ID(), "error", err)
				}
				return
			}
			start := time.Now()
			if err := pkt.Unmarshal(buf[:n]); err != nil {
				continue
			}
			p.write(pkt)
			t.router.worker.meter(time.Since(start))
		}
	}()
}

func (t *transport) matchProducer(remote *webrtc.TrackRemote) *producer {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.pending[remote.ID()]; ok {
		delete(t.pending, remote.ID())
		return p
	}

	// Some clients rewrite track ids in SDP munging; fall back to the
	// first unattached producer of the same kind.
	kind := domain.MediaAudio
	if strings.HasPrefix(remote.Codec().MimeType, "video/") {
		kind = domain.MediaVideo
	}
	for _, p := range t.byKind[kind] {
		if !p.attached() && !p.Closed() {
			for trackID, pending := range t.pending {
				if pending == p {
					delete(t.pending, trackID)
					break
				}
			}
			return p
		}
	}
	return nil
}

// Consume subscribes this transport to an existing producer.
func (t *transport) Consume(ctx context.Context, producerID domain.ProducerID, caps ports.RTPCapabilities, paused bool) (ports.Consumer, error) {
	prod, ok := t.router.producerByID(producerID)
	if !ok || prod.Closed() {
		return nil, fmt.Errorf("producer %s not found on router %s", producerID, t.router.id)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport %s is closed", t.id)
	}
	t.mu.Unlock()

	sender, err := t.pc.AddTrack(prod.local)
	if err != nil {
		return nil, fmt.Errorf("failed to add consumer track: %w", err)
	}

	c := &pcConsumer{
		id:       domain.ConsumerID(utils.NewConsumerID()),
		producer: prod,
		pc:       t.pc,
		sender:   sender,
	}
	if paused {
		if err := sender.ReplaceTrack(nil); err != nil {
			_ = t.pc.RemoveTrack(sender)
			return nil, fmt.Errorf("failed to pause consumer: %w", err)
		}
		c.paused = true
	}
	go drainSender(sender)
	return c, nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.pending = make(map[string]*producer)
	t.byKind = make(map[domain.MediaKind][]*producer)
	t.mu.Unlock()
	return t.pc.Close()
}

// drainTrack discards packets so the remote side does not stall on an
// unconsumed track.
func drainTrack(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}

// drainSender reads and discards RTCP so interceptors keep running.
func drainSender(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
