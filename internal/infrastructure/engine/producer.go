package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// producer is one published track: the remote feed and the local track
// it is forwarded onto, plus raw packet sinks for plain bridges.
type producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	codec     ports.CodecInfo
	local     *webrtc.TrackLocalStaticRTP
	transport *transport

	paused atomic.Bool
	closed atomic.Bool

	mu     sync.Mutex
	sinks  map[domain.ConsumerID]func(*rtp.Packet)
	ssrc   webrtc.SSRC
	recvPC *webrtc.PeerConnection
}

func newProducer(id domain.ProducerID, kind domain.MediaKind, codec ports.CodecInfo, local *webrtc.TrackLocalStaticRTP, t *transport) *producer {
	return &producer{
		id:        id,
		kind:      kind,
		codec:     codec,
		local:     local,
		transport: t,
		sinks:     make(map[domain.ConsumerID]func(*rtp.Packet)),
	}
}

func (p *producer) ID() domain.ProducerID  { return p.id }
func (p *producer) Kind() domain.MediaKind { return p.kind }
func (p *producer) Codec() ports.CodecInfo { return p.codec }

func (p *producer) Pause(ctx context.Context) error {
	p.paused.Store(true)
	return nil
}

func (p *producer) Resume(ctx context.Context) error {
	p.paused.Store(false)
	return nil
}

func (p *producer) Paused() bool { return p.paused.Load() }

func (p *producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	p.sinks = make(map[domain.ConsumerID]func(*rtp.Packet))
	p.mu.Unlock()
	p.transport.router.dropProducer(p.id)
	return nil
}

func (p *producer) Closed() bool { return p.closed.Load() }

// attachRemote records the incoming track identity for keyframe
// requests once the remote track arrives.
func (p *producer) attachRemote(ssrc webrtc.SSRC, pc *webrtc.PeerConnection) {
	p.mu.Lock()
	p.ssrc = ssrc
	p.recvPC = pc
	p.mu.Unlock()
}

func (p *producer) attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recvPC != nil
}

// write forwards one packet to the local track and all plain sinks.
// Paused and closed producers drop packets silently.
func (p *producer) write(pkt *rtp.Packet) {
	if p.paused.Load() || p.closed.Load() {
		return
	}
	_ = p.local.WriteRTP(pkt)

	p.mu.Lock()
	if len(p.sinks) == 0 {
		p.mu.Unlock()
		return
	}
	sinks := make([]func(*rtp.Packet), 0, len(p.sinks))
	for _, fn := range p.sinks {
		sinks = append(sinks, fn)
	}
	p.mu.Unlock()

	for _, fn := range sinks {
		fn(pkt)
	}
}

func (p *producer) addSink(id domain.ConsumerID, fn func(*rtp.Packet)) {
	p.mu.Lock()
	p.sinks[id] = fn
	p.mu.Unlock()
}

func (p *producer) removeSink(id domain.ConsumerID) {
	p.mu.Lock()
	delete(p.sinks, id)
	p.mu.Unlock()
}

// requestKeyFrame sends a PLI upstream to the publisher.
func (p *producer) requestKeyFrame() error {
	p.mu.Lock()
	pc, ssrc := p.recvPC, p.ssrc
	p.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
	})
}
