package engine

import (
	"context"
	"fmt"
	"net"
	"sync"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	"liveclass/pkg/utils"

	"github.com/pion/rtp"
)

// plainTransport is a server-side RTP bridge: it owns a pair of UDP
// sockets and pushes a producer's packets to a fixed remote endpoint.
// Used to feed the recording service.
type plainTransport struct {
	id     domain.TransportID
	router *router

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn
	tuple    ports.PlainTuple

	mu        sync.Mutex
	remote    *net.UDPAddr
	consumers []*plainConsumer
	closed    bool
}

func newPlainTransport(id domain.TransportID, r *router, listen ports.ListenConfig) (*plainTransport, error) {
	ip := listen.IP
	if ip == "" {
		ip = "0.0.0.0"
	}
	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(ip)})
	if err != nil {
		return nil, fmt.Errorf("failed to bind rtp socket: %w", err)
	}
	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(ip)})
	if err != nil {
		_ = rtpConn.Close()
		return nil, fmt.Errorf("failed to bind rtcp socket: %w", err)
	}

	announced := listen.AnnouncedIP
	if announced == "" {
		announced = ip
	}

	return &plainTransport{
		id:       id,
		router:   r,
		rtpConn:  rtpConn,
		rtcpConn: rtcpConn,
		tuple: ports.PlainTuple{
			IP:       announced,
			Port:     rtpConn.LocalAddr().(*net.UDPAddr).Port,
			RTCPPort: rtcpConn.LocalAddr().(*net.UDPAddr).Port,
		},
	}, nil
}

func (t *plainTransport) ID() domain.TransportID { return t.id }
func (t *plainTransport) Tuple() ports.PlainTuple { return t.tuple }

// Connect fixes the remote endpoint packets are pushed to.
func (t *plainTransport) Connect(ctx context.Context, ip string, port, rtcpPort int) error {
	addr := net.ParseIP(ip)
	if addr == nil {
		return fmt.Errorf("invalid remote ip %q", ip)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("plain transport %s is closed", t.id)
	}
	t.remote = &net.UDPAddr{IP: addr, Port: port}
	return nil
}

func (t *plainTransport) Consume(ctx context.Context, producerID domain.ProducerID, caps ports.RTPCapabilities, paused bool) (ports.Consumer, error) {
	prod, ok := t.router.producerByID(producerID)
	if !ok || prod.Closed() {
		return nil, fmt.Errorf("producer %s not found on router %s", producerID, t.router.id)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("plain transport %s is closed", t.id)
	}
	c := &plainConsumer{
		id:        domain.ConsumerID(utils.NewConsumerID()),
		producer:  prod,
		transport: t,
		paused:    paused,
	}
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()

	prod.addSink(c.id, c.push)
	return c, nil
}

// send writes one marshaled packet to the connected remote endpoint.
func (t *plainTransport) send(pkt *rtp.Packet) {
	t.mu.Lock()
	remote, closed := t.remote, t.closed
	t.mu.Unlock()
	if remote == nil || closed {
		return
	}
	buf, err := pkt.Marshal()
	if err != nil {
		return
	}
	_, _ = t.rtpConn.WriteToUDP(buf, remote)
}

func (t *plainTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	consumers := t.consumers
	t.consumers = nil
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	_ = t.rtpConn.Close()
	return t.rtcpConn.Close()
}

// plainConsumer gates one producer's packets onto the bridge sockets.
type plainConsumer struct {
	id        domain.ConsumerID
	producer  *producer
	transport *plainTransport

	mu     sync.Mutex
	paused bool
	closed bool
}

func (c *plainConsumer) ID() domain.ConsumerID         { return c.id }
func (c *plainConsumer) ProducerID() domain.ProducerID { return c.producer.ID() }

func (c *plainConsumer) Params() ports.ConsumerParams {
	return ports.ConsumerParams{
		ConsumerID: c.id,
		ProducerID: c.producer.ID(),
		Kind:       c.producer.Kind(),
		Codec:      c.producer.Codec(),
	}
}

func (c *plainConsumer) push(pkt *rtp.Packet) {
	c.mu.Lock()
	skip := c.paused || c.closed
	c.mu.Unlock()
	if skip {
		return
	}
	c.transport.send(pkt)
}

func (c *plainConsumer) Pause(ctx context.Context) error {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (c *plainConsumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

func (c *plainConsumer) RequestKeyFrame(ctx context.Context) error {
	return c.producer.requestKeyFrame()
}

func (c *plainConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.producer.removeSink(c.id)
	return nil
}

func (c *plainConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
