package engine

import (
	"context"
	"sync"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// pcConsumer delivers a producer's track over a peer connection. Pause
// detaches the forwarded track from the sender so no packets go out.
type pcConsumer struct {
	id       domain.ConsumerID
	producer *producer
	pc       *webrtc.PeerConnection
	sender   *webrtc.RTPSender

	mu     sync.Mutex
	paused bool
	closed bool
}

func (c *pcConsumer) ID() domain.ConsumerID         { return c.id }
func (c *pcConsumer) ProducerID() domain.ProducerID { return c.producer.ID() }

func (c *pcConsumer) Params() ports.ConsumerParams {
	return ports.ConsumerParams{
		ConsumerID: c.id,
		ProducerID: c.producer.ID(),
		Kind:       c.producer.Kind(),
		Codec:      c.producer.Codec(),
	}
}

func (c *pcConsumer) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.paused {
		return nil
	}
	if err := c.sender.ReplaceTrack(nil); err != nil {
		return err
	}
	c.paused = true
	return nil
}

func (c *pcConsumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.paused {
		return nil
	}
	if err := c.sender.ReplaceTrack(c.producer.local); err != nil {
		return err
	}
	c.paused = false
	return nil
}

func (c *pcConsumer) RequestKeyFrame(ctx context.Context) error {
	return c.producer.requestKeyFrame()
}

func (c *pcConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.pc.RemoveTrack(c.sender)
}

func (c *pcConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
