package ports

import (
	"context"
	"time"

	"liveclass/internal/core/domain"
)

// CodecInfo describes one negotiated codec as the recording service
// needs it: name without the mime prefix, payload type, clock rate and
// channel count (audio only).
type CodecInfo struct {
	MimeType    string `json:"mime_type"`
	PayloadType uint8  `json:"payload_type"`
	ClockRate   uint32 `json:"clock_rate"`
	Channels    uint16 `json:"channels,omitempty"`
}

// RTPCapabilities is the receiver-side capability set used to decide
// whether a producer can be consumed.
type RTPCapabilities struct {
	Codecs []CodecInfo `json:"codecs"`
}

// TransportParams are the connection parameters handed back to the
// signaling client after a transport is created.
type TransportParams struct {
	TransportID domain.TransportID `json:"transport_id"`
	OfferSDP    string             `json:"offer_sdp"`
}

// ConnectParams is the remote side of a client transport handshake.
type ConnectParams struct {
	AnswerSDP string `json:"answer_sdp"`
}

// ProduceParams carries the client's track description for a publish.
type ProduceParams struct {
	TrackID string    `json:"track_id"`
	Codec   CodecInfo `json:"codec"`
}

// ConsumerParams describes a created consumer back to the subscriber.
type ConsumerParams struct {
	ConsumerID domain.ConsumerID `json:"consumer_id"`
	ProducerID domain.ProducerID `json:"producer_id"`
	Kind       domain.MediaKind  `json:"kind"`
	Codec      CodecInfo         `json:"codec"`
}

// PlainTuple is the local RTP endpoint of a plain bridge transport.
type PlainTuple struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	RTCPPort int    `json:"rtcp_port"`
}

// ListenConfig tells a router where transports should listen.
type ListenConfig struct {
	IP          string
	AnnouncedIP string
	MinPort     uint16
	MaxPort     uint16
}

// Engine is the media-processing engine the orchestrator delegates all
// RTP work to. Workers are created once at startup and live for the
// process lifetime.
type Engine interface {
	CreateWorker(ctx context.Context) (Worker, error)
	Close() error
}

// Worker is one media-processing worker handle. CPUTime reports the
// worker's cumulative processing time; the balancer derives load from
// deltas between samples.
type Worker interface {
	ID() domain.WorkerID
	CPUTime() (time.Duration, error)
	CreateRouter(ctx context.Context) (Router, error)
	// OnDied registers the fatal-death callback. A dead worker is not
	// recoverable; the process must exit.
	OnDied(fn func(err error))
	Close() error
}

// Router is the per-session media-routing context on one worker.
type Router interface {
	ID() string
	RTPCapabilities() RTPCapabilities
	CanConsume(producerID domain.ProducerID, caps RTPCapabilities) bool
	CreateTransport(ctx context.Context, listen ListenConfig) (Transport, error)
	CreatePlainTransport(ctx context.Context, listen ListenConfig) (PlainTransport, error)
	Close() error
}

// Transport is a client-facing media connection endpoint.
type Transport interface {
	ID() domain.TransportID
	Params() TransportParams
	Connect(ctx context.Context, params ConnectParams) error
	Produce(ctx context.Context, kind domain.MediaKind, params ProduceParams) (Producer, error)
	Consume(ctx context.Context, producerID domain.ProducerID, caps RTPCapabilities, paused bool) (Consumer, error)
	Close() error
}

// PlainTransport is a server-side RTP bridge endpoint feeding an
// external consumer such as the recording service.
type PlainTransport interface {
	ID() domain.TransportID
	Tuple() PlainTuple
	Connect(ctx context.Context, ip string, port, rtcpPort int) error
	Consume(ctx context.Context, producerID domain.ProducerID, caps RTPCapabilities, paused bool) (Consumer, error)
	Close() error
}

// Producer is a published outbound media track. Close is idempotent.
type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Codec() CodecInfo
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Paused() bool
	Close() error
	Closed() bool
}

// Consumer is a subscribed inbound media track. Close is idempotent.
type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Params() ConsumerParams
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	RequestKeyFrame(ctx context.Context) error
	Close() error
	Closed() bool
}
