package ports

import (
	"context"
	"time"

	"liveclass/internal/core/domain"
)

// RecorderStartRequest asks the recording service to begin receiving a
// track at the given bridge endpoint.
type RecorderStartRequest struct {
	SessionID domain.SessionID  `json:"sessionId"`
	Kind      domain.RecordKind `json:"kind"`
	StartedAt time.Time         `json:"startedAt"`
	Endpoint  PlainTuple        `json:"networkEndpoint"`

	CodecPayloadType uint8  `json:"codecPayloadType"`
	CodecName        string `json:"codecName"`
	ClockRate        uint32 `json:"clockRate"`
	Channels         uint16 `json:"channels,omitempty"`
}

// RecorderTarget is where the recording service wants RTP sent.
type RecorderTarget struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	RTCPPort int    `json:"rtcpPort"`
}

// RecorderStopRequest stops one track, or all tracks when Kind is empty.
type RecorderStopRequest struct {
	SessionID domain.SessionID    `json:"sessionId"`
	Kind      domain.RecordKind   `json:"kind,omitempty"`
	StoppedAt time.Time           `json:"stoppedAt"`
	Tracks    []domain.RecordKind `json:"tracks,omitempty"`
}

// RecorderClient talks to the external recording service. All calls are
// bounded by the context deadline.
type RecorderClient interface {
	Start(ctx context.Context, req RecorderStartRequest) (*RecorderTarget, error)
	Stop(ctx context.Context, req RecorderStopRequest) error
	Status(ctx context.Context) error
}
