package ports

import (
	"context"
	"time"

	"liveclass/internal/core/domain"
)

// JoinParams identifies the joining connection. Identity is resolved by
// the signaling layer before any service call.
type JoinParams struct {
	SessionID     domain.SessionID
	Kind          domain.SessionKind
	ParticipantID domain.ParticipantID
	ConnID        domain.ConnID
	DisplayName   string
	Role          domain.Role
}

// JoinResult is returned to the joining client.
type JoinResult struct {
	SessionID       domain.SessionID      `json:"session_id"`
	Rejoined        bool                  `json:"rejoined"`
	RTPCapabilities RTPCapabilities       `json:"rtp_capabilities"`
	Producers       []domain.ProducerInfo `json:"producers"`
	Speakers        []domain.SpeakerInfo  `json:"speakers"`
}

// SessionService is the session registry plus peer lifecycle.
type SessionService interface {
	Join(ctx context.Context, p JoinParams) (*JoinResult, error)
	Leave(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID) error
	// Disconnect handles a dropped connection: it is a Leave keyed by
	// connection id, ignored if the participant already rejoined on a
	// newer connection.
	Disconnect(ctx context.Context, connID domain.ConnID) error
	EndSession(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID) error
	ListSessions(ctx context.Context) []domain.SessionInfo
	GetSession(ctx context.Context, sessionID domain.SessionID) (*domain.SessionInfo, error)
	// Teardown ends every session; called on process shutdown.
	Teardown(ctx context.Context)
}

// SpeakService is the per-session speak-permission state machine.
type SpeakService interface {
	RequestToSpeak(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID) error
	Approve(ctx context.Context, sessionID domain.SessionID, caller, target domain.ParticipantID) error
	Deny(ctx context.Context, sessionID domain.SessionID, caller, target domain.ParticipantID) error
	Revoke(ctx context.Context, sessionID domain.SessionID, caller, target domain.ParticipantID) error
	ListRequests(ctx context.Context, sessionID domain.SessionID, caller domain.ParticipantID) ([]domain.PendingSpeakRequest, error)
}

// ToggleAction selects pause or resume on a producer.
type ToggleAction string

const (
	ActionPause  ToggleAction = "pause"
	ActionResume ToggleAction = "resume"
)

// MediaService orchestrates transports, producers and consumers within
// a session.
type MediaService interface {
	CreateTransport(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, dir domain.TransportDirection) (*TransportParams, error)
	ConnectTransport(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, transportID domain.TransportID, params ConnectParams) error
	Produce(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, transportID domain.TransportID, kind domain.MediaKind, params ProduceParams, source domain.MediaSource) (domain.ProducerID, error)
	ToggleProducer(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, kind domain.MediaKind, source domain.MediaSource, action ToggleAction) error
	Consume(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, transportID domain.TransportID, producerID domain.ProducerID, caps RTPCapabilities) (*ConsumerParams, error)
	CloseProducer(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, producerID domain.ProducerID) error
	ListProducers(ctx context.Context, sessionID domain.SessionID) ([]domain.ProducerInfo, error)
}

// RecordingState is the lifecycle of one (session, kind) recording slot.
type RecordingState string

const (
	RecordingIdle     RecordingState = "idle"
	RecordingStarting RecordingState = "starting"
	RecordingActive   RecordingState = "active"
	RecordingStopping RecordingState = "stopping"
)

// RecordingStatus reports one active recording slot.
type RecordingStatus struct {
	Kind      domain.RecordKind `json:"kind"`
	State     RecordingState    `json:"state"`
	StartedAt time.Time         `json:"started_at"`
}

// RecordingService drives the external recording bridge per session and
// track kind. Start and Stop report failures as errors, never panic into
// the media path.
type RecordingService interface {
	Start(ctx context.Context, sessionID domain.SessionID, kind domain.RecordKind) (*RecordingStatus, error)
	Stop(ctx context.Context, sessionID domain.SessionID) error
	StopKind(ctx context.Context, sessionID domain.SessionID, kind domain.RecordKind) error
	Active(sessionID domain.SessionID) []RecordingStatus
}
