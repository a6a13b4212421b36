package domain

import "fmt"

type (
	SessionID     string
	ParticipantID string
	ConnID        string
	TransportID   string
	ProducerID    string
	ConsumerID    string
	WorkerID      string
)

// Role of a participant within a session.
type Role string

const (
	RoleInstructor  Role = "instructor"
	RoleParticipant Role = "participant"
)

// SessionKind distinguishes the three session flavors.
type SessionKind string

const (
	KindClassroom     SessionKind = "classroom"
	KindOpenClassroom SessionKind = "open_classroom"
	KindCall          SessionKind = "call"
)

// MediaKind is the track-level media type.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// MediaSource classifies what a producer captures. It is required
// application data on every produce call.
type MediaSource string

const (
	SourceMic    MediaSource = "mic"
	SourceCamera MediaSource = "camera"
	SourceScreen MediaSource = "screen"
)

// RecordKind is the per-session recording slot a producer maps to.
type RecordKind string

const (
	RecordAudio  RecordKind = "audio"
	RecordVideo  RecordKind = "video"
	RecordScreen RecordKind = "screen"
)

// TransportDirection labels a transport for session kinds that keep
// send and receive on separate transports (1:1 calls).
type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
	DirectionBoth TransportDirection = "both"
)

// ParseSessionKind validates a wire-level session kind.
func ParseSessionKind(s string) (SessionKind, error) {
	switch SessionKind(s) {
	case KindClassroom, KindOpenClassroom, KindCall:
		return SessionKind(s), nil
	}
	return "", fmt.Errorf("unknown session kind %q", s)
}

// ParseMediaKind validates a wire-level media kind.
func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case MediaAudio, MediaVideo:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// RecordKindFor maps a produced track to its recording slot. Camera
// video and screen-share video land in different slots.
func RecordKindFor(kind MediaKind, source MediaSource) (RecordKind, bool) {
	switch {
	case kind == MediaAudio:
		return RecordAudio, true
	case kind == MediaVideo && source == SourceScreen:
		return RecordScreen, true
	case kind == MediaVideo:
		return RecordVideo, true
	}
	return "", false
}
