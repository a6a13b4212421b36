package domain

import "time"

// Profile captures the behavioral differences between session kinds so
// that one registry implementation serves all three flavors.
type Profile struct {
	Kind SessionKind

	// MaxPeers caps session membership. Zero means unlimited.
	MaxPeers int

	// ScreenShareInstructorOnly restricts screen producers to the
	// instructor role.
	ScreenShareInstructorOnly bool

	// SplitTransports keeps send and receive on separate transports
	// per peer instead of one shared transport.
	SplitTransports bool
}

// ProfileFor returns the profile for a session kind.
func ProfileFor(kind SessionKind) Profile {
	switch kind {
	case KindCall:
		return Profile{Kind: kind, MaxPeers: 2, SplitTransports: true}
	case KindOpenClassroom:
		return Profile{Kind: kind, ScreenShareInstructorOnly: true}
	default:
		return Profile{Kind: KindClassroom, ScreenShareInstructorOnly: true}
	}
}

// PendingSpeakRequest is a participant waiting for the instructor to
// arbitrate transmit permission. At most one per participant per session.
type PendingSpeakRequest struct {
	ParticipantID ParticipantID
	DisplayName   string
	RequestedAt   time.Time
}

// SessionInfo is the read-only session summary exposed over the admin API.
type SessionInfo struct {
	ID         SessionID    `json:"id"`
	Kind       SessionKind  `json:"kind"`
	WorkerID   WorkerID     `json:"worker_id"`
	PeerCount  int          `json:"peer_count"`
	Producers  int          `json:"producers"`
	Recordings []RecordKind `json:"recordings,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ProducerInfo describes a live producer with enough metadata for a
// late joiner to decide what to subscribe to.
type ProducerInfo struct {
	ID            ProducerID    `json:"id"`
	Kind          MediaKind     `json:"kind"`
	Source        MediaSource   `json:"source"`
	ParticipantID ParticipantID `json:"participant_id"`
	DisplayName   string        `json:"display_name"`
	Role          Role          `json:"role"`
	Paused        bool          `json:"paused"`
}

// SpeakerInfo is one entry of the active-speaker roster.
type SpeakerInfo struct {
	ParticipantID ParticipantID `json:"participant_id"`
	DisplayName   string        `json:"display_name"`
	Role          Role          `json:"role"`
}
