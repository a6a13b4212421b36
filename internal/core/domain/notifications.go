package domain

// Broadcast and direct-notification event names carried over signaling.
const (
	EventRosterUpdated      = "rosterUpdated"
	EventParticipantLeft    = "participantLeft"
	EventNewProducer        = "newProducer"
	EventProducerClosed     = "producerClosed"
	EventMediaStatusChanged = "mediaStatusChanged"
	EventSpeakRequested     = "speakRequested"
	EventSpeakApproved      = "speakApproved"
	EventSpeakDenied        = "speakDenied"
	EventSpeakRevoked       = "speakRevoked"
	EventSessionEnded       = "sessionEnded"
)

type RosterUpdate struct {
	SessionID SessionID     `json:"session_id"`
	Speakers  []SpeakerInfo `json:"speakers"`
}

type ParticipantLeft struct {
	SessionID     SessionID     `json:"session_id"`
	ParticipantID ParticipantID `json:"participant_id"`
}

type NewProducer struct {
	SessionID     SessionID     `json:"session_id"`
	ProducerID    ProducerID    `json:"producer_id"`
	Kind          MediaKind     `json:"kind"`
	Source        MediaSource   `json:"source"`
	ParticipantID ParticipantID `json:"participant_id"`
	DisplayName   string        `json:"display_name"`
	Role          Role          `json:"role"`
}

type ProducerClosed struct {
	SessionID     SessionID     `json:"session_id"`
	ProducerID    ProducerID    `json:"producer_id"`
	ParticipantID ParticipantID `json:"participant_id"`
}

type MediaStatusChanged struct {
	SessionID     SessionID     `json:"session_id"`
	ParticipantID ParticipantID `json:"participant_id"`
	Kind          MediaKind     `json:"kind"`
	Source        MediaSource   `json:"source"`
	Paused        bool          `json:"paused"`
}

type SpeakRequested struct {
	SessionID     SessionID     `json:"session_id"`
	ParticipantID ParticipantID `json:"participant_id"`
	DisplayName   string        `json:"display_name"`
}

type SpeakDecision struct {
	SessionID     SessionID     `json:"session_id"`
	ParticipantID ParticipantID `json:"participant_id"`
}

type SessionEnded struct {
	SessionID SessionID `json:"session_id"`
}
