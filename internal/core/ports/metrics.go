package ports

import (
	"time"

	"liveclass/internal/core/domain"
)

// Metrics is the observability sink the core services report into.
type Metrics interface {
	SessionStarted(kind domain.SessionKind)
	SessionEnded(kind domain.SessionKind)
	PeerJoined(kind domain.SessionKind)
	PeerLeft(kind domain.SessionKind)
	ProducerOpened(kind domain.MediaKind)
	ProducerClosed(kind domain.MediaKind)
	ConsumerOpened()
	ConsumerClosed()
	SpeakRequested()
	SpeakDecided(approved bool)
	RecordingStarted(kind domain.RecordKind)
	RecordingStopped(kind domain.RecordKind)
	RecorderRequest(op string, d time.Duration, err error)
}
