package ports

import (
	"context"

	"liveclass/internal/core/domain"
)

// Presence mirrors session membership into an external store so the
// CRUD backend can observe liveness without querying the orchestrator.
// Implementations must be cheap and failure-tolerant: errors are logged
// by callers, never propagated into session lifecycles.
type Presence interface {
	SessionStarted(ctx context.Context, sessionID domain.SessionID, kind domain.SessionKind) error
	SessionEnded(ctx context.Context, sessionID domain.SessionID) error
	PeerJoined(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, role domain.Role) error
	PeerLeft(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID) error
}
