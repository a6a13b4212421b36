package presence

import (
	"context"

	"liveclass/internal/core/domain"
)

// Nop is the presence mirror used when the feature is disabled.
type Nop struct{}

func (Nop) SessionStarted(context.Context, domain.SessionID, domain.SessionKind) error { return nil }
func (Nop) SessionEnded(context.Context, domain.SessionID) error                       { return nil }
func (Nop) PeerJoined(context.Context, domain.SessionID, domain.ParticipantID, domain.Role) error {
	return nil
}
func (Nop) PeerLeft(context.Context, domain.SessionID, domain.ParticipantID) error { return nil }
