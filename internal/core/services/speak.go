package services

import (
	"context"
	"sort"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"go.uber.org/zap"
)

// SpeakArbiter is the per-session speak-permission state machine:
// NONE -> PENDING -> {GRANTED, DENIED}, GRANTED -> NONE on revoke.
// All instructor-side transitions require the caller to hold the
// instructor role in the session.
type SpeakArbiter struct {
	registry *Registry
	notifier ports.Notifier
	metrics  ports.Metrics
	log      *zap.SugaredLogger
}

// NewSpeakArbiter builds the speak-permission service.
func NewSpeakArbiter(registry *Registry, notifier ports.Notifier, metrics ports.Metrics, log *zap.Logger) *SpeakArbiter {
	return &SpeakArbiter{
		registry: registry,
		notifier: notifier,
		metrics:  metrics,
		log:      log.Sugar(),
	}
}

// RequestToSpeak files a pending request and notifies the instructor.
// Only legal from the NONE state: a pending request or an existing
// grant rejects the call.
func (a *SpeakArbiter) RequestToSpeak(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID) error {
	sess, err := a.registry.get(sessionID)
	if err != nil {
		return err
	}

	var opErr error
	sess.withLock(func() {
		peer, ok := sess.peers[participantID]
		if !ok {
			opErr = domain.ErrPeerNotFound
			return
		}
		if peer.Role == domain.RoleInstructor {
			opErr = domain.ErrForbidden
			return
		}
		if _, pending := sess.pending[participantID]; pending || peer.HasTransmitPermission {
			opErr = domain.ErrAlreadyRequested
			return
		}

		sess.pending[participantID] = &domain.PendingSpeakRequest{
			ParticipantID: participantID,
			DisplayName:   peer.DisplayName,
			RequestedAt:   time.Now(),
		}

		if inst := sess.instructorLocked(); inst != nil {
			a.notifier.Notify(inst.ConnID, domain.EventSpeakRequested, domain.SpeakRequested{
				SessionID:     sessionID,
				ParticipantID: participantID,
				DisplayName:   peer.DisplayName,
			})
		}
	})
	if opErr != nil {
		return opErr
	}

	a.metrics.SpeakRequested()
	a.log.Infow("speak requested", "session_id", sessionID, "participant_id", participantID)
	return nil
}

// Approve grants transmit permission, clears the pending request,
// notifies the target and broadcasts the updated roster.
func (a *SpeakArbiter) Approve(ctx context.Context, sessionID domain.SessionID, caller, target domain.ParticipantID) error {
	sess, err := a.registry.get(sessionID)
	if err != nil {
		return err
	}

	var opErr error
	sess.withLock(func() {
		if opErr = requireInstructorLocked(sess, caller); opErr != nil {
			return
		}
		peer, ok := sess.peers[target]
		if !ok {
			opErr = domain.ErrPeerNotFound
			return
		}

		peer.HasTransmitPermission = true
		delete(sess.pending, target)

		a.notifier.Notify(peer.ConnID, domain.EventSpeakApproved, domain.SpeakDecision{
			SessionID:     sessionID,
			ParticipantID: target,
		})
		a.notifier.Broadcast(sessionID, domain.EventRosterUpdated, domain.RosterUpdate{
			SessionID: sessionID,
			Speakers:  sess.rosterLocked(),
		})
	})
	if opErr != nil {
		return opErr
	}

	a.metrics.SpeakDecided(true)
	a.log.Infow("speak approved", "session_id", sessionID, "participant_id", target)
	return nil
}

// Deny clears the pending request, idempotent when none exists.
func (a *SpeakArbiter) Deny(ctx context.Context, sessionID domain.SessionID, caller, target domain.ParticipantID) error {
	sess, err := a.registry.get(sessionID)
	if err != nil {
		return err
	}

	var opErr error
	sess.withLock(func() {
		if opErr = requireInstructorLocked(sess, caller); opErr != nil {
			return
		}
		delete(sess.pending, target)

		if peer, ok := sess.peers[target]; ok {
			a.notifier.Notify(peer.ConnID, domain.EventSpeakDenied, domain.SpeakDecision{
				SessionID:     sessionID,
				ParticipantID: target,
			})
		}
		a.notifier.Broadcast(sessionID, domain.EventRosterUpdated, domain.RosterUpdate{
			SessionID: sessionID,
			Speakers:  sess.rosterLocked(),
		})
	})
	if opErr != nil {
		return opErr
	}

	a.metrics.SpeakDecided(false)
	a.log.Infow("speak denied", "session_id", sessionID, "participant_id", target)
	return nil
}

// Revoke withdraws a grant and force-closes every producer the target
// owns, broadcasting producerClosed for each. This is the only path
// that closes producers without the owning peer's cooperation.
func (a *SpeakArbiter) Revoke(ctx context.Context, sessionID domain.SessionID, caller, target domain.ParticipantID) error {
	sess, err := a.registry.get(sessionID)
	if err != nil {
		return err
	}

	var opErr error
	sess.withLock(func() {
		if opErr = requireInstructorLocked(sess, caller); opErr != nil {
			return
		}
		peer, ok := sess.peers[target]
		if !ok {
			opErr = domain.ErrPeerNotFound
			return
		}

		peer.HasTransmitPermission = false
		sess.closeProducersLocked(peer, a.notifier, a.log)

		a.notifier.Notify(peer.ConnID, domain.EventSpeakRevoked, domain.SpeakDecision{
			SessionID:     sessionID,
			ParticipantID: target,
		})
		a.notifier.Broadcast(sessionID, domain.EventRosterUpdated, domain.RosterUpdate{
			SessionID: sessionID,
			Speakers:  sess.rosterLocked(),
		})
	})
	if opErr != nil {
		return opErr
	}

	a.log.Infow("speak revoked", "session_id", sessionID, "participant_id", target)
	return nil
}

// ListRequests returns the pending queue, oldest first. Instructor only.
func (a *SpeakArbiter) ListRequests(ctx context.Context, sessionID domain.SessionID, caller domain.ParticipantID) ([]domain.PendingSpeakRequest, error) {
	sess, err := a.registry.get(sessionID)
	if err != nil {
		return nil, err
	}

	var opErr error
	var out []domain.PendingSpeakRequest
	sess.withLock(func() {
		if opErr = requireInstructorLocked(sess, caller); opErr != nil {
			return
		}
		for _, req := range sess.pending {
			out = append(out, *req)
		}
	})
	if opErr != nil {
		return nil, opErr
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func requireInstructorLocked(sess *Session, caller domain.ParticipantID) error {
	peer, ok := sess.peers[caller]
	if !ok {
		return domain.ErrPeerNotFound
	}
	if peer.Role != domain.RoleInstructor {
		return domain.ErrForbidden
	}
	return nil
}
