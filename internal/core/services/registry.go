package services

import (
	"context"
	"errors"
	"sync"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"go.uber.org/zap"
)

type connRef struct {
	sessionID     domain.SessionID
	participantID domain.ParticipantID
}

// errStaleConn marks a removal raced by a rejoin on a newer connection.
var errStaleConn = errors.New("stale connection")

// Registry is the process-wide session store and peer lifecycle
// manager. It is an explicit component with its own lifecycle: built at
// process start, torn down on shutdown, so the in-memory maps could be
// swapped for a distributed store without touching callers.
type Registry struct {
	pool     *WorkerPool
	notifier ports.Notifier
	presence ports.Presence
	metrics  ports.Metrics
	listen   ports.ListenConfig
	log      *zap.SugaredLogger

	// recording is set after construction; the recording controller
	// needs the registry to locate sessions and the registry needs the
	// controller to tear recordings down on instructor departure.
	recording ports.RecordingService

	mu       sync.Mutex
	sessions map[domain.SessionID]*Session
	inflight map[domain.SessionID]chan struct{}
	conns    map[domain.ConnID]connRef
}

// NewRegistry builds the session registry.
func NewRegistry(pool *WorkerPool, notifier ports.Notifier, presence ports.Presence, metrics ports.Metrics, listen ports.ListenConfig, log *zap.Logger) *Registry {
	return &Registry{
		pool:     pool,
		notifier: notifier,
		presence: presence,
		metrics:  metrics,
		listen:   listen,
		log:      log.Sugar(),
		sessions: make(map[domain.SessionID]*Session),
		inflight: make(map[domain.SessionID]chan struct{}),
		conns:    make(map[domain.ConnID]connRef),
	}
}

// SetRecording wires the recording controller in after construction.
func (r *Registry) SetRecording(rec ports.RecordingService) {
	r.recording = rec
}

// ListenConfig exposes the transport listen settings to sibling services.
func (r *Registry) ListenConfig() ports.ListenConfig { return r.listen }

// Join places the participant in the session, creating the session on
// first join. Rejoin of a known participant id swaps the connection id
// and retains all existing media resources.
func (r *Registry) Join(ctx context.Context, p ports.JoinParams) (*ports.JoinResult, error) {
	sess, err := r.getOrCreateSession(ctx, p.SessionID, p.Kind)
	if err != nil {
		return nil, err
	}

	result := &ports.JoinResult{
		SessionID:       sess.ID,
		RTPCapabilities: sess.Router.RTPCapabilities(),
	}

	var joinErr error
	var staleConn domain.ConnID
	sess.withLock(func() {
		if sess.ended {
			joinErr = domain.ErrSessionNotFound
			return
		}

		if peer, ok := sess.peers[p.ParticipantID]; ok {
			// Rejoin: the connection id is volatile, everything else
			// survives so in-flight media is preserved.
			staleConn = peer.ConnID
			peer.ConnID = p.ConnID
			if p.DisplayName != "" {
				peer.DisplayName = p.DisplayName
			}
			result.Rejoined = true
		} else {
			if sess.Profile.MaxPeers > 0 && len(sess.peers) >= sess.Profile.MaxPeers {
				joinErr = domain.ErrSessionFull
				return
			}
			sess.peers[p.ParticipantID] = &Peer{
				ParticipantID: p.ParticipantID,
				ConnID:        p.ConnID,
				DisplayName:   p.DisplayName,
				Role:          p.Role,
			}
		}

		result.Producers = sess.producersLocked()
		result.Speakers = sess.rosterLocked()
	})
	if joinErr != nil {
		return nil, joinErr
	}

	r.mu.Lock()
	if staleConn != "" {
		delete(r.conns, staleConn)
	}
	r.conns[p.ConnID] = connRef{sessionID: sess.ID, participantID: p.ParticipantID}
	r.mu.Unlock()

	if !result.Rejoined {
		r.metrics.PeerJoined(sess.Profile.Kind)
		if err := r.presence.PeerJoined(ctx, sess.ID, p.ParticipantID, p.Role); err != nil {
			r.log.Warnw("presence peer-joined failed", "session_id", sess.ID, "error", err)
		}
	}

	r.log.Infow("participant joined",
		"session_id", sess.ID, "participant_id", p.ParticipantID,
		"role", p.Role, "rejoined", result.Rejoined)
	return result, nil
}

// Leave removes the participant and cascades cleanup of everything the
// peer owns.
func (r *Registry) Leave(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID) error {
	sess, err := r.get(sessionID)
	if err != nil {
		return err
	}
	return r.removePeer(ctx, sess, participantID, "")
}

// Disconnect handles a dropped connection. It is ignored when the
// participant already rejoined on a newer connection; the staleness
// check and the removal share one session lock so a rejoin cannot slip
// in between them.
func (r *Registry) Disconnect(ctx context.Context, connID domain.ConnID) error {
	r.mu.Lock()
	ref, ok := r.conns[connID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	sess, err := r.get(ref.sessionID)
	if err != nil {
		return nil
	}

	err = r.removePeer(ctx, sess, ref.participantID, connID)
	if errors.Is(err, errStaleConn) || errors.Is(err, domain.ErrPeerNotFound) {
		r.mu.Lock()
		delete(r.conns, connID)
		r.mu.Unlock()
		return nil
	}
	if err == nil {
		r.log.Infow("connection lost, removed peer",
			"session_id", ref.sessionID, "participant_id", ref.participantID)
	}
	return err
}

// EndSession tears down the whole session. Only the instructor may end
// it; Teardown bypasses the role check on shutdown.
func (r *Registry) EndSession(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID) error {
	sess, err := r.get(sessionID)
	if err != nil {
		return err
	}

	var roleErr error
	sess.withLock(func() {
		peer, ok := sess.peers[participantID]
		if !ok {
			roleErr = domain.ErrPeerNotFound
			return
		}
		if peer.Role != domain.RoleInstructor {
			roleErr = domain.ErrForbidden
		}
	})
	if roleErr != nil {
		return roleErr
	}

	r.endSession(ctx, sess)
	return nil
}

// ForceEndSession ends a session without the instructor check. Reserved
// for the admin API.
func (r *Registry) ForceEndSession(ctx context.Context, sessionID domain.SessionID) error {
	sess, err := r.get(sessionID)
	if err != nil {
		return err
	}
	r.endSession(ctx, sess)
	return nil
}

// ListSessions returns admin summaries for every live session.
func (r *Registry) ListSessions(ctx context.Context) []domain.SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]domain.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshotInfo(r.recording.Active(s.ID)))
	}
	return out
}

// GetSession returns one admin summary.
func (r *Registry) GetSession(ctx context.Context, sessionID domain.SessionID) (*domain.SessionInfo, error) {
	sess, err := r.get(sessionID)
	if err != nil {
		return nil, err
	}
	info := sess.snapshotInfo(r.recording.Active(sessionID))
	return &info, nil
}

// Teardown ends every session. Called once on process shutdown.
func (r *Registry) Teardown(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.endSession(ctx, s)
	}
}

// get returns a live session by id.
func (r *Registry) get(sessionID domain.SessionID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// getOrCreateSession returns the existing session or creates it,
// guaranteeing at most one creation per id under concurrent joins:
// the first caller marks the id in flight and creates the router
// outside the registry lock, later callers wait for the marker.
func (r *Registry) getOrCreateSession(ctx context.Context, id domain.SessionID, kind domain.SessionKind) (*Session, error) {
	for {
		r.mu.Lock()
		if sess, ok := r.sessions[id]; ok {
			r.mu.Unlock()
			return sess, nil
		}
		if ch, ok := r.inflight[id]; ok {
			r.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ch := make(chan struct{})
		r.inflight[id] = ch
		r.mu.Unlock()

		sess, err := r.createSession(ctx, id, kind)

		r.mu.Lock()
		if err == nil {
			r.sessions[id] = sess
		}
		delete(r.inflight, id)
		close(ch)
		r.mu.Unlock()

		if err != nil {
			return nil, err
		}

		r.metrics.SessionStarted(kind)
		if perr := r.presence.SessionStarted(ctx, id, kind); perr != nil {
			r.log.Warnw("presence session-started failed", "session_id", id, "error", perr)
		}
		r.log.Infow("session created", "session_id", id, "kind", kind, "worker_id", sess.Worker.ID())
		return sess, nil
	}
}

func (r *Registry) createSession(ctx context.Context, id domain.SessionID, kind domain.SessionKind) (*Session, error) {
	worker := r.pool.PickWorkerForNewSession(kind)
	router, err := worker.CreateRouter(ctx)
	if err != nil {
		return nil, err
	}
	r.pool.BindSession(id, kind, worker.ID())
	return newSession(id, domain.ProfileFor(kind), worker, router), nil
}

// removePeer cascades cleanup of one peer. A peer holding transmit
// permission goes through the same producer-close and roster-broadcast
// path as an explicit revoke before it is deleted. Instructor removal
// tears down all recordings: they have no meaning without the feed.
// A non-empty expectConn makes the removal conditional: when the peer
// already rejoined on another connection the peer stays and
// errStaleConn is returned.
func (r *Registry) removePeer(ctx context.Context, sess *Session, participantID domain.ParticipantID, expectConn domain.ConnID) error {
	var peerErr error
	var wasInstructor bool
	var connID domain.ConnID

	sess.withLock(func() {
		peer, ok := sess.peers[participantID]
		if !ok {
			peerErr = domain.ErrPeerNotFound
			return
		}
		if expectConn != "" && peer.ConnID != expectConn {
			peerErr = errStaleConn
			return
		}
		wasInstructor = peer.Role == domain.RoleInstructor
		connID = peer.ConnID

		hadPermission := peer.HasTransmitPermission
		peer.HasTransmitPermission = false

		sess.closeResourcesLocked(peer, r.notifier, r.log)
		delete(sess.pending, participantID)
		delete(sess.peers, participantID)

		if hadPermission {
			r.notifier.Broadcast(sess.ID, domain.EventRosterUpdated, domain.RosterUpdate{
				SessionID: sess.ID,
				Speakers:  sess.rosterLocked(),
			})
		}
		r.notifier.Broadcast(sess.ID, domain.EventParticipantLeft, domain.ParticipantLeft{
			SessionID:     sess.ID,
			ParticipantID: participantID,
		})
	})
	if peerErr != nil {
		return peerErr
	}

	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()

	if wasInstructor {
		if err := r.recording.Stop(ctxOrBackground(ctx), sess.ID); err != nil {
			r.log.Warnw("failed to stop recordings on instructor departure",
				"session_id", sess.ID, "error", err)
		}
	}

	r.metrics.PeerLeft(sess.Profile.Kind)
	if err := r.presence.PeerLeft(ctx, sess.ID, participantID); err != nil {
		r.log.Warnw("presence peer-left failed", "session_id", sess.ID, "error", err)
	}

	r.log.Infow("participant removed", "session_id", sess.ID, "participant_id", participantID)
	return nil
}

// endSession notifies every connected party first, then tears down all
// peer resources, recordings and the session itself. Notification
// before teardown avoids racing the final delivery against closing
// connections' resources.
func (r *Registry) endSession(ctx context.Context, sess *Session) {
	r.notifier.Broadcast(sess.ID, domain.EventSessionEnded, domain.SessionEnded{SessionID: sess.ID})

	if err := r.recording.Stop(ctxOrBackground(ctx), sess.ID); err != nil {
		r.log.Warnw("failed to stop recordings on session end", "session_id", sess.ID, "error", err)
	}

	var connIDs []domain.ConnID
	sess.withLock(func() {
		if sess.ended {
			return
		}
		sess.ended = true
		for _, peer := range sess.peers {
			peer.HasTransmitPermission = false
			connIDs = append(connIDs, peer.ConnID)
			sess.closeResourcesLocked(peer, r.notifier, r.log)
		}
		sess.peers = make(map[domain.ParticipantID]*Peer)
		sess.pending = make(map[domain.ParticipantID]*domain.PendingSpeakRequest)
	})

	if err := sess.Router.Close(); err != nil {
		r.log.Warnw("failed to close router", "session_id", sess.ID, "error", err)
	}

	r.mu.Lock()
	delete(r.sessions, sess.ID)
	for _, c := range connIDs {
		delete(r.conns, c)
	}
	r.mu.Unlock()

	r.pool.ReleaseSession(sess.ID)
	r.metrics.SessionEnded(sess.Profile.Kind)
	if err := r.presence.SessionEnded(ctxOrBackground(ctx), sess.ID); err != nil {
		r.log.Warnw("presence session-ended failed", "session_id", sess.ID, "error", err)
	}

	r.log.Infow("session ended", "session_id", sess.ID)
}
