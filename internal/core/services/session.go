package services

import (
	"context"
	"sync"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"go.uber.org/zap"
)

// Session is one live classroom or call instance. It is the sole owner
// of every media resource beneath it: peers only reference resources
// the session holds on their behalf.
//
// All mutation happens under mu. The lock is held across calls into the
// media engine so that check-then-act sequences (producer replacement,
// permission transitions) stay atomic; notifications for a mutation are
// emitted before the lock is released, which keeps broadcast order
// consistent with state order.
type Session struct {
	ID        domain.SessionID
	Profile   domain.Profile
	Worker    ports.Worker
	Router    ports.Router
	CreatedAt time.Time

	mu      sync.Mutex
	peers   map[domain.ParticipantID]*Peer
	pending map[domain.ParticipantID]*domain.PendingSpeakRequest
	ended   bool
}

// Peer is one connected participant's state within a session. The
// participant id is stable across reconnects; the connection id is
// volatile and replaced on rejoin while media resources are retained.
type Peer struct {
	ParticipantID domain.ParticipantID
	ConnID        domain.ConnID
	DisplayName   string
	Role          domain.Role

	HasTransmitPermission bool

	transports []*peerTransport
	producers  []*peerProducer
	consumers  []ports.Consumer
}

type peerTransport struct {
	transport ports.Transport
	direction domain.TransportDirection
}

type peerProducer struct {
	producer ports.Producer
	source   domain.MediaSource
	paused   bool
}

func newSession(id domain.SessionID, profile domain.Profile, worker ports.Worker, router ports.Router) *Session {
	return &Session{
		ID:        id,
		Profile:   profile,
		Worker:    worker,
		Router:    router,
		CreatedAt: time.Now(),
		peers:     make(map[domain.ParticipantID]*Peer),
		pending:   make(map[domain.ParticipantID]*domain.PendingSpeakRequest),
	}
}

// findTransportLocked locates a peer transport by id.
func (p *Peer) findTransportLocked(id domain.TransportID) *peerTransport {
	for _, t := range p.transports {
		if t.transport.ID() == id {
			return t
		}
	}
	return nil
}

// transportForLocked picks the peer transport for the given direction,
// honoring split-transport profiles.
func (p *Peer) transportForLocked(dir domain.TransportDirection, split bool) *peerTransport {
	for _, t := range p.transports {
		if !split || t.direction == dir || t.direction == domain.DirectionBoth {
			return t
		}
	}
	return nil
}

// findProducerLocked locates a live producer by kind and source.
func (p *Peer) findProducerLocked(kind domain.MediaKind, source domain.MediaSource) *peerProducer {
	for _, pp := range p.producers {
		if pp.producer.Closed() {
			continue
		}
		if pp.producer.Kind() == kind && pp.source == source {
			return pp
		}
	}
	return nil
}

// removeProducerLocked drops a producer from the peer's owned list.
func (p *Peer) removeProducerLocked(id domain.ProducerID) {
	for i, pp := range p.producers {
		if pp.producer.ID() == id {
			p.producers = append(p.producers[:i], p.producers[i+1:]...)
			return
		}
	}
}

// instructorLocked returns the session's instructor peer, if present.
func (s *Session) instructorLocked() *Peer {
	for _, p := range s.peers {
		if p.Role == domain.RoleInstructor {
			return p
		}
	}
	return nil
}

// rosterLocked builds the active-speaker roster: the instructor plus
// every peer currently holding transmit permission.
func (s *Session) rosterLocked() []domain.SpeakerInfo {
	roster := make([]domain.SpeakerInfo, 0, len(s.peers))
	if inst := s.instructorLocked(); inst != nil {
		roster = append(roster, domain.SpeakerInfo{
			ParticipantID: inst.ParticipantID,
			DisplayName:   inst.DisplayName,
			Role:          inst.Role,
		})
	}
	for _, p := range s.peers {
		if p.Role != domain.RoleInstructor && p.HasTransmitPermission {
			roster = append(roster, domain.SpeakerInfo{
				ParticipantID: p.ParticipantID,
				DisplayName:   p.DisplayName,
				Role:          p.Role,
			})
		}
	}
	return roster
}

// producersLocked enumerates all live producers across peers.
func (s *Session) producersLocked() []domain.ProducerInfo {
	var out []domain.ProducerInfo
	for _, p := range s.peers {
		for _, pp := range p.producers {
			if pp.producer.Closed() {
				continue
			}
			out = append(out, domain.ProducerInfo{
				ID:            pp.producer.ID(),
				Kind:          pp.producer.Kind(),
				Source:        pp.source,
				ParticipantID: p.ParticipantID,
				DisplayName:   p.DisplayName,
				Role:          p.Role,
				Paused:        pp.paused,
			})
		}
	}
	return out
}

// closeProducersLocked closes every producer the peer owns and
// broadcasts producerClosed for each. Close failures are logged and
// swallowed so one stuck track cannot block the rest.
func (s *Session) closeProducersLocked(peer *Peer, notifier ports.Notifier, log *zap.SugaredLogger) {
	for _, pp := range peer.producers {
		if pp.producer.Closed() {
			continue
		}
		id := pp.producer.ID()
		if err := pp.producer.Close(); err != nil {
			log.Warnw("failed to close producer",
				"session_id", s.ID, "participant_id", peer.ParticipantID,
				"producer_id", id, "error", err)
		}
		notifier.Broadcast(s.ID, domain.EventProducerClosed, domain.ProducerClosed{
			SessionID:     s.ID,
			ProducerID:    id,
			ParticipantID: peer.ParticipantID,
		})
	}
	peer.producers = nil
}

// closeResourcesLocked tears down everything the peer owns, in order:
// producers, transports, consumers. Every close is idempotent and
// failures are logged, not propagated.
func (s *Session) closeResourcesLocked(peer *Peer, notifier ports.Notifier, log *zap.SugaredLogger) {
	s.closeProducersLocked(peer, notifier, log)

	for _, t := range peer.transports {
		if err := t.transport.Close(); err != nil {
			log.Warnw("failed to close transport",
				"session_id", s.ID, "participant_id", peer.ParticipantID,
				"transport_id", t.transport.ID(), "error", err)
		}
	}
	peer.transports = nil

	for _, c := range peer.consumers {
		if err := c.Close(); err != nil {
			log.Warnw("failed to close consumer",
				"session_id", s.ID, "participant_id", peer.ParticipantID,
				"consumer_id", c.ID(), "error", err)
		}
	}
	peer.consumers = nil
}

// withLock runs fn with the session mutex held.
func (s *Session) withLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// snapshotInfo builds the admin-facing summary.
func (s *Session) snapshotInfo(recordings []ports.RecordingStatus) domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	producers := 0
	for _, p := range s.peers {
		for _, pp := range p.producers {
			if !pp.producer.Closed() {
				producers++
			}
		}
	}
	info := domain.SessionInfo{
		ID:        s.ID,
		Kind:      s.Profile.Kind,
		WorkerID:  s.Worker.ID(),
		PeerCount: len(s.peers),
		Producers: producers,
		CreatedAt: s.CreatedAt,
	}
	for _, r := range recordings {
		info.Recordings = append(info.Recordings, r.Kind)
	}
	return info
}

// ctxOrBackground guards against nil contexts from internal callers.
func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
