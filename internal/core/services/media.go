package services

import (
	"context"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"go.uber.org/zap"
)

// MediaManager orchestrates transports, producers and consumers within
// a session, delegating the actual RTP work to the media engine.
type MediaManager struct {
	registry *Registry
	notifier ports.Notifier
	metrics  ports.Metrics
	log      *zap.SugaredLogger

	// recording is set after construction, same cycle as the registry.
	recording ports.RecordingService
}

// NewMediaManager builds the media session manager.
func NewMediaManager(registry *Registry, notifier ports.Notifier, metrics ports.Metrics, log *zap.Logger) *MediaManager {
	return &MediaManager{
		registry: registry,
		notifier: notifier,
		metrics:  metrics,
		log:      log.Sugar(),
	}
}

// SetRecording wires the recording controller in after construction.
func (m *MediaManager) SetRecording(rec ports.RecordingService) {
	m.recording = rec
}

// CreateTransport creates a transport on the session's router bound to
// the announced address and appends it to the peer's transport list.
// Call sessions keep send and receive on separate transports.
func (m *MediaManager) CreateTransport(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, dir domain.TransportDirection) (*ports.TransportParams, error) {
	sess, err := m.registry.get(sessionID)
	if err != nil {
		return nil, err
	}

	var opErr error
	var params ports.TransportParams
	sess.withLock(func() {
		peer, ok := sess.peers[participantID]
		if !ok {
			opErr = domain.ErrPeerNotFound
			return
		}

		if !sess.Profile.SplitTransports {
			dir = domain.DirectionBoth
		}

		transport, err := sess.Router.CreateTransport(ctx, m.registry.ListenConfig())
		if err != nil {
			opErr = err
			return
		}
		peer.transports = append(peer.transports, &peerTransport{transport: transport, direction: dir})
		params = transport.Params()
	})
	if opErr != nil {
		return nil, opErr
	}

	m.log.Infow("transport created",
		"session_id", sessionID, "participant_id", participantID,
		"transport_id", params.TransportID, "direction", dir)
	return &params, nil
}

// ConnectTransport completes the client-side transport handshake.
func (m *MediaManager) ConnectTransport(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, transportID domain.TransportID, params ports.ConnectParams) error {
	sess, err := m.registry.get(sessionID)
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
		pt := peer.findTransportLocked(transportID)
		if pt == nil {
			opErr = domain.ErrTransportNotFound
			return
		}
		opErr = pt.transport.Connect(ctx, params)
	})
	return opErr
}

// Produce publishes a track. A producer of the same (kind, source)
// already owned by the peer is closed first, with its producerClosed
// broadcast emitted before the newProducer one: replace semantics, not
// duplicate-reject. Instructor media additionally starts the recording
// bridge for the corresponding kind; recorder failures are logged, not
// surfaced, so publishing never depends on recorder availability.
func (m *MediaManager) Produce(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, transportID domain.TransportID, kind domain.MediaKind, params ports.ProduceParams, source domain.MediaSource) (domain.ProducerID, error) {
	if source == "" {
		return "", domain.ErrSourceRequired
	}

	sess, err := m.registry.get(sessionID)
	if err != nil {
		return "", err
	}

	var opErr error
	var producerID domain.ProducerID
	var isInstructor bool
	sess.withLock(func() {
		peer, ok := sess.peers[participantID]
		if !ok {
			opErr = domain.ErrPeerNotFound
			return
		}
		isInstructor = peer.Role == domain.RoleInstructor

		if !isInstructor && !peer.HasTransmitPermission {
			opErr = domain.ErrNotPermitted
			return
		}
		if source == domain.SourceScreen && sess.Profile.ScreenShareInstructorOnly && !isInstructor {
			opErr = domain.ErrForbidden
			return
		}

		pt := peer.findTransportLocked(transportID)
		if pt == nil {
			pt = peer.transportForLocked(domain.DirectionSend, sess.Profile.SplitTransports)
		}
		if pt == nil {
			opErr = domain.ErrTransportNotFound
			return
		}

		if existing := peer.findProducerLocked(kind, source); existing != nil {
			oldID := existing.producer.ID()
			if err := existing.producer.Close(); err != nil {
				m.log.Warnw("failed to close replaced producer",
					"session_id", sessionID, "producer_id", oldID, "error", err)
			}
			peer.removeProducerLocked(oldID)
			m.notifier.Broadcast(sessionID, domain.EventProducerClosed, domain.ProducerClosed{
				SessionID:     sessionID,
				ProducerID:    oldID,
				ParticipantID: participantID,
			})
			m.metrics.ProducerClosed(kind)
		}

		producer, err := pt.transport.Produce(ctx, kind, params)
		if err != nil {
			opErr = err
			return
		}
		peer.producers = append(peer.producers, &peerProducer{producer: producer, source: source})
		producerID = producer.ID()

		m.notifier.Broadcast(sessionID, domain.EventNewProducer, domain.NewProducer{
			SessionID:     sessionID,
			ProducerID:    producerID,
			Kind:          kind,
			Source:        source,
			ParticipantID: participantID,
			DisplayName:   peer.DisplayName,
			Role:          peer.Role,
		}, peer.ConnID)
	})
	if opErr != nil {
		return "", opErr
	}

	m.metrics.ProducerOpened(kind)
	m.log.Infow("producer created",
		"session_id", sessionID, "participant_id", participantID,
		"producer_id", producerID, "kind", kind, "source", source)

	if isInstructor {
		if recordKind, ok := domain.RecordKindFor(kind, source); ok {
			if _, err := m.recording.Start(ctx, sessionID, recordKind); err != nil {
				m.log.Warnw("recording start failed",
					"session_id", sessionID, "kind", recordKind, "error", err)
			}
		}
	}

	return producerID, nil
}

// ToggleProducer pauses or resumes the peer's producer matching
// (kind, source) and broadcasts the new media status to the session.
func (m *MediaManager) ToggleProducer(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, kind domain.MediaKind, source domain.MediaSource, action ports.ToggleAction) error {
	sess, err := m.registry.get(sessionID)
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
		if peer.Role != domain.RoleInstructor && !peer.HasTransmitPermission {
			opErr = domain.ErrNotPermitted
			return
		}
		pp := peer.findProducerLocked(kind, source)
		if pp == nil {
			opErr = domain.ErrProducerNotFound
			return
		}

		paused := action == ports.ActionPause
		if paused {
			opErr = pp.producer.Pause(ctx)
		} else {
			opErr = pp.producer.Resume(ctx)
		}
		if opErr != nil {
			return
		}
		pp.paused = paused

		m.notifier.Broadcast(sessionID, domain.EventMediaStatusChanged, domain.MediaStatusChanged{
			SessionID:     sessionID,
			ParticipantID: participantID,
			Kind:          kind,
			Source:        source,
			Paused:        paused,
		})
	})
	return opErr
}

// Consume subscribes the peer to a producer. The consumer starts paused
// and is resumed before returning so the client never misses leading
// packets it was not ready for.
func (m *MediaManager) Consume(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, transportID domain.TransportID, producerID domain.ProducerID, caps ports.RTPCapabilities) (*ports.ConsumerParams, error) {
	sess, err := m.registry.get(sessionID)
	if err != nil {
		return nil, err
	}

	var opErr error
	var params ports.ConsumerParams
	sess.withLock(func() {
		peer, ok := sess.peers[participantID]
		if !ok {
			opErr = domain.ErrPeerNotFound
			return
		}

		if !sess.Router.CanConsume(producerID, caps) {
			opErr = domain.ErrIncompatible
			return
		}

		pt := peer.findTransportLocked(transportID)
		if pt == nil {
			pt = peer.transportForLocked(domain.DirectionRecv, sess.Profile.SplitTransports)
		}
		if pt == nil {
			opErr = domain.ErrTransportNotFound
			return
		}

		consumer, err := pt.transport.Consume(ctx, producerID, caps, true)
		if err != nil {
			opErr = err
			return
		}
		peer.consumers = append(peer.consumers, consumer)

		if err := consumer.Resume(ctx); err != nil {
			opErr = err
			return
		}
		params = consumer.Params()
	})
	if opErr != nil {
		return nil, opErr
	}

	m.metrics.ConsumerOpened()
	m.log.Infow("consumer created",
		"session_id", sessionID, "participant_id", participantID,
		"consumer_id", params.ConsumerID, "producer_id", producerID)
	return &params, nil
}

// CloseProducer closes one of the peer's own producers and broadcasts
// producerClosed so every subscriber tears down its rendering. When the
// instructor closes a producer that feeds a recording, the matching
// recording slot is stopped as well.
func (m *MediaManager) CloseProducer(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, producerID domain.ProducerID) error {
	sess, err := m.registry.get(sessionID)
	if err != nil {
		return err
	}

	var opErr error
	var stopRecording domain.RecordKind
	sess.withLock(func() {
		peer, ok := sess.peers[participantID]
		if !ok {
			opErr = domain.ErrPeerNotFound
			return
		}

		var target *peerProducer
		for _, pp := range peer.producers {
			if pp.producer.ID() == producerID {
				target = pp
				break
			}
		}
		if target == nil {
			opErr = domain.ErrProducerNotFound
			return
		}

		kind := target.producer.Kind()
		if err := target.producer.Close(); err != nil {
			m.log.Warnw("failed to close producer",
				"session_id", sessionID, "producer_id", producerID, "error", err)
		}
		peer.removeProducerLocked(producerID)

		m.notifier.Broadcast(sessionID, domain.EventProducerClosed, domain.ProducerClosed{
			SessionID:     sessionID,
			ProducerID:    producerID,
			ParticipantID: participantID,
		})
		m.metrics.ProducerClosed(kind)

		if peer.Role == domain.RoleInstructor {
			if recordKind, ok := domain.RecordKindFor(kind, target.source); ok {
				stopRecording = recordKind
			}
		}
	})
	if opErr != nil {
		return opErr
	}

	if stopRecording != "" {
		if err := m.recording.StopKind(ctx, sessionID, stopRecording); err != nil {
			m.log.Warnw("recording stop failed",
				"session_id", sessionID, "kind", stopRecording, "error", err)
		}
	}
	return nil
}

// ListProducers enumerates all live producers for a late joiner.
func (m *MediaManager) ListProducers(ctx context.Context, sessionID domain.SessionID) ([]domain.ProducerInfo, error) {
	sess, err := m.registry.get(sessionID)
	if err != nil {
		return nil, err
	}

	var out []domain.ProducerInfo
	sess.withLock(func() {
		out = sess.producersLocked()
	})
	return out, nil
}
