package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	apperrors "liveclass/pkg/errors"

	"go.uber.org/zap"
)

// recordingSlot is one (session, kind) bridge: the plain transport
// feeding the external recorder and the consumer feeding the transport.
type recordingSlot struct {
	state     ports.RecordingState
	startedAt time.Time
	transport ports.PlainTransport
	consumer  ports.Consumer
	codec     ports.CodecInfo
}

// RecordingController drives the external recording bridge, one slot
// per (session, kind). At most one active slot per pair: repeated start
// calls for audio/video return the existing slot unchanged, screen
// replaces it. Failures resolve the slot back to idle rather than
// leaving it stuck in starting.
type RecordingController struct {
	registry *Registry
	recorder ports.RecorderClient
	metrics  ports.Metrics
	timeout  time.Duration
	log      *zap.SugaredLogger

	mu    sync.Mutex
	slots map[domain.SessionID]map[domain.RecordKind]*recordingSlot
}

// NewRecordingController builds the recording bridge controller.
// requestTimeout bounds every call to the recording service.
func NewRecordingController(registry *Registry, recorder ports.RecorderClient, metrics ports.Metrics, requestTimeout time.Duration, log *zap.Logger) *RecordingController {
	return &RecordingController{
		registry: registry,
		recorder: recorder,
		metrics:  metrics,
		timeout:  requestTimeout,
		log:      log.Sugar(),
		slots:    make(map[domain.SessionID]map[domain.RecordKind]*recordingSlot),
	}
}

// Start brings the (session, kind) slot to active. Idempotent for an
// already-active audio/video slot; an active screen slot is torn down
// and replaced, since a new screen share supersedes the old surface.
func (c *RecordingController) Start(ctx context.Context, sessionID domain.SessionID, kind domain.RecordKind) (*ports.RecordingStatus, error) {
	c.mu.Lock()
	if slot := c.slot(sessionID, kind); slot != nil {
		switch {
		case slot.state == ports.RecordingActive && kind != domain.RecordScreen:
			status := statusOf(kind, slot)
			c.mu.Unlock()
			return &status, nil
		case slot.state == ports.RecordingStarting:
			status := statusOf(kind, slot)
			c.mu.Unlock()
			return &status, nil
		case slot.state == ports.RecordingActive:
			// Screen replace: stop the old bridge before building the new one.
			c.teardownSlotLocked(ctx, sessionID, kind, slot, true)
		}
	}
	marker := &recordingSlot{state: ports.RecordingStarting, startedAt: time.Now()}
	c.setSlotLocked(sessionID, kind, marker)
	c.mu.Unlock()

	slot, err := c.buildBridge(ctx, sessionID, kind, marker.startedAt)

	c.mu.Lock()
	current := c.slot(sessionID, kind)
	if err != nil {
		// Resolve back to idle, never stuck in starting.
		if current == marker {
			c.clearSlotLocked(sessionID, kind)
		}
		c.mu.Unlock()
		return nil, err
	}
	if current != marker {
		// Stopped while the bridge was being built: the instructor left
		// or the session ended. Discard the bridge instead of letting
		// the recording outlive its feed.
		c.mu.Unlock()
		c.closeQuietly(slot.transport, slot.consumer, sessionID, kind)
		c.notifyStop(ctx, ports.RecorderStopRequest{
			SessionID: sessionID,
			Kind:      kind,
			StoppedAt: time.Now(),
		})
		c.log.Infow("recording start cancelled", "session_id", sessionID, "kind", kind)
		return nil, apperrors.New(apperrors.CodeUnavailable, "recording stopped during start")
	}
	c.setSlotLocked(sessionID, kind, slot)
	c.metrics.RecordingStarted(kind)
	c.log.Infow("recording started", "session_id", sessionID, "kind", kind)
	status := statusOf(kind, slot)
	c.mu.Unlock()
	return &status, nil
}

// buildBridge performs the long path: locate the instructor's producer,
// open the plain transport, negotiate with the recorder, connect and
// resume. Called without holding the controller lock; the starting
// marker keeps concurrent starts out.
func (c *RecordingController) buildBridge(ctx context.Context, sessionID domain.SessionID, kind domain.RecordKind, startedAt time.Time) (*recordingSlot, error) {
	sess, err := c.registry.get(sessionID)
	if err != nil {
		return nil, err
	}

	var producerID domain.ProducerID
	var lookupErr error
	sess.withLock(func() {
		inst := sess.instructorLocked()
		if inst == nil {
			lookupErr = domain.ErrNoInstructor
			return
		}
		pp := inst.findProducerLocked(mediaKindOf(kind), sourceOf(kind))
		if pp == nil {
			lookupErr = domain.ErrProducerNotFound
			return
		}
		producerID = pp.producer.ID()
	})
	if lookupErr != nil {
		return nil, lookupErr
	}

	transport, err := sess.Router.CreatePlainTransport(ctx, c.registry.ListenConfig())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "failed to open bridge transport")
	}

	consumer, err := transport.Consume(ctx, producerID, sess.Router.RTPCapabilities(), true)
	if err != nil {
		c.closeQuietly(transport, nil, sessionID, kind)
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "failed to open bridge consumer")
	}

	codec := consumer.Params().Codec
	req := ports.RecorderStartRequest{
		SessionID:        sessionID,
		Kind:             kind,
		StartedAt:        startedAt,
		Endpoint:         transport.Tuple(),
		CodecPayloadType: codec.PayloadType,
		CodecName:        codecName(codec.MimeType),
		ClockRate:        codec.ClockRate,
	}
	if kind == domain.RecordAudio {
		req.Channels = codec.Channels
	}

	callCtx, cancel := context.WithTimeout(ctxOrBackground(ctx), c.timeout)
	defer cancel()
	started := time.Now()
	target, err := c.recorder.Start(callCtx, req)
	c.metrics.RecorderRequest("start", time.Since(started), err)
	if err != nil {
		c.closeQuietly(transport, consumer, sessionID, kind)
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "recording service rejected start")
	}

	if err := transport.Connect(ctx, target.IP, target.Port, target.RTCPPort); err != nil {
		c.closeQuietly(transport, consumer, sessionID, kind)
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "failed to connect bridge transport")
	}
	if err := consumer.Resume(ctx); err != nil {
		c.closeQuietly(transport, consumer, sessionID, kind)
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "failed to resume bridge consumer")
	}
	if kind != domain.RecordAudio {
		// Fresh keyframe so the recording starts from a complete picture.
		if err := consumer.RequestKeyFrame(ctx); err != nil {
			c.log.Warnw("keyframe request failed", "session_id", sessionID, "kind", kind, "error", err)
		}
	}

	return &recordingSlot{
		state:     ports.RecordingActive,
		startedAt: startedAt,
		transport: transport,
		consumer:  consumer,
		codec:     codec,
	}, nil
}

// StopKind stops one slot. A missing or idle slot is a no-op.
func (c *RecordingController) StopKind(ctx context.Context, sessionID domain.SessionID, kind domain.RecordKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot := c.slot(sessionID, kind)
	if slot == nil {
		return nil
	}
	if slot.state == ports.RecordingStarting {
		// Invalidate the in-flight build; Start discards its bridge
		// when the marker is gone.
		c.clearSlotLocked(sessionID, kind)
		return nil
	}
	if slot.state != ports.RecordingActive {
		return nil
	}
	c.teardownSlotLocked(ctx, sessionID, kind, slot, true)
	return nil
}

// Stop stops every active slot for the session with one aggregated
// notification to the recording service.
func (c *RecordingController) Stop(ctx context.Context, sessionID domain.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kinds := c.slots[sessionID]
	if len(kinds) == 0 {
		return nil
	}

	var tracks []domain.RecordKind
	for kind, slot := range kinds {
		if slot.state != ports.RecordingActive {
			continue
		}
		tracks = append(tracks, kind)
		c.teardownSlotLocked(ctx, sessionID, kind, slot, false)
	}
	delete(c.slots, sessionID)

	if len(tracks) == 0 {
		return nil
	}
	c.notifyStop(ctx, ports.RecorderStopRequest{
		SessionID: sessionID,
		StoppedAt: time.Now(),
		Tracks:    tracks,
	})
	return nil
}

// Active lists the live slots for a session.
func (c *RecordingController) Active(sessionID domain.SessionID) []ports.RecordingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ports.RecordingStatus
	for kind, slot := range c.slots[sessionID] {
		if slot.state == ports.RecordingActive {
			out = append(out, statusOf(kind, slot))
		}
	}
	return out
}

// teardownSlotLocked closes the bridge resources and removes the slot.
// When notify is set it also tells the recording service about this
// single track; callers aggregating several tracks notify themselves.
func (c *RecordingController) teardownSlotLocked(ctx context.Context, sessionID domain.SessionID, kind domain.RecordKind, slot *recordingSlot, notify bool) {
	slot.state = ports.RecordingStopping
	c.closeQuietly(slot.transport, slot.consumer, sessionID, kind)
	c.clearSlotLocked(sessionID, kind)

	if notify {
		c.notifyStop(ctx, ports.RecorderStopRequest{
			SessionID: sessionID,
			Kind:      kind,
			StoppedAt: time.Now(),
		})
	}
	c.metrics.RecordingStopped(kind)
	c.log.Infow("recording stopped", "session_id", sessionID, "kind", kind)
}

func (c *RecordingController) notifyStop(ctx context.Context, req ports.RecorderStopRequest) {
	callCtx, cancel := context.WithTimeout(ctxOrBackground(ctx), c.timeout)
	defer cancel()
	started := time.Now()
	err := c.recorder.Stop(callCtx, req)
	c.metrics.RecorderRequest("stop", time.Since(started), err)
	if err != nil {
		c.log.Warnw("recorder stop notification failed",
			"session_id", req.SessionID, "kind", req.Kind, "error", err)
	}
}

// closeQuietly closes bridge resources, logging failures. Consumer
// first so the transport never drops packets mid-close.
func (c *RecordingController) closeQuietly(transport ports.PlainTransport, consumer ports.Consumer, sessionID domain.SessionID, kind domain.RecordKind) {
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			c.log.Warnw("failed to close bridge consumer", "session_id", sessionID, "kind", kind, "error", err)
		}
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			c.log.Warnw("failed to close bridge transport", "session_id", sessionID, "kind", kind, "error", err)
		}
	}
}

func (c *RecordingController) slot(sessionID domain.SessionID, kind domain.RecordKind) *recordingSlot {
	return c.slots[sessionID][kind]
}

func (c *RecordingController) setSlotLocked(sessionID domain.SessionID, kind domain.RecordKind, slot *recordingSlot) {
	kinds, ok := c.slots[sessionID]
	if !ok {
		kinds = make(map[domain.RecordKind]*recordingSlot)
		c.slots[sessionID] = kinds
	}
	kinds[kind] = slot
}

func (c *RecordingController) clearSlotLocked(sessionID domain.SessionID, kind domain.RecordKind) {
	if kinds, ok := c.slots[sessionID]; ok {
		delete(kinds, kind)
		if len(kinds) == 0 {
			delete(c.slots, sessionID)
		}
	}
}

func statusOf(kind domain.RecordKind, slot *recordingSlot) ports.RecordingStatus {
	return ports.RecordingStatus{Kind: kind, State: slot.state, StartedAt: slot.startedAt}
}

// mediaKindOf maps a recording slot back to the track kind it captures.
func mediaKindOf(kind domain.RecordKind) domain.MediaKind {
	if kind == domain.RecordAudio {
		return domain.MediaAudio
	}
	return domain.MediaVideo
}

// sourceOf maps a recording slot to the producer source that feeds it.
func sourceOf(kind domain.RecordKind) domain.MediaSource {
	switch kind {
	case domain.RecordAudio:
		return domain.SourceMic
	case domain.RecordScreen:
		return domain.SourceScreen
	default:
		return domain.SourceCamera
	}
}

// codecName strips the mime prefix: "audio/opus" -> "opus".
func codecName(mimeType string) string {
	if i := strings.IndexByte(mimeType, '/'); i >= 0 {
		return mimeType[i+1:]
	}
	return mimeType
}
