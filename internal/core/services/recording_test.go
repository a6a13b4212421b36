package services

import (
	"context"
	"errors"
	"testing"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRecordingSession(t *testing.T) *env {
	t.Helper()
	e := newEnv(t, 1)
	e.join(t, "s1", domain.KindClassroom, "teacher", "conn-t", "Ms. Reed", domain.RoleInstructor)
	return e
}

func TestRecordingStartIsIdempotentForAudio(t *testing.T) {
	e := setupRecordingSession(t)
	ctx := context.Background()
	e.produce(t, "s1", "teacher", domain.MediaAudio, domain.SourceMic)

	// Produce already started the bridge once.
	require.Equal(t, 1, e.recorder.startCount())
	first := e.recording.Active("s1")
	require.Len(t, first, 1)

	status, err := e.recording.Start(ctx, "s1", domain.RecordAudio)
	require.NoError(t, err)
	assert.Equal(t, first[0].StartedAt, status.StartedAt)
	assert.Equal(t, 1, e.recorder.startCount(), "second start must not rebuild the bridge")
}

func TestRecordingScreenStartReplacesActiveBridge(t *testing.T) {
	e := setupRecordingSession(t)
	ctx := context.Background()
	e.produce(t, "s1", "teacher", domain.MediaVideo, domain.SourceScreen)

	require.Equal(t, 1, e.recorder.startCount())

	_, err := e.recording.Start(ctx, "s1", domain.RecordScreen)
	require.NoError(t, err)

	assert.Equal(t, 2, e.recorder.startCount())
	stops := e.recorder.stopRequests()
	require.Len(t, stops, 1)
	assert.Equal(t, domain.RecordScreen, stops[0].Kind)
	require.Len(t, e.recording.Active("s1"), 1)
}

func TestRecordingStartFailureResolvesToIdle(t *testing.T) {
	e := setupRecordingSession(t)
	ctx := context.Background()

	e.recorder.setStartErr(errors.New("recorder down"))
	e.produce(t, "s1", "teacher", domain.MediaAudio, domain.SourceMic)

	// Produce swallows the failure; the slot must not be stuck.
	assert.Empty(t, e.recording.Active("s1"))

	_, err := e.recording.Start(ctx, "s1", domain.RecordAudio)
	require.Error(t, err)
	assert.Empty(t, e.recording.Active("s1"))

	// Once the recorder recovers, start succeeds.
	e.recorder.setStartErr(nil)
	status, err := e.recording.Start(ctx, "s1", domain.RecordAudio)
	require.NoError(t, err)
	assert.Equal(t, ports.RecordingActive, status.State)
}

func TestRecordingStartWithoutInstructorProducer(t *testing.T) {
	e := setupRecordingSession(t)

	_, err := e.recording.Start(context.Background(), "s1", domain.RecordAudio)
	assert.ErrorIs(t, err, domain.ErrProducerNotFound)
}

func TestRecordingStartWithoutInstructor(t *testing.T) {
	e := newEnv(t, 1)
	e.join(t, "s1", domain.KindClassroom, "alice", "conn-a", "Alice", domain.RoleParticipant)

	_, err := e.recording.Start(context.Background(), "s1", domain.RecordAudio)
	assert.ErrorIs(t, err, domain.ErrNoInstructor)
}

func TestRecordingStartSendsCodecDescription(t *testing.T) {
	e := setupRecordingSession(t)
	e.produce(t, "s1", "teacher", domain.MediaAudio, domain.SourceMic)

	require.Equal(t, 1, e.recorder.startCount())
	req := e.recorder.starts[0]
	assert.Equal(t, domain.SessionID("s1"), req.SessionID)
	assert.Equal(t, domain.RecordAudio, req.Kind)
	assert.Equal(t, "opus", req.CodecName)
	assert.Equal(t, uint8(111), req.CodecPayloadType)
	assert.Equal(t, uint32(48000), req.ClockRate)
	assert.Equal(t, uint16(2), req.Channels)
	assert.NotEmpty(t, req.Endpoint.IP)
}

func TestRecordingStopAggregatesTracks(t *testing.T) {
	e := setupRecordingSession(t)
	ctx := context.Background()
	e.produce(t, "s1", "teacher", domain.MediaAudio, domain.SourceMic)
	e.produce(t, "s1", "teacher", domain.MediaVideo, domain.SourceCamera)
	require.Len(t, e.recording.Active("s1"), 2)

	require.NoError(t, e.recording.Stop(ctx, "s1"))

	assert.Empty(t, e.recording.Active("s1"))
	stops := e.recorder.stopRequests()
	require.Len(t, stops, 1)
	assert.ElementsMatch(t, []domain.RecordKind{domain.RecordAudio, domain.RecordVideo}, stops[0].Tracks)
}

func TestRecordingStopKindIsNoOpWhenIdle(t *testing.T) {
	e := setupRecordingSession(t)
	require.NoError(t, e.recording.StopKind(context.Background(), "s1", domain.RecordVideo))
	assert.Empty(t, e.recorder.stopRequests())
}

func TestRecordingStopWithoutSlotsIsNoOp(t *testing.T) {
	e := setupRecordingSession(t)
	require.NoError(t, e.recording.Stop(context.Background(), "s1"))
	assert.Empty(t, e.recorder.stopRequests())
}

func TestVideoBridgeRequestsKeyframe(t *testing.T) {
	e := setupRecordingSession(t)
	e.produce(t, "s1", "teacher", domain.MediaVideo, domain.SourceCamera)

	// The active slot's consumer saw exactly one keyframe request.
	e.recording.mu.Lock()
	slot := e.recording.slots["s1"][domain.RecordVideo]
	e.recording.mu.Unlock()
	require.NotNil(t, slot)
	consumer := slot.consumer.(*fakeConsumer)
	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	assert.Equal(t, 1, consumer.keyframes)
	assert.False(t, consumer.paused)
}

func TestInstructorDepartureDuringStartLeavesNoActiveRecording(t *testing.T) {
	e := setupRecordingSession(t)
	ctx := context.Background()

	gate := e.recorder.blockStarts()

	done := make(chan error, 1)
	go func() {
		tp, err := e.media.CreateTransport(ctx, "s1", "teacher", domain.DirectionBoth)
		if err != nil {
			done <- err
			return
		}
		_, err = e.media.Produce(ctx, "s1", "teacher", tp.TransportID,
			domain.MediaAudio, produceParams(), domain.SourceMic)
		done <- err
	}()

	// The bridge build is parked inside the recorder call when the
	// instructor drops out.
	<-gate.arrived
	require.NoError(t, e.registry.Leave(ctx, "s1", "teacher"))
	close(gate.release)
	require.NoError(t, <-done)

	assert.Empty(t, e.recording.Active("s1"))

	stops := e.recorder.stopRequests()
	require.Len(t, stops, 1)
	assert.Equal(t, domain.RecordAudio, stops[0].Kind)
}

func TestStopKindDuringStartDiscardsTheBridge(t *testing.T) {
	e := setupRecordingSession(t)
	ctx := context.Background()
	e.produce(t, "s1", "teacher", domain.MediaAudio, domain.SourceMic)
	require.NoError(t, e.recording.StopKind(ctx, "s1", domain.RecordAudio))
	require.Empty(t, e.recording.Active("s1"))

	gate := e.recorder.blockStarts()
	done := make(chan error, 1)
	go func() {
		_, err := e.recording.Start(ctx, "s1", domain.RecordAudio)
		done <- err
	}()

	<-gate.arrived
	require.NoError(t, e.recording.StopKind(ctx, "s1", domain.RecordAudio))
	close(gate.release)

	require.Error(t, <-done)
	assert.Empty(t, e.recording.Active("s1"))
}
