package services

import (
	"context"
	"sync"
	"testing"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinCreatesSessionOnFirstJoin(t *testing.T) {
	e := newEnv(t, 2)

	result := e.join(t, "math-101", domain.KindClassroom, "teacher", "conn-1", "Ms. Reed", domain.RoleInstructor)

	assert.Equal(t, domain.SessionID("math-101"), result.SessionID)
	assert.False(t, result.Rejoined)
	assert.NotEmpty(t, result.RTPCapabilities.Codecs)
	assert.Empty(t, result.Producers)
	require.Len(t, result.Speakers, 1)
	assert.Equal(t, domain.ParticipantID("teacher"), result.Speakers[0].ParticipantID)

	info, err := e.registry.GetSession(context.Background(), "math-101")
	require.NoError(t, err)
	assert.Equal(t, 1, info.PeerCount)
	assert.Equal(t, domain.KindClassroom, info.Kind)
}

func TestConcurrentJoinsCreateOneSession(t *testing.T) {
	e := newEnv(t, 3)

	const joiners = 20
	var wg sync.WaitGroup
	errs := make([]error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.registry.Join(context.Background(), ports.JoinParams{
				SessionID:     "hist-202",
				Kind:          domain.KindOpenClassroom,
				ParticipantID: domain.ParticipantID(nextID("p")),
				ConnID:        domain.ConnID(nextID("conn")),
				DisplayName:   "student",
				Role:          domain.RoleParticipant,
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	routers := 0
	for _, w := range e.workers {
		routers += w.routerCount()
	}
	assert.Equal(t, 1, routers, "exactly one router despite %d concurrent joins", joiners)

	info, err := e.registry.GetSession(context.Background(), "hist-202")
	require.NoError(t, err)
	assert.Equal(t, joiners, info.PeerCount)
}

func TestRejoinSwapsConnectionAndKeepsMedia(t *testing.T) {
	e := newEnv(t, 1)
	e.join(t, "s1", domain.KindClassroom, "teacher", "conn-old", "T", domain.RoleInstructor)
	e.produce(t, "s1", "teacher", domain.MediaAudio, domain.SourceMic)

	result := e.join(t, "s1", domain.KindClassroom, "teacher", "conn-new", "T", domain.RoleInstructor)
	assert.True(t, result.Rejoined)
	require.Len(t, result.Producers, 1)
	assert.Equal(t, domain.SourceMic, result.Producers[0].Source)

	// The stale connection dropping later must not evict the peer.
	require.NoError(t, e.registry.Disconnect(context.Background(), "conn-old"))
	info, err := e.registry.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, info.PeerCount)
}

func TestDisconnectRemovesPeerOnCurrentConnection(t *testing.T) {
	e := newEnv(t, 1)
	e.join(t, "s1", domain.KindClassroom, "teacher", "conn-t", "T", domain.RoleInstructor)
	e.join(t, "s1", domain.KindClassroom, "alice", "conn-a", "Alice", domain.RoleParticipant)

	require.NoError(t, e.registry.Disconnect(context.Background(), "conn-a"))

	info, err := e.registry.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, info.PeerCount)

	left := e.notifier.byEvent(domain.EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, domain.ParticipantID("alice"), left[0].payload.(domain.ParticipantLeft).ParticipantID)
}

func TestJoinRejectsWhenCallSessionFull(t *testing.T) {
	e := newEnv(t, 1)
	e.join(t, "call-1", domain.KindCall, "a", "conn-a", "A", domain.RoleInstructor)
	e.join(t, "call-1", domain.KindCall, "b", "conn-b", "B", domain.RoleParticipant)

	_, err := e.registry.Join(context.Background(), ports.JoinParams{
		SessionID:     "call-1",
		Kind:          domain.KindCall,
		ParticipantID: "c",
		ConnID:        "conn-c",
		DisplayName:   "C",
		Role:          domain.RoleParticipant,
	})
	assert.ErrorIs(t, err, domain.ErrSessionFull)
}

func TestLeaveClosesEverythingThePeerOwns(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	e.join(t, "s1", domain.KindClassroom, "teacher", "conn-t", "T", domain.RoleInstructor)
	e.join(t, "s1", domain.KindClassroom, "alice", "conn-a", "Alice", domain.RoleParticipant)

	producerID := e.produce(t, "s1", "teacher", domain.MediaAudio, domain.SourceMic)

	// Alice consumes the teacher's audio.
	tp, err := e.media.CreateTransport(ctx, "s1", "alice", domain.DirectionRecv)
	require.NoError(t, err)
	_, err = e.media.Consume(ctx, "s1", "alice", tp.TransportID, producerID,
		ports.RTPCapabilities{Codecs: []ports.CodecInfo{{MimeType: "audio/opus"}}})
	require.NoError(t, err)

	e.notifier.reset()
	require.NoError(t, e.registry.Leave(ctx, "s1", "teacher"))

	closed := e.notifier.byEvent(domain.EventProducerClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, producerID, closed[0].payload.(domain.ProducerClosed).ProducerID)

	// The teacher's producer is no longer listed for late joiners.
	producers, err := e.media.ListProducers(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, producers)
}

func TestLeaveWithPermissionBroadcastsRosterUpdate(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	e.join(t, "s1", domain.KindClassroom, "teacher", "conn-t", "T", domain.RoleInstructor)
	e.join(t, "s1", domain.KindClassroom, "alice", "conn-a", "Alice", domain.RoleParticipant)

	require.NoError(t, e.speak.RequestToSpeak(ctx, "s1", "alice"))
	require.NoError(t, e.speak.Approve(ctx, "s1", "teacher", "alice"))

	e.notifier.reset()
	require.NoError(t, e.registry.Leave(ctx, "s1", "alice"))

	rosters := e.notifier.byEvent(domain.EventRosterUpdated)
	require.Len(t, rosters, 1)
	speakers := rosters[0].payload.(domain.RosterUpdate).Speakers
	require.Len(t, speakers, 1)
	assert.Equal(t, domain.ParticipantID("teacher"), speakers[0].ParticipantID)
}

func TestInstructorDepartureStopsRecordings(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	e.join(t, "s1", domain.KindClassroom, "teacher", "conn-t", "T", domain.RoleInstructor)
	e.produce(t, "s1", "teacher", domain.MediaAudio, domain.SourceMic)

	require.Len(t, e.recording.Active("s1"), 1)

	require.NoError(t, e.registry.Leave(ctx, "s1", "teacher"))

	assert.Empty(t, e.recording.Active("s1"))
	stops := e.recorder.stopRequests()
	require.Len(t, stops, 1)
	assert.Equal(t, []domain.RecordKind{domain.RecordAudio}, stops[0].Tracks)
}

func TestEndSessionRequiresInstructor(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	e.join(t, "s1", domain.KindClassroom, "teacher", "conn-t", "T", domain.RoleInstructor)
	e.join(t, "s1", domain.KindClassroom, "alice", "conn-a", "Alice", domain.RoleParticipant)

	err := e.registry.EndSession(ctx, "s1", "alice")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, e.registry.EndSession(ctx, "s1", "teacher"))
	_, err = e.registry.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEndSessionBroadcastsBeforeTeardown(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	e.join(t, "s1", domain.KindClassroom, "teacher", "conn-t", "T", domain.RoleInstructor)
	e.produce(t, "s1", "teacher", domain.MediaVideo, domain.SourceCamera)

	e.notifier.reset()
	require.NoError(t, e.registry.EndSession(ctx, "s1", "teacher"))

	events := e.notifier.all()
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventSessionEnded, events[0].event)
}

func TestTeardownEndsEverySession(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	e.join(t, "s1", domain.KindClassroom, "t1", "conn-1", "T1", domain.RoleInstructor)
	e.join(t, "s2", domain.KindCall, "t2", "conn-2", "T2", domain.RoleInstructor)

	e.registry.Teardown(ctx)

	assert.Empty(t, e.registry.ListSessions(ctx))
}

func TestForceEndSessionBypassesRoleCheck(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	e.join(t, "s1", domain.KindClassroom, "alice", "conn-a", "Alice", domain.RoleParticipant)

	require.NoError(t, e.registry.ForceEndSession(ctx, "s1"))
	_, err := e.registry.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDisconnectRacedByRejoinKeepsPeer(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()
	e.join(t, "s1", domain.KindClassroom, "teacher", "conn-old", "T", domain.RoleInstructor)
	e.produce(t, "s1", "teacher", domain.MediaAudio, domain.SourceMic)

	sess, err := e.registry.get("s1")
	require.NoError(t, err)

	// The rejoin lands between the disconnect's connection lookup and
	// the removal itself.
	e.join(t, "s1", domain.KindClassroom, "teacher", "conn-new", "T", domain.RoleInstructor)

	err = e.registry.removePeer(ctx, sess, "teacher", "conn-old")
	require.ErrorIs(t, err, errStaleConn)

	info, err := e.registry.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, info.PeerCount)
	assert.Equal(t, 1, info.Producers)
}
