package recorder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startRequest() ports.RecorderStartRequest {
	return ports.RecorderStartRequest{
		SessionID:        "math-101",
		Kind:             "audio",
		StartedAt:        time.Now(),
		Endpoint:         ports.PlainTuple{IP: "10.0.0.1", Port: 40000, RTCPPort: 40001},
		CodecPayloadType: 111,
		CodecName:        "opus",
		ClockRate:        48000,
		Channels:         2,
	}
}

func TestStartReturnsTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/start", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ports.RecorderStartRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "opus", req.CodecName)

		json.NewEncoder(w).Encode(startResponse{
			Success: true,
			Target:  ports.RecorderTarget{IP: "10.0.0.9", Port: 50000, RTCPPort: 50001},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0, zap.NewNop())
	target, err := c.Start(context.Background(), startRequest())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", target.IP)
	assert.Equal(t, 50000, target.Port)
}

func TestStartRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(startResponse{
			Success: true,
			Target:  ports.RecorderTarget{IP: "10.0.0.9", Port: 50000},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 2, zap.NewNop())
	c.retry.InitialDelay = time.Millisecond

	target, err := c.Start(context.Background(), startRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "10.0.0.9", target.IP)
}

func TestStartSurfacesRecorderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(startResponse{Success: false, Error: "disk full"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0, zap.NewNop())
	_, err := c.Start(context.Background(), startRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestStopPostsStopRequest(t *testing.T) {
	var got ports.RecorderStopRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stop", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0, zap.NewNop())
	err := c.Stop(context.Background(), ports.RecorderStopRequest{
		SessionID: "math-101",
		Tracks:    []domain.RecordKind{domain.RecordAudio, domain.RecordVideo},
	})
	require.NoError(t, err)
	assert.Equal(t, "math-101", string(got.SessionID))
	assert.Len(t, got.Tracks, 2)
}

func TestStatusProbesHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0, zap.NewNop())
	assert.NoError(t, c.Status(context.Background()))
}

func TestStatusFailsOnUnhealthyRecorder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0, zap.NewNop())
	assert.Error(t, c.Status(context.Background()))
}
