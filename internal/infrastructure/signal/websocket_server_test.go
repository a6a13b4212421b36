package signal

import (
	"net/http/httptest"
	"testing"
	"time"

	"liveclass/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "signal-test-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(Options{JWTSecret: testSecret}, zap.NewNop())
}

func signToken(t *testing.T, secret string, claims identityClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func instructorClaims(sub string) identityClaims {
	return identityClaims{
		DisplayName: "Ms. Reed",
		Role:        "instructor",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestAuthenticateAcceptsQueryToken(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, testSecret, instructorClaims("teacher-1"))

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	claims, err := s.authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", claims.Subject)
	assert.Equal(t, "Ms. Reed", claims.DisplayName)
	assert.Equal(t, "instructor", claims.Role)
}

func TestAuthenticateAcceptsBearerHeader(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, testSecret, instructorClaims("teacher-1"))

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	claims, err := s.authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", claims.Subject)
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	_, err := s.authenticate(httptest.NewRequest("GET", "/ws", nil))
	assert.Error(t, err)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, "other-secret", instructorClaims("teacher-1"))

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	_, err := s.authenticate(r)
	assert.Error(t, err)
}

func TestAuthenticateRejectsMissingSubject(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, testSecret, identityClaims{
		DisplayName: "nobody",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	_, err := s.authenticate(r)
	assert.Error(t, err)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	s := newTestServer(t)
	claims := instructorClaims("teacher-1")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	token := signToken(t, testSecret, claims)

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	_, err := s.authenticate(r)
	assert.Error(t, err)
}

func TestAuthenticateRejectsMalformedSubject(t *testing.T) {
	s := newTestServer(t)
	claims := instructorClaims("has spaces")
	token := signToken(t, testSecret, claims)

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	_, err := s.authenticate(r)
	assert.Error(t, err)
}

func TestRoleFromClaim(t *testing.T) {
	assert.Equal(t, domain.RoleInstructor, roleFromClaim("instructor"))
	assert.Equal(t, domain.RoleParticipant, roleFromClaim("participant"))
	assert.Equal(t, domain.RoleParticipant, roleFromClaim(""))
	assert.Equal(t, domain.RoleParticipant, roleFromClaim("admin"))
}

func TestNewServerAppliesDefaults(t *testing.T) {
	s := NewServer(Options{JWTSecret: testSecret}, zap.NewNop())
	assert.Equal(t, 30*time.Second, s.opts.PingInterval)
	assert.Equal(t, 60*time.Second, s.opts.PongTimeout)
	assert.Equal(t, int64(64*1024), s.opts.MaxMessageSize)
	assert.Zero(t, s.ConnectionCount())
}
