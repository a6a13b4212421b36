package presence

import (
	"context"
	"fmt"
	"time"

	"liveclass/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPresence mirrors session membership into redis so the CRUD
// backend can observe liveness without calling into the orchestrator.
// Keys carry a TTL and expire on their own if the orchestrator dies.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.SugaredLogger
}

// NewRedisPresence connects the presence mirror.
func NewRedisPresence(addr, password string, db int, ttl time.Duration, log *zap.Logger) *RedisPresence {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisPresence{client: client, ttl: ttl, log: log.Sugar()}
}

// Ping verifies connectivity at startup.
func (p *RedisPresence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the redis connection pool.
func (p *RedisPresence) Close() error {
	return p.client.Close()
}

func (p *RedisPresence) SessionStarted(ctx context.Context, sessionID domain.SessionID, kind domain.SessionKind) error {
	return p.client.Set(ctx, sessionKey(sessionID), string(kind), p.ttl).Err()
}

func (p *RedisPresence) SessionEnded(ctx context.Context, sessionID domain.SessionID) error {
	pipe := p.client.Pipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.Del(ctx, peersKey(sessionID))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresence) PeerJoined(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID, role domain.Role) error {
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, peersKey(sessionID), string(participantID), string(role))
	pipe.Expire(ctx, peersKey(sessionID), p.ttl)
	// Refresh the session key alongside peer churn.
	pipe.Expire(ctx, sessionKey(sessionID), p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresence) PeerLeft(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID) error {
	return p.client.HDel(ctx, peersKey(sessionID), string(participantID)).Err()
}

func sessionKey(id domain.SessionID) string {
	return fmt.Sprintf("liveclass:session:%s", id)
}

func peersKey(id domain.SessionID) string {
	return fmt.Sprintf("liveclass:session:%s:peers", id)
}
