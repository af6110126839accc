package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	auth "github.com/goliatone/go-session-auth"
)

const defaultRedisPrefix = "{auth:ses}"

// rotateSessionScript swaps the token pair of a session only when the stored
// hashes still match the pair the caller read.
//
// KEYS[1] session hash, KEYS[2] current access index, KEYS[3] next access index
// ARGV: current access hash, current refresh hash, next access hash,
// next refresh hash, expires at (unix ms), updated at (unix ns), session id
const rotateSessionScript = `
local access = redis.call("HGET", KEYS[1], "access_hash")
local refresh = redis.call("HGET", KEYS[1], "refresh_hash")
if not access or access ~= ARGV[1] or refresh ~= ARGV[2] then
  return 0
end

redis.call("HSET", KEYS[1],
  "access_hash", ARGV[3],
  "refresh_hash", ARGV[4],
  "expires_at", ARGV[5],
  "updated_at", ARGV[6])
redis.call("PEXPIREAT", KEYS[1], ARGV[5])

redis.call("DEL", KEYS[2])
redis.call("SET", KEYS[3], ARGV[7])
redis.call("PEXPIREAT", KEYS[3], ARGV[5])

return 1
`

var rotateSessionLua = redis.NewScript(rotateSessionScript)

// RedisSessionStore keeps sessions in Redis. Tokens are never stored in
// clear: the session hash holds their sha256 and an index key maps the
// access token hash to the session id. Keys expire with the session.
type RedisSessionStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ auth.SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore returns a session store on client. An empty prefix
// uses "{auth:ses}".
//
// Rotation and creation touch several keys at once, so on Redis Cluster they
// must share a hash slot. A prefix without a hash tag is wrapped in braces.
func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	return &RedisSessionStore{
		redis:  client,
		prefix: hashTagPrefix(prefix),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func hashTagPrefix(prefix string) string {
	if prefix == "" {
		return defaultRedisPrefix
	}
	if open := strings.Index(prefix, "{"); open >= 0 {
		if end := strings.Index(prefix[open+1:], "}"); end > 0 {
			return prefix
		}
	}
	return "{" + prefix + "}"
}

func (s *RedisSessionStore) sessionKey(id string) string {
	return s.prefix + ":id:" + id
}

func (s *RedisSessionStore) accessKey(accessHash string) string {
	return s.prefix + ":atk:" + accessHash
}

func (s *RedisSessionStore) userKey(userID string) string {
	return s.prefix + ":usr:" + userID
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *RedisSessionStore) Create(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) (*auth.Session, error) {
	now := s.now()
	record := &auth.Session{
		ID:           uuid.New(),
		UserID:       userID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt.UTC(),
		CreatedAt:    now,
	}

	id := record.ID.String()
	sessionKey := s.sessionKey(id)
	accessKey := s.accessKey(hashToken(accessToken))

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey,
			"user_id", userID.String(),
			"access_hash", hashToken(accessToken),
			"refresh_hash", hashToken(refreshToken),
			"expires_at", strconv.FormatInt(record.ExpiresAt.UnixMilli(), 10),
			"created_at", strconv.FormatInt(now.UnixNano(), 10),
		)
		pipe.ExpireAt(ctx, sessionKey, record.ExpiresAt)
		pipe.Set(ctx, accessKey, id, 0)
		pipe.ExpireAt(ctx, accessKey, record.ExpiresAt)
		pipe.SAdd(ctx, s.userKey(userID.String()), id)
		return nil
	})
	if err != nil {
		return nil, redisError(err, "redis.sessions.create")
	}

	return record, nil
}

func (s *RedisSessionStore) FindByAccessToken(ctx context.Context, accessToken string) (*auth.Session, error) {
	accessHash := hashToken(accessToken)

	id, err := s.redis.Get(ctx, s.accessKey(accessHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrSessionNotFound
		}
		return nil, redisError(err, "redis.sessions.find_by_access_token")
	}

	fields, err := s.redis.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, redisError(err, "redis.sessions.find_by_access_token")
	}

	if len(fields) == 0 || fields["access_hash"] != accessHash {
		return nil, auth.ErrSessionNotFound
	}

	record, err := decodeSession(id, fields)
	if err != nil {
		return nil, redisError(err, "redis.sessions.decode")
	}
	record.AccessToken = accessToken

	return record, nil
}

func (s *RedisSessionStore) FindByPair(ctx context.Context, accessToken, refreshToken string) (*auth.Session, error) {
	accessHash := hashToken(accessToken)

	id, err := s.redis.Get(ctx, s.accessKey(accessHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrSessionNotFound
		}
		return nil, redisError(err, "redis.sessions.find_by_pair")
	}

	fields, err := s.redis.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, redisError(err, "redis.sessions.find_by_pair")
	}

	if len(fields) == 0 ||
		fields["access_hash"] != accessHash ||
		fields["refresh_hash"] != hashToken(refreshToken) {
		return nil, auth.ErrSessionNotFound
	}

	record, err := decodeSession(id, fields)
	if err != nil {
		return nil, redisError(err, "redis.sessions.decode")
	}
	record.AccessToken = accessToken
	record.RefreshToken = refreshToken

	return record, nil
}

// Rotate runs the compare-and-swap script. Exactly one of several concurrent
// rotations of the same pair succeeds; the rest get ErrSessionConflict.
func (s *RedisSessionStore) Rotate(ctx context.Context, current *auth.Session, accessToken, refreshToken string, expiresAt time.Time) (*auth.Session, error) {
	now := s.now()
	rotated := *current
	rotated.AccessToken = accessToken
	rotated.RefreshToken = refreshToken
	rotated.ExpiresAt = expiresAt.UTC()
	rotated.UpdatedAt = &now

	id := current.ID.String()
	keys := []string{
		s.sessionKey(id),
		s.accessKey(hashToken(current.AccessToken)),
		s.accessKey(hashToken(accessToken)),
	}

	swapped, err := rotateSessionLua.Run(ctx, s.redis, keys,
		hashToken(current.AccessToken),
		hashToken(current.RefreshToken),
		hashToken(accessToken),
		hashToken(refreshToken),
		strconv.FormatInt(rotated.ExpiresAt.UnixMilli(), 10),
		strconv.FormatInt(now.UnixNano(), 10),
		id,
	).Int64()
	if err != nil {
		return nil, redisError(err, "redis.sessions.rotate")
	}

	if swapped != 1 {
		return nil, auth.ErrSessionConflict
	}

	return &rotated, nil
}

func (s *RedisSessionStore) DeleteByAccessToken(ctx context.Context, accessToken string) error {
	accessKey := s.accessKey(hashToken(accessToken))

	id, err := s.redis.Get(ctx, accessKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return redisError(err, "redis.sessions.delete_by_access_token")
	}

	userID, err := s.redis.HGet(ctx, s.sessionKey(id), "user_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return redisError(err, "redis.sessions.delete_by_access_token")
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(id), accessKey)
		if userID != "" {
			pipe.SRem(ctx, s.userKey(userID), id)
		}
		return nil
	})
	return redisError(err, "redis.sessions.delete_by_access_token")
}

func (s *RedisSessionStore) DeleteByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	userKey := s.userKey(userID.String())

	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, redisError(err, "redis.sessions.delete_by_user_id")
	}

	var deleted int64
	for _, id := range ids {
		ok, err := s.deleteSession(ctx, id, userKey)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}

	if err := s.redis.Del(ctx, userKey).Err(); err != nil {
		return deleted, redisError(err, "redis.sessions.delete_by_user_id")
	}

	return deleted, nil
}

// DeleteExpired walks the per user indexes and drops sessions that expired at
// now, along with index entries whose session key Redis already evicted.
// Only sessions still present in Redis are counted.
func (s *RedisSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var (
		deleted int64
		cursor  uint64
		cutoff  = now.UTC().UnixMilli()
	)

	for {
		userKeys, next, err := s.redis.Scan(ctx, cursor, s.userKey("*"), 100).Result()
		if err != nil {
			return deleted, redisError(err, "redis.sessions.delete_expired")
		}

		for _, userKey := range userKeys {
			ids, err := s.redis.SMembers(ctx, userKey).Result()
			if err != nil {
				return deleted, redisError(err, "redis.sessions.delete_expired")
			}

			for _, id := range ids {
				raw, err := s.redis.HGet(ctx, s.sessionKey(id), "expires_at").Result()
				if errors.Is(err, redis.Nil) {
					if err := s.redis.SRem(ctx, userKey, id).Err(); err != nil {
						return deleted, redisError(err, "redis.sessions.delete_expired")
					}
					continue
				}
				if err != nil {
					return deleted, redisError(err, "redis.sessions.delete_expired")
				}

				expiresAt, _ := strconv.ParseInt(raw, 10, 64)
				if expiresAt > cutoff {
					continue
				}

				ok, err := s.deleteSession(ctx, id, userKey)
				if err != nil {
					return deleted, err
				}
				if ok {
					deleted++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

func (s *RedisSessionStore) deleteSession(ctx context.Context, id, userKey string) (bool, error) {
	sessionKey := s.sessionKey(id)

	accessHash, err := s.redis.HGet(ctx, sessionKey, "access_hash").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, redisError(err, "redis.sessions.delete")
	}

	var removed *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, sessionKey)
		if accessHash != "" {
			pipe.Del(ctx, s.accessKey(accessHash))
		}
		pipe.SRem(ctx, userKey, id)
		return nil
	})
	if err != nil {
		return false, redisError(err, "redis.sessions.delete")
	}

	return removed.Val() == 1, nil
}

func decodeSession(id string, fields map[string]string) (*auth.Session, error) {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		return nil, err
	}

	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, err
	}

	record := &auth.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.UnixMilli(expiresAt).UTC(),
	}

	if v, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		record.CreatedAt = time.Unix(0, v).UTC()
	}

	if v, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		updated := time.Unix(0, v).UTC()
		record.UpdatedAt = &updated
	}

	return record, nil
}

// redisError tags store failures so the auth layer reports them as
// persistence errors and never as credential problems.
func redisError(err error, op string) error {
	if err == nil {
		return nil
	}

	rich := auth.ErrPersistence.Clone()
	rich.Source = err
	return rich.WithMetadata(map[string]any{
		"operation": op,
		"error":     err.Error(),
		"timeout":   errors.Is(err, context.DeadlineExceeded),
	})
}
