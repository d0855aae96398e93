package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/edu-portal/portal-identity/internal/domain"
)

const (
	sessionKeyPrefix    = "session:"
	accessFPKeyPrefix   = "fp:access:"
	refreshFPKeyPrefix  = "fp:refresh:"
	subjectSetKeyPrefix = "subject:"
	subjectSetKeySuffix = ":sessions"
)

// rotateScript performs the rotate-on-use compare-and-swap atomically inside
// Redis. It replaces the stored fingerprints only while the stored refresh
// fingerprint still equals the presented one; a concurrent rotation that got
// there first makes the compare fail. The superseded refresh fingerprint key
// stays mapped to the session until its natural expiry so a replayed token is
// recognized as already rotated rather than unknown.
var rotateScript = redis.NewScript(`
local session_key = KEYS[1]
local presented = ARGV[1]
local new_access_fp = ARGV[2]
local new_refresh_fp = ARGV[3]
local new_access_exp = ARGV[4]
local new_refresh_exp = ARGV[5]
local access_prefix = ARGV[6]
local refresh_prefix = ARGV[7]
local session_id = ARGV[8]

if redis.call('EXISTS', session_key) == 0 then
  return 'not_found'
end
if redis.call('HGET', session_key, 'active') ~= '1' then
  return 'not_found'
end
local current = redis.call('HGET', session_key, 'refresh_fp')
if current ~= presented then
  return 'already_rotated'
end

local old_access_fp = redis.call('HGET', session_key, 'access_fp')
redis.call('DEL', access_prefix .. old_access_fp)

redis.call('HSET', session_key,
  'access_fp', new_access_fp,
  'refresh_fp', new_refresh_fp,
  'access_exp', new_access_exp,
  'refresh_exp', new_refresh_exp)
redis.call('EXPIREAT', session_key, new_refresh_exp)

redis.call('SET', access_prefix .. new_access_fp, session_id)
redis.call('EXPIREAT', access_prefix .. new_access_fp, new_access_exp)
redis.call('SET', refresh_prefix .. new_refresh_fp, session_id)
redis.call('EXPIREAT', refresh_prefix .. new_refresh_fp, new_refresh_exp)
return 'ok'
`)

// RedisLedger implements SessionLedger on top of Redis. Each session is a
// hash plus fingerprint lookup keys, all bounded by TTLs derived from the
// refresh expiry.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger wraps the provided client.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

// Create opens a new session record. Expiries must be strictly in the
// future.
func (l *RedisLedger) Create(ctx context.Context, params CreateParams) (*domain.Session, error) {
	now := time.Now()
	if !params.AccessExpiresAt.After(now) || !params.RefreshExpiresAt.After(now) {
		return nil, ErrInvalidExpiry
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	session := &domain.Session{
		ID:                 sessionID,
		SubjectID:          params.SubjectID,
		AccessFingerprint:  params.AccessFingerprint,
		RefreshFingerprint: params.RefreshFingerprint,
		IPAddress:          params.IPAddress,
		UserAgent:          params.UserAgent,
		AccessExpiresAt:    params.AccessExpiresAt,
		RefreshExpiresAt:   params.RefreshExpiresAt,
		Active:             true,
		CreatedAt:          now,
	}

	pipe := l.client.TxPipeline()
	sessionKey := sessionKeyPrefix + session.ID
	pipe.HSet(ctx, sessionKey, map[string]interface{}{
		"subject_id":  session.SubjectID,
		"access_fp":   session.AccessFingerprint,
		"refresh_fp":  session.RefreshFingerprint,
		"ip":          session.IPAddress,
		"user_agent":  session.UserAgent,
		"access_exp":  session.AccessExpiresAt.Unix(),
		"refresh_exp": session.RefreshExpiresAt.Unix(),
		"active":      "1",
		"created_at":  session.CreatedAt.Unix(),
	})
	pipe.ExpireAt(ctx, sessionKey, session.RefreshExpiresAt)
	pipe.Set(ctx, accessFPKeyPrefix+session.AccessFingerprint, session.ID, 0)
	pipe.ExpireAt(ctx, accessFPKeyPrefix+session.AccessFingerprint, session.AccessExpiresAt)
	pipe.Set(ctx, refreshFPKeyPrefix+session.RefreshFingerprint, session.ID, 0)
	pipe.ExpireAt(ctx, refreshFPKeyPrefix+session.RefreshFingerprint, session.RefreshExpiresAt)
	pipe.SAdd(ctx, subjectSetKey(session.SubjectID), session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// FindByAccessFingerprint resolves an active, unexpired session by access
// token fingerprint.
func (l *RedisLedger) FindByAccessFingerprint(ctx context.Context, fingerprint string) (*domain.Session, error) {
	session, err := l.findByFingerprintKey(ctx, accessFPKeyPrefix+fingerprint)
	if err != nil {
		return nil, err
	}
	if session.AccessExpired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// FindByRefreshFingerprint resolves an active, unexpired session by refresh
// token fingerprint.
func (l *RedisLedger) FindByRefreshFingerprint(ctx context.Context, fingerprint string) (*domain.Session, error) {
	session, err := l.findByFingerprintKey(ctx, refreshFPKeyPrefix+fingerprint)
	if err != nil {
		return nil, err
	}
	if session.RefreshExpired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (l *RedisLedger) findByFingerprintKey(ctx context.Context, key string) (*domain.Session, error) {
	sessionID, err := l.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup fingerprint: %w", err)
	}
	session, err := l.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Active {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Rotate atomically replaces the session's fingerprints and expiries. Exactly
// one of any set of concurrent callers presenting the same stale refresh
// fingerprint succeeds; the rest observe ErrAlreadyRotated.
func (l *RedisLedger) Rotate(ctx context.Context, sessionID string, params RotateParams) (*domain.Session, error) {
	result, err := rotateScript.Run(ctx, l.client,
		[]string{sessionKeyPrefix + sessionID},
		params.PresentedRefreshFingerprint,
		params.NewAccessFingerprint,
		params.NewRefreshFingerprint,
		strconv.FormatInt(params.NewAccessExpiresAt.Unix(), 10),
		strconv.FormatInt(params.NewRefreshExpiresAt.Unix(), 10),
		accessFPKeyPrefix,
		refreshFPKeyPrefix,
		sessionID,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	switch result {
	case "ok":
		return l.loadSession(ctx, sessionID)
	case "already_rotated":
		return nil, ErrAlreadyRotated
	default:
		return nil, ErrSessionNotFound
	}
}

// Deactivate marks a session revoked and drops its fingerprint lookups.
// Deactivating an unknown or already-inactive session is not an error.
func (l *RedisLedger) Deactivate(ctx context.Context, sessionID string) error {
	fields, err := l.client.HGetAll(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	if len(fields) == 0 {
		return nil
	}

	pipe := l.client.TxPipeline()
	pipe.HSet(ctx, sessionKeyPrefix+sessionID, "active", "0")
	if fp := fields["access_fp"]; fp != "" {
		pipe.Del(ctx, accessFPKeyPrefix+fp)
	}
	if fp := fields["refresh_fp"]; fp != "" {
		pipe.Del(ctx, refreshFPKeyPrefix+fp)
	}
	if subjectID := fields["subject_id"]; subjectID != "" {
		pipe.SRem(ctx, subjectSetKey(subjectID), sessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

// DeactivateAll revokes every session belonging to the subject.
func (l *RedisLedger) DeactivateAll(ctx context.Context, subjectID string) error {
	sessionIDs, err := l.client.SMembers(ctx, subjectSetKey(subjectID)).Result()
	if err != nil {
		return fmt.Errorf("list subject sessions: %w", err)
	}
	for _, sessionID := range sessionIDs {
		if err := l.Deactivate(ctx, sessionID); err != nil {
			return err
		}
	}
	return l.client.Del(ctx, subjectSetKey(subjectID)).Err()
}

// SweepExpired removes sessions past their refresh expiry regardless of the
// active flag. Redis TTLs cover the common case; the sweep handles rows whose
// clocks drifted or that were deactivated without expiring.
func (l *RedisLedger) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now().Unix()
	removed := 0
	var cursor uint64
	for {
		keys, next, err := l.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("scan sessions: %w", err)
		}
		for _, key := range keys {
			fields, err := l.client.HGetAll(ctx, key).Result()
			if err != nil || len(fields) == 0 {
				continue
			}
			refreshExp, err := strconv.ParseInt(fields["refresh_exp"], 10, 64)
			if err != nil || refreshExp > now {
				continue
			}
			sessionID := key[len(sessionKeyPrefix):]
			pipe := l.client.TxPipeline()
			if fp := fields["access_fp"]; fp != "" {
				pipe.Del(ctx, accessFPKeyPrefix+fp)
			}
			if fp := fields["refresh_fp"]; fp != "" {
				pipe.Del(ctx, refreshFPKeyPrefix+fp)
			}
			if subjectID := fields["subject_id"]; subjectID != "" {
				pipe.SRem(ctx, subjectSetKey(subjectID), sessionID)
			}
			pipe.Del(ctx, key)
			if _, err := pipe.Exec(ctx); err != nil {
				return removed, fmt.Errorf("sweep session %s: %w", sessionID, err)
			}
			removed++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

func (l *RedisLedger) loadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	fields, err := l.client.HGetAll(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return sessionFromFields(sessionID, fields)
}

func sessionFromFields(sessionID string, fields map[string]string) (*domain.Session, error) {
	accessExp, err := strconv.ParseInt(fields["access_exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse access expiry: %w", err)
	}
	refreshExp, err := strconv.ParseInt(fields["refresh_exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse refresh expiry: %w", err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse created at: %w", err)
	}
	return &domain.Session{
		ID:                 sessionID,
		SubjectID:          fields["subject_id"],
		AccessFingerprint:  fields["access_fp"],
		RefreshFingerprint: fields["refresh_fp"],
		IPAddress:          fields["ip"],
		UserAgent:          fields["user_agent"],
		AccessExpiresAt:    time.Unix(accessExp, 0),
		RefreshExpiresAt:   time.Unix(refreshExp, 0),
		Active:             fields["active"] == "1",
		CreatedAt:          time.Unix(createdAt, 0),
	}, nil
}

func subjectSetKey(subjectID string) string {
	return subjectSetKeyPrefix + subjectID + subjectSetKeySuffix
}
