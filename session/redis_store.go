package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	minTTL = time.Second
	// maxModifyAttempts bounds WATCH retries when another writer touches the same key.
	maxModifyAttempts = 16
)

// ErrConflict is returned by RedisStore.Modify when concurrent writers kept winning.
var ErrConflict = errors.New("session modified concurrently")

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// RedisStore is a Redis-backed session store. Each session is a JSON blob whose key TTL
// tracks ExpiresAt; a set per user indexes that user's session ids.
//
// Keys:
//   - <prefix>:s:<sessionID>  session blob
//   - <prefix>:u:<userID>     set of session ids
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store under prefix. A nil now uses time.Now.
func NewRedisStore(rdb redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "sg"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: rdb, prefix: prefix, now: now}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func (s *RedisStore) ttl(sess *Session) time.Duration {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, s.ttl(sess))
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Modify runs fn inside a WATCH/MULTI transaction on the session key. A write by
// another client between the read and EXEC aborts the transaction and the whole
// read-modify-write is retried.
func (s *RedisStore) Modify(ctx context.Context, sessionID string, fn func(*Session) error) (*Session, error) {
	key := s.key(sessionID)
	var (
		result *Session
		// errors that originate outside Redis are returned as is
		localErr error
	)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				localErr = ErrNotFound
				return localErr
			}
			return err
		}
		sess, err := Decode(data)
		if err == nil {
			err = fn(sess)
		}
		var encoded []byte
		if err == nil {
			encoded, err = Encode(sess)
		}
		if err != nil {
			localErr = err
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl(sess))
			return nil
		})
		if err == nil {
			result = sess
		}
		return err
	}

	for attempt := 0; attempt < maxModifyAttempts; attempt++ {
		localErr = nil
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return result, nil
		case localErr != nil:
			return nil, localErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil, ErrConflict
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Decode(data)
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.deleteSessionAndIndex(ctx, sess.UserID, sessionID)
}

func (s *RedisStore) deleteSessionAndIndex(ctx context.Context, userID, sessionID string) (bool, error) {
	existed, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(sessionID), s.userKey(userID)}, sessionID).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// DeleteByUser is not atomic with concurrent creates: a session saved between the index
// read and the delete survives until the next call or its own expiry.
func (s *RedisStore) DeleteByUser(ctx context.Context, userID string) ([]*Session, error) {
	sessions, _, err := s.loadUserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		keys = append(keys, s.key(sess.ID))
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, s.userKey(userID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sortByCreated(sessions)
	return sessions, nil
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	sessions, stale, err := s.loadUserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		members := make([]interface{}, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		if err := s.redis.SRem(ctx, s.userKey(userID), members...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	sortByCreated(sessions)
	return sessions, nil
}

// loadUserSessions resolves the user index, returning live sessions and ids whose blobs
// have already expired out of Redis.
func (s *RedisStore) loadUserSessions(ctx context.Context, userID string) ([]*Session, []string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	var stale []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := Decode([]byte(raw))
		if err != nil {
			stale = append(stale, ids[i])
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, stale, nil
}

// DeleteExpired scans session keys and removes those whose ExpiresAt has passed
// according to the store clock. Redis TTLs normally evict first; this catches blobs kept
// alive by clock skew between processes.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) ([]*Session, error) {
	var (
		removed []*Session
		cursor  uint64
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+":s:*", 200).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(keys) > 0 {
			values, err := s.redis.MGet(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			for _, v := range values {
				raw, ok := v.(string)
				if !ok {
					continue
				}
				sess, err := Decode([]byte(raw))
				if err != nil || !sess.Expired(now) {
					continue
				}
				existed, err := s.deleteSessionAndIndex(ctx, sess.UserID, sess.ID)
				if err != nil {
					return removed, err
				}
				if existed {
					removed = append(removed, sess)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sortByCreated(removed)
	return removed, nil
}

// Ping reports Redis round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
