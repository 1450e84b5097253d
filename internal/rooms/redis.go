package rooms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "dialogue:room:"

// joinScript admits a member atomically against the capacity.
// Returns -2 for an unknown room, -1 when full, else the member count.
var joinScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -2
end
if redis.call("SISMEMBER", KEYS[2], ARGV[1]) == 1 then
  return redis.call("SCARD", KEYS[2])
end
if redis.call("SCARD", KEYS[2]) >= tonumber(ARGV[2]) then
  return -1
end
redis.call("SADD", KEYS[2], ARGV[1])
return redis.call("SCARD", KEYS[2])
`)

// RedisStore keeps rooms in Redis so several server instances share them
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Connect opens a client and verifies it with PING
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("testing connection: %w", err)
	}
	return client, nil
}

func roomKey(roomID string) string    { return redisKeyPrefix + roomID }
func membersKey(roomID string) string { return redisKeyPrefix + roomID + ":members" }

func (r *RedisStore) Ensure(ctx context.Context, roomID string) (bool, time.Time, error) {
	now := time.Now()
	created, err := r.client.HSetNX(ctx, roomKey(roomID), "created_at", now.UnixMilli()).Result()
	if err != nil {
		return false, time.Time{}, err
	}
	if created {
		return true, now, nil
	}

	raw, err := r.client.HGet(ctx, roomKey(roomID), "created_at").Result()
	if err != nil {
		return false, time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("parse created_at: %w", err)
	}
	return false, time.UnixMilli(ms), nil
}

func (r *RedisStore) Count(ctx context.Context, roomID string) (int, error) {
	exists, err := r.client.Exists(ctx, roomKey(roomID)).Result()
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, ErrRoomNotFound
	}
	n, err := r.client.SCard(ctx, membersKey(roomID)).Result()
	return int(n), err
}

func (r *RedisStore) Join(ctx context.Context, roomID, participant string, capacity int) (int, error) {
	n, err := joinScript.Run(ctx, r.client, []string{roomKey(roomID), membersKey(roomID)}, participant, capacity).Int()
	if err != nil {
		return 0, err
	}
	switch n {
	case -2:
		return 0, ErrRoomNotFound
	case -1:
		return capacity, ErrRoomAtCapacity
	}
	return n, nil
}

func (r *RedisStore) Leave(ctx context.Context, roomID, participant string) (int, error) {
	if err := r.client.SRem(ctx, membersKey(roomID), participant).Err(); err != nil {
		return 0, err
	}
	n, err := r.client.SCard(ctx, membersKey(roomID)).Result()
	return int(n), err
}

func (r *RedisStore) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, membersKey(roomID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

func (r *RedisStore) Delete(ctx context.Context, roomID string) error {
	return r.client.Del(ctx, roomKey(roomID), membersKey(roomID)).Err()
}
