package storage

import (
	"context"
	"time"

	redisx "HProject/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: helpdesk:presence:<user>
// value 是 gateway_id，TTL 控制在线有效期，网关心跳续期
func presenceKey(user string) string { return "helpdesk:presence:" + user }

var ErrRedisNotReady = errors.New("redis not initialized")

// PresenceOnline sets the user as online and renews the TTL
func PresenceOnline(ctx context.Context, user, gatewayID string, ttl time.Duration) error {
	rdb := redisx.GetRedis()
	if rdb == nil {
		return ErrRedisNotReady
	}
	return rdb.Set(ctx, presenceKey(user), gatewayID, ttl).Err()
}

// PresenceOffline actively sets the user offline (deletes the key)
func PresenceOffline(ctx context.Context, user string) error {
	rdb := redisx.GetRedis()
	if rdb == nil {
		return ErrRedisNotReady
	}
	return rdb.Del(ctx, presenceKey(user)).Err()
}

// PresenceLookup checks whether the user is online
func PresenceLookup(ctx context.Context, user string) (gatewayID string, online bool, err error) {
	rdb := redisx.GetRedis()
	if rdb == nil {
		return "", false, ErrRedisNotReady
	}
	val, err := rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
