// Package rediscache shares current subscriptions between API instances through redis.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/masomo-billing/core/subscription"
)

const (
	keyPrefix      = "masomo:billing:subscription:"
	maxSetAttempts = 3
)

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ subscription.Cache = (*Cache)(nil)

// entry keeps fields the public JSON form of a Subscription leaves out.
type entry struct {
	Sub     subscription.Subscription `json:"sub"`
	Version int                       `json:"version"`
}

func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Dial connects to redis and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}

func key(studentID string) string {
	return keyPrefix + studentID
}

func (c *Cache) Get(ctx context.Context, studentID string) (subscription.Subscription, bool, error) {
	return decode(c.rdb.Get(ctx, key(studentID)).Bytes())
}

func decode(data []byte, err error) (subscription.Subscription, bool, error) {
	if err != nil {
		if err == redis.Nil {
			return subscription.Subscription{}, false, nil
		}
		return subscription.Subscription{}, false, errors.Wrap(err, "reading cached subscription")
	}

	var e entry
	if err = json.Unmarshal(data, &e); err != nil {
		return subscription.Subscription{}, false, errors.Wrap(err, "decoding cached subscription")
	}
	e.Sub.Version = e.Version
	return e.Sub, true, nil
}

// Set writes sub under WATCH so that a concurrent newer write is never overwritten.
func (c *Cache) Set(ctx context.Context, studentID string, sub subscription.Subscription) error {
	data, err := json.Marshal(entry{Sub: sub, Version: sub.Version})
	if err != nil {
		return errors.Wrap(err, "encoding subscription")
	}

	k := key(studentID)
	setIfNotSuperseded := func(tx *redis.Tx) error {
		cached, ok, err := decode(tx.Get(ctx, k).Bytes())
		if err != nil {
			return err
		}
		if ok && cached.Supersedes(sub) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, c.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		err = c.rdb.Watch(ctx, setIfNotSuperseded, k)
		if err != redis.TxFailedErr {
			return errors.Wrap(err, "caching subscription")
		}
	}
	return errors.Wrap(err, "caching subscription")
}

func (c *Cache) Delete(ctx context.Context, studentID string) error {
	return errors.Wrap(c.rdb.Del(ctx, key(studentID)).Err(), "deleting cached subscription")
}
