package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const maxTxRetries = 8

var (
	errKeyNotFound = errors.New("key not found")
	errContended   = errors.New("too many concurrent writers")
)

// RedisClient stores JSON documents under prefixed keys.
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
	prefix string
}

func NewRedisClient(addr, password string, db int, prefix string) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %v", addr, err)
	}

	return &RedisClient{
		client: rdb,
		ctx:    ctx,
		prefix: prefix,
	}, nil
}

func (r *RedisClient) generateKey(keys ...string) string {
	return strings.Join(append([]string{r.prefix}, keys...), ":")
}

func (r *RedisClient) Get(key string, dest interface{}) error {
	data, err := r.client.Get(r.ctx, key).Bytes()
	if err == redis.Nil {
		return fmt.Errorf("%w: %s", errKeyNotFound, key)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (r *RedisClient) Del(key string) error {
	return r.client.Del(r.ctx, key).Err()
}

// UpdateJSON is an optimistic read-modify-write of one key. apply receives
// the stored document (nil when the key is absent) and returns the value to
// store, or nil to delete the key. An error from apply aborts without writing.
// apply runs again when another writer touched the key in between.
func (r *RedisClient) UpdateJSON(key string, ttl time.Duration, apply func(raw []byte) (interface{}, error)) error {
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(r.ctx, key).Bytes()
		if err == redis.Nil {
			raw = nil
		} else if err != nil {
			return err
		}

		next, err := apply(raw)
		if err != nil {
			return err
		}

		var payload []byte
		if next != nil {
			if payload, err = json.Marshal(next); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(r.ctx, func(pipe redis.Pipeliner) error {
			if payload == nil {
				pipe.Del(r.ctx, key)
			} else {
				pipe.Set(r.ctx, key, payload, ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(r.ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("%w on %s", errContended, key)
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
