package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRedisChannel = "attendance:changes"
	redisKeyPrefix      = "attendance:doc:"
)

// RedisBackend keeps documents as plain string keys and announces every
// write on a pub/sub channel.
type RedisBackend struct {
	client  *redis.Client
	channel string
	log     logrus.FieldLogger
}

type redisChange struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
	Value  []byte `json:"value"`
}

func NewRedisBackend(client *redis.Client, channel string, log logrus.FieldLogger) *RedisBackend {
	if channel == "" {
		channel = DefaultRedisChannel
	}

	return &RedisBackend{
		client:  client,
		channel: channel,
		log:     log,
	}
}

func (r *RedisBackend) Load(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (r *RedisBackend) Save(ctx context.Context, key, origin string, value []byte) error {
	payload, err := encodeRedisChange(Change{Key: key, Origin: origin, Value: value})
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+key, value, 0)
	pipe.Publish(ctx, r.channel, payload)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisBackend) Watch(ctx context.Context, origin string) (<-chan Change, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				c, err := decodeRedisChange(msg.Payload)
				if err != nil {
					r.log.WithError(err).Warn("malformed change notification")
					continue
				}
				if c.Origin == origin {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func encodeRedisChange(c Change) (string, error) {
	raw, err := json.Marshal(redisChange(c))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeRedisChange(payload string) (Change, error) {
	var rc redisChange
	if err := json.Unmarshal([]byte(payload), &rc); err != nil {
		return Change{}, err
	}
	if rc.Key == "" {
		return Change{}, errors.New("change notification has no key")
	}
	return Change(rc), nil
}
