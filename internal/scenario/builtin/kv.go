package builtin

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wesleyorama2/swarm/internal/scenario"
)

var errNoTarget = errors.New("no target connector configured")

// KVSetGet writes a random key and reads it back.
type KVSetGet struct {
	scenario.Base
	sc       *scenario.Context
	client   *redis.Client
	keyspace int
	prefix   string
	value    string
}

// NewKVSetGet creates a kv instance.
func NewKVSetGet(sc *scenario.Context) (scenario.Instance, error) {
	keyspace := sc.Int("keyspace")
	if keyspace <= 0 {
		return nil, fmt.Errorf("keyspace must be positive, got %d", keyspace)
	}
	return &KVSetGet{
		sc:       sc,
		keyspace: keyspace,
		prefix:   sc.String("prefix"),
		value:    strings.Repeat("x", max(sc.Int("valueSize"), 1)),
	}, nil
}

func dial(ctx context.Context, sc *scenario.Context) (*redis.Client, error) {
	if sc.Services.Target == nil {
		return nil, errNoTarget
	}
	return sc.Services.Target.Dial(ctx)
}

func release(sc *scenario.Context, client *redis.Client) error {
	if sc.Services.Target == nil {
		return nil
	}
	return sc.Services.Target.Release(client)
}

func (k *KVSetGet) Setup(ctx context.Context) error {
	client, err := dial(ctx, k.sc)
	if err != nil {
		return err
	}
	k.client = client
	return nil
}

func (k *KVSetGet) Teardown(context.Context) error {
	if k.client == nil {
		return nil
	}
	return release(k.sc, k.client)
}

// GlobalTeardown removes every key under the prefix.
func (k *KVSetGet) GlobalTeardown(ctx context.Context) error {
	client, err := dial(ctx, k.sc)
	if err != nil {
		return err
	}
	defer release(k.sc, client)
	return deleteByPrefix(ctx, client, k.prefix)
}

func (k *KVSetGet) Execute(ctx context.Context) error {
	if k.client == nil {
		return errNoTarget
	}
	key := fmt.Sprintf("%s:%d", k.prefix, rand.IntN(k.keyspace))
	rec := k.sc.Services.Recorder

	if err := scenario.Measure(rec, "kv.set", func() error {
		return k.client.Set(ctx, key, k.value, 0).Err()
	}); err != nil {
		return &scenario.WriteConcernError{Scenario: KindKVSetGet, Op: "set", Err: err}
	}
	return scenario.Measure(rec, "kv.get", func() error {
		return k.client.Get(ctx, key).Err()
	})
}

func deleteByPrefix(ctx context.Context, client *redis.Client, prefix string) error {
	iter := client.Scan(ctx, 0, prefix+":*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 500 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return client.Del(ctx, keys...).Err()
	}
	return nil
}
