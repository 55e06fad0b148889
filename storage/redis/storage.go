// Package redis persists kind schemas and entity snapshots in redis, namespaced so several authorities can share one
// instance.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/replicate/codec"
	"pkg.world.dev/world-engine/replicate/storage"
	"pkg.world.dev/world-engine/replicate/types"
)

type Options = redis.Options

type Storage struct {
	Namespace string
	Client    *redis.Client
	Log       zerolog.Logger
}

var (
	_ storage.SchemaStorage   = (*Storage)(nil)
	_ storage.SnapshotStorage = (*Storage)(nil)
)

func NewRedisStorage(options Options, namespace string) *Storage {
	return &Storage{
		Namespace: namespace,
		Client:    redis.NewClient(&options),
		Log:       log.Logger.With().Str("component", "redis").Str("namespace", namespace).Logger(),
	}
}

func (r *Storage) Ping(ctx context.Context) error {
	return eris.Wrap(r.Client.Ping(ctx).Err(), "redis is unreachable")
}

func (r *Storage) Close() error {
	err := r.Client.Close()
	if err != nil {
		return eris.Wrap(err, "")
	}
	return nil
}

/*
	SCHEMAS:       <namespace>:KIND_TO_SCHEMA  hash of kind -> json schema
	ENTITIES:      <namespace>:ENTITIES        hash of entity id -> json snapshot
	ENTITY ORDER:  <namespace>:ENTITY_ORDER    sorted set of entity ids scored by first save
	SEQUENCE:      <namespace>:ENTITY_SEQ      counter feeding ENTITY_ORDER scores
*/

func (r *Storage) schemaKey() string {
	return fmt.Sprintf("%s:KIND_TO_SCHEMA", r.Namespace)
}

func (r *Storage) entitiesKey() string {
	return fmt.Sprintf("%s:ENTITIES", r.Namespace)
}

func (r *Storage) orderKey() string {
	return fmt.Sprintf("%s:ENTITY_ORDER", r.Namespace)
}

func (r *Storage) seqKey() string {
	return fmt.Sprintf("%s:ENTITY_SEQ", r.Namespace)
}

func (r *Storage) GetSchema(kind string) ([]byte, error) {
	ctx := context.Background()
	schema, err := r.Client.HGet(ctx, r.schemaKey(), kind).Bytes()
	if err != nil {
		if eris.Is(err, redis.Nil) {
			return nil, eris.Wrap(storage.ErrNoSchemaFound, kind)
		}
		return nil, eris.Wrap(err, "")
	}
	return schema, nil
}

func (r *Storage) SetSchema(kind string, schema []byte) error {
	ctx := context.Background()
	return eris.Wrap(r.Client.HSet(ctx, r.schemaKey(), kind, schema).Err(), "")
}

func (r *Storage) SaveEntity(ctx context.Context, snap storage.EntitySnapshot) error {
	bz, err := codec.Encode(snap)
	if err != nil {
		return err
	}
	id := snap.Ref.ID.String()
	seq, err := r.Client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return eris.Wrap(err, "")
	}
	pipe := r.Client.TxPipeline()
	pipe.HSet(ctx, r.entitiesKey(), id, bz)
	pipe.ZAddNX(ctx, r.orderKey(), redis.Z{Score: float64(seq), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrapf(err, "failed to save %s", snap.Ref)
	}
	return nil
}

func (r *Storage) DeleteEntity(ctx context.Context, ref types.EntityRef) error {
	id := ref.ID.String()
	pipe := r.Client.TxPipeline()
	pipe.HDel(ctx, r.entitiesKey(), id)
	pipe.ZRem(ctx, r.orderKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrapf(err, "failed to delete %s", ref)
	}
	return nil
}

// LoadEntities returns every saved snapshot in the order the entities were first saved. Entries that no longer decode
// are logged and skipped.
func (r *Storage) LoadEntities(ctx context.Context) ([]storage.EntitySnapshot, error) {
	ids, err := r.Client.ZRange(ctx, r.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := r.Client.HMGet(ctx, r.entitiesKey(), ids...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	snaps := make([]storage.EntitySnapshot, 0, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		snap, err := codec.Decode[storage.EntitySnapshot]([]byte(s))
		if err != nil {
			r.Log.Warn().Err(err).Str("entity", ids[i]).Msg("skipping unreadable snapshot")
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
