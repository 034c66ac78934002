package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rewards-engine/internal/model"
)

const defaultRedisPrefix = "rewards:llmcache"

// RedisStore is a Store shared across processes. Each entry is a JSON
// string with a TTL; a per-(kind, field value) set indexes entry keys.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedisStore connects to the Redis instance at url (redis://...) and
// verifies it with PING.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}
	return &RedisStore{rdb: rdb, prefix: defaultRedisPrefix}, nil
}

// NewRedisStoreFromClient wraps an existing client under prefix.
func NewRedisStoreFromClient(rdb *goredis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) entryKey(key string) string { return r.prefix + ":entry:" + key }
func (r *RedisStore) scopeSet(sk string) string  { return r.prefix + ":scope:" + sk }

func (r *RedisStore) Candidates(ctx context.Context, kind model.Operator, fieldValue string) ([]Entry, error) {
	set := r.scopeSet(scopeKey(kind, fieldValue))
	keys, err := r.rdb.SMembers(ctx, set).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: read scope")
	}
	if len(keys) == 0 {
		return nil, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.entryKey(k)
	}
	vals, err := r.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: read entries")
	}

	out := make([]Entry, 0, len(vals))
	var gone []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			gone = append(gone, keys[i])
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, eris.Wrap(err, "redis: decode entry")
		}
		hits, err := r.rdb.Get(ctx, r.entryKey(keys[i])+":hits").Int64()
		if err == nil {
			e.Hits = hits
		}
		out = append(out, e)
	}
	if len(gone) > 0 {
		r.rdb.SRem(ctx, set, gone...)
	}
	return out, nil
}

func (r *RedisStore) Put(ctx context.Context, e Entry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "redis: encode entry")
	}
	set := r.scopeSet(scopeKey(e.Kind, e.FieldValue))

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.entryKey(e.Key), raw, ttl)
	pipe.Del(ctx, r.entryKey(e.Key)+":hits")
	pipe.SAdd(ctx, set, e.Key)
	pipe.Expire(ctx, set, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrap(err, "redis: put entry")
	}
	return nil
}

func (r *RedisStore) IncrementHits(ctx context.Context, key string) error {
	ttl, err := r.rdb.TTL(ctx, r.entryKey(key)).Result()
	if err != nil {
		return eris.Wrap(err, "redis: entry ttl")
	}
	pipe := r.rdb.TxPipeline()
	pipe.Incr(ctx, r.entryKey(key)+":hits")
	if ttl > 0 {
		pipe.Expire(ctx, r.entryKey(key)+":hits", ttl)
	}
	_, err = pipe.Exec(ctx)
	return eris.Wrap(err, "redis: increment hits")
}

func (r *RedisStore) All(ctx context.Context) ([]Entry, error) {
	var out []Entry
	iter := r.rdb.Scan(ctx, 0, r.entryKey("*"), 200).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if strings.HasSuffix(k, ":hits") {
			continue
		}
		raw, err := r.rdb.Get(ctx, k).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, eris.Wrap(err, "redis: read entry")
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, eris.Wrap(err, "redis: decode entry")
		}
		if hits, err := r.rdb.Get(ctx, k+":hits").Int64(); err == nil {
			e.Hits = hits
		}
		out = append(out, e)
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "redis: scan entries")
	}
	return out, nil
}

// DeleteBefore removes entries created before cutoff. Redis expiry usually
// removes them first.
func (r *RedisStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := r.All(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.CreatedAt.Before(cutoff) {
			continue
		}
		if err := r.rdb.Del(ctx, r.entryKey(e.Key), r.entryKey(e.Key)+":hits").Err(); err != nil {
			return n, eris.Wrap(err, "redis: delete entry")
		}
		r.rdb.SRem(ctx, r.scopeSet(scopeKey(e.Kind, e.FieldValue)), e.Key)
		n++
	}
	return n, nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, r.prefix+":*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
				return eris.Wrap(err, "redis: clear")
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return eris.Wrap(err, "redis: scan")
	}
	if len(batch) > 0 {
		if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
			return eris.Wrap(err, "redis: clear")
		}
	}
	return nil
}
