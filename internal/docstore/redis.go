package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document in a hash at {index}:doc:{id}. Search is
// brute force on the client.
type RedisStore struct {
	client *redis.Client
	index  string
	dim    int
	sim    Similarity
}

// NewRedisStore connects to addr and deletes every key starting with index.
func NewRedisStore(ctx context.Context, addr, index string, dim int, sim Similarity) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	s := &RedisStore{client: client, index: index, dim: dim, sim: sim}
	if err := s.deleteMatching(ctx, index+"*"); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clearing keys %s*: %w", index, err)
	}
	return s, nil
}

func (s *RedisStore) key(id string) string {
	return s.index + ":doc:" + id
}

func (s *RedisStore) docPattern() string {
	return s.index + ":doc:*"
}

// scanKeys collects every key matching pattern.
func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *RedisStore) deleteMatching(ctx context.Context, pattern string) error {
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil || len(keys) == 0 {
		return err
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) WriteDocuments(ctx context.Context, docs []Document) error {
	prepared, err := prepareDocuments(docs, s.dim)
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, d := range prepared {
			meta, err := encodeMeta(d.Meta)
			if err != nil {
				return err
			}
			fields := map[string]interface{}{
				"id":      d.ID,
				"content": d.Content,
				"meta":    meta,
			}
			key := s.key(d.ID)
			pipe.Del(ctx, key)
			if d.Embedding != nil {
				raw, err := json.Marshal(d.Embedding)
				if err != nil {
					return err
				}
				fields["embedding"] = string(raw)
			}
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	return err
}

func (s *RedisStore) GetAllDocuments(ctx context.Context) ([]Document, error) {
	keys, err := s.scanKeys(ctx, s.docPattern())
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		d, err := fromRedisHash(fields)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", keys[i], err)
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func fromRedisHash(fields map[string]string) (Document, error) {
	d := Document{ID: fields["id"], Content: fields["content"]}
	meta, err := decodeMeta(fields["meta"])
	if err != nil {
		return Document{}, err
	}
	d.Meta = meta
	if raw := fields["embedding"]; raw != "" {
		if err := json.NewDecoder(strings.NewReader(raw)).Decode(&d.Embedding); err != nil {
			return Document{}, err
		}
	}
	return d, nil
}

func (s *RedisStore) GetDocumentCount(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx, s.docPattern())
	return len(keys), err
}

func (s *RedisStore) QueryByEmbedding(ctx context.Context, emb []float32, topK int) ([]Document, error) {
	if err := checkQuery(emb, topK, s.dim); err != nil {
		return nil, err
	}
	all, err := s.GetAllDocuments(ctx)
	if err != nil {
		return nil, err
	}
	return rank(s.sim, emb, all, topK), nil
}

func (s *RedisStore) DeleteDocuments(ctx context.Context) error {
	return s.deleteMatching(ctx, s.docPattern())
}

func (s *RedisStore) EmbeddingDim() int      { return s.dim }
func (s *RedisStore) Similarity() Similarity { return s.sim }
func (s *RedisStore) Kind() Kind             { return KindRedis }
func (s *RedisStore) Index() string          { return s.index }
func (s *RedisStore) Close() error           { return s.client.Close() }

var _ Store = (*RedisStore)(nil)
