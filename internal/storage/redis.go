package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"sitegen/internal/config"
	"sitegen/internal/model"
	"sitegen/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps each export in a hash at prefix+name, optionally expiring.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStorage(cfg config.RedisConfig, ttl time.Duration) *RedisStorage {
	return NewRedisStorageWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.Prefix, ttl)
}

func NewRedisStorageWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStorage) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", ErrStorageInit, err)
	}
	logger.Infof("Redis export storage initialized with prefix %q", r.prefix)
	return nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

func (r *RedisStorage) Save(ctx context.Context, name string, doc model.Document) (*model.ExportRecord, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if err := checkDocument(doc); err != nil {
		return nil, err
	}

	key := r.prefix + name
	now := time.Now().UTC()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"html":       doc.HTML,
			"created_at": now.UnixMilli(),
		})
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", name, err)
	}
	return r.record(name, len(doc.HTML), now), nil
}

func (r *RedisStorage) Load(ctx context.Context, name string) (model.Document, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return model.Document{}, err
	}

	html, err := r.client.HGet(ctx, r.prefix+name, "html").Result()
	if errors.Is(err, redis.Nil) {
		return model.Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("load %s: %w", name, err)
	}
	return model.NewDocument(html, nil), nil
}

func (r *RedisStorage) List(ctx context.Context) ([]*model.ExportRecord, error) {
	var records []*model.ExportRecord
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("list exports: %w", err)
		}
		html, ok := fields["html"]
		if !ok {
			continue
		}
		created := time.Time{}
		if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
			created = time.UnixMilli(ms).UTC()
		}
		records = append(records, r.record(strings.TrimPrefix(key, r.prefix), len(html), created))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records, nil
}

func (r *RedisStorage) Delete(ctx context.Context, name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	n, err := r.client.Del(ctx, r.prefix+name).Result()
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *RedisStorage) record(name string, size int, created time.Time) *model.ExportRecord {
	return &model.ExportRecord{
		Name:      name,
		Location:  "redis://" + r.prefix + name,
		SizeBytes: size,
		CreatedAt: created,
	}
}
