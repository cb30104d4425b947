// Package config loads runtime overrides that live outside the config file.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ai-gateway-go/internal/config"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// DefaultAliasKey is the Redis hash holding logical name -> upstream model id
const DefaultAliasKey = "gateway:model_aliases"

// HashReader is the slice of the Redis client the alias store needs
type HashReader interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

// AliasStore reads model alias overrides from a Redis hash
type AliasStore struct {
	redis  HashReader
	key    string
	logger *logrus.Logger
}

// NewAliasStore creates a store reading the given hash key
func NewAliasStore(client HashReader, key string, logger *logrus.Logger) *AliasStore {
	if key == "" {
		key = DefaultAliasKey
	}
	return &AliasStore{redis: client, key: key, logger: logger}
}

// Load returns the current overrides. A missing hash yields an empty map.
func (s *AliasStore) Load(ctx context.Context) (map[string]string, error) {
	data, err := s.redis.HGetAll(ctx, s.key).Result()
	if err == redis.Nil {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read aliases from %s: %w", s.key, err)
	}

	aliases := make(map[string]string, len(data))
	for name, target := range data {
		name, target = strings.TrimSpace(name), strings.TrimSpace(target)
		if name == "" || target == "" {
			s.logger.WithFields(logrus.Fields{
				"name":   name,
				"target": target,
			}).Warn("Skipping incomplete model alias")
			continue
		}
		aliases[name] = target
	}

	s.logger.WithFields(logrus.Fields{
		"key":     s.key,
		"aliases": len(aliases),
	}).Info("Loaded model alias overrides")
	return aliases, nil
}

// LoadAliasOverrides connects to Redis once, reads the overrides and
// disconnects. It returns nil when the source is disabled.
func LoadAliasOverrides(ctx context.Context, cfg config.AliasSourceConfig, logger *logrus.Logger) (map[string]string, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	return NewAliasStore(client, cfg.Key, logger).Load(ctx)
}
