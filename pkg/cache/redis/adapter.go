package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/porthorian/openauth-introspection/pkg/cache"
)

var (
	ErrInvalidTTL = errors.New("redis cache: ttl must be greater than zero")
	ErrEmptyKey   = errors.New("redis cache: key is required")
)

const revokedValue = "1"

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

type Adapter struct {
	client    goredis.UniversalClient
	namespace string
}

var _ cache.RevocationCache = (*Adapter)(nil)

func NewAdapter(config Config) *Adapter {
	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Address,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})
	return NewAdapterWithClient(client, config.Namespace)
}

func NewAdapterWithClient(client goredis.UniversalClient, namespace string) *Adapter {
	return &Adapter{
		client:    client,
		namespace: namespace,
	}
}

func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) SetRevoked(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	if err := a.client.Set(ctx, a.revokedKey(key), revokedValue, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set revoked: %w", err)
	}
	return nil
}

func (a *Adapter) IsRevoked(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	value, err := a.client.Get(ctx, a.revokedKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis cache: get revoked: %w", err)
	}
	return value == revokedValue, nil
}

func (a *Adapter) revokedKey(key string) string {
	if a.namespace == "" {
		return "revoked:" + key
	}
	return a.namespace + ":revoked:" + key
}
