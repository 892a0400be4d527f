package introspection

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	memorycache "github.com/porthorian/openauth-introspection/pkg/cache/memory"
	rediscache "github.com/porthorian/openauth-introspection/pkg/cache/redis"
	"github.com/porthorian/openauth-introspection/pkg/keys"
	memorystore "github.com/porthorian/openauth-introspection/pkg/storage/memory"
	"github.com/porthorian/openauth-introspection/pkg/storage/postgres"
)

type StorageBackend string

const (
	StorageBackendNone     StorageBackend = "none"
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendPostgres StorageBackend = "postgres"
)

type KeyStoreBackend string

const (
	KeyStoreBackendNone KeyStoreBackend = "none"
	KeyStoreBackendPEM  KeyStoreBackend = "pem"
	KeyStoreBackendJWKS KeyStoreBackend = "jwks"
)

type CacheBackend string

const (
	CacheBackendNone   CacheBackend = "none"
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
)

// RuntimeConfig selects backends for the collaborators left unset on Config.
// Explicitly supplied collaborators always win.
type RuntimeConfig struct {
	Storage  StorageConfig
	Cache    CacheConfig
	KeyStore KeyStoreConfig
}

type StorageConfig struct {
	Backend  StorageBackend
	Postgres PostgresConfig
}

type PostgresConfig struct {
	DriverName      string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	OpenDB          func(driverName string, dsn string) (*sql.DB, error)
}

type CacheConfig struct {
	Backend CacheBackend
	Redis   RedisCacheConfig
}

type RedisCacheConfig struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
	PingTimeout time.Duration
}

type KeyStoreConfig struct {
	Backend KeyStoreBackend
	// URI is the path of the PEM or JWK Set file.
	URI       string
	KeyID     string
	Algorithm string
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c
	config.Logger = resolveLogger(config.Logger)

	if err := initializeKeyStore(ctx, &config); err != nil {
		return nil, Config{}, err
	}

	closeStorage, config, err := initializeStorage(ctx, config)
	if err != nil {
		return nil, Config{}, err
	}

	closeCache, config, err := initializeCache(ctx, config)
	if err != nil {
		_ = closeStorage()
		return nil, Config{}, err
	}

	return joinClosers(closeStorage, closeCache), config, nil
}

func initializeKeyStore(ctx context.Context, config *Config) error {
	keyStore := config.Runtime.KeyStore
	backend := keyStore.Backend
	if backend == "" {
		backend = KeyStoreBackendNone
	}

	var supplier keys.Supplier
	switch backend {
	case KeyStoreBackendNone:
		return nil
	case KeyStoreBackendPEM:
		supplier = &keys.PEMFileSupplier{Path: keyStore.URI, KeyID: keyStore.KeyID, Algorithm: keyStore.Algorithm}
	case KeyStoreBackendJWKS:
		supplier = &keys.JWKSFileSupplier{Path: keyStore.URI, KeyID: keyStore.KeyID}
	default:
		return fmt.Errorf("openauth config: unsupported runtime.keystore.backend %q", backend)
	}

	if keyStore.URI == "" {
		return fmt.Errorf("openauth config: runtime.keystore.uri is required for backend %q", backend)
	}
	if config.KeySupply != nil {
		return nil
	}

	// The file is read again on every introspection; loading it once here
	// only surfaces a bad path at startup.
	if _, err := supplier.CurrentKey(ctx); err != nil {
		return fmt.Errorf("openauth config: failed to load %s key store: %w", backend, err)
	}

	config.KeySupply = supplier
	config.Logger.V(1).Info("initialized key store backend", "backend", string(backend), "uri", keyStore.URI, "key_id", keyStore.KeyID)
	return nil
}

func initializeStorage(ctx context.Context, config Config) (func() error, Config, error) {
	backend := config.Runtime.Storage.Backend
	if backend == "" {
		backend = StorageBackendNone
	}

	switch backend {
	case StorageBackendNone:
		return noopCloser, config, nil
	case StorageBackendMemory:
		if config.TokenStore == nil {
			config.TokenStore = memorystore.NewStoreWithFingerprinter(config.Fingerprinter)
		}
		config.Logger.V(1).Info("initialized memory storage backend")
		return noopCloser, config, nil
	case StorageBackendPostgres:
		return initializePostgres(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("openauth config: unsupported runtime.storage.backend %q", backend)
	}
}

func initializeCache(ctx context.Context, config Config) (func() error, Config, error) {
	backend := config.Runtime.Cache.Backend
	if backend == "" {
		backend = CacheBackendNone
	}

	switch backend {
	case CacheBackendNone:
		return noopCloser, config, nil
	case CacheBackendMemory:
		if config.RevocationCache == nil {
			config.RevocationCache = memorycache.NewAdapter()
		}
		config.Logger.V(1).Info("initialized memory cache backend")
		return noopCloser, config, nil
	case CacheBackendRedis:
		return initializeRedisCache(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("openauth config: unsupported runtime.cache.backend %q", backend)
	}
}

func initializeRedisCache(ctx context.Context, config Config) (func() error, Config, error) {
	redisConfig := config.Runtime.Cache.Redis
	if redisConfig.Address == "" {
		return nil, Config{}, fmt.Errorf("openauth config: runtime.cache.redis.address is required")
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = 5 * time.Second
	}
	if redisConfig.PingTimeout <= 0 {
		redisConfig.PingTimeout = 5 * time.Second
	}

	if config.RevocationCache != nil {
		return noopCloser, config, nil
	}

	adapter := rediscache.NewAdapter(rediscache.Config{
		Address:     redisConfig.Address,
		Username:    redisConfig.Username,
		Password:    redisConfig.Password,
		Database:    redisConfig.Database,
		Namespace:   redisConfig.Namespace,
		DialTimeout: redisConfig.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConfig.PingTimeout)
	defer cancel()

	if err := adapter.Ping(pingCtx); err != nil {
		_ = adapter.Close()
		return nil, Config{}, fmt.Errorf("openauth config: failed to ping redis: %w", err)
	}

	config.RevocationCache = adapter
	config.Runtime.Cache.Redis = redisConfig
	config.Logger.V(1).Info("initialized redis cache backend", "address", redisConfig.Address, "database", redisConfig.Database, "namespace", redisConfig.Namespace)
	return adapter.Close, config, nil
}

func initializePostgres(ctx context.Context, config Config) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pgConfig := config.Runtime.Storage.Postgres
	if pgConfig.DSN == "" {
		return nil, Config{}, fmt.Errorf("openauth config: runtime.storage.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	if config.TokenStore != nil {
		return noopCloser, config, nil
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, Config{}, fmt.Errorf("openauth config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("openauth config: failed to ping postgres database: %w", err)
	}

	var opts []postgres.Option
	if config.Fingerprinter != nil {
		opts = append(opts, postgres.WithFingerprinter(config.Fingerprinter))
	}
	adapter, err := postgres.NewAdapter(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("openauth config: failed to initialize postgres adapter: %w", err)
	}

	config.TokenStore = adapter

	closeResource := joinClosers(db.Close, adapter.Close)

	config.Runtime.Storage.Postgres = pgConfig
	config.Logger.V(1).Info("initialized postgres storage backend", "driver", pgConfig.DriverName, "max_open_conns", pgConfig.MaxOpenConns, "max_idle_conns", pgConfig.MaxIdleConns)
	return closeResource, config, nil
}

func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

func noopCloser() error {
	return nil
}
