package cache

import (
	"fmt"
	"io"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ClaimStoreFactory creates claim stores based on configuration
type ClaimStoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	connect               func(config.RedisConfig) (*RedisClaimStore, error)
}

// ClaimStoreFactoryOption is a functional option for configuring the factory
type ClaimStoreFactoryOption func(*ClaimStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) ClaimStoreFactoryOption {
	return func(f *ClaimStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory store
// when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) ClaimStoreFactoryOption {
	return func(f *ClaimStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewClaimStoreFactory creates a new factory
func NewClaimStoreFactory(cfg config.RedisConfig, opts ...ClaimStoreFactoryOption) *ClaimStoreFactory {
	f := &ClaimStoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		connect:               NewRedisClaimStore,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ClaimStoreCloser is a claim store that owns resources
type ClaimStoreCloser interface {
	fulfillment.ClaimStore
	io.Closer
}

// CreateStore returns the Redis store when enabled and reachable, else the in-memory one
func (f *ClaimStoreFactory) CreateStore() (ClaimStoreCloser, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("redis disabled, using in-memory claim store")
		return NewInMemoryClaimStore(), nil
	}

	store, err := f.connect(f.redisConfig)
	if err == nil {
		f.logger.Info("using Redis claim store", zap.String("addr", f.redisConfig.Addr()))
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for group claims but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory claim store. "+
		"Concurrent workers in other processes may sync the same group.",
		zap.Error(err),
	)
	return NewInMemoryClaimStore(), nil
}
