// Package bootstrap constructs the backend adapters named by a Driver field
// (pkg/broker.Config.Driver, pkg/cache.Config.Driver, distlock.Config.Driver)
// for the binaries that wire an engine together (services/gateway).
//
// It lives outside pkg/broker, pkg/cache and pkg/concurrency/distlock on
// purpose: each of those packages is imported by its own adapters/redis and
// adapters/memory sub-packages, so a dispatcher that imports both the
// adapter and the interface would need to live in the interface package
// itself, creating an import cycle. A separate package breaks the cycle.
package bootstrap

import (
	"github.com/redis/go-redis/v9"

	"github.com/pybrook/pybrook/pkg/broker"
	brokermemory "github.com/pybrook/pybrook/pkg/broker/adapters/memory"
	brokerredis "github.com/pybrook/pybrook/pkg/broker/adapters/redis"
	"github.com/pybrook/pybrook/pkg/cache"
	cachememory "github.com/pybrook/pybrook/pkg/cache/adapters/memory"
	cacheredis "github.com/pybrook/pybrook/pkg/cache/adapters/redis"
	"github.com/pybrook/pybrook/pkg/concurrency/distlock"
	distlockmemory "github.com/pybrook/pybrook/pkg/concurrency/distlock/adapters/memory"
	distlockredis "github.com/pybrook/pybrook/pkg/concurrency/distlock/adapters/redis"
	"github.com/pybrook/pybrook/pkg/errors"
)

// NewBroker builds a broker.Client per cfg.Driver, wrapped with resilience
// (circuit breaker, retry) and tracing/logging.
func NewBroker(cfg broker.Config, resilientCfg broker.ResilientConfig) (broker.Client, error) {
	var next broker.Client
	switch cfg.Driver {
	case "", "memory":
		next = brokermemory.New()
	case "redis":
		client, err := brokerredis.New(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "failed to construct redis broker client")
		}
		next = client
	default:
		return nil, errors.InvalidArgument("unknown broker driver: "+cfg.Driver, nil)
	}
	return broker.NewInstrumentedClient(broker.NewResilientClient(next, resilientCfg)), nil
}

// NewCache builds a cache.Cache per cfg.Driver, wrapped with resilience and
// tracing/logging.
func NewCache(cfg cache.Config, resilientCfg cache.ResilientConfig) (cache.Cache, error) {
	var next cache.Cache
	switch cfg.Driver {
	case "", "memory":
		next = cachememory.New()
	case "redis":
		client, err := cacheredis.New(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "failed to construct redis cache client")
		}
		next = client
	default:
		return nil, errors.InvalidArgument("unknown cache driver: "+cfg.Driver, nil)
	}
	return cache.NewInstrumentedCache(cache.NewResilientCache(next, resilientCfg)), nil
}

// NewLocker builds a distlock.Locker per cfg.Driver.
func NewLocker(cfg distlock.Config) (distlock.Locker, error) {
	switch cfg.Driver {
	case "", "memory":
		return distlockmemory.New(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		return distlockredis.New(client, cfg.Prefix), nil
	default:
		return nil, errors.InvalidArgument("unknown distlock driver: "+cfg.Driver, nil)
	}
}
