package gateway

import (
	"github.com/pybrook/pybrook/pkg/broker"
	"github.com/pybrook/pybrook/pkg/cache"
	"github.com/pybrook/pybrook/pkg/concurrency/distlock"
	"github.com/pybrook/pybrook/pkg/logger"
	"github.com/pybrook/pybrook/pkg/telemetry"
)

// Config holds every environment-driven setting the gateway binary needs:
// the REDIS_URL/DEFAULT_WORKERS contract plus the ambient-stack settings
// the library's other services carry.
type Config struct {
	// HTTPAddr is the address the gateway's HTTP/WebSocket server listens on.
	HTTPAddr string `env:"HTTP_ADDR" env-default:":8080"`

	// DefaultWorkers is the default replica count for every splitter,
	// generator and resolver instance.
	DefaultWorkers int `env:"DEFAULT_WORKERS" env-default:"1"`

	Broker    broker.Config
	Cache     cache.Config
	Lock      distlock.Config
	Logger    logger.Config
	Telemetry telemetry.Config
}
