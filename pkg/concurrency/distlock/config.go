package distlock

// Config selects and configures a Locker backend, matching the Driver/Addr
// convention pkg/broker.Config and pkg/cache.Config use. Building a Locker
// from it lives in pkg/bootstrap, since a dispatcher that imports both this
// package and its adapters/redis sub-package would import-cycle back here.
type Config struct {
	// Driver selects the backend: "memory" or "redis".
	Driver string `env:"LOCK_DRIVER" env-default:"memory"`

	// Addr is the lock backend's endpoint (Redis only).
	Addr string `env:"LOCK_REDIS_URL" env-default:"localhost:6379"`

	// Password authenticates against the backend (Redis only).
	Password string `env:"LOCK_REDIS_PASSWORD"`

	// DB selects the logical database (Redis only).
	DB int `env:"LOCK_REDIS_DB" env-default:"0"`

	// Prefix namespaces every lock key (Redis only).
	Prefix string `env:"LOCK_PREFIX" env-default:"lock:"`
}
