package main

import (
	"context"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"

	"github.com/pybrook/pybrook/pkg/bootstrap"
	"github.com/pybrook/pybrook/pkg/broker"
	"github.com/pybrook/pybrook/pkg/cache"
	"github.com/pybrook/pybrook/pkg/config"
	"github.com/pybrook/pybrook/pkg/events/adapters/memory"
	"github.com/pybrook/pybrook/pkg/logger"
	"github.com/pybrook/pybrook/pkg/model"
	"github.com/pybrook/pybrook/pkg/runtime"
	"github.com/pybrook/pybrook/pkg/telemetry"
	"github.com/pybrook/pybrook/services/gateway"
)

// buildPlan registers the vehicle-tracking model used throughout this
// repository's examples and tests: a "vehicle" input report carrying
// lat/lon, a derived "direction" field computed from the current position
// and one step of history, and a "telemetry" output report joining all
// three.
func buildPlan() (*model.Plan, error) {
	e := model.New(":")
	if err := e.Input("vehicle", "id", "id", "lat", "lon"); err != nil {
		return nil, err
	}
	if err := e.Field("direction",
		[]string{"lat", "lon"},
		[]model.Historical{{Name: "lat", Window: 1}, {Name: "lon", Window: 1}},
		func(current model.Values, history map[string]model.History) (interface{}, error) {
			prevLat, prevLon := history["lat"][0], history["lon"][0]
			if prevLat == nil || prevLon == nil {
				return nil, nil
			}
			dLat := current["lat"].(float64) - prevLat.(float64)
			dLon := current["lon"].(float64) - prevLon.(float64)
			return math.Atan2(dLon, dLat) * 180 / math.Pi, nil
		}); err != nil {
		return nil, err
	}
	if err := e.Output("telemetry", "lat", "lon", "direction"); err != nil {
		return nil, err
	}
	return e.Compile()
}

func main() {
	var cfg gateway.Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}

	logger.Init(cfg.Logger)

	shutdownTracing, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		logger.L().Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	plan, err := buildPlan()
	if err != nil {
		logger.L().Error("model failed to compile", "error", err)
		os.Exit(1)
	}

	client, err := bootstrap.NewBroker(cfg.Broker, broker.ResilientConfig{
		CircuitBreakerEnabled: true, CircuitBreakerThreshold: 5,
		RetryEnabled: true, RetryMaxAttempts: 3,
	})
	if err != nil {
		logger.L().Error("failed to construct broker client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	schemaCache, err := bootstrap.NewCache(cfg.Cache, cache.ResilientConfig{})
	if err != nil {
		logger.L().Error("failed to construct schema cache", "error", err)
		os.Exit(1)
	}
	defer schemaCache.Close()

	locker, err := bootstrap.NewLocker(cfg.Lock)
	if err != nil {
		logger.L().Error("failed to construct distributed locker", "error", err)
		os.Exit(1)
	}
	defer locker.Close()

	bus := memory.New()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineCfg := runtime.DefaultConfig()
	engineCfg.Replicas = cfg.DefaultWorkers
	engine := runtime.New(client, plan, locker, engineCfg)

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Launch(ctx) }()

	srv := gateway.NewServer(plan, client, bus, schemaCache)
	if err := srv.Start(ctx); err != nil {
		logger.L().Error("gateway failed to start output fan-out", "error", err)
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	srv.Register(e)

	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.L().Error("gateway HTTP server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
	case err := <-errCh:
		if err != nil {
			logger.L().Error("engine stopped unexpectedly", "error", err)
		}
	}

	cancel()
	_ = e.Shutdown(context.Background())
}
