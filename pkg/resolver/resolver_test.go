package resolver_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pybrook/pybrook/pkg/broker/adapters/memory"
	"github.com/pybrook/pybrook/pkg/model"
	"github.com/pybrook/pybrook/pkg/resolver"
	"github.com/stretchr/testify/require"
)

func vehicleReportPlan(t *testing.T) *model.Plan {
	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id", "lat", "lon"))
	require.NoError(t, e.Field("speed", []string{"lat", "lon"}, nil, func(current model.Values, history map[string]model.History) (interface{}, error) {
		return 0.0, nil
	}))
	require.NoError(t, e.Output("telemetry", "lat", "lon", "speed"))
	plan, err := e.Compile()
	require.NoError(t, err)
	return plan
}

func publish(t *testing.T, ctx context.Context, client *memory.Client, stream, id string, value interface{}) {
	encoded, err := json.Marshal(value)
	require.NoError(t, err)
	_, err = client.Append(ctx, stream, map[string]string{"id": id, "value": string(encoded)})
	require.NoError(t, err)
}

func TestResolverEmitsOnceEveryFieldArrives(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := memory.New()
	defer client.Close()

	plan := vehicleReportPlan(t)
	r := resolver.New(client, plan.Resolvers[0], plan.FieldStream, ":", "c1", 10*time.Millisecond)

	require.NoError(t, client.EnsureGroup(ctx, "vehicle:lat", "out-telemetry"))
	require.NoError(t, client.EnsureGroup(ctx, "vehicle:lon", "out-telemetry"))
	require.NoError(t, client.EnsureGroup(ctx, "speed", "out-telemetry"))

	ch, err := client.Subscribe(ctx, "telemetry")
	require.NoError(t, err)

	go r.Run(ctx)

	publish(t, ctx, client, "vehicle:lat", "V1:1", 1.0)
	publish(t, ctx, client, "vehicle:lon", "V1:1", 2.0)
	time.Sleep(50 * time.Millisecond)

	select {
	case <-ch:
		t.Fatal("resolver emitted before every field arrived")
	default:
	}

	publish(t, ctx, client, "speed", "V1:1", 42.0)

	select {
	case payload := <-ch:
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(payload), &record))
		require.Equal(t, 1.0, record["lat"])
		require.Equal(t, 2.0, record["lon"])
		require.Equal(t, 42.0, record["speed"])
		require.Equal(t, "V1:1", record["_msg"])
		require.Equal(t, "V1", record["_source"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolver emission")
	}
}

func TestResolverClearsPendingStateAfterEmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := memory.New()
	defer client.Close()

	plan := vehicleReportPlan(t)
	r := resolver.New(client, plan.Resolvers[0], plan.FieldStream, ":", "c1", 10*time.Millisecond)

	require.NoError(t, client.EnsureGroup(ctx, "vehicle:lat", "out-telemetry"))
	require.NoError(t, client.EnsureGroup(ctx, "vehicle:lon", "out-telemetry"))
	require.NoError(t, client.EnsureGroup(ctx, "speed", "out-telemetry"))

	go r.Run(ctx)

	publish(t, ctx, client, "vehicle:lat", "V1:1", 1.0)
	publish(t, ctx, client, "vehicle:lon", "V1:1", 2.0)
	publish(t, ctx, client, "speed", "V1:1", 42.0)
	time.Sleep(80 * time.Millisecond)

	_, ok, err := client.KVGet(ctx, "pending:out-telemetry:V1:1")
	require.NoError(t, err)
	require.False(t, ok)
}
