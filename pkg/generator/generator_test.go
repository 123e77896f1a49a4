package generator_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/pybrook/pybrook/pkg/broker/adapters/memory"
	"github.com/pybrook/pybrook/pkg/generator"
	"github.com/pybrook/pybrook/pkg/model"
	"github.com/stretchr/testify/require"
)

var errComputationFailed = errors.New("boom")

func directionPlan(t *testing.T) (*model.Plan, model.GeneratorPlan) {
	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id", "lat", "lon"))
	require.NoError(t, e.Field("direction", []string{"lat", "lon"}, []model.Historical{{Name: "lat", Window: 1}, {Name: "lon", Window: 1}}, func(current model.Values, history map[string]model.History) (interface{}, error) {
		prevLat := history["lat"][0]
		prevLon := history["lon"][0]
		if prevLat == nil || prevLon == nil {
			return nil, nil
		}
		dLat := current["lat"].(float64) - prevLat.(float64)
		dLon := current["lon"].(float64) - prevLon.(float64)
		return math.Atan2(dLon, dLat) * 180 / math.Pi, nil
	}))
	plan, err := e.Compile()
	require.NoError(t, err)
	return plan, plan.Generators[0]
}

func publish(t *testing.T, ctx context.Context, client *memory.Client, stream, id string, value interface{}) {
	encoded, err := json.Marshal(value)
	require.NoError(t, err)
	_, err = client.Append(ctx, stream, map[string]string{"id": id, "value": string(encoded)})
	require.NoError(t, err)
}

func TestGeneratorDirectionScenario(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := memory.New()
	defer client.Close()

	plan, genPlan := directionPlan(t)
	g := generator.New(client, genPlan, plan.FieldStream, ":", "c1", 10*time.Millisecond, 4)

	// Every consumer group here must exist before the entries it will read
	// are appended: a group's cursor starts at the stream's current length,
	// so a group created afterwards would skip everything already written.
	require.NoError(t, client.EnsureGroup(ctx, "vehicle:lat", "gen-direction"))
	require.NoError(t, client.EnsureGroup(ctx, "vehicle:lon", "gen-direction"))
	require.NoError(t, client.EnsureGroup(ctx, "direction", "observer"))

	go g.Run(ctx)

	// Message 1: no prior history, direction should be nil.
	publish(t, ctx, client, "vehicle:lat", "V1:1", 1.0)
	publish(t, ctx, client, "vehicle:lon", "V1:1", 1.0)
	// Splitter would normally push source-field history too; emulate it here.
	time.Sleep(80 * time.Millisecond)
	require.NoError(t, client.ListPush(ctx, "hist:V1:lat", `1`, 1))
	require.NoError(t, client.ListPush(ctx, "hist:V1:lon", `1`, 1))

	// Message 2.
	publish(t, ctx, client, "vehicle:lat", "V1:2", 1.0)
	publish(t, ctx, client, "vehicle:lon", "V1:2", 2.0)
	time.Sleep(80 * time.Millisecond)

	entries, err := client.ReadGroup(ctx, "observer", "o1", []string{"direction"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var v1 interface{}
	require.NoError(t, json.Unmarshal([]byte(entries[0].Fields["value"]), &v1))
	require.Nil(t, v1)

	var v2 float64
	require.NoError(t, json.Unmarshal([]byte(entries[1].Fields["value"]), &v2))
	require.InDelta(t, 90.0, v2, 0.001)
}

func TestGeneratorDeadLettersOnComputationFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := memory.New()
	defer client.Close()

	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id", "lat"))
	require.NoError(t, e.Field("bad", []string{"lat"}, nil, func(current model.Values, history map[string]model.History) (interface{}, error) {
		return nil, errComputationFailed
	}))
	plan, err := e.Compile()
	require.NoError(t, err)

	g := generator.New(client, plan.Generators[0], plan.FieldStream, ":", "c1", 10*time.Millisecond, 4)

	require.NoError(t, client.EnsureGroup(ctx, "vehicle:lat", "gen-bad"))
	require.NoError(t, client.EnsureGroup(ctx, "bad:_dlq", "observer"))

	go g.Run(ctx)

	publish(t, ctx, client, "vehicle:lat", "V1:1", 1.0)
	time.Sleep(80 * time.Millisecond)

	entries, err := client.ReadGroup(ctx, "observer", "o1", []string{"bad:_dlq"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "V1:1", entries[0].Fields["message_id"])
	require.Equal(t, "bad", entries[0].Fields["field"])
}
