package model_test

import (
	"testing"

	"github.com/pybrook/pybrook/pkg/model"
	"github.com/stretchr/testify/require"
)

func noopFn(current model.Values, history map[string]model.History) (interface{}, error) {
	return nil, nil
}

func TestCompileDetectsCycle(t *testing.T) {
	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id"))
	require.NoError(t, e.Field("a", []string{"b"}, nil, noopFn))
	require.NoError(t, e.Field("b", []string{"a"}, nil, noopFn))

	_, err := e.Compile()
	require.Error(t, err)

	var cycleErr *model.CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.ElementsMatch(t, []string{"a", "b"}, cycleErr.Fields)
}

func TestCompileExemptsSelfHistoryFromCycleDetection(t *testing.T) {
	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id", "time"))
	require.NoError(t, e.Field("counter", []string{"time"}, []model.Historical{{Name: "counter", Window: 1}}, noopFn))

	plan, err := e.Compile()
	require.NoError(t, err)
	require.Len(t, plan.Generators, 1)
	require.Equal(t, "counter", plan.Generators[0].Field.Name)
}

func TestCompileRejectsUnknownCurrentDependency(t *testing.T) {
	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id"))
	require.NoError(t, e.Field("direction", []string{"lat", "lon"}, nil, noopFn))

	_, err := e.Compile()
	require.Error(t, err)
}

func TestCompileRejectsUnknownHistoricalDependency(t *testing.T) {
	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id"))
	require.NoError(t, e.Field("f", nil, []model.Historical{{Name: "nope", Window: 1}}, noopFn))

	_, err := e.Compile()
	require.Error(t, err)
}

func TestCompileRejectsUnknownOutputField(t *testing.T) {
	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id"))
	require.NoError(t, e.Output("out", "nope"))

	_, err := e.Compile()
	require.Error(t, err)
}

func TestInputRejectsMissingIDField(t *testing.T) {
	e := model.New(":")
	err := e.Input("vehicle", "id", "lat", "lon")
	require.Error(t, err)
}

func TestInputRejectsDuplicateFieldNames(t *testing.T) {
	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id", "lat"))
	err := e.Input("other", "id2", "id2", "lat")
	require.Error(t, err)
}

func TestCompileOrdersGeneratorsTopologically(t *testing.T) {
	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id", "lat", "lon"))
	require.NoError(t, e.Field("speed", []string{"lat", "lon"}, nil, noopFn))
	require.NoError(t, e.Field("alert", []string{"speed"}, nil, noopFn))

	plan, err := e.Compile()
	require.NoError(t, err)
	require.Len(t, plan.Generators, 2)
	require.Equal(t, "speed", plan.Generators[0].Field.Name)
	require.Equal(t, "alert", plan.Generators[1].Field.Name)
}

func TestCompileMarksSourceFieldsNeedingHistoryOnTheSplitter(t *testing.T) {
	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id", "lat", "lon"))
	require.NoError(t, e.Field("direction", []string{"lat", "lon"}, []model.Historical{{Name: "lat", Window: 1}, {Name: "lon", Window: 1}}, noopFn))

	plan, err := e.Compile()
	require.NoError(t, err)
	require.Len(t, plan.Splitters, 1)
	require.ElementsMatch(t, []string{"lat", "lon"}, plan.Splitters[0].HistoryFields)
}

func TestCompileRecordsObserversForHistoricalDependents(t *testing.T) {
	e := model.New(":")
	require.NoError(t, e.Input("vehicle", "id", "id", "time"))
	require.NoError(t, e.Field("counter", []string{"time"}, nil, noopFn))
	require.NoError(t, e.Field("counterEcho", []string{}, []model.Historical{{Name: "counter", Window: 1}}, noopFn))

	plan, err := e.Compile()
	require.NoError(t, err)
	require.Len(t, plan.Generators, 2)
	require.Equal(t, "counter", plan.Generators[0].Field.Name)
	require.ElementsMatch(t, []string{"counterEcho"}, plan.Generators[0].Observers)
}
