package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONContext_BasicOperations(t *testing.T) {
	ctx := NewJSONContext(nil)

	require.NoError(t, ctx.Set([]string{"app", "name"}, "backend"))
	require.NoError(t, ctx.Set([]string{"app", "instances"}, int64(2)))
	require.NoError(t, ctx.Set([]string{"app", "optional"}, true))
	require.NoError(t, ctx.Set([]string{"memory"}, 512.5))

	name, ok := ctx.GetString("app", "name")
	assert.True(t, ok)
	assert.Equal(t, "backend", name)

	instances, ok := ctx.GetInt64("app", "instances")
	assert.True(t, ok)
	assert.Equal(t, int64(2), instances)

	optional, ok := ctx.GetBool("app", "optional")
	assert.True(t, ok)
	assert.True(t, optional)

	memory, ok := ctx.Get("memory")
	assert.True(t, ok)
	assert.Equal(t, 512.5, memory)

	_, ok = ctx.GetString("app", "missing")
	assert.False(t, ok)
	_, ok = ctx.Get()
	assert.False(t, ok)
}

func TestJSONContext_FromBytes(t *testing.T) {
	ctx := NewJSONContext([]byte(`{
		"workflow_id": 12345,
		"pre_node_context": {
			"upload": {"package": "pkg-1", "uploaded_at": 1640000000}
		}
	}`))

	workflowID, ok := ctx.GetInt64("workflow_id")
	assert.True(t, ok)
	assert.Equal(t, int64(12345), workflowID)

	pkg, ok := ctx.GetString("pre_node_context", "upload", "package")
	assert.True(t, ok)
	assert.Equal(t, "pkg-1", pkg)

	ts, ok := ctx.GetInt64("pre_node_context", "upload", "uploaded_at")
	assert.True(t, ok)
	assert.Equal(t, int64(1640000000), ts)
}

func TestJSONContext_InvalidBytes(t *testing.T) {
	for _, raw := range []string{"null", "not json", "[1,2]"} {
		ctx := NewJSONContext([]byte(raw))
		require.NoError(t, ctx.Set([]string{"k"}, "v"), raw)
		v, ok := ctx.GetString("k")
		assert.True(t, ok, raw)
		assert.Equal(t, "v", v, raw)
	}
}

func TestJSONContext_SetReplacesScalarOnPath(t *testing.T) {
	ctx := NewJSONContext([]byte(`{"variables": "broken"}`))
	require.NoError(t, ctx.Set([]string{"variables", "StepPhase"}, "POLL"))

	phase, ok := ctx.GetString("variables", "StepPhase")
	assert.True(t, ok)
	assert.Equal(t, "POLL", phase)
	assert.Error(t, ctx.Set(nil, "x"))
}

func TestJSONContext_ToBytes(t *testing.T) {
	ctx := NewJSONContext(nil)
	ctx.Set([]string{"name"}, "db-service")
	ctx.Set([]string{"count"}, int64(100))

	b, err := ctx.ToBytes()
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(b, &result))
	assert.Equal(t, "db-service", result["name"])
	assert.Equal(t, float64(100), result["count"])
}

func TestJSONContext_Delete(t *testing.T) {
	ctx := NewJSONContext([]byte(`{
		"field1": "value1",
		"nested": {
			"field2": "value2"
		}
	}`))

	ctx.Delete("field1")
	_, ok := ctx.GetString("field1")
	assert.False(t, ok)

	ctx.Delete("nested", "field2")
	_, ok = ctx.GetString("nested", "field2")
	assert.False(t, ok)

	// missing parents are ignored
	ctx.Delete("absent", "field")
	ctx.Delete()
}

func TestJSONContext_Clone(t *testing.T) {
	original := NewJSONContext([]byte(`{"name": "live"}`))
	cloned := original.Clone()

	cloned.Set([]string{"name"}, "idle")

	name, _ := original.GetString("name")
	assert.Equal(t, "live", name)
	clonedName, _ := cloned.GetString("name")
	assert.Equal(t, "idle", clonedName)
}

func TestJSONContext_Unmarshal(t *testing.T) {
	ctx := NewJSONContext([]byte(`{
		"guid": "123",
		"instances": 25,
		"state": "STARTED"
	}`))

	type app struct {
		GUID      string `json:"guid"`
		Instances int    `json:"instances"`
		State     string `json:"state"`
	}

	var a app
	require.NoError(t, ctx.Unmarshal(&a))
	assert.Equal(t, app{GUID: "123", Instances: 25, State: "STARTED"}, a)
}

func TestJSONContext_LargeIntegersSurvivePersistence(t *testing.T) {
	ctx := NewJSONContext(nil)
	// above 2^53, a float64 would round the trailing nanoseconds away
	require.NoError(t, ctx.Set([]string{"variables", "LogsOffset"}, int64(1709287201000000123)))
	b, err := ctx.ToBytes()
	require.NoError(t, err)

	reloaded := NewJSONContext(b)
	offset, ok := reloaded.GetInt64("variables", "LogsOffset")
	assert.True(t, ok)
	assert.Equal(t, int64(1709287201000000123), offset)

	b, err = reloaded.Clone().ToBytes()
	require.NoError(t, err)
	assert.Contains(t, string(b), "1709287201000000123")
}

func TestExecution_Variables(t *testing.T) {
	execution := &Execution{
		WorkflowInstanceID: 42,
		TaskType:           "create-service-keys",
		Variables:          NewJSONContext(nil),
		NodeContext:        NewJSONContext([]byte(`{"pre_node_context": {}}`)),
	}
	assert.Equal(t, "42", execution.ProcessInstanceID())
	assert.Equal(t, "create-service-keys", execution.ActivityID())

	execution.SetVariable("mtaId", "com.sap.demo")
	execution.SetLocalVariable("StepPhase", "POLL")

	v, ok := execution.GetVariable("mtaId")
	assert.True(t, ok)
	assert.Equal(t, "com.sap.demo", v)
	_, ok = execution.GetVariable("StepPhase")
	assert.False(t, ok)

	phase, ok := execution.NodeContext.GetString(NodeContextKeyVariables, "StepPhase")
	assert.True(t, ok)
	assert.Equal(t, "POLL", phase)

	execution.RemoveLocalVariable("StepPhase")
	_, ok = execution.GetLocalVariable("StepPhase")
	assert.False(t, ok)
	execution.RemoveVariable("mtaId")
	_, ok = execution.GetVariable("mtaId")
	assert.False(t, ok)
}

func BenchmarkJSONContext_Get(b *testing.B) {
	ctx := NewJSONContext([]byte(`{
		"level1": {
			"level2": {
				"level3": {
					"value": "test"
				}
			}
		}
	}`))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx.GetString("level1", "level2", "level3", "value")
	}
}

func BenchmarkJSONContext_Set(b *testing.B) {
	ctx := NewJSONContext(nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx.Set([]string{"level1", "level2", "value"}, "test")
	}
}
