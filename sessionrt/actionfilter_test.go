package sessionrt

import (
	"testing"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilter() (*ActionMessageFilter, *[]callRecord) {
	calls := &[]callRecord{}
	f := &ActionMessageFilter{
		Callback: func(kind ActionMessageKind, value any) {
			*calls = append(*calls, callRecord{kind: kind, value: value})
		},
	}
	return f, calls
}

type callRecord struct {
	kind ActionMessageKind
	value any
}

func TestActionMessageFilter_PassesThroughPlainLines(t *testing.T) {
	f, calls := newTestFilter()
	text, keep := f.Filter(hclog.NewNullLogger(), "a perfectly ordinary log line")
	assert.Equal(t, "a perfectly ordinary log line", text)
	assert.True(t, keep)
	assert.Empty(t, *calls)
}

func TestActionMessageFilter_Progress_InRangeAccepted(t *testing.T) {
	f, calls := newTestFilter()
	_, keep := f.Filter(hclog.NewNullLogger(), "openjd_progress: 42.5")
	assert.True(t, keep)
	require.Len(t, *calls, 1)
	assert.Equal(t, ActionMessageProgress, (*calls)[0].kind)
	assert.Equal(t, 42.5, (*calls)[0].value)
}

func TestActionMessageFilter_Progress_OutOfRangeRejected(t *testing.T) {
	f, calls := newTestFilter()
	text, keep := f.Filter(hclog.NewNullLogger(), "openjd_progress: 142.0")
	assert.True(t, keep)
	assert.Contains(t, text, "ERROR")
	assert.Empty(t, *calls)
}

func TestActionMessageFilter_Progress_BoundaryValuesAccepted(t *testing.T) {
	for _, v := range []string{"0.0", "100.0"} {
		f, calls := newTestFilter()
		_, keep := f.Filter(hclog.NewNullLogger(), "openjd_progress: "+v)
		assert.True(t, keep)
		assert.Len(t, *calls, 1)
	}
}

func TestActionMessageFilter_Env_ValidAssignment(t *testing.T) {
	f, calls := newTestFilter()
	_, keep := f.Filter(hclog.NewNullLogger(), "openjd_env: FOO=bar=baz")
	assert.True(t, keep)
	require.Len(t, *calls, 1)
	assert.Equal(t, ActionMessageEnv, (*calls)[0].kind)
	assert.Equal(t, EnvAssignment{Name: "FOO", Value: "bar=baz"}, (*calls)[0].value)
}

func TestActionMessageFilter_Env_InvalidNameRejected(t *testing.T) {
	f, calls := newTestFilter()
	text, _ := f.Filter(hclog.NewNullLogger(), "openjd_env: 1BAD=value")
	assert.Contains(t, text, "ERROR")
	assert.Empty(t, *calls)
}

func TestActionMessageFilter_UnsetEnv_Valid(t *testing.T) {
	f, calls := newTestFilter()
	_, keep := f.Filter(hclog.NewNullLogger(), "openjd_unset_env: FOO")
	assert.True(t, keep)
	require.Len(t, *calls, 1)
	assert.Equal(t, ActionMessageUnsetEnv, (*calls)[0].kind)
	assert.Equal(t, "FOO", (*calls)[0].value)
}

func TestActionMessageFilter_LogLevel_KnownValue(t *testing.T) {
	f, calls := newTestFilter()
	_, keep := f.Filter(hclog.NewNullLogger(), "openjd_session_runtime_loglevel: DEBUG")
	assert.True(t, keep)
	require.Len(t, *calls, 1)
	assert.Equal(t, hclog.Debug, (*calls)[0].value)
}

func TestActionMessageFilter_LogLevel_UnknownValueRejected(t *testing.T) {
	f, calls := newTestFilter()
	text, _ := f.Filter(hclog.NewNullLogger(), "openjd_session_runtime_loglevel: VERBOSE")
	assert.Contains(t, text, "ERROR")
	assert.Empty(t, *calls)
}

func TestActionMessageFilter_SuppressFiltered(t *testing.T) {
	f, _ := newTestFilter()
	f.SuppressFiltered = true
	_, keep := f.Filter(hclog.NewNullLogger(), "openjd_status: halfway there")
	assert.False(t, keep)
}

func TestSimplifiedEnvChanges_LastWriteWins(t *testing.T) {
	changes := NewSimplifiedEnvChanges(map[string]string{"FOO": "1"})
	changes.SimplifyOrderedChanges([]EnvironmentVariableChange{
		EnvironmentVariableSetChange{Name: "FOO", Value: "2"},
		EnvironmentVariableSetChange{Name: "BAR", Value: "3"},
		EnvironmentVariableUnsetChange{Name: "BAR"},
	})

	env := map[string]*string{}
	changes.ApplyToEnvironment(env)

	require.Contains(t, env, "FOO")
	assert.Equal(t, "2", *env["FOO"])
	require.Contains(t, env, "BAR")
	assert.Nil(t, env["BAR"])
}
