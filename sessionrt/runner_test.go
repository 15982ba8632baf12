package sessionrt

import (
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, defaultNotify time.Duration) (*StepScriptRunner, *statusRecorder) {
	t.Helper()
	dir := t.TempDir()
	recorder := &statusRecorder{}
	runner := &StepScriptRunner{
		scriptRunner: newScriptRunner(hclog.NewNullLogger(), dir, nil, func(s ActionStatus) {
			recorder.record("", s)
		}, defaultNotify),
	}
	return runner, recorder
}

func waitForRunnerState(t *testing.T, runner *StepScriptRunner, want ScriptRunnerState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if runner.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("runner did not reach state %s within deadline (got %s)", want, runner.State())
}

func TestScriptRunner_RunToSuccess(t *testing.T) {
	runner, recorder := newTestRunner(t, 30*time.Second)

	action := Action{Command: LiteralString("true")}
	err := runner.Start(action, SymbolTable{}, nil, t.TempDir(), nil)
	require.NoError(t, err)

	<-runner.Done()
	require.Equal(t, RunnerStateSuccess, runner.State())
	require.NotNil(t, recorder.last())
	require.Equal(t, ActionStateSuccess, recorder.last().State)
}

func TestScriptRunner_TimeoutProducesTimeoutState(t *testing.T) {
	runner, _ := newTestRunner(t, 30*time.Second)

	action := Action{
		Command: LiteralString("sleep"),
		Args: []FormatString{LiteralString("5")},
		Timeout: 100 * time.Millisecond,
	}
	require.NoError(t, runner.Start(action, SymbolTable{}, nil, t.TempDir(), nil))

	<-runner.Done()
	require.Equal(t, RunnerStateTimeout, runner.State())
}

func TestScriptRunner_CancelWithLimitProducesCanceled(t *testing.T) {
	runner, _ := newTestRunner(t, 30*time.Second)

	action := Action{
		Command: LiteralString("sleep"),
		Args: []FormatString{LiteralString("5")},
	}
	require.NoError(t, runner.Start(action, SymbolTable{}, nil, t.TempDir(), nil))
	waitForRunnerState(t, runner, RunnerStateRunning)

	zero := time.Duration(0)
	runner.CancelWithLimit(Cancelation{Mode: CancelNotifyThenTerminate}, &zero)

	<-runner.Done()
	require.Equal(t, RunnerStateCanceled, runner.State())
}

func TestScriptRunner_RepeatedCancelOnlyShrinksGrace(t *testing.T) {
	runner, _ := newTestRunner(t, 30*time.Second)

	action := Action{
		Command: LiteralString("sleep"),
		Args: []FormatString{LiteralString("5")},
	}
	require.NoError(t, runner.Start(action, SymbolTable{}, nil, t.TempDir(), nil))
	waitForRunnerState(t, runner, RunnerStateRunning)

	long := 10 * time.Second
	short := 50 * time.Millisecond
	runner.CancelWithLimit(Cancelation{Mode: CancelNotifyThenTerminate}, &long)
	waitForRunnerState(t, runner, RunnerStateCanceling)
	firstEnd := runner.graceEnd

	runner.CancelWithLimit(Cancelation{Mode: CancelNotifyThenTerminate}, &short)
	require.True(t, runner.graceEnd.Before(firstEnd) || runner.graceEnd.Equal(firstEnd))

	<-runner.Done()
	require.Equal(t, RunnerStateCanceled, runner.State())
}
