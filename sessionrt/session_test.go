package sessionrt

import (
	"sync"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, *statusRecorder) {
	t.Helper()
	recorder := &statusRecorder{}
	session, err := NewSession(SessionConfig{
		SessionID: "test-session",
		Logger: hclog.NewNullLogger(),
		Callback: recorder.record,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Cleanup() })
	return session, recorder
}

type statusRecorder struct {
	mu sync.Mutex
	statuses []ActionStatus
}

func (r *statusRecorder) record(_ string, status ActionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) last() *ActionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return nil
	}
	return &r.statuses[len(r.statuses)-1]
}

func (r *statusRecorder) sawStatusMessage(want string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if s.StatusMessage != nil && *s.StatusMessage == want {
			return true
		}
	}
	return false
}

func waitForState(t *testing.T, session *Session, want SessionState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if session.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session did not reach state %s within deadline (got %s)", want, session.State())
}

func TestSession_RunTask_SuccessReturnsToReady(t *testing.T) {
	session, recorder := newTestSession(t)

	step := StepScript{
		OnRun: Action{
			Command: LiteralString("true"),
		},
	}
	require.NoError(t, session.RunTask(step, nil, nil))
	waitForState(t, session, SessionStateReady)

	last := recorder.last()
	require.NotNil(t, last)
	require.Equal(t, ActionStateSuccess, last.State)
}

func TestSession_RunTask_NonZeroExitReportsFailed(t *testing.T) {
	session, recorder := newTestSession(t)

	step := StepScript{
		OnRun: Action{
			Command: LiteralString("false"),
		},
	}
	require.NoError(t, session.RunTask(step, nil, nil))
	waitForState(t, session, SessionStateReadyEnding)

	last := recorder.last()
	require.NotNil(t, last)
	require.Equal(t, ActionStateFailed, last.State)
}

func TestSession_RunTask_RejectsConcurrentRun(t *testing.T) {
	session, _ := newTestSession(t)

	step := StepScript{OnRun: Action{Command: LiteralString("sleep"), Args: []FormatString{LiteralString("1")}}}
	require.NoError(t, session.RunTask(step, nil, nil))

	err := session.RunTask(step, nil, nil)
	require.Error(t, err)
}

func TestSession_EnterAndExitEnvironment(t *testing.T) {
	session, _ := newTestSession(t)

	env := Environment{
		Name: "example",
		OnEnter: &Action{
			Command: LiteralString("true"),
		},
	}
	id, err := session.EnterEnvironment(env, "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	waitForState(t, session, SessionStateReady)
	require.Equal(t, []EnvironmentIdentifier{id}, session.EnvironmentsEntered())

	require.NoError(t, session.ExitEnvironment(id, nil))
	waitForState(t, session, SessionStateReadyEnding)
	require.Empty(t, session.EnvironmentsEntered())
}

func TestSession_ExitEnvironment_RejectsWrongIdentifier(t *testing.T) {
	session, _ := newTestSession(t)

	env := Environment{Name: "example", OnEnter: &Action{Command: LiteralString("true")}}
	_, err := session.EnterEnvironment(env, "", nil)
	require.NoError(t, err)
	waitForState(t, session, SessionStateReady)

	err = session.ExitEnvironment("not-the-real-id", nil)
	require.Error(t, err)
}

func TestSession_CancelAction_WithNoRunningActionFails(t *testing.T) {
	session, _ := newTestSession(t)
	err := session.CancelAction(nil)
	require.Error(t, err)
}

func TestSession_Cleanup_IsIdempotent(t *testing.T) {
	session, _ := newTestSession(t)
	require.NoError(t, session.Cleanup())
	require.NoError(t, session.Cleanup())
	require.Equal(t, SessionStateEnded, session.State())
}

// TestSession_InBandEnvMessage_OverridesForSubsequentAction exercises
// openjd_env routing end-to-end: Eo declares FOO/BAR, Ei's onEnter overrides
// FOO via an in-band message, and a Task run afterward must observe the
// override rather than Eo's originally declared value.
func TestSession_InBandEnvMessage_OverridesForSubsequentAction(t *testing.T) {
	session, recorder := newTestSession(t)

	outer := Environment{
		Name: "eo",
		Variables: EnvironmentVariableObject{
			"FOO": LiteralString("original"),
			"BAR": LiteralString("b"),
		},
	}
	_, err := session.EnterEnvironment(outer, "", nil)
	require.NoError(t, err)
	waitForState(t, session, SessionStateReady)

	inner := Environment{
		Name: "ei",
		OnEnter: &Action{
			Command: LiteralString("sh"),
			Args: []FormatString{
				LiteralString("-c"),
				LiteralString(`echo "openjd_env: FOO=FOO-override"`),
			},
		},
	}
	innerID, err := session.EnterEnvironment(inner, "", nil)
	require.NoError(t, err)
	waitForState(t, session, SessionStateReady)

	step := StepScript{
		OnRun: Action{
			Command: LiteralString("sh"),
			Args: []FormatString{
				LiteralString("-c"),
				LiteralString(`echo "openjd_status: $FOO"`),
			},
		},
	}
	require.NoError(t, session.RunTask(step, nil, nil))
	waitForState(t, session, SessionStateReady)

	require.NoError(t, session.ExitEnvironment(innerID, nil))
	waitForState(t, session, SessionStateReadyEnding)

	require.True(t, recorder.sawStatusMessage("FOO-override"))
}
