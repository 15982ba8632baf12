package sessionrt

import "time"

// EnvironmentIdentifier identifies an entered Environment within a Session.
type EnvironmentIdentifier = string

// ActionState is the terminal (or running) state of a single Action.
type ActionState string

const (
	ActionStateRunning ActionState = "running"
	ActionStateCanceled ActionState = "canceled"
	ActionStateTimeout ActionState = "timeout"
	ActionStateFailed ActionState = "failed"
	ActionStateSuccess ActionState = "success"
)

// SessionState is the Session's own coarse-grained state
type SessionState string

const (
	SessionStateReady SessionState = "ready"
	SessionStateRunning SessionState = "running"
	SessionStateCanceling SessionState = "canceling"
	SessionStateReadyEnding SessionState = "ready_ending"
	SessionStateEnded SessionState = "ended"
)

// ParameterValueType is the declared type of a Job or Task parameter value.
type ParameterValueType string

const (
	ParameterValueString ParameterValueType = "STRING"
	ParameterValuePath ParameterValueType = "PATH"
	ParameterValueInt ParameterValueType = "INT"
	ParameterValueFloat ParameterValueType = "FLOAT"
)

// ParameterValue is a typed job/task parameter value.
type ParameterValue struct {
	Type ParameterValueType
	Value string
}

// SchemaVersion tags the Job Template schema revision an Action/Environment/
// StepScript was built against. Only one revision is implemented today, but
// the type exists so that a second schema can be added without disturbing
// callers.
type SchemaVersion string

const SchemaV2023_09 SchemaVersion = "2023-09"

// CancelationMode selects how an Action is canceled.
type CancelationMode string

const (
	CancelTerminate CancelationMode = "TERMINATE"
	CancelNotifyThenTerminate CancelationMode = "NOTIFY_THEN_TERMINATE"
)

// Cancelation describes how an Action should be canceled when asked to stop.
type Cancelation struct {
	Mode CancelationMode
	NotifyPeriod time.Duration // only meaningful for CancelNotifyThenTerminate
}

// Action is a single command invocation: command + args are format strings
// resolved against a session's symbol table before the subprocess is spawned.
type Action struct {
	Command FormatString
	Args []FormatString
	Timeout time.Duration // zero means "no runtime limit"
	Cancelation *Cancelation // nil means "use the runner's default"
}

// effectiveCancelation returns the Action's declared Cancelation, or a
// TERMINATE default when none was declared ("Default mode
// when unspecified is TERMINATE").
func (a Action) effectiveCancelation() Cancelation {
	if a.Cancelation != nil {
		return *a.Cancelation
	}
	return Cancelation{Mode: CancelTerminate}
}

// EmbeddedFile is an inline text payload materialized to disk before the
// Action that references it runs.
type EmbeddedFile struct {
	Name string
	Filename string // optional; a random name is generated under the files dir if empty
	Data FormatString
	Runnable bool
}

// EnvironmentVariableObject maps a declared environment variable name to the
// format string that produces its value.
type EnvironmentVariableObject map[string]FormatString

// Environment is a named setup/teardown bracket: onEnter/onExit Actions plus
// optional declared environment variables and embedded files.
type Environment struct {
	Name string
	Revision SchemaVersion
	OnEnter *Action
	OnExit *Action
	EnterFiles []EmbeddedFile
	ExitFiles []EmbeddedFile
	Variables EnvironmentVariableObject
}

// StepScript is the onRun Action for a Task, plus its embedded files.
type StepScript struct {
	Revision SchemaVersion
	OnRun Action
	Files []EmbeddedFile
}

// TaskParameterSet maps task parameter name to its typed value.
type TaskParameterSet map[string]ParameterValue

// JobParameterValues maps job parameter name to its typed value.
type JobParameterValues map[string]ParameterValue
