package sessionrt

import (
	"time"

	hclog "github.com/hashicorp/go-hclog"
)

// stepScriptNotifyGrace is the default NOTIFY_THEN_TERMINATE grace period
// for a Task's onRun action
const stepScriptNotifyGrace = 120 * time.Second

// StepScriptRunner runs a single Task's onRun Action.
type StepScriptRunner struct {
	*scriptRunner
}

// NewStepScriptRunner constructs a runner for one onRun invocation.
func NewStepScriptRunner(logger hclog.Logger, workingDirectory string, user SessionUser, callback RunnerCallback) *StepScriptRunner {
	return &StepScriptRunner{
		scriptRunner: newScriptRunner(logger, workingDirectory, user, callback, stepScriptNotifyGrace),
	}
}

// Start spawns the Task's onRun action with its embedded files, scoped
// "Task"
func (s *StepScriptRunner) Start(action Action, symtab SymbolTable, effectiveEnv map[string]*string, filesDirectory string, files []EmbeddedFile) error {
	materializer := &EmbeddedFilesMaterializer{
		Logger: s.logger,
		Scope: EmbeddedFilesScopeTask,
		TargetDirectory: filesDirectory,
		User: s.user,
	}
	return s.start(action, symtab, effectiveEnv, materializer, files)
}
