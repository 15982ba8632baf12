package sessionrt

import (
	"time"

	hclog "github.com/hashicorp/go-hclog"
)

// environmentScriptNotifyGrace is the default NOTIFY_THEN_TERMINATE grace
// period for an environment's onEnter/onExit action
const environmentScriptNotifyGrace = 30 * time.Second

// EnvironmentScriptRunner runs a single Environment's onEnter or onExit
// Action.
type EnvironmentScriptRunner struct {
	*scriptRunner
}

// NewEnvironmentScriptRunner constructs a runner for one onEnter/onExit
// invocation. callback is invoked on every ActionStatus change.
func NewEnvironmentScriptRunner(logger hclog.Logger, workingDirectory string, user SessionUser, callback RunnerCallback) *EnvironmentScriptRunner {
	return &EnvironmentScriptRunner{
		scriptRunner: newScriptRunner(logger, workingDirectory, user, callback, environmentScriptNotifyGrace),
	}
}

// Start spawns the given action (onEnter or onExit) with its associated
// embedded files, scoped "Env"
func (e *EnvironmentScriptRunner) Start(action Action, symtab SymbolTable, effectiveEnv map[string]*string, filesDirectory string, files []EmbeddedFile) error {
	materializer := &EmbeddedFilesMaterializer{
		Logger: e.logger,
		Scope: EmbeddedFilesScopeEnv,
		TargetDirectory: filesDirectory,
		User: e.user,
	}
	return e.start(action, symtab, effectiveEnv, materializer, files)
}
