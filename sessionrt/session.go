package sessionrt

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"
)

// actionRunner is the subset of *EnvironmentScriptRunner/*StepScriptRunner
// that Session needs: both embed *scriptRunner, which satisfies this.
type actionRunner interface {
	Done() <-chan struct{}
	CancelWithLimit(c Cancelation, timeLimit *time.Duration)
}

// SessionCallback is the optional caller-supplied status-change notifier.
// Invocations happen on action start, on each successful in-band
// progress/status/fail message, and on terminal transition; implementations
// must return quickly since they run from subprocess-IO or timer threads.
type SessionCallback func(sessionID string, status ActionStatus)

// Session is the top-level context for one worker session: it owns the
// environment stack, the working/files directories, cumulative
// environment-variable layering, path-mapping materialisation, and the
// currently/most-recently observed ActionStatus.
type Session struct {
	logger hclog.Logger

	sessionID string
	jobParameterValues JobParameterValues
	pathMappingRules *PathMappingRules
	processEnv map[string]string
	user SessionUser
	callback SessionCallback
	retainWorkingDir bool

	mu sync.Mutex
	state SessionState
	endingOnly bool
	environments map[EnvironmentIdentifier]Environment
	environmentsOrder []EnvironmentIdentifier
	createdEnvVars map[EnvironmentIdentifier]*SimplifiedEnvChanges
	runningEnvironment *EnvironmentIdentifier
	actionStatus *ActionStatus
	currentRunner actionRunner
	cleanupCalled bool

	workingDir *TempDir
	filesDir string
}

// SessionConfig collects Session's construction inputs.
type SessionConfig struct {
	SessionID string
	JobParameterValues JobParameterValues
	PathMappingRules []PathMappingRule
	User SessionUser
	Callback SessionCallback
	ProcessEnv map[string]string
	RootDirectory string // empty: host temp dir, "openjd" subfolder
	RetainWorkingDir bool
	Logger hclog.Logger
}

// NewSession constructs and initializes a Session: resolves/creates the
// working and files directories, emits provenance banners, and transitions
// to READY. A failure creating either directory transitions straight to
// ENDED and returns the error.
func NewSession(cfg SessionConfig) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.With("session_id", cfg.SessionID)

	s := &Session{
		logger: logger,
		sessionID: cfg.SessionID,
		jobParameterValues: cfg.JobParameterValues,
		processEnv: cfg.ProcessEnv,
		user: cfg.User,
		callback: cfg.Callback,
		retainWorkingDir: cfg.RetainWorkingDir,
		state: SessionStateReady,
		environments: make(map[EnvironmentIdentifier]Environment),
		createdEnvVars: make(map[EnvironmentIdentifier]*SimplifiedEnvChanges),
	}
	if cfg.ProcessEnv == nil {
		s.processEnv = make(map[string]string)
	}

	if len(cfg.PathMappingRules) > 0 {
		sorted := make([]PathMappingRule, len(cfg.PathMappingRules))
		copy(sorted, cfg.PathMappingRules)
		sort.SliceStable(sorted, func(i, j int) bool {
			return len(sorted[i].SourcePathFormat.split(sorted[i].SourcePath)) > len(sorted[j].SourcePathFormat.split(sorted[j].SourcePath))
		})
		s.pathMappingRules = NewPathMappingRules(sorted)
	}

	logProvenanceBanner(logger)
	logger.Info("initializing session", "session_id", cfg.SessionID)

	rootDir := cfg.RootDirectory
	if rootDir == "" {
		rootDir = filepath.Join(os.TempDir(), "openjd")
		if err := os.MkdirAll(rootDir, 0o755); err != nil {
			s.state = SessionStateEnded
			return nil, fmt.Errorf("creating session root directory: %w", err)
		}
	}

	workingDir, err := CreateTempDir(logger, rootDir, cfg.User)
	if err != nil {
		s.state = SessionStateEnded
		return nil, fmt.Errorf("creating session working directory: %w", err)
	}
	s.workingDir = workingDir

	filesDir, err := CreateTempDir(logger, workingDir.Path, cfg.User)
	if err != nil {
		s.state = SessionStateEnded
		return nil, fmt.Errorf("creating session files directory: %w", err)
	}
	s.filesDir = filesDir.Path

	logger.Info("session working directory", "path", s.workingDir.Path)
	logger.Info("session files directory", "path", s.filesDir)
	return s, nil
}

// WorkingDirectory returns the session's working directory.
func (s *Session) WorkingDirectory() string { return s.workingDir.Path }

// FilesDirectory returns the subdirectory used for materialized embedded files.
func (s *Session) FilesDirectory() string { return s.filesDir }

// State returns the session's current coarse-grained state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActionStatus returns the most recently observed ActionStatus, or nil if
// no action has run yet.
func (s *Session) ActionStatus() *ActionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actionStatus
}

// EnvironmentsEntered returns the environment-identifier stack in enter order.
func (s *Session) EnvironmentsEntered() []EnvironmentIdentifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EnvironmentIdentifier, len(s.environmentsOrder))
	copy(out, s.environmentsOrder)
	return out
}

func (s *Session) resetActionState() {
	s.actionStatus = nil
	s.runningEnvironment = nil
	s.currentRunner = nil
}

// buildSymbolTable constructs the symbol table for job parameters
// (path-mapped when PATH-typed and rules are configured), plus task
// parameters when taskParams is non-nil.
func (s *Session) buildSymbolTable(taskParams TaskParameterSet) SymbolTable {
	symtab := SymbolTable{"Session.WorkingDirectory": s.workingDir.Path}

	if s.pathMappingRules != nil {
		symtab["Session.HasPathMappingRules"] = "true"
	} else {
		symtab["Session.HasPathMappingRules"] = "false"
	}

	for name, value := range s.jobParameterValues {
		symtab["RawParam."+name] = value.Value
		symtab["Param."+name] = s.mapPathParameter(value)
	}
	for name, value := range taskParams {
		symtab["Task.RawParam."+name] = value.Value
		symtab["Task.Param."+name] = s.mapPathParameter(value)
	}
	return symtab
}

func (s *Session) mapPathParameter(value ParameterValue) string {
	if value.Type != ParameterValuePath || s.pathMappingRules == nil {
		return value.Value
	}
	if changed, result := s.pathMappingRules.Apply(value.Value); changed {
		return result
	}
	return value.Value
}

// materializePathMappingFile writes the path-mapping file for this action
// under the working directory with a random name, and registers its path in
// symtab (the HasPathMappingRules boolean is set by buildSymbolTable).
func (s *Session) materializePathMappingFile(symtab SymbolTable) error {
	if s.pathMappingRules == nil {
		symtab["Session.PathMappingRulesFile"] = ""
		return nil
	}
	data, err := marshalPathMappingFile(s.pathMappingRules.Rules())
	if err != nil {
		return err
	}
	name, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("generating path mapping file name: %w", err)
	}
	path := filepath.Join(s.workingDir.Path, name+".json")
	if err := WriteFileForUser(path, string(data), s.user, 0); err != nil {
		return fmt.Errorf("writing path mapping file: %w", err)
	}
	symtab["Session.PathMappingRulesFile"] = path
	return nil
}

// composeEffectiveEnv layers process_env, then osEnvVars, then each
// environment currently on the stack's own changes, in enter order,
// last-write-wins.
func (s *Session) composeEffectiveEnv(osEnvVars map[string]string) map[string]*string {
	effective := make(map[string]*string, len(s.processEnv)+len(osEnvVars))
	for k, v := range s.processEnv {
		value := v
		effective[k] = &value
	}
	for k, v := range osEnvVars {
		value := v
		effective[k] = &value
	}
	for _, id := range s.environmentsOrder {
		if changes, ok := s.createdEnvVars[id]; ok {
			changes.ApplyToEnvironment(effective)
		}
	}
	return effective
}

// EnterEnvironment pushes environment onto the stack and spawns its
// onEnter action, returning the environment's identifier (freshly generated
// when identifier is empty).
func (s *Session) EnterEnvironment(environment Environment, identifier EnvironmentIdentifier, osEnvVars map[string]string) (EnvironmentIdentifier, error) {
	s.mu.Lock()
	if s.state != SessionStateReady {
		s.mu.Unlock()
		return "", fmt.Errorf("session must be in the READY state to enter an environment")
	}
	if identifier != "" {
		if _, exists := s.environments[identifier]; exists {
			s.mu.Unlock()
			return "", fmt.Errorf("environment %s has already been entered in this session", identifier)
		}
	}
	s.resetActionState()

	if identifier == "" {
		random, err := uuid.GenerateUUID()
		if err != nil {
			s.mu.Unlock()
			return "", fmt.Errorf("generating environment identifier: %w", err)
		}
		identifier = s.sessionID + ":" + random
	}

	s.environments[identifier] = environment
	s.environmentsOrder = append(s.environmentsOrder, identifier)
	s.runningEnvironment = &identifier

	symtab := s.buildSymbolTable(nil)

	if environment.Variables != nil {
		resolved := make(map[string]string, len(environment.Variables))
		for name, fs := range environment.Variables {
			value, err := fs.Resolve(symtab)
			if err != nil {
				s.mu.Unlock()
				return "", fmt.Errorf("resolving environment variable %s: %w", name, err)
			}
			resolved[name] = value
		}
		s.createdEnvVars[identifier] = NewSimplifiedEnvChanges(resolved)
	} else {
		s.createdEnvVars[identifier] = NewSimplifiedEnvChanges(nil)
	}

	actionEnv := s.composeEffectiveEnv(osEnvVars)
	if err := s.materializePathMappingFile(symtab); err != nil {
		s.mu.Unlock()
		return "", err
	}

	s.state = SessionStateRunning
	s.actionStatus = &ActionStatus{State: ActionStateRunning}
	s.mu.Unlock()

	if environment.OnEnter == nil {
		s.onActionTerminal(ActionStatus{State: ActionStateSuccess})
		return identifier, nil
	}

	runner := NewEnvironmentScriptRunner(s.logger, s.workingDir.Path, s.user, s.wrapRunnerCallback(&identifier))
	runner.SetEnvSink(s.envSinkFor(identifier))
	s.mu.Lock()
	s.currentRunner = runner
	s.mu.Unlock()
	go s.awaitRunner(runner)

	if err := runner.Start(*environment.OnEnter, symtab, actionEnv, s.filesDir, environment.EnterFiles); err != nil {
		s.logger.Warn("onEnter action failed to start", "error", err)
	}
	return identifier, nil
}

// ExitEnvironment pops the top-of-stack environment and spawns its onExit
// action. identifier must equal the stack top.
func (s *Session) ExitEnvironment(identifier EnvironmentIdentifier, osEnvVars map[string]string) error {
	s.mu.Lock()
	if s.state != SessionStateReady && s.state != SessionStateReadyEnding {
		s.mu.Unlock()
		return fmt.Errorf("session must be in the READY or READY_ENDING state to exit an environment")
	}
	environment, ok := s.environments[identifier]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("cannot exit unknown environment %s", identifier)
	}
	top := s.environmentsOrder[len(s.environmentsOrder)-1]
	if top != identifier {
		s.mu.Unlock()
		return fmt.Errorf("cannot exit environment %s; must exit %s first", identifier, top)
	}

	s.resetActionState()
	s.endingOnly = true

	// The environment is popped from the stack before the effective
	// environment is composed for its own onExit action, so that action no
	// longer sees its own declared variables layered in.
	delete(s.environments, identifier)
	s.environmentsOrder = s.environmentsOrder[:len(s.environmentsOrder)-1]
	s.runningEnvironment = &identifier

	actionEnv := s.composeEffectiveEnv(osEnvVars)

	symtab := s.buildSymbolTable(nil)
	if err := s.materializePathMappingFile(symtab); err != nil {
		s.mu.Unlock()
		return err
	}

	s.state = SessionStateRunning
	s.actionStatus = &ActionStatus{State: ActionStateRunning}
	s.mu.Unlock()

	if environment.OnExit == nil {
		s.onActionTerminal(ActionStatus{State: ActionStateSuccess})
		return nil
	}

	runner := NewEnvironmentScriptRunner(s.logger, s.workingDir.Path, s.user, s.wrapRunnerCallback(&identifier))
	runner.SetEnvSink(s.envSinkFor(identifier))
	s.mu.Lock()
	s.currentRunner = runner
	s.mu.Unlock()
	go s.awaitRunner(runner)

	if err := runner.Start(*environment.OnExit, symtab, actionEnv, s.filesDir, environment.ExitFiles); err != nil {
		s.logger.Warn("onExit action failed to start", "error", err)
	}
	return nil
}

// envSinkFor returns the callback an Environment's running action's
// ActionMessageFilter feeds openjd_env/openjd_unset_env messages into: each
// one is folded into that environment's own SimplifiedEnvChanges, so it is
// reflected in the cumulative environment composed for whatever runs next.
func (s *Session) envSinkFor(identifier EnvironmentIdentifier) func(EnvironmentVariableChange) {
	return func(change EnvironmentVariableChange) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if changes, ok := s.createdEnvVars[identifier]; ok {
			changes.SimplifyOrderedChanges([]EnvironmentVariableChange{change})
		}
	}
}

// RunTask spawns a Task's onRun action.
func (s *Session) RunTask(step StepScript, taskParams TaskParameterSet, osEnvVars map[string]string) error {
	s.mu.Lock()
	if s.state != SessionStateReady {
		s.mu.Unlock()
		return fmt.Errorf("session must be in the READY state to run a task")
	}
	s.resetActionState()

	symtab := s.buildSymbolTable(taskParams)
	actionEnv := s.composeEffectiveEnv(osEnvVars)
	if err := s.materializePathMappingFile(symtab); err != nil {
		s.mu.Unlock()
		return err
	}

	s.state = SessionStateRunning
	s.actionStatus = &ActionStatus{State: ActionStateRunning}
	s.mu.Unlock()

	runner := NewStepScriptRunner(s.logger, s.workingDir.Path, s.user, s.wrapRunnerCallback(nil))
	s.mu.Lock()
	s.currentRunner = runner
	s.mu.Unlock()
	go s.awaitRunner(runner)

	if err := runner.Start(step.OnRun, symtab, actionEnv, s.filesDir, step.Files); err != nil {
		s.logger.Warn("onRun action failed to start", "error", err)
	}
	return nil
}

// CancelAction delegates to the currently running runner. A timeLimit of
// zero collapses NOTIFY_THEN_TERMINATE into an immediate terminate.
func (s *Session) CancelAction(timeLimit *time.Duration) error {
	s.mu.Lock()
	if s.state != SessionStateRunning {
		s.mu.Unlock()
		return fmt.Errorf("no actions are running")
	}
	runner := s.currentRunner
	s.mu.Unlock()

	if runner == nil {
		return fmt.Errorf("no runner associated with the running action")
	}
	runner.CancelWithLimit(Cancelation{Mode: CancelNotifyThenTerminate}, timeLimit)
	return nil
}

// Cleanup idempotently releases the session's resources: stops the current
// runner if any, deletes the working directory (through the target
// principal first when one is set, since it may own files this principal
// cannot remove, then a normal recursive delete for whatever remains), and
// transitions to ENDED.
func (s *Session) Cleanup() error {
	s.mu.Lock()
	if s.cleanupCalled {
		s.mu.Unlock()
		return nil
	}
	s.cleanupCalled = true
	runner := s.currentRunner
	s.mu.Unlock()

	logSectionBanner(s.logger, "Session Cleanup")

	if runner != nil {
		zero := time.Duration(0)
		runner.CancelWithLimit(Cancelation{Mode: CancelTerminate}, &zero)
		<-runner.Done()
	}

	if s.user != nil {
		if err := s.deleteAsUser(); err != nil {
			s.logger.Warn("could not delete working directory as target principal", "error", err)
		}
	}

	if !s.retainWorkingDir {
		if err := s.workingDir.Cleanup(); err != nil {
			s.logger.Warn("cleanup error", "error", err)
		}
	}

	s.mu.Lock()
	s.state = SessionStateEnded
	s.mu.Unlock()
	return nil
}

func (s *Session) deleteAsUser() error {
	var command []string
	if runtime.GOOS == "windows" {
		command = []string{"powershell", "-Command", "Remove-Item", "-Recurse", "-Force", s.workingDir.Path}
	} else {
		command = []string{"rm", "-rf", s.workingDir.Path}
	}
	sub := NewLoggingSubprocess(s.logger, command, s.workingDir.Path, s.user, nil)
	return sub.Run()
}

// wrapRunnerCallback adapts a RunnerCallback into the session's
// action-status/terminal routing. environmentID is nil for a Task action.
func (s *Session) wrapRunnerCallback(environmentID *EnvironmentIdentifier) RunnerCallback {
	return func(status ActionStatus) {
		s.mu.Lock()
		s.actionStatus = mergeActionStatus(s.actionStatus, status)
		s.mu.Unlock()

		if s.callback != nil {
			s.callback(s.sessionID, *s.actionStatus)
		}

		if isTerminalActionState(status.State) {
			s.onActionTerminal(status)
		}
	}
}

func (s *Session) onActionTerminal(status ActionStatus) {
	s.mu.Lock()
	if status.State != ActionStateSuccess || s.endingOnly {
		s.state = SessionStateReadyEnding
	} else {
		s.state = SessionStateReady
	}
	s.currentRunner = nil
	s.mu.Unlock()
}

func (s *Session) awaitRunner(r actionRunner) {
	<-r.Done()
}

func mergeActionStatus(prev *ActionStatus, update ActionStatus) *ActionStatus {
	if prev == nil {
		return &update
	}
	merged := *prev
	merged.State = update.State
	if update.Progress != nil {
		merged.Progress = update.Progress
	}
	if update.StatusMessage != nil {
		merged.StatusMessage = update.StatusMessage
	}
	if update.FailMessage != nil {
		merged.FailMessage = update.FailMessage
	}
	if update.ExitCode != nil {
		merged.ExitCode = update.ExitCode
	}
	return &merged
}

func isTerminalActionState(s ActionState) bool {
	switch s {
	case ActionStateCanceled, ActionStateTimeout, ActionStateFailed, ActionStateSuccess:
		return true
	default:
		return false
	}
}
