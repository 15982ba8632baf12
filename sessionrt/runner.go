package sessionrt

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	joincontext "github.com/LK4D4/joincontext"
	hclog "github.com/hashicorp/go-hclog"
)

// ScriptRunnerState is an Action runner's own lifecycle state. It is
// distinct from ActionState: CANCELING is a runner-only transitional state
// that the session never directly observes as an ActionState.
type ScriptRunnerState string

const (
	RunnerStateReady ScriptRunnerState = "READY"
	RunnerStateRunning ScriptRunnerState = "RUNNING"
	RunnerStateCanceling ScriptRunnerState = "CANCELING"
	RunnerStateCanceled ScriptRunnerState = "CANCELED"
	RunnerStateTimeout ScriptRunnerState = "TIMEOUT"
	RunnerStateFailed ScriptRunnerState = "FAILED"
	RunnerStateSuccess ScriptRunnerState = "SUCCESS"
)

// RunnerCallback is invoked on every ActionStatus change observed by a
// runner: action start, each in-band progress/status/fail message, and the
// terminal transition.
type RunnerCallback func(ActionStatus)

// scriptRunner is the shared machinery behind EnvironmentScriptRunner and
// StepScriptRunner: script generation, subprocess launch, the runtime-limit
// timer, and two-phase cancellation.
type scriptRunner struct {
	logger hclog.Logger
	workingDirectory string
	user SessionUser
	callback RunnerCallback
	defaultNotify time.Duration

	mu sync.Mutex
	state ScriptRunnerState
	timeoutFlag bool
	graceEnd time.Time
	cancelTimer *time.Timer
	pendingCancelation Cancelation

	callerCtx context.Context
	callerCancel context.CancelFunc
	runtimeCtx context.Context
	runtimeCancel context.CancelFunc
	joinedCancel context.CancelFunc

	subprocess *LoggingSubprocess
	done chan struct{}

	envSink func(EnvironmentVariableChange)
}

func newScriptRunner(logger hclog.Logger, workingDirectory string, user SessionUser, callback RunnerCallback, defaultNotify time.Duration) *scriptRunner {
	callerCtx, callerCancel := context.WithCancel(context.Background())
	return &scriptRunner{
		logger: logger,
		workingDirectory: workingDirectory,
		user: user,
		callback: callback,
		defaultNotify: defaultNotify,
		state: RunnerStateReady,
		callerCtx: callerCtx,
		callerCancel: callerCancel,
		done: make(chan struct{}),
	}
}

// State returns the runner's current lifecycle state.
func (r *scriptRunner) State() ScriptRunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the runner reaches a terminal state.
func (r *scriptRunner) Done() <-chan struct{} {
	return r.done
}

// SetEnvSink installs the callback that receives each openjd_env/
// openjd_unset_env message observed while this runner's action is running,
// in the order they are parsed. It must be called before Start. Only
// Environment onEnter/onExit runners have one wired up by Session; Task
// runners leave it nil and env messages are simply parsed and logged with
// no further effect.
func (r *scriptRunner) SetEnvSink(sink func(EnvironmentVariableChange)) {
	r.mu.Lock()
	r.envSink = sink
	r.mu.Unlock()
}

// start resolves the command, writes the wrapper script and any embedded
// files, then spawns the subprocess in a dedicated worker goroutine. start
// returns once the child has started or is known to have failed to start;
// it does not wait for the child to exit.
func (r *scriptRunner) start(action Action, symtab SymbolTable, env map[string]*string, embedded *EmbeddedFilesMaterializer, files []EmbeddedFile) error {
	r.mu.Lock()
	if r.state != RunnerStateReady {
		r.mu.Unlock()
		return fmt.Errorf("cannot start a runner in state %s", r.state)
	}
	r.mu.Unlock()

	if embedded != nil && len(files) > 0 {
		if err := embedded.Materialize(files, symtab); err != nil {
			return r.failPreSpawn(err)
		}
	}

	command, err := action.Command.Resolve(symtab)
	if err != nil {
		return r.failPreSpawn(err)
	}
	args := make([]string, 0, len(action.Args))
	for _, a := range action.Args {
		resolved, err := a.Resolve(symtab)
		if err != nil {
			return r.failPreSpawn(err)
		}
		args = append(args, resolved)
	}
	fullCommand := append([]string{command}, args...)

	scriptPath, err := r.writeWrapperScript(fullCommand, env)
	if err != nil {
		return r.failPreSpawn(err)
	}

	filter := &ActionMessageFilter{Callback: r.routeMessage}
	sub := NewLoggingSubprocess(r.logger, []string{scriptPath}, r.workingDirectory, r.user, filter)

	r.mu.Lock()
	r.subprocess = sub
	r.mu.Unlock()

	go r.runWorker(sub)

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sub.WaitUntilStarted(startCtx); err != nil {
		return r.failPreSpawn(fmt.Errorf("subprocess did not report startup: %w", err))
	}
	if sub.FailedToStart() {
		return r.failPreSpawn(fmt.Errorf("subprocess failed to start"))
	}

	r.mu.Lock()
	r.state = RunnerStateRunning
	r.mu.Unlock()
	r.emit(ActionStatus{State: ActionStateRunning})

	r.armCancelSources(action)
	return nil
}

// armCancelSources joins the runtime-limit timer's context with the
// caller's cancel context: whichever fires first (timeout elapsing, or a
// caller calling CancelWithLimit) begins the same
// NOTIFY_THEN_TERMINATE/terminate sequence, watched by one goroutine rather
// than duplicating the cancellation logic per trigger source.
func (r *scriptRunner) armCancelSources(action Action) {
	defaultCancelation := action.effectiveCancelation()

	if action.Timeout > 0 {
		r.runtimeCtx, r.runtimeCancel = context.WithTimeout(context.Background(), action.Timeout)
	} else {
		r.runtimeCtx, r.runtimeCancel = context.WithCancel(context.Background())
	}

	joined, joinedCancel := joinCancelContexts(r.callerCtx, r.runtimeCtx)
	r.joinedCancel = joinedCancel

	go func() {
		<-joined.Done()
		r.mu.Lock()
		finished := r.state != RunnerStateRunning && r.state != RunnerStateCanceling
		timedOut := r.runtimeCtx.Err() != nil
		chosen := defaultCancelation
		if !timedOut {
			chosen = r.pendingCancelation
		} else {
			r.timeoutFlag = true
		}
		r.mu.Unlock()
		if finished {
			return
		}
		r.beginCancel(chosen)
	}()
}

func (r *scriptRunner) writeWrapperScript(command []string, env map[string]*string) (string, error) {
	var content string
	var err error
	var filename string
	if runtime.GOOS == "windows" {
		content, err = renderPowershellScript(command, env, r.workingDirectory)
		filename = "openjd-run.ps1"
	} else {
		content, err = renderPosixScript(command, env, r.workingDirectory)
		filename = "openjd-run.sh"
	}
	if err != nil {
		return "", err
	}
	path := r.workingDirectory + string(os.PathSeparator) + filename
	if err := WriteFileForUser(path, content, r.user, 0o100); err != nil {
		return "", fmt.Errorf("writing wrapper script: %w", err)
	}
	return path, nil
}

func (r *scriptRunner) failPreSpawn(cause error) error {
	r.mu.Lock()
	r.state = RunnerStateFailed
	r.mu.Unlock()
	message := cause.Error()
	r.emit(ActionStatus{State: ActionStateFailed, FailMessage: &message})
	close(r.done)
	return cause
}

// runWorker blocks on the subprocess (the one suspension point in this
// package) and resolves the runner's terminal state.
func (r *scriptRunner) runWorker(sub *LoggingSubprocess) {
	_ = sub.Run()

	r.mu.Lock()
	r.stopTimersLocked()
	canceling := r.state == RunnerStateCanceling
	timedOut := r.timeoutFlag
	exitCode := sub.ExitCode()
	var final ScriptRunnerState
	switch {
	case timedOut:
		final = RunnerStateTimeout
	case canceling:
		final = RunnerStateCanceled
	case exitCode != nil && *exitCode == 0:
		final = RunnerStateSuccess
	default:
		final = RunnerStateFailed
	}
	r.state = final
	r.mu.Unlock()

	status := ActionStatus{State: runnerStateToActionState(final), ExitCode: exitCode}
	r.emit(status)
	close(r.done)
}

func runnerStateToActionState(s ScriptRunnerState) ActionState {
	switch s {
	case RunnerStateCanceled:
		return ActionStateCanceled
	case RunnerStateTimeout:
		return ActionStateTimeout
	case RunnerStateSuccess:
		return ActionStateSuccess
	default:
		return ActionStateFailed
	}
}

func (r *scriptRunner) routeMessage(kind ActionMessageKind, value any) {
	switch kind {
	case ActionMessageProgress:
		v := value.(float64)
		r.emit(ActionStatus{State: ActionStateRunning, Progress: &v})
	case ActionMessageStatus:
		v := value.(string)
		r.emit(ActionStatus{State: ActionStateRunning, StatusMessage: &v})
	case ActionMessageFail:
		v := value.(string)
		r.emit(ActionStatus{State: ActionStateRunning, FailMessage: &v})
	case ActionMessageEnv:
		v := value.(EnvAssignment)
		r.mu.Lock()
		sink := r.envSink
		r.mu.Unlock()
		if sink != nil {
			sink(EnvironmentVariableSetChange{Name: v.Name, Value: v.Value})
		}
	case ActionMessageUnsetEnv:
		v := value.(string)
		r.mu.Lock()
		sink := r.envSink
		r.mu.Unlock()
		if sink != nil {
			sink(EnvironmentVariableUnsetChange{Name: v})
		}
	case ActionMessageRuntimeLogLevel:
		level := value.(hclog.Level)
		r.logger.SetLevel(level)
	}
}

func (r *scriptRunner) emit(status ActionStatus) {
	if r.callback != nil {
		r.callback(status)
	}
}

// beginCancel implements the two-phase NOTIFY_THEN_TERMINATE discipline:
// the grace period is monotonically shrinking across repeated calls, and a
// zero time-limit override collapses notify into an immediate terminate.
// It only ever runs on the goroutine started by armCancelSources.
func (r *scriptRunner) beginCancel(c Cancelation) {
	r.mu.Lock()
	if r.state != RunnerStateRunning && r.state != RunnerStateCanceling {
		r.mu.Unlock()
		return
	}
	r.state = RunnerStateCanceling
	sub := r.subprocess
	r.mu.Unlock()

	if c.Mode == CancelTerminate {
		if sub != nil {
			_ = sub.Terminate()
		}
		return
	}

	notify := c.NotifyPeriod
	if notify <= 0 {
		notify = r.defaultNotify
	}
	r.rearmGrace(notify, sub)
}

// CancelWithLimit is the caller-facing entry point for canceling the
// running Action. timeLimit, when supplied, only ever shrinks the grace
// period relative to the runner's own default/configured period. It
// records the requested mode/limit, then triggers the caller side of the
// joined cancel context so the watcher goroutine started in
// armCancelSources picks it up -- the same path a runtime-limit expiry
// takes.
func (r *scriptRunner) CancelWithLimit(c Cancelation, timeLimit *time.Duration) {
	requested := c
	if requested.NotifyPeriod <= 0 {
		requested.NotifyPeriod = r.defaultNotify
	}
	if timeLimit != nil {
		if *timeLimit < requested.NotifyPeriod {
			requested.NotifyPeriod = *timeLimit
		}
		if *timeLimit == 0 {
			requested.Mode = CancelTerminate
		}
	}

	r.mu.Lock()
	state := r.state
	if state == RunnerStateCanceling {
		// Already canceling: apply the (possibly shrunk) grace directly,
		// rather than re-triggering a context already Done.
		sub := r.subprocess
		r.mu.Unlock()
		if requested.Mode == CancelTerminate {
			if sub != nil {
				_ = sub.Terminate()
			}
			return
		}
		notify := requested.NotifyPeriod
		if notify <= 0 {
			notify = r.defaultNotify
		}
		r.rearmGrace(notify, sub)
		return
	}
	r.pendingCancelation = requested
	r.mu.Unlock()

	if r.callerCancel != nil {
		r.callerCancel()
	}
}

func (r *scriptRunner) rearmGrace(requested time.Duration, sub *LoggingSubprocess) {
	r.mu.Lock()
	now := time.Now()
	newEnd := now.Add(requested)
	if r.cancelTimer != nil {
		// A second cancel before grace elapses only ever shrinks the
		// deadline: never let a later, longer request push the existing
		// graceEnd out.
		if !r.graceEnd.IsZero() && newEnd.After(r.graceEnd) {
			newEnd = r.graceEnd
		}
		r.cancelTimer.Stop()
	}
	r.graceEnd = newEnd
	remaining := time.Until(newEnd)
	if remaining < 0 {
		remaining = 0
	}
	r.cancelTimer = time.AfterFunc(remaining, func() {
		if sub != nil {
			_ = sub.Terminate()
		}
	})
	r.mu.Unlock()

	if err := writeCancelInfo(r.workingDirectory, newEnd, r.user); err != nil {
		r.logger.Warn("could not write cancel_info.json", "error", err)
	}
	if sub != nil {
		if err := sub.Notify(); err != nil {
			r.logger.Warn("could not deliver notify signal", "error", err)
		}
	}
}

func (r *scriptRunner) stopTimersLocked() {
	if r.cancelTimer != nil {
		r.cancelTimer.Stop()
	}
	if r.runtimeCancel != nil {
		r.runtimeCancel()
	}
	if r.joinedCancel != nil {
		r.joinedCancel()
	}
	if r.callerCancel != nil {
		r.callerCancel()
	}
}

// joinCancelContexts combines the caller's cancel context with the
// runtime-limit timer's own context, so that whichever fires first
// initiates NOTIFY_THEN_TERMINATE.
func joinCancelContexts(callerCtx, timerCtx context.Context) (context.Context, context.CancelFunc) {
	return joincontext.Join(callerCtx, timerCtx)
}
