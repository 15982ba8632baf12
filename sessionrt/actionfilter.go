package sessionrt

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
)

// ActionMessageKind is the kind of an in-band control message embedded in an
// Action's stdout/stderr.
type ActionMessageKind string

const (
	ActionMessageProgress ActionMessageKind = "progress"
	ActionMessageStatus ActionMessageKind = "status"
	ActionMessageFail ActionMessageKind = "fail"
	ActionMessageEnv ActionMessageKind = "env"
	ActionMessageUnsetEnv ActionMessageKind = "unset_env"
	ActionMessageRuntimeLogLevel ActionMessageKind = "session_runtime_loglevel"
)

// EnvAssignment is the payload of an ActionMessageEnv callback invocation.
type EnvAssignment struct {
	Name string
	Value string
}

// ActionFilterCallback is invoked once per successfully-parsed in-band
// message. value's dynamic type depends on kind:
//
//	ActionMessageProgress -> float64
//	ActionMessageStatus -> string
//	ActionMessageFail -> string
//	ActionMessageEnv -> EnvAssignment
//	ActionMessageUnsetEnv -> string
//	ActionMessageRuntimeLogLevel -> hclog.Level
type ActionFilterCallback func(kind ActionMessageKind, value any)

// filterRegex matches a single anchored in-band message: one of the named
// kinds, case-sensitive and space-sensitive, against the whole line.
var filterRegex = regexp.MustCompile(
	`^openjd_(progress|status|fail|env|unset_env|session_runtime_loglevel): (.+)$`,
)

var envSetMatcher = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=.*$`)
var envUnsetMatcher = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ActionMessageFilter parses the in-band control protocol out of the line
// stream of a single Action's subprocess. It is an explicit sink consumed
// by the subprocess's line-reader rather than a logging-library filter
// chain: LoggingSubprocess calls Filter for every line before it reaches
// the real logger.
type ActionMessageFilter struct {
	Callback ActionFilterCallback
	SuppressFiltered bool
}

// Filter processes one line of subprocess output. It returns the (possibly
// modified) line to log and whether the line should be kept in the log at
// all. Parse errors are never suppressed and never invoke the callback;
// malformed multi-kind matches (only possible if the regex itself is
// broken) are logged internally and passed through unchanged.
func (f *ActionMessageFilter) Filter(logger hclog.Logger, line string) (text string, keep bool) {
	match := filterRegex.FindStringSubmatch(line)
	if match == nil {
		return line, true
	}
	kind := ActionMessageKind(match[1])
	payload := match[2]

	handler, ok := f.handlers()[kind]
	if !ok {
		// Only reachable if filterRegex's capture groups and the handler
		// table have drifted apart.
		logger.Error("action message filter: unhandled message kind", "kind", kind)
		return line, true
	}

	if err := handler(payload); err != nil {
		return line + " -- ERROR: " + err.Error(), true
	}
	return line, !f.SuppressFiltered
}

func (f *ActionMessageFilter) handlers() map[ActionMessageKind]func(string) error {
	return map[ActionMessageKind]func(string) error{
		ActionMessageProgress: f.handleProgress,
		ActionMessageStatus: f.handleStatus,
		ActionMessageFail: f.handleFail,
		ActionMessageEnv: f.handleEnv,
		ActionMessageUnsetEnv: f.handleUnsetEnv,
		ActionMessageRuntimeLogLevel: f.handleLogLevel,
	}
}

func (f *ActionMessageFilter) handleProgress(message string) error {
	value, err := strconv.ParseFloat(message, 64)
	if err != nil || !isFiniteInRange(value, 0.0, 100.0) {
		return fmt.Errorf("Progress must be a floating point value between 0.0 and 100.0, inclusive.")
	}
	f.invoke(ActionMessageProgress, value)
	return nil
}

func isFiniteInRange(v, lo, hi float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= lo && v <= hi
}

func (f *ActionMessageFilter) handleStatus(message string) error {
	f.invoke(ActionMessageStatus, message)
	return nil
}

func (f *ActionMessageFilter) handleFail(message string) error {
	f.invoke(ActionMessageFail, message)
	return nil
}

func (f *ActionMessageFilter) handleEnv(message string) error {
	message = strings.TrimLeft(message, " \t")
	if !envSetMatcher.MatchString(message) {
		return fmt.Errorf("Failed to parse environment variable assignment.")
	}
	name, value, _ := strings.Cut(message, "=")
	f.invoke(ActionMessageEnv, EnvAssignment{Name: name, Value: value})
	return nil
}

func (f *ActionMessageFilter) handleUnsetEnv(message string) error {
	message = strings.TrimLeft(message, " \t")
	if !envUnsetMatcher.MatchString(message) {
		return fmt.Errorf("Failed to parse environment variable name.")
	}
	f.invoke(ActionMessageUnsetEnv, message)
	return nil
}

func (f *ActionMessageFilter) handleLogLevel(message string) error {
	normalized := strings.ToUpper(strings.TrimSpace(message))
	levels := map[string]hclog.Level{
		"DEBUG": hclog.Debug,
		"INFO": hclog.Info,
		"WARNING": hclog.Warn,
		"ERROR": hclog.Error,
	}
	level, ok := levels[normalized]
	if !ok {
		return fmt.Errorf("Unknown log level: %s. Known values: DEBUG,INFO,WARNING,ERROR", normalized)
	}
	f.invoke(ActionMessageRuntimeLogLevel, level)
	return nil
}

func (f *ActionMessageFilter) invoke(kind ActionMessageKind, value any) {
	if f.Callback != nil {
		f.Callback(kind, value)
	}
}
