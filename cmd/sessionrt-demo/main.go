// Command sessionrt-demo wires one Session end-to-end: enter an environment,
// run a task, exit the environment, clean up. It exists to exercise the
// library from a real binary, not as a configuration or scheduling front end.
package main

import (
	"fmt"
	"os"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/openjd-go/sessionrt/sessionrt"
)

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "sessionrt-demo",
		Level: hclog.Info,
	})

	session, err := sessionrt.NewSession(sessionrt.SessionConfig{
		SessionID: "demo-session",
		Logger:    logger,
		Callback: func(sessionID string, status sessionrt.ActionStatus) {
			logger.Info("action status", "session_id", sessionID, "state", status.State)
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "creating session:", err)
		os.Exit(1)
	}
	defer func() {
		if err := session.Cleanup(); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()

	env := sessionrt.Environment{
		Name: "demo-env",
		OnEnter: &sessionrt.Action{
			Command: sessionrt.LiteralString("echo"),
			Args:    []sessionrt.FormatString{sessionrt.LiteralString("entering demo environment")},
		},
		OnExit: &sessionrt.Action{
			Command: sessionrt.LiteralString("echo"),
			Args:    []sessionrt.FormatString{sessionrt.LiteralString("exiting demo environment")},
		},
	}

	envID, err := session.EnterEnvironment(env, "", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "entering environment:", err)
		os.Exit(1)
	}
	waitForReady(session)

	step := sessionrt.StepScript{
		OnRun: sessionrt.Action{
			Command: sessionrt.LiteralString("echo"),
			Args:    []sessionrt.FormatString{sessionrt.LiteralString("running task")},
		},
	}
	if err := session.RunTask(step, nil, nil); err != nil {
		fmt.Fprintln(os.Stderr, "running task:", err)
		os.Exit(1)
	}
	waitForReady(session)

	if err := session.ExitEnvironment(envID, nil); err != nil {
		fmt.Fprintln(os.Stderr, "exiting environment:", err)
		os.Exit(1)
	}
	waitForReady(session)
}

func waitForReady(session *sessionrt.Session) {
	for i := 0; i < 100; i++ {
		switch session.State() {
		case sessionrt.SessionStateReady, sessionrt.SessionStateReadyEnding, sessionrt.SessionStateEnded:
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
