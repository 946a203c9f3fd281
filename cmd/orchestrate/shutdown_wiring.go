package main

import (
	"context"
	"time"

	"github.com/clodoworks/orchestrator/internal/shutdown"
)

// shutdownHandler is the CLI's one instance of internal/shutdown's Handler,
// wired to the long-lived resources a running `deploy` holds open.
type shutdownHandler struct {
	handler *shutdown.Handler
}

func newShutdownHandler(timeout time.Duration) *shutdownHandler {
	h := shutdown.NewHandler(timeout)
	h.ListenForSignals()
	return &shutdownHandler{handler: h}
}

func shutdownCallback(name string, priority int, fn func(context.Context) error) shutdown.Callback {
	return shutdown.Callback{Name: name, Priority: priority, Fn: fn}
}
