package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Controller is a backend that can read the current output topology and apply
// a switch plan. Callers only ever hold this interface; the concrete backends
// are the RandR wire protocol, the xrandr CLI and the sway IPC socket.
type Controller interface {
	// Outputs queries the live topology. Results are never cached; hotplug
	// between runs is the expected source of change.
	Outputs(ctx context.Context) (*Screen, error)
	// Apply turns the plan into backend requests, disables strictly before
	// enables. A nil mode means no common resolution was found and the
	// backend applies its own fallback policy. The first rejected request
	// aborts the rest.
	Apply(ctx context.Context, plan *SwitchPlan, mode *ModeSelection) error
	Close() error
}

func newController(ctx context.Context, name string, classify *Classifier, log *zap.SugaredLogger) (Controller, error) {
	switch name {
	case "randr":
		return newRandrController(classify, log)
	case "xrandr":
		return newXrandrController(classify, log), nil
	case "sway":
		return newSwayController(ctx, classify, log)
	}
	return nil, fmt.Errorf("unknown controller %q (want randr, xrandr or sway)", name)
}

// errNoUsableMode means a fallback policy had no answer either, e.g. an
// output that advertises no usable mode at all.
var errNoUsableMode = errors.New("no usable mode")

// ProtocolError is a request the display server rejected or could not
// process. The run is aborted at that point; a re-run re-queries everything,
// so nothing retries here.
type ProtocolError struct {
	Request string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return e.Request
	}
	return fmt.Sprintf("%s: %v", e.Request, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConnectionError means the display server could not be reached at all.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ToolError is a failed external tool invocation.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }
