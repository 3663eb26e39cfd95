package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshuarubin/go-sway"
	"go.uber.org/zap"
)

// swayController talks to sway over its IPC socket. Sway only reports
// connected outputs, so everything it returns is a candidate.
type swayController struct {
	client   sway.Client
	cancel   context.CancelFunc
	classify *Classifier
	log      *zap.SugaredLogger
}

func newSwayController(ctx context.Context, classify *Classifier, log *zap.SugaredLogger) (*swayController, error) {
	ctx, cancel := context.WithCancel(ctx)
	client, err := sway.New(ctx)
	if err != nil {
		cancel()
		return nil, &ConnectionError{Server: "sway", Err: err}
	}
	return &swayController{client: client, cancel: cancel, classify: classify, log: log}, nil
}

// Close tears down the IPC connection by cancelling the context it was
// dialed with.
func (c *swayController) Close() error {
	c.cancel()
	return nil
}

func (c *swayController) Outputs(ctx context.Context) (*Screen, error) {
	outputs, err := c.client.GetOutputs(ctx)
	if err != nil {
		return nil, &ProtocolError{Request: "get_outputs", Err: err}
	}
	return swayScreen(outputs, c.classify), nil
}

func swayScreen(outputs []sway.Output, classify *Classifier) *Screen {
	screen := &Screen{}
	for _, o := range outputs {
		monitorID := fmt.Sprintf("%s %s %s", o.Make, o.Model, o.Serial)
		out := &Output{
			Name:      o.Name,
			MonitorID: monitorID,
			Connected: true,
			Enabled:   o.Active,
			Location:  classify.Locate(o.Name, monitorID),
		}
		for _, m := range o.Modes {
			out.Modes = append(out.Modes, Mode{
				Resolution: Resolution{Width: int(m.Width), Height: int(m.Height)},
				RefreshmHz: int(m.Refresh),
			})
		}
		screen.Outputs = append(screen.Outputs, out)
	}
	return screen
}

func (c *swayController) Apply(ctx context.Context, plan *SwitchPlan, sel *ModeSelection) error {
	for _, cmd := range swayCommands(plan, sel) {
		c.log.Debugw("sway command", "cmd", cmd)
		replies, err := c.client.RunCommand(ctx, cmd)
		if err != nil {
			return &ProtocolError{Request: cmd, Err: err}
		}
		for _, reply := range replies {
			if !reply.Success {
				return &ProtocolError{Request: cmd, Err: errors.New(reply.Error)}
			}
		}
	}
	return nil
}

// swayCommands renders the plan as sway output commands, disables first.
// Enabled outputs are pinned to 0 0 so they mirror; on defer (nil selection)
// sway keeps its own mode choice.
func swayCommands(plan *SwitchPlan, sel *ModeSelection) []string {
	var cmds []string
	for _, o := range plan.Disable {
		cmds = append(cmds, fmt.Sprintf("output %q disable", o.Name))
	}
	for _, o := range plan.Enable {
		if sel != nil {
			cmds = append(cmds, fmt.Sprintf("output %q enable mode %dx%d@%sHz position 0 0",
				o.Name, sel.Resolution.Width, sel.Resolution.Height, formatRatemHz(sel.RefreshmHz)))
		} else {
			cmds = append(cmds, fmt.Sprintf("output %q enable position 0 0", o.Name))
		}
	}
	return cmds
}
