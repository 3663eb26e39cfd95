package main

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// xrandrController drives the xrandr CLI, one invocation per output change,
// and scrapes the topology from its plain-text output.
type xrandrController struct {
	classify *Classifier
	log      *zap.SugaredLogger
}

func newXrandrController(classify *Classifier, log *zap.SugaredLogger) *xrandrController {
	return &xrandrController{classify: classify, log: log}
}

func (c *xrandrController) Close() error { return nil }

func (c *xrandrController) Outputs(ctx context.Context) (*Screen, error) {
	out, err := c.run(ctx, nil)
	if err != nil {
		return nil, err
	}
	return parseXrandr(string(out), c.classify), nil
}

func (c *xrandrController) Apply(ctx context.Context, plan *SwitchPlan, sel *ModeSelection) error {
	for _, args := range xrandrCommands(plan, sel) {
		if _, err := c.run(ctx, args); err != nil {
			return err
		}
	}
	return nil
}

func (c *xrandrController) run(ctx context.Context, args []string) ([]byte, error) {
	c.log.Debugw("running xrandr", "args", args)
	out, err := exec.CommandContext(ctx, "xrandr", args...).Output()
	if err != nil {
		toolErr := &ToolError{Tool: "xrandr", Args: args, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.Stderr = string(exitErr.Stderr)
		}
		return nil, toolErr
	}
	return out, nil
}

// xrandrCommands builds one xrandr argument list per output change, disables
// first. The first enabled output anchors the mirror; the others are placed
// --same-as it. On defer (nil selection) the tool auto-selects the mode.
func xrandrCommands(plan *SwitchPlan, sel *ModeSelection) [][]string {
	var cmds [][]string
	for _, o := range plan.Disable {
		cmds = append(cmds, []string{"--output", o.Name, "--off"})
	}
	for i, o := range plan.Enable {
		args := []string{"--output", o.Name}
		if sel != nil {
			args = append(args, "--mode", sel.Resolution.String(), "--rate", formatRatemHz(sel.RefreshmHz))
		} else {
			args = append(args, "--auto")
		}
		if i > 0 {
			args = append(args, "--same-as", plan.Enable[0].Name)
		}
		cmds = append(cmds, args)
	}
	return cmds
}

func formatRatemHz(mhz int) string {
	return strconv.FormatFloat(float64(mhz)/1000, 'f', -1, 64)
}

var (
	xrandrOutputLine = regexp.MustCompile(`^(\S+)\s(connected|disconnected)(?:\sprimary)?(?:\s(\d+x\d+\+\d+\+\d+))?\s`)
	xrandrModeLine   = regexp.MustCompile(`^\s+(\d+)x(\d+)((?:\s+\d+\.\d{2}[ *][ +])+)$`)
	xrandrRateField  = regexp.MustCompile(`(\d+)\.(\d{2})([ *])([ +])`)
)

// parseXrandr reads the default xrandr listing: an output header line
// followed by its indented mode lines. Anything else (the Screen header,
// verbose timing dumps, interlaced modes) is skipped.
func parseXrandr(text string, classify *Classifier) *Screen {
	screen := &Screen{}
	var current *Output
	for _, line := range strings.Split(text, "\n") {
		if out := parseXrandrOutputLine(line, classify); out != nil {
			screen.Outputs = append(screen.Outputs, out)
			current = out
		} else if current != nil {
			parseXrandrModeLine(line, &current.Modes)
		}
	}
	return screen
}

func parseXrandrOutputLine(line string, classify *Classifier) *Output {
	m := xrandrOutputLine.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &Output{
		Name:      m[1],
		Connected: m[2] == "connected",
		Enabled:   m[3] != "",
		Location:  classify.Locate(m[1], ""),
	}
}

// parseXrandrModeLine expands one resolution line into a Mode per listed
// rate. xrandr prints rates in centihertz with a '*' flag for the active rate
// and '+' for the preferred one.
func parseXrandrModeLine(line string, modes *[]Mode) {
	m := xrandrModeLine.FindStringSubmatch(line)
	if m == nil {
		return
	}
	width, _ := strconv.Atoi(m[1])
	height, _ := strconv.Atoi(m[2])
	res := Resolution{Width: width, Height: height}

	for _, rate := range xrandrRateField.FindAllStringSubmatch(m[3], -1) {
		whole, _ := strconv.Atoi(rate[1])
		frac, _ := strconv.Atoi(rate[2])
		*modes = append(*modes, Mode{
			Resolution: res,
			RefreshmHz: whole*1000 + frac*10,
			Preferred:  rate[4] == "+",
		})
	}
}
