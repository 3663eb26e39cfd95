package main

import "errors"

// ErrNoOutputs means no connected display was found; there is nothing to
// switch to.
var ErrNoOutputs = errors.New("no connected outputs")

// DisplayState is derived from the currently enabled outputs on every run,
// never stored anywhere.
type DisplayState int

const (
	AllEnabled DisplayState = iota
	ExternalOnly
	InternalOnly
)

func (d DisplayState) String() string {
	switch d {
	case AllEnabled:
		return "all"
	case ExternalOnly:
		return "external-only"
	case InternalOnly:
		return "internal-only"
	}
	return "unknown"
}

func (d DisplayState) next() DisplayState {
	switch d {
	case AllEnabled:
		return ExternalOnly
	case ExternalOnly:
		return InternalOnly
	}
	return AllEnabled
}

// SwitchPlan is the delta between the current topology and the next state in
// the cycle: which outputs to turn off and which to drive, in screen order.
type SwitchPlan struct {
	Target  DisplayState
	Disable []*Output
	Enable  []*Output
}

// currentState classifies the enabled outputs. When only one class of output
// is connected at all, having it enabled counts as AllEnabled; the reduced
// cycle then never reports a state the hardware cannot distinguish.
func currentState(screen *Screen) DisplayState {
	internal := screen.hasEnabled(LocationInternal)
	external := screen.hasEnabled(LocationExternal)
	switch {
	case internal && external:
		return AllEnabled
	case internal && !screen.hasConnected(LocationExternal):
		return AllEnabled
	case external && !screen.hasConnected(LocationInternal):
		return AllEnabled
	case external:
		return ExternalOnly
	case internal:
		return InternalOnly
	}
	// Nothing is enabled. Pretend we are past the external leg of the cycle
	// so the next step lights up the built-in panel.
	return ExternalOnly
}

// nextState advances the cycle AllEnabled -> ExternalOnly -> InternalOnly,
// skipping single-class states whose class has no connected output.
func nextState(screen *Screen, current DisplayState) DisplayState {
	for s := current.next(); s != current; s = s.next() {
		switch s {
		case ExternalOnly:
			if screen.hasConnected(LocationExternal) {
				return s
			}
		case InternalOnly:
			if screen.hasConnected(LocationInternal) {
				return s
			}
		default:
			return s
		}
	}
	return AllEnabled
}

// buildSwitchPlan decides the next state and partitions the outputs: every
// connected output of the target class gets enabled, every other enabled
// output (including enabled-but-disconnected leftovers) gets disabled.
func buildSwitchPlan(screen *Screen) (*SwitchPlan, error) {
	if !screen.hasConnected(LocationInternal) && !screen.hasConnected(LocationExternal) {
		return nil, ErrNoOutputs
	}

	plan := &SwitchPlan{Target: nextState(screen, currentState(screen))}
	for _, o := range screen.Outputs {
		wanted := o.Connected && (plan.Target == AllEnabled ||
			(plan.Target == ExternalOnly && o.Location == LocationExternal) ||
			(plan.Target == InternalOnly && o.Location == LocationInternal))
		switch {
		case wanted:
			plan.Enable = append(plan.Enable, o)
		case o.Enabled:
			plan.Disable = append(plan.Disable, o)
		}
	}
	return plan, nil
}

// ModeSelection is the mirrored mode every enabled output will share.
type ModeSelection struct {
	Resolution Resolution
	RefreshmHz int
}

// chooseBestMode picks the largest resolution every output supports together
// with the best refresh rate they can all sustain at it. A minRefreshmHz of
// zero means no floor; resolutions where any output cannot meet the floor are
// dropped. Candidates are ranked by area first, joint refresh second.
//
// A nil result tells the backend to fall back to its own policy: the CLI and
// sway backends let the server auto-select, the RandR backend picks each
// output's preferred-or-best mode independently.
func chooseBestMode(outputs []*Output, minRefreshmHz int) *ModeSelection {
	var joint map[Resolution]int
	for _, o := range outputs {
		best := make(map[Resolution]int)
		for _, m := range o.Modes {
			if minRefreshmHz > 0 && m.RefreshmHz < minRefreshmHz {
				continue
			}
			if m.RefreshmHz > best[m.Resolution] {
				best[m.Resolution] = m.RefreshmHz
			}
		}
		if joint == nil {
			joint = best
			continue
		}
		for res, refresh := range joint {
			max, ok := best[res]
			if !ok {
				delete(joint, res)
				continue
			}
			if max < refresh {
				joint[res] = max
			}
		}
	}

	var pick *ModeSelection
	for res, refresh := range joint {
		if pick == nil ||
			res.Area() > pick.Resolution.Area() ||
			(res.Area() == pick.Resolution.Area() && refresh > pick.RefreshmHz) {
			pick = &ModeSelection{Resolution: res, RefreshmHz: refresh}
		}
	}
	return pick
}
