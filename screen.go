package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Location says whether an output drives the built-in panel or an external
// connector.
type Location int

const (
	LocationInternal Location = iota
	LocationExternal
)

func (l Location) String() string {
	if l == LocationInternal {
		return "internal"
	}
	return "external"
}

type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) Area() int {
	return r.Width * r.Height
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Mode is one (resolution, refresh rate) pair an output can be driven at.
// Refresh rates are kept in millihertz so sub-Hz rates compare exactly.
type Mode struct {
	Resolution Resolution
	RefreshmHz int
	Preferred  bool
}

func (m Mode) String() string {
	s := fmt.Sprintf("%s@%s", m.Resolution, formatRatemHz(m.RefreshmHz))
	if m.Preferred {
		s += "+"
	}
	return s
}

// Output is one connector as the display server reports it. MonitorID is the
// EDID-derived identifier where the backend can read one, empty otherwise.
type Output struct {
	Name      string
	MonitorID string
	Connected bool
	Enabled   bool
	Modes     []Mode
	Location  Location
}

// Screen is the topology of a single query. It is rebuilt from the display
// server on every run and never outlives it.
type Screen struct {
	Outputs []*Output
}

func (s *Screen) hasConnected(loc Location) bool {
	for _, o := range s.Outputs {
		if o.Connected && o.Location == loc {
			return true
		}
	}
	return false
}

func (s *Screen) hasEnabled(loc Location) bool {
	for _, o := range s.Outputs {
		if o.Connected && o.Enabled && o.Location == loc {
			return true
		}
	}
	return false
}

// markInternalUnavailable treats built-in panels as absent, used when the
// laptop lid is closed. They can still end up in the disable set.
func (s *Screen) markInternalUnavailable() {
	for _, o := range s.Outputs {
		if o.Location == LocationInternal {
			o.Connected = false
		}
	}
}

// Classifier decides output locations. Name prefixes are the usual heuristic;
// per-monitor overrides win when the monitor identifier is known, so fuzzy
// connector names can be pinned down in the config.
type Classifier struct {
	internalPrefixes []string
	externalPrefixes []string
	overrides        map[string]Location
	log              *zap.SugaredLogger
}

func defaultClassifier() *Classifier {
	return &Classifier{
		internalPrefixes: []string{"eDP-", "LVDS-", "DSI-", "eDP", "LVDS"},
		externalPrefixes: []string{"HDMI-", "DP-", "DVI-", "VGA-"},
	}
}

func (c *Classifier) override(monitorID string, loc Location) {
	if c.overrides == nil {
		c.overrides = make(map[string]Location)
	}
	c.overrides[monitorID] = loc
}

// Locate classifies by override first, then name prefix. Names matching
// neither list are warned about and treated as external; projectors and docks
// rarely look like panels.
func (c *Classifier) Locate(name, monitorID string) Location {
	if monitorID != "" {
		if loc, ok := c.overrides[monitorID]; ok {
			return loc
		}
	}
	for _, p := range c.internalPrefixes {
		if strings.HasPrefix(name, p) {
			return LocationInternal
		}
	}
	for _, p := range c.externalPrefixes {
		if strings.HasPrefix(name, p) {
			return LocationExternal
		}
	}
	if c.log != nil {
		c.log.Warnw("output matches no name pattern, assuming external", "output", name)
	}
	return LocationExternal
}
