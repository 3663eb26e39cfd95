package main

import (
	"reflect"
	"testing"
)

const (
	screenHeaderLine = "Screen 0: minimum 320 x 200, current 1920 x 1080, maximum 16384 x 16384"

	connectedEnabledLine     = "eDP-1 connected primary 1920x1080+0+0 (normal left inverted right x axis y axis) 344mm x 194mm"
	connectedDisabledLine    = "HDMI-2 connected (normal left inverted right x axis y axis)"
	disconnectedEnabledLine  = "HDMI-2 disconnected 1920x1080+0+0 (normal left inverted right x axis y axis) 0mm x 0mm"
	disconnectedDisabledLine = "DP-1 disconnected (normal left inverted right x axis y axis)"

	activePreferredModeLine = "   1920x1080     60.02*+  60.01    59.97    59.96    59.93    48.02  "
	activeModeLine          = "   1680x1050     59.95*   59.88  "
	preferredModeLine       = "   1920x1080     60.02 +  60.01    59.97    59.96    59.93    48.02  "
	plainModeLine           = "   1680x1050     59.95    59.88  "
)

func TestParseXrandrOutputLineRejectsOtherLines(t *testing.T) {
	cl := defaultClassifier()
	for _, line := range []string{
		"",
		screenHeaderLine,
		activePreferredModeLine,
		"  1920x1080 (0x501) 148.500MHz +HSync +VSync ",
		"        h: width  1920 start 2008 end 2052 total 2200 skew    0 clock  67.50KHz ",
		"        v: height 1080 start 1084 end 1089 total 1125           clock  60.00Hz ",
	} {
		if out := parseXrandrOutputLine(line, cl); out != nil {
			t.Errorf("parseXrandrOutputLine(%q) = %+v, want nil", line, out)
		}
	}
}

func TestParseXrandrOutputLine(t *testing.T) {
	tests := []struct {
		line      string
		name      string
		connected bool
		enabled   bool
		location  Location
	}{
		{connectedEnabledLine, "eDP-1", true, true, LocationInternal},
		{connectedDisabledLine, "HDMI-2", true, false, LocationExternal},
		{disconnectedEnabledLine, "HDMI-2", false, true, LocationExternal},
		{disconnectedDisabledLine, "DP-1", false, false, LocationExternal},
	}

	cl := defaultClassifier()
	for _, tt := range tests {
		out := parseXrandrOutputLine(tt.line, cl)
		if out == nil {
			t.Errorf("parseXrandrOutputLine(%q) = nil", tt.line)
			continue
		}
		if out.Name != tt.name || out.Connected != tt.connected ||
			out.Enabled != tt.enabled || out.Location != tt.location {
			t.Errorf("parseXrandrOutputLine(%q) = %+v, want name=%s connected=%v enabled=%v location=%v",
				tt.line, out, tt.name, tt.connected, tt.enabled, tt.location)
		}
	}
}

func TestParseXrandrModeLine(t *testing.T) {
	fhd := Resolution{Width: 1920, Height: 1080}
	wsxga := Resolution{Width: 1680, Height: 1050}

	tests := []struct {
		line string
		want []Mode
	}{
		{
			line: activePreferredModeLine,
			want: []Mode{
				{Resolution: fhd, RefreshmHz: 60020, Preferred: true},
				{Resolution: fhd, RefreshmHz: 60010},
				{Resolution: fhd, RefreshmHz: 59970},
				{Resolution: fhd, RefreshmHz: 59960},
				{Resolution: fhd, RefreshmHz: 59930},
				{Resolution: fhd, RefreshmHz: 48020},
			},
		},
		{
			line: preferredModeLine,
			want: []Mode{
				{Resolution: fhd, RefreshmHz: 60020, Preferred: true},
				{Resolution: fhd, RefreshmHz: 60010},
				{Resolution: fhd, RefreshmHz: 59970},
				{Resolution: fhd, RefreshmHz: 59960},
				{Resolution: fhd, RefreshmHz: 59930},
				{Resolution: fhd, RefreshmHz: 48020},
			},
		},
		{
			line: activeModeLine,
			want: []Mode{
				{Resolution: wsxga, RefreshmHz: 59950},
				{Resolution: wsxga, RefreshmHz: 59880},
			},
		},
		{
			line: plainModeLine,
			want: []Mode{
				{Resolution: wsxga, RefreshmHz: 59950},
				{Resolution: wsxga, RefreshmHz: 59880},
			},
		},
	}

	for _, tt := range tests {
		var modes []Mode
		parseXrandrModeLine(tt.line, &modes)
		if !reflect.DeepEqual(modes, tt.want) {
			t.Errorf("parseXrandrModeLine(%q) = %v, want %v", tt.line, modes, tt.want)
		}
	}
}

func TestParseXrandrModeLineIgnoresOtherLines(t *testing.T) {
	for _, line := range []string{
		"",
		screenHeaderLine,
		connectedEnabledLine,
		"   1920x1080i    60.00    50.00    59.94  ",
		"  1920x1080 (0x501) 148.500MHz +HSync +VSync ",
	} {
		var modes []Mode
		parseXrandrModeLine(line, &modes)
		if len(modes) != 0 {
			t.Errorf("parseXrandrModeLine(%q) produced %v", line, modes)
		}
	}
}

func TestParseXrandr(t *testing.T) {
	screen := parseXrandr(xrandrListing, defaultClassifier())

	if len(screen.Outputs) != 5 {
		t.Fatalf("outputs = %d, want 5", len(screen.Outputs))
	}

	tests := []struct {
		name      string
		connected bool
		enabled   bool
		modes     int
	}{
		{"eDP-1", true, true, 83},
		{"DP-1", false, false, 0},
		{"HDMI-1", false, true, 0},
		{"DP-2", false, false, 0},
		{"HDMI-2", true, false, 30},
	}
	for i, tt := range tests {
		o := screen.Outputs[i]
		if o.Name != tt.name || o.Connected != tt.connected || o.Enabled != tt.enabled {
			t.Errorf("output %d = %s connected=%v enabled=%v, want %s connected=%v enabled=%v",
				i, o.Name, o.Connected, o.Enabled, tt.name, tt.connected, tt.enabled)
		}
		if len(o.Modes) != tt.modes {
			t.Errorf("output %s: %d modes, want %d", tt.name, len(o.Modes), tt.modes)
		}
	}

	first := screen.Outputs[0].Modes[0]
	want := Mode{Resolution: Resolution{Width: 1920, Height: 1080}, RefreshmHz: 60020, Preferred: true}
	if first != want {
		t.Errorf("eDP-1 first mode = %v, want %v", first, want)
	}
}

func TestXrandrCommands(t *testing.T) {
	plan := &SwitchPlan{
		Target:  ExternalOnly,
		Disable: []*Output{testOutput("eDP-1", LocationInternal, true, true)},
		Enable: []*Output{
			testOutput("HDMI-1", LocationExternal, true, true),
			testOutput("DP-1", LocationExternal, true, false),
		},
	}
	sel := &ModeSelection{Resolution: Resolution{Width: 1920, Height: 1080}, RefreshmHz: 59940}

	got := xrandrCommands(plan, sel)
	want := [][]string{
		{"--output", "eDP-1", "--off"},
		{"--output", "HDMI-1", "--mode", "1920x1080", "--rate", "59.94"},
		{"--output", "DP-1", "--mode", "1920x1080", "--rate", "59.94", "--same-as", "HDMI-1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("xrandrCommands = %v, want %v", got, want)
	}
}

func TestXrandrCommandsFallback(t *testing.T) {
	plan := &SwitchPlan{
		Target: InternalOnly,
		Enable: []*Output{testOutput("eDP-1", LocationInternal, true, false)},
	}

	got := xrandrCommands(plan, nil)
	want := [][]string{{"--output", "eDP-1", "--auto"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("xrandrCommands = %v, want %v", got, want)
	}
}

func TestFormatRatemHz(t *testing.T) {
	tests := []struct {
		mhz  int
		want string
	}{
		{60000, "60"},
		{59940, "59.94"},
		{60020, "60.02"},
		{30000, "30"},
		{59950, "59.95"},
	}
	for _, tt := range tests {
		if got := formatRatemHz(tt.mhz); got != tt.want {
			t.Errorf("formatRatemHz(%d) = %q, want %q", tt.mhz, got, tt.want)
		}
	}
}

const xrandrListing = `
Screen 0: minimum 320 x 200, current 1920 x 1080, maximum 16384 x 16384
eDP-1 connected primary 1920x1080+0+0 (normal left inverted right x axis y axis) 344mm x 194mm
   1920x1080     60.02*+  60.01    59.97    59.96    59.93    48.02  
   1680x1050     59.95    59.88  
   1400x1050     59.98  
   1600x900      59.99    59.94    59.95    59.82  
   1280x1024     60.02  
   1400x900      59.96    59.88  
   1280x960      60.00  
   1440x810      60.00    59.97  
   1368x768      59.88    59.85  
   1280x800      59.99    59.97    59.81    59.91  
   1280x720      60.00    59.99    59.86    59.74  
   1024x768      60.04    60.00  
   960x720       60.00  
   928x696       60.05  
   896x672       60.01  
   1024x576      59.95    59.96    59.90    59.82  
   960x600       59.93    60.00  
   960x540       59.96    59.99    59.63    59.82  
   800x600       60.00    60.32    56.25  
   840x525       60.01    59.88  
   864x486       59.92    59.57  
   700x525       59.98  
   800x450       59.95    59.82  
   640x512       60.02  
   700x450       59.96    59.88  
   640x480       60.00    59.94  
   720x405       59.51    58.99  
   684x384       59.88    59.85  
   640x400       59.88    59.98  
   640x360       59.86    59.83    59.84    59.32  
   512x384       60.00  
   512x288       60.00    59.92  
   480x270       59.63    59.82  
   400x300       60.32    56.34  
   432x243       59.92    59.57  
   320x240       60.05  
   360x202       59.51    59.13  
   320x180       59.84    59.32  
DP-1 disconnected (normal left inverted right x axis y axis)
HDMI-1 disconnected 1920x1080+0+0 (normal left inverted right x axis y axis) 0mm x 0mm
  1920x1080 (0x501) 148.500MHz +HSync +VSync  
        h: width  1920 start 2008 end 2052 total 2200 skew    0 clock  67.50KHz
        v: height 1080 start 1084 end 1089 total 1125           clock  60.00Hz
DP-2 disconnected (normal left inverted right x axis y axis)
HDMI-2 connected (normal left inverted right x axis y axis)
   4096x2160     30.00    25.00    24.00    29.97    23.98  
   3840x2160     30.00    25.00    24.00    29.97    23.98  
   1920x1080     60.00    50.00    59.94    30.00    25.00    24.00    29.97    23.98  
   1920x1080i    60.00    50.00    59.94  
   1600x900      60.00  
   1280x1024     60.02  
   1280x720      60.00    50.00    59.94  
   1024x768      60.00  
   800x600       60.32  
   720x576       50.00  
   720x576i      50.00  
   720x480       60.00    59.94  
   720x480i      60.00    59.94  
   640x480       60.00    59.94  
`
