package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Exit codes, one per failure class, so keybinding wrappers can tell what
// went wrong without parsing stderr.
const (
	exitFailure    = 1
	exitNoOutputs  = 2
	exitNoMode     = 3
	exitConnection = 4
	exitProtocol   = 5
	exitTool       = 6
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "switch-display: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var connErr *ConnectionError
	var protoErr *ProtocolError
	var toolErr *ToolError
	switch {
	case errors.Is(err, ErrNoOutputs):
		return exitNoOutputs
	case errors.Is(err, errNoUsableMode):
		return exitNoMode
	case errors.As(err, &connErr):
		return exitConnection
	case errors.As(err, &protoErr):
		return exitProtocol
	case errors.As(err, &toolErr):
		return exitTool
	}
	return exitFailure
}

func run() error {
	controllerFlag := flag.String("controller", envOr("SWITCH_DISPLAY_CONTROLLER", ""),
		"controller backend: randr, xrandr or sway")
	minRefresh := flag.String("min-refresh-rate", envOr("SWITCH_DISPLAY_MIN_REFRESH_RATE", ""),
		"minimum refresh rate in millihertz, 60000 is 60 Hz")
	configPath := flag.String("config", "", "config file (default $XDG_CONFIG_HOME/"+configRelPath+")")
	list := flag.Bool("list", false, "print outputs and exit without switching")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log, err := newLogger(*debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	conf, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *controllerFlag != "" {
		conf.Controller = *controllerFlag
	}
	rate, err := parseMinRefresh(*minRefresh)
	if err != nil {
		return err
	}
	if rate != 0 {
		conf.MinRefreshRatemHz = rate
	}

	classify, err := conf.classifier(log)
	if err != nil {
		return err
	}

	ctx := context.Background()

	controller, err := newController(ctx, conf.Controller, classify, log)
	if err != nil {
		return err
	}
	defer controller.Close()

	screen, err := controller.Outputs(ctx)
	if err != nil {
		return err
	}

	if *list {
		printScreen(screen)
		return nil
	}

	if conf.lidClosesInternal() {
		closed, err := lidClosed()
		switch {
		case err != nil:
			log.Debugw("lid state unavailable", "error", err)
		case closed:
			log.Infow("lid is closed, keeping the built-in panel off")
			screen.markInternalUnavailable()
		}
	}

	plan, err := buildSwitchPlan(screen)
	if err != nil {
		return err
	}
	log.Debugw("switch plan", "target", plan.Target,
		"disable", outputNames(plan.Disable), "enable", outputNames(plan.Enable))

	mode := chooseBestMode(plan.Enable, conf.MinRefreshRatemHz)
	if mode != nil {
		log.Debugw("common mode", "resolution", mode.Resolution, "refresh_mhz", mode.RefreshmHz)
	} else {
		log.Debugw("no common mode, deferring to backend fallback")
	}

	if err := controller.Apply(ctx, plan, mode); err != nil {
		return err
	}
	log.Infow("switched", "state", plan.Target)
	return nil
}

func printScreen(screen *Screen) {
	for _, o := range screen.Outputs {
		status := "disconnected"
		if o.Connected {
			status = "connected"
		}
		fmt.Printf("%s %s %s", o.Name, o.Location, status)
		if o.Enabled {
			fmt.Printf(" enabled")
		}
		if o.MonitorID != "" {
			fmt.Printf(" monitor=%s", o.MonitorID)
		}
		if best := chooseBestMode([]*Output{o}, 0); best != nil {
			fmt.Printf(" best=%s@%s", best.Resolution, formatRatemHz(best.RefreshmHz))
		}
		fmt.Printf(" (%d modes)\n", len(o.Modes))
	}
}

func outputNames(outputs []*Output) []string {
	names := make([]string, 0, len(outputs))
	for _, o := range outputs {
		names = append(names, o.Name)
	}
	return names
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseMinRefresh validates the -min-refresh-rate value, which may come from
// the environment. An empty string means no floor.
func parseMinRefresh(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	rate, err := strconv.Atoi(s)
	if err != nil || rate < 0 {
		return 0, fmt.Errorf("invalid min refresh rate %q, want millihertz (60000 is 60 Hz)", s)
	}
	return rate, nil
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	loggerConfig := zap.NewDevelopmentConfig()

	loggerConfig.OutputPaths = []string{"stderr"}
	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !debug {
		loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger.Sugar(), nil
}
