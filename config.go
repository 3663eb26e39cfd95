package main

import (
	"fmt"
	"io"
	"os"

	"github.com/adrg/xdg"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config tunes classification and switching. Every field is optional; no
// config file at all means the defaults below.
type Config struct {
	Controller        string          `yaml:"controller"`
	MinRefreshRatemHz int             `yaml:"min_refresh_rate"`
	InternalPatterns  []string        `yaml:"internal_patterns"`
	ExternalPatterns  []string        `yaml:"external_patterns"`
	LidClosesInternal *bool           `yaml:"lid_closes_internal"`
	Monitors          []MonitorConfig `yaml:"monitors"`
}

// MonitorConfig pins one monitor's location, matched by the identifier from
// its EDID (PNPID-model-serial under RandR, make/model/serial under sway).
type MonitorConfig struct {
	Monitor  string `yaml:"monitor"`
	Location string `yaml:"location"`
}

const configRelPath = "switch-display/config.yaml"

func defaultConfig() *Config {
	return &Config{Controller: "randr"}
}

// lidClosesInternal defaults to on: a closed laptop lid keeps the built-in
// panel out of the enable set.
func (c *Config) lidClosesInternal() bool {
	return c.LidClosesInternal == nil || *c.LidClosesInternal
}

func parseConfigStream(r io.Reader) (*Config, error) {
	conf := defaultConfig()

	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(conf); err != nil {
		return nil, err
	}
	if conf.Controller == "" {
		conf.Controller = "randr"
	}
	return conf, nil
}

// loadConfig reads the given file, or searches the XDG config dirs when no
// path was given. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	if path == "" {
		found, err := xdg.SearchConfigFile(configRelPath)
		if err != nil {
			return defaultConfig(), nil
		}
		path = found
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf, err := parseConfigStream(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return conf, nil
}

func (c *Config) classifier(log *zap.SugaredLogger) (*Classifier, error) {
	cl := defaultClassifier()
	cl.log = log
	if len(c.InternalPatterns) > 0 {
		cl.internalPrefixes = c.InternalPatterns
	}
	if len(c.ExternalPatterns) > 0 {
		cl.externalPrefixes = c.ExternalPatterns
	}
	for _, m := range c.Monitors {
		switch m.Location {
		case "internal":
			cl.override(m.Monitor, LocationInternal)
		case "external":
			cl.override(m.Monitor, LocationExternal)
		default:
			return nil, fmt.Errorf("monitor %s: unknown location %q", m.Monitor, m.Location)
		}
	}
	return cl, nil
}
