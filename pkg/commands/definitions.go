package commands

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Command kinds accepted in a definitions file.
const (
	KindHTTP = "http"
	KindSMS  = "sms"
)

// Definition is one entry of a commands file.
type Definition struct {
	Name string      `yaml:"name"`
	Kind string      `yaml:"kind"`
	HTTP *HTTPConfig `yaml:"http,omitempty"`
	SMS  *SMSConfig  `yaml:"sms,omitempty"`
}

// Definitions is the top-level structure of a commands file.
type Definitions struct {
	Commands []Definition `yaml:"commands"`
}

// BuildOptions carries the shared pieces commands are built with.
type BuildOptions struct {
	Breaker   BreakerConfig
	SMSClient MessageCreator
	Guard     []GuardOption
	// DefaultTimeoutSec applies to HTTP commands that do not set their own.
	DefaultTimeoutSec int
}

// LoadDefinitions reads a YAML commands file.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read commands file: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and checks a commands document.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse commands: %w", err)
	}
	seen := make(map[string]bool, len(defs.Commands))
	for i, d := range defs.Commands {
		if d.Name == "" {
			return nil, fmt.Errorf("command %d: missing name", i)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("command %q: duplicate name", d.Name)
		}
		seen[d.Name] = true
		switch d.Kind {
		case KindHTTP:
			if d.HTTP == nil || d.HTTP.URL == "" {
				return nil, fmt.Errorf("command %q: http commands need a url", d.Name)
			}
		case KindSMS:
			if d.SMS == nil {
				return nil, fmt.Errorf("command %q: sms commands need an sms block", d.Name)
			}
		default:
			return nil, fmt.Errorf("command %q: unknown kind %q", d.Name, d.Kind)
		}
	}
	return &defs, nil
}

// Register builds every definition into reg.
func (d *Definitions) Register(reg *Registry, opts BuildOptions) {
	for _, def := range d.Commands {
		switch def.Kind {
		case KindHTTP:
			cfg := *def.HTTP
			if cfg.TimeoutSec <= 0 {
				cfg.TimeoutSec = opts.DefaultTimeoutSec
			}
			reg.Register(def.Name, NewHTTPCommand(def.Name, cfg, nil, opts.Breaker, opts.Guard...))
		case KindSMS:
			reg.Register(def.Name, NewSMSCommand(def.Name, *def.SMS, opts.SMSClient))
		}
	}
}
