package logging

import (
	"runtime"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Startup collects the effective runtime configuration and emits it as a
// single structured event when the daemon starts.
type Startup struct {
	name     string
	version  string
	features map[string]bool
	config   map[string]string
}

// NewStartup creates a Startup summary for the named command.
func NewStartup(name, version string) *Startup {
	return &Startup{
		name:     name,
		version:  version,
		features: make(map[string]bool),
		config:   make(map[string]string),
	}
}

// Feature records a boolean mode such as vacation or promotion.
func (s *Startup) Feature(name string, enabled bool) *Startup {
	s.features[name] = enabled
	return s
}

// Config records a non-sensitive configuration value. Secrets never go here.
func (s *Startup) Config(key, value string) *Startup {
	s.config[key] = value
	return s
}

// Log writes the summary at info level.
func (s *Startup) Log() {
	evt := log.Info().
		Str("command", s.name).
		Str("version", s.version).
		Str("go", runtime.Version())

	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}
	if len(s.config) > 0 {
		d := zerolog.Dict()
		for k, v := range s.config {
			d = d.Str(k, v)
		}
		evt = evt.Dict("config", d)
	}
	evt.Msg("nexbot starting")
}
