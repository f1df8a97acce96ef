package log

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level       string `mapstructure:"level"`        // trace, debug, info, warn, error
	Pretty      bool   `mapstructure:"pretty"`       // console output for local development
	ServiceName string `mapstructure:"service_name"` // attached to every line
}

var (
	mu     sync.RWMutex
	global = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Init configures the global logger. Call once at process start.
func Init(cfg Config) {
	logger := New(cfg)

	mu.Lock()
	global = logger
	mu.Unlock()
}

// New builds a logger from the config without touching the global.
func New(cfg Config) zerolog.Logger {
	var w = zerolog.ConsoleWriter{Out: os.Stdout}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(w)
	} else {
		logger = zerolog.New(os.Stdout)
	}

	ctx := logger.Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str(FieldService, cfg.ServiceName)
	}
	return ctx.Logger()
}

// L returns the global logger. The pointer lets level methods chain
// directly off the call.
func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := global
	return &l
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
