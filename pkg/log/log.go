package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Level represents log level
type Level string

const (
	TraceLevel Level = "trace"
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// DebugEnv is the environment variable selecting log verbosity
const DebugEnv = "ICECC_DEBUG"

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	zerolog.SetGlobalLevel(zerologLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LevelFromDebugEnv maps an ICECC_DEBUG value to a log level.
// Unknown or empty values keep only errors, which is what the compiler
// wrapper wants when it is invoked from make.
func LevelFromDebugEnv(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "info":
		return InfoLevel
	case "debug":
		return DebugLevel
	case "trace":
		return TraceLevel
	case "warnings":
		return WarnLevel
	default:
		return ErrorLevel
	}
}

// ResolveLevel picks the level a binary logs at: an explicit flag value
// wins, then ICECC_DEBUG, then fallback.
func ResolveLevel(flag string, fallback Level) Level {
	if flag != "" {
		return Level(strings.ToLower(flag))
	}
	if env := os.Getenv(DebugEnv); env != "" {
		return LevelFromDebugEnv(env)
	}
	return fallback
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNodeID creates a child logger with node_id field
func WithNodeID(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithJobID creates a child logger with job_id field
func WithJobID(jobID uint32) zerolog.Logger {
	return Logger.With().Uint32("job_id", jobID).Logger()
}

// WithPeer creates a child logger with peer field
func WithPeer(peer string) zerolog.Logger {
	return Logger.With().Str("peer", peer).Logger()
}

// Info logs msg at info level on the global logger
func Info(msg string) {
	Logger.Info().Msg(msg)
}

// Warn logs msg at warn level on the global logger
func Warn(msg string) {
	Logger.Warn().Msg(msg)
}
