package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init replaces it.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var levels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// ParseLevel maps a configuration string to a Level, falling back to info.
func ParseLevel(s string) Level {
	if _, ok := levels[Level(s)]; ok {
		return Level(s)
	}
	return InfoLevel
}

// Init configures the global logger. Console output is used unless
// JSONOutput is set.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(levels[ParseLevel(string(cfg.Level))])

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// ForTask adds the fields identifying a plan execution to l
func ForTask(l zerolog.Logger, taskID, userID string) zerolog.Logger {
	return l.With().Str("task_id", taskID).Str("user_id", userID).Logger()
}

// ForMessage adds the fields identifying one chat message to l
func ForMessage(l zerolog.Logger, userID, chatID, messageID string) zerolog.Logger {
	return l.With().
		Str("user_id", userID).
		Str("chat_id", chatID).
		Str("message_id", messageID).
		Logger()
}

// ForJob adds the fields identifying one attempt of a queue job to l
func ForJob(l zerolog.Logger, jobID, name string, attempt int) zerolog.Logger {
	return l.With().
		Str("job_id", jobID).
		Str("name", name).
		Int("attempt", attempt).
		Logger()
}
