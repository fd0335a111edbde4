package logsink

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Options configures a ZerologSink.
type Options struct {
	// Stdout receives debug, info and warn records. Defaults to os.Stdout.
	Stdout io.Writer
	// Stderr receives error records. Defaults to os.Stderr.
	Stderr io.Writer
	// Level is the minimum level written ("debug", "info", "warn", "error").
	Level string
	// Format is "console" (default) or "json".
	Format string
}

// ZerologSink is the default Sink. Tags map onto zerolog levels and are kept
// as a "tag" field on every record.
type ZerologSink struct {
	logger zerolog.Logger
}

// New builds a ZerologSink from opts.
func New(opts Options) *ZerologSink {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var low, high io.Writer = stdout, stderr
	if opts.Format != "json" {
		low = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339, NoColor: !isTerminal(stdout)}
		high = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339, NoColor: !isTerminal(stderr)}
	}

	writer := zerolog.MultiLevelWriter(
		levelWriter{
			Writer: low,
			Levels: []zerolog.Level{zerolog.TraceLevel, zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel},
		},
		levelWriter{
			Writer: high,
			Levels: []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		},
	)

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(ParseLevel(opts.Level))
	return &ZerologSink{logger: logger}
}

// Default returns a console sink writing to the process's stdout and stderr.
func Default() *ZerologSink {
	return New(Options{})
}

// Log writes message at the level its tag maps to.
func (s *ZerologSink) Log(message, tag string) {
	s.logger.WithLevel(levelForTag(tag)).Str("tag", tag).Msg(message)
}

// Logger exposes the underlying zerolog logger for callers that want
// structured fields of their own.
func (s *ZerologSink) Logger() zerolog.Logger {
	return s.logger
}

// ParseLevel converts a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

func levelForTag(tag string) zerolog.Level {
	switch tag {
	case TagError:
		return zerolog.ErrorLevel
	case TagWarning:
		return zerolog.WarnLevel
	case TagRPC:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// levelWriter only passes through records whose level is listed.
type levelWriter struct {
	io.Writer
	Levels []zerolog.Level
}

func (w levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.Levels {
		if l == level {
			return w.Write(p)
		}
	}
	return len(p), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
