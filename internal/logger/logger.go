// Package logger provides the supervisor's structured, leveled log output.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

var Log *slog.Logger

// Init initializes the global logger. logFile may be empty (stdout only).
// Color is enabled on stdout only when it's attached to a real terminal —
// a log file or a piped stdout always gets plain text, matching how
// operators actually consume each sink.
func Init(level string, logFile string) error {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	}

	out := io.Writer(io.MultiWriter(writers...))
	if logFile == "" && isatty.IsTerminal(os.Stdout.Fd()) {
		out = &colorWriter{dst: os.Stdout}
	}

	Log = slog.New(slog.NewTextHandler(out, opts))
	slog.SetDefault(Log)

	return nil
}

// colorWriter prefixes each log line with an ANSI color keyed off the
// slog level token text/* handler already wrote, so the dependency stays
// a single isatty check — no separate color-codes library is pulled in for
// what amounts to five constant escape sequences.
type colorWriter struct{ dst io.Writer }

var levelColor = map[string]string{
	"DEBUG": "\x1b[36m",
	"INFO":  "\x1b[32m",
	"WARN":  "\x1b[33m",
	"ERROR": "\x1b[31m",
}

func (c *colorWriter) Write(p []byte) (int, error) {
	for lvl, color := range levelColor {
		if idx := indexOf(p, "level="+lvl); idx >= 0 {
			_, err := c.dst.Write([]byte(color))
			if err != nil {
				return 0, err
			}
			n, err := c.dst.Write(p)
			c.dst.Write([]byte("\x1b[0m"))
			return n, err
		}
	}
	return c.dst.Write(p)
}

func indexOf(haystack []byte, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == needle {
			return i
		}
	}
	return -1
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
