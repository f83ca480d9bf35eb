package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

type Options struct {
	Verbose bool
	// Format is text (the default) or json.
	Format string
	// Writer defaults to stderr. Stdout is reserved for the stdio MCP stream.
	Writer io.Writer
}

func New(opts Options) (*slog.Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	switch opts.Format {
	case "", FormatText:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:       level,
			ReplaceAttr: replaceAttr,
			NoColor:     !isTerminal(w),
		})), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceAttr,
		})), nil
	}
	return nil, fmt.Errorf("unknown log format %q", opts.Format)
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
	}
	if s, ok := a.Value.Any().(string); ok && s == "" {
		return slog.Attr{}
	}
	return a
}

func formatRFC3339Millis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
