// ABOUTME: Process-wide logrus setup
// ABOUTME: Logs to stdout and a file, or to the file only while the terminal display owns the screen
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options selects where and how much to log
type Options struct {
	Level string
	File  string // Empty disables the file
	TUI   bool   // Keep stdout free for the display
}

// Setup configures the standard logrus logger. The returned closer
// releases the log file.
func Setup(opts Options) (io.Closer, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var file *os.File
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		file = f
	}

	var out io.Writer
	switch {
	case opts.TUI && file != nil:
		out = file
	case opts.TUI:
		out = io.Discard
	case file != nil:
		out = io.MultiWriter(os.Stdout, file)
	default:
		out = os.Stdout
	}

	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		DisableColors:   opts.TUI || file != nil,
	})
	logrus.SetOutput(out)

	if file == nil {
		return io.NopCloser(nil), nil
	}
	return file, nil
}
