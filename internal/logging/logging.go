package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Config controls logger initialization.
type Config struct {
	Format    string // "json", "console", or "auto"
	Level     string // "trace", "debug", "info", "warn", "error"
	Component string // optional component name
}

var (
	mu            sync.RWMutex
	baseLogger    zerolog.Logger
	baseWriter    io.Writer = os.Stderr
	baseComponent string

	defaultTimeFmt = time.RFC3339
)

var isTerminalFn = term.IsTerminal

func init() {
	baseLogger = zerolog.New(baseWriter).With().Timestamp().Logger()
	log.Logger = baseLogger
}

// Init configures zerolog globals and establishes the package baseline logger.
func Init(cfg Config) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	writer := selectWriter(cfg.Format)
	component := strings.TrimSpace(cfg.Component)

	contextBuilder := zerolog.New(writer).With().Timestamp()
	if component != "" {
		contextBuilder = contextBuilder.Str("component", component)
	}

	baseLogger = contextBuilder.Logger()
	baseWriter = writer
	baseComponent = component
	log.Logger = baseLogger

	return baseLogger
}

// Option customizes a logger built by New.
type Option func(*options)

type options struct {
	writer io.Writer
	fields map[string]interface{}
}

// WithWriter sends the logger's output to w instead of the base writer.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithFields attaches static fields to every event.
func WithFields(fields map[string]interface{}) Option {
	return func(o *options) { o.fields = fields }
}

// New returns a logger derived from the base configuration. An empty
// component inherits the base component.
func New(component string, opts ...Option) zerolog.Logger {
	mu.RLock()
	writer := baseWriter
	inherited := baseComponent
	mu.RUnlock()

	o := options{writer: writer}
	for _, opt := range opts {
		opt(&o)
	}

	component = strings.TrimSpace(component)
	if component == "" {
		component = inherited
	}

	ctx := zerolog.New(o.writer).With().Timestamp()
	if component != "" {
		ctx = ctx.Str("component", component)
	}
	if len(o.fields) > 0 {
		ctx = ctx.Fields(o.fields)
	}
	return ctx.Logger()
}

// IsLevelEnabled reports whether the provided level is enabled for logging.
func IsLevelEnabled(level zerolog.Level) bool {
	return level >= zerolog.GlobalLevel()
}

// LevelForVerbosity maps a foreign verbosity value onto a zerolog level.
// Negative values keep current.
func LevelForVerbosity(verbosity int, current zerolog.Level) zerolog.Level {
	switch {
	case verbosity < 0:
		return current
	case verbosity == 0:
		return zerolog.InfoLevel
	case verbosity == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// LineSink receives one rendered log line without its trailing newline.
type LineSink func(line string)

type sinkWriter struct {
	mu   sync.Mutex
	sink LineSink
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		w.sink(string(line))
	}
	return len(p), nil
}

// NewSinkLogger returns a logger that renders human readable lines and
// hands each one to sink.
func NewSinkLogger(sink LineSink, component string, level zerolog.Level) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        &sinkWriter{sink: sink},
		NoColor:    true,
		TimeFormat: defaultTimeFmt,
	}
	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if component = strings.TrimSpace(component); component != "" {
		ctx = ctx.Str("component", component)
	}
	return ctx.Logger()
}

func parseLevel(level string) zerolog.Level {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "", "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled":
		return zerolog.Disabled
	default:
		fmt.Fprintf(os.Stderr, "logging: invalid level %q; using %q\n", normalized, "info")
		return zerolog.InfoLevel
	}
}

// ValidLevel reports whether level is accepted by Init.
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info", "debug", "trace", "warn", "warning", "error", "fatal", "panic", "disabled":
		return true
	}
	return false
}

// ValidFormat reports whether format is accepted by Init.
func ValidFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "auto", "json", "console":
		return true
	}
	return false
}

func selectWriter(format string) io.Writer {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "console":
		return newConsoleWriter(os.Stderr)
	case "json":
		return os.Stderr
	case "auto", "":
		if isTerminal(os.Stderr) {
			return newConsoleWriter(os.Stderr)
		}
		return os.Stderr
	default:
		fmt.Fprintf(os.Stderr, "logging: invalid format %q; using %q\n", format, "json")
		return os.Stderr
	}
}

func newConsoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: defaultTimeFmt,
	}
}

func isTerminal(file *os.File) bool {
	if file == nil {
		return false
	}
	return isTerminalFn(int(file.Fd()))
}
