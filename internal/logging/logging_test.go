package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func resetLoggingState() {
	mu.Lock()
	defer mu.Unlock()

	baseWriter = os.Stderr
	baseComponent = ""
	baseLogger = zerolog.New(baseWriter).With().Timestamp().Logger()
	log.Logger = baseLogger
	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func readJSONLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	line := strings.TrimSpace(buf.String())
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if line == "" {
		t.Fatalf("expected log output, got empty string")
	}

	var event map[string]interface{}
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	return event
}

func TestInitJSONFormatSetsLevelAndComponent(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{
		Format:    "json",
		Level:     "debug",
		Component: "apiserver",
	})

	mu.RLock()
	defer mu.RUnlock()

	if baseWriter != os.Stderr {
		t.Fatalf("expected base writer to be os.Stderr, got %#v", baseWriter)
	}

	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected global level debug, got %s", zerolog.GlobalLevel())
	}

	if baseComponent != "apiserver" {
		t.Fatalf("expected base component apiserver, got %s", baseComponent)
	}

	if !reflect.DeepEqual(log.Logger, baseLogger) {
		t.Fatal("expected global log.Logger to match baseLogger")
	}
}

func TestInitConsoleFormatUsesConsoleWriter(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{
		Format: "console",
		Level:  "info",
	})

	mu.RLock()
	defer mu.RUnlock()

	if _, ok := baseWriter.(zerolog.ConsoleWriter); !ok {
		t.Fatalf("expected console writer, got %#v", baseWriter)
	}
}

func TestInitAutoFormatWithPipe(t *testing.T) {
	t.Cleanup(resetLoggingState)

	origStderr := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stderr = w
	defer func() {
		os.Stderr = origStderr
		_ = r.Close()
		_ = w.Close()
	}()

	Init(Config{
		Format: "auto",
		Level:  "info",
	})

	mu.RLock()
	defer mu.RUnlock()

	if baseWriter != w {
		t.Fatalf("expected base writer to use provided pipe, got %#v", baseWriter)
	}
}

func TestNewLoggerWithComponentAndFields(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{
		Format:    "json",
		Level:     "info",
		Component: "root",
	})

	var buf bytes.Buffer
	logger := New("worker", WithWriter(&buf), WithFields(map[string]interface{}{
		"request": "sync",
	}))

	logger.Info().Msg("processing")

	event := readJSONLine(t, &buf)

	if event["component"] != "worker" {
		t.Fatalf("expected component worker, got %v", event["component"])
	}
	if event["request"] != "sync" {
		t.Fatalf("expected request field, got %v", event["request"])
	}
	if event["level"] != "info" {
		t.Fatalf("expected level info, got %v", event["level"])
	}
	if event["message"] != "processing" {
		t.Fatalf("expected message processing, got %v", event["message"])
	}
}

func TestNewLoggerInheritsComponentWhenEmpty(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{
		Format:    "json",
		Level:     "info",
		Component: "core",
	})

	var buf bytes.Buffer
	logger := New("", WithWriter(&buf))
	logger.Warn().Msg("warn")

	event := readJSONLine(t, &buf)
	if event["component"] != "core" {
		t.Fatalf("expected inherited component core, got %v", event["component"])
	}
}

func TestNewLoggerWithCustomWriter(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{
		Format: "json",
		Level:  "info",
	})

	var buf bytes.Buffer
	logger := New("custom", WithWriter(&buf))
	logger.Info().Msg("hello")

	if buf.Len() == 0 {
		t.Fatal("expected output on custom writer")
	}
}

func TestNewLoggerWithoutComponentOmitsField(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{
		Format: "json",
		Level:  "info",
	})

	var buf bytes.Buffer
	logger := New("", WithWriter(&buf))
	logger.Info().Msg("no-component")

	event := readJSONLine(t, &buf)
	if _, exists := event["component"]; exists {
		t.Fatalf("did not expect component field, got %v", event["component"])
	}
}

func TestInitThreadSafety(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var wg sync.WaitGroup
	configs := []Config{
		{Format: "json", Level: "debug", Component: "worker"},
		{Format: "json", Level: "warn", Component: "api"},
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			Init(configs[idx%len(configs)])
		}(i)
	}
	wg.Wait()

	mu.RLock()
	defer mu.RUnlock()

	// Ensure baseLogger is valid and global logger matches it.
	if reflect.DeepEqual(baseLogger, zerolog.Logger{}) {
		t.Fatal("expected initialized base logger")
	}
	if !reflect.DeepEqual(log.Logger, baseLogger) {
		t.Fatal("expected global log.Logger to match baseLogger after concurrent init")
	}
}

func TestIsLevelEnabled(t *testing.T) {
	t.Cleanup(resetLoggingState)

	// Set global level to Info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if !IsLevelEnabled(zerolog.InfoLevel) {
		t.Fatal("expected info level to be enabled")
	}
	if !IsLevelEnabled(zerolog.WarnLevel) {
		t.Fatal("expected warn level to be enabled")
	}
	if !IsLevelEnabled(zerolog.ErrorLevel) {
		t.Fatal("expected error level to be enabled")
	}
	if IsLevelEnabled(zerolog.DebugLevel) {
		t.Fatal("expected debug level to be disabled")
	}

	// Change to debug level
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	if !IsLevelEnabled(zerolog.DebugLevel) {
		t.Fatal("expected debug level to be enabled after setting global level")
	}
}

func TestLevelForVerbosity(t *testing.T) {
	tests := []struct {
		name      string
		verbosity int
		current   zerolog.Level
		want      zerolog.Level
	}{
		{"negative keeps current", -1, zerolog.WarnLevel, zerolog.WarnLevel},
		{"zero is info", 0, zerolog.DebugLevel, zerolog.InfoLevel},
		{"one is debug", 1, zerolog.InfoLevel, zerolog.DebugLevel},
		{"two is trace", 2, zerolog.InfoLevel, zerolog.TraceLevel},
		{"large is trace", 9, zerolog.InfoLevel, zerolog.TraceLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LevelForVerbosity(tt.verbosity, tt.current); got != tt.want {
				t.Fatalf("LevelForVerbosity(%d, %s) = %s, want %s", tt.verbosity, tt.current, got, tt.want)
			}
		})
	}
}

func TestNewSinkLoggerDeliversLines(t *testing.T) {
	t.Cleanup(resetLoggingState)
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var (
		linesMu sync.Mutex
		lines   []string
	)
	logger := NewSinkLogger(func(line string) {
		linesMu.Lock()
		lines = append(lines, line)
		linesMu.Unlock()
	}, "ensure", zerolog.DebugLevel)

	logger.Debug().Uint64("generation", 3).Msg("claims published")
	logger.Trace().Msg("hidden")

	linesMu.Lock()
	defer linesMu.Unlock()
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line, got %d: %q", len(lines), lines)
	}
	if strings.Contains(lines[0], "\n") {
		t.Fatalf("expected trailing newline to be stripped, got %q", lines[0])
	}
	for _, want := range []string{"claims published", "generation=3", "component=ensure"} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("expected %q in line %q", want, lines[0])
		}
	}
}

func TestValidLevelAndFormat(t *testing.T) {
	for _, level := range []string{"", "info", "DEBUG", " warn ", "trace", "disabled"} {
		if !ValidLevel(level) {
			t.Errorf("expected level %q to be valid", level)
		}
	}
	if ValidLevel("loud") {
		t.Error("expected level loud to be invalid")
	}
	for _, format := range []string{"", "auto", "json", "Console"} {
		if !ValidFormat(format) {
			t.Errorf("expected format %q to be valid", format)
		}
	}
	if ValidFormat("xml") {
		t.Error("expected format xml to be invalid")
	}
}
