package logging

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func resetLoggingState() {
	mu.Lock()
	defer mu.Unlock()

	baseLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	log.Logger = baseLogger
	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestInitSetsGlobalLevel(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{
		Format:    "json",
		Level:     "debug",
		Component: "gateway",
	})

	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected global level debug, got %s", zerolog.GlobalLevel())
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"info", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"trace", zerolog.TraceLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"disabled", zerolog.Disabled},
		{"  DEBUG  ", zerolog.DebugLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tc := range cases {
		if got := parseLevel(tc.input); got != tc.want {
			t.Errorf("parseLevel(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestSelectWriterConsole(t *testing.T) {
	if _, ok := selectWriter("console").(zerolog.ConsoleWriter); !ok {
		t.Fatal("expected console writer for console format")
	}
}

func TestSelectWriterJSONIsStderr(t *testing.T) {
	if selectWriter("json") != os.Stderr {
		t.Fatal("expected stderr writer for json format")
	}
}

func TestSelectWriterAutoWithoutTerminal(t *testing.T) {
	orig := isTerminalFn
	isTerminalFn = func(int) bool { return false }
	defer func() { isTerminalFn = orig }()

	if selectWriter("auto") != os.Stderr {
		t.Fatal("expected plain stderr writer when not attached to a terminal")
	}
}

func TestSelectWriterAutoWithTerminal(t *testing.T) {
	orig := isTerminalFn
	isTerminalFn = func(int) bool { return true }
	defer func() { isTerminalFn = orig }()

	if _, ok := selectWriter("auto").(zerolog.ConsoleWriter); !ok {
		t.Fatal("expected console writer when attached to a terminal")
	}
}

func TestWithRequestIDGeneratesWhenEmpty(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), "")
	if id == "" {
		t.Fatal("expected generated request ID")
	}
	if got := RequestIDFromContext(ctx); got != id {
		t.Fatalf("expected context to carry %q, got %q", id, got)
	}
}

func TestWithRequestIDPreservesProvided(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), "  req-42  ")
	if id != "req-42" {
		t.Fatalf("expected trimmed request ID req-42, got %q", id)
	}
	if got := RequestIDFromContext(ctx); got != "req-42" {
		t.Fatalf("expected context to carry req-42, got %q", got)
	}
}

func TestRequestIDFromContextMissing(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request ID, got %q", got)
	}
}
