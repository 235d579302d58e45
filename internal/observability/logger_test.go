package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
		warnEnabled  bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true, warnEnabled: true},
		{name: "upper case info", level: " INFO ", debugEnabled: false, warnEnabled: true},
		{name: "empty level defaults to info", level: "", debugEnabled: false, warnEnabled: true},
		{name: "error level", level: "error", debugEnabled: false, warnEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
			if got := logger.Core().Enabled(zapcore.WarnLevel); got != tc.warnEnabled {
				t.Fatalf("warn enabled=%v, want=%v", got, tc.warnEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("verbose")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestRequestID_ContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithRequestID(context.Background(), "req-1")
	requestID, ok := RequestIDFromContext(ctx)
	if !ok || requestID != "req-1" {
		t.Fatalf("request id=%q ok=%v, want req-1", requestID, ok)
	}

	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Fatal("expected request id to be missing")
	}

	emptyCtx := WithRequestID(context.Background(), "")
	if _, ok := RequestIDFromContext(emptyCtx); ok {
		t.Fatal("expected empty request id to be treated as missing")
	}
}

func TestLoggerFromContext(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	LoggerFromContext(base, WithRequestID(context.Background(), "req-2")).Info("with request")
	LoggerFromContext(base, context.Background()).Info("without request")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d, want=2", len(entries))
	}
	if got := entries[0].ContextMap()["requestId"]; got != "req-2" {
		t.Fatalf("requestId=%v, want=req-2", got)
	}
	if _, ok := entries[1].ContextMap()["requestId"]; ok {
		t.Fatal("expected requestId field to be absent")
	}

	if LoggerFromContext(nil, context.Background()) != nil {
		t.Fatal("expected nil logger")
	}
}

func TestEmailLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	EmailLogger(zap.New(core), 17).Info("dispatching")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want=1", len(entries))
	}
	if got := entries[0].ContextMap()["emailId"]; got != int64(17) {
		t.Fatalf("emailId=%v, want=17", got)
	}
	if EmailLogger(nil, 1) != nil {
		t.Fatal("expected nil logger")
	}
}
