package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"no connection", ErrNoConnection, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid template", ErrInvalidTemplate, false},
		{"refused in message", fmt.Errorf("dial tcp: connection refused"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("timeout")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"missing config", ErrMissingConfig, true},
		{"config not found", ErrConfigNotFound, true},
		{"invalid config", ErrInvalidConfig, false},
		{"connection timeout", ErrConnectionTimeout, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"invalid pattern", ErrInvalidPattern, true},
		{"invalid template", ErrInvalidTemplate, true},
		{"registration failed", ErrRegistrationFailed, true},
		{"label mismatch", ErrLabelMismatch, true},
		{"connection lost", ErrConnectionLost, false},
		{"wrapped label mismatch", fmt.Errorf("record: %w", ErrLabelMismatch), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil", nil, ErrorTransient},
		{"transient sentinel", ErrConnectionLost, ErrorTransient},
		{"invalid sentinel", ErrInvalidTemplate, ErrorInvalid},
		{"fatal sentinel", ErrMissingConfig, ErrorFatal},
		{"unknown", errors.New("something odd"), ErrorTransient},
		{"classified wins over message", WrapFatal(errors.New("timeout"), "Server", "Start", "listen"), ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %s, got %s", test.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "C", "M", "a") != nil {
		t.Fatal("wrapping nil should return nil")
	}

	base := errors.New("boom")
	err := Wrap(base, "GaugeCache", "Record", "set gauge")
	if err.Error() != "GaugeCache.Record: set gauge failed: boom" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should match base with errors.Is")
	}
}

func TestWrapClassified(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.wrap(nil, "C", "M", "a") != nil {
				t.Fatal("wrapping nil should return nil")
			}

			err := test.wrap(ErrLabelMismatch, "GaugeCache", "Record", "set gauge")

			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatal("expected ClassifiedError")
			}
			if ce.Class != test.class {
				t.Errorf("expected class %s, got %s", test.class, ce.Class)
			}
			if ce.Component != "GaugeCache" || ce.Operation != "Record" {
				t.Errorf("unexpected component/operation: %s/%s", ce.Component, ce.Operation)
			}
			if !strings.Contains(err.Error(), "set gauge failed") {
				t.Errorf("message should contain action: %s", err.Error())
			}
			if !errors.Is(err, ErrLabelMismatch) {
				t.Error("classified error should unwrap to the sentinel")
			}
			if Component(err) != "GaugeCache" {
				t.Errorf("expected component GaugeCache, got %q", Component(err))
			}
		})
	}
}

func TestClassifiedError_NoMessage(t *testing.T) {
	ce := &ClassifiedError{Class: ErrorInvalid, Err: errors.New("inner")}
	if ce.Error() != "inner" {
		t.Errorf("expected inner message, got %s", ce.Error())
	}
}

func BenchmarkClassify(b *testing.B) {
	err := WrapInvalid(ErrLabelMismatch, "GaugeCache", "Record", "set gauge")
	for i := 0; i < b.N; i++ {
		_ = Classify(err)
	}
}
