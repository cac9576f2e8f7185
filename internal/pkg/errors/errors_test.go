package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeConfig, "invalid input")

	if err.Code != CodeConfig {
		t.Errorf("expected code=%s, got %s", CodeConfig, err.Code)
	}
	if err.Message != "invalid input" {
		t.Errorf("expected message='invalid input', got %s", err.Message)
	}
	if len(err.Stack) == 0 {
		t.Error("expected stack trace to be captured")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CodeFile, "file %s not found", "roads.shp")

	if err.Code != CodeFile {
		t.Errorf("expected code=%s, got %s", CodeFile, err.Code)
	}
	if err.Message != "file roads.shp not found" {
		t.Errorf("expected formatted message, got %s", err.Message)
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "simple error",
			err:      New(CodeConfig, "invalid"),
			contains: []string{"CONFIG_ERROR", "invalid"},
		},
		{
			name: "error with op",
			err: &Error{
				Code:    CodeQuery,
				Message: "query failed",
				Op:      "layer.psql.query",
			},
			contains: []string{"layer.psql.query", "QUERY_ERROR", "query failed"},
		},
		{
			name: "error with underlying",
			err: &Error{
				Code:    CodeInternal,
				Message: "wrapper",
				Err:     fmt.Errorf("underlying error"),
			},
			contains: []string{"INTERNAL_ERROR", "wrapper", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.err.Error()
			for _, want := range tt.contains {
				if !strings.Contains(s, want) {
					t.Errorf("expected error string to contain %q, got %q", want, s)
				}
			}
		})
	}
}

func TestWrapPreservesCode(t *testing.T) {
	inner := New(CodeGeometryDecode, "truncated record")
	wrapped := Wrap(inner, "layer.psql.decode", "bad geometry column")

	if wrapped.Code != CodeGeometryDecode {
		t.Errorf("expected wrapped code=%s, got %s", CodeGeometryDecode, wrapped.Code)
	}
	if !errors.Is(wrapped, inner) {
		t.Error("expected wrapped error to match inner via errors.Is")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "op", "msg") != nil {
		t.Error("expected Wrap(nil) to return nil")
	}
	if WrapWithCode(nil, CodeFile, "op", "msg") != nil {
		t.Error("expected WrapWithCode(nil) to return nil")
	}
}

func TestWrapWithCode(t *testing.T) {
	err := WrapWithCode(fmt.Errorf("connection refused"), CodeConnection, "layer.psql.connect", "cannot reach host")

	if err.Code != CodeConnection {
		t.Errorf("expected code=%s, got %s", CodeConnection, err.Code)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected underlying message, got %q", err.Error())
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"typed error", New(CodeScript, "boom"), CodeScript},
		{"wrapped typed error", fmt.Errorf("outer: %w", New(CodeProjection, "bad srid")), CodeProjection},
		{"plain error", fmt.Errorf("plain"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("expected code=%s, got %s", tt.want, got)
			}
		})
	}
}

func TestIsCanceled(t *testing.T) {
	if !IsCanceled(Canceled("run")) {
		t.Error("expected Canceled() error to be canceled")
	}
	if !IsCanceled(context.Canceled) {
		t.Error("expected context.Canceled to be canceled")
	}
	if IsCanceled(New(CodeFile, "nope")) {
		t.Error("expected file error not to be canceled")
	}
}

func TestWithField(t *testing.T) {
	err := New(CodeQuery, "failed").WithField("layer", "roads")

	fields := GetFields(err)
	if fields["layer"] != "roads" {
		t.Errorf("expected field layer='roads', got %v", fields["layer"])
	}
}
