package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	plain := New(ErrCodeInvalidInput, "prompt is required", nil)
	assert.Equal(t, "INVALID_INPUT: prompt is required", plain.Error())

	caused := New(ErrCodeAgentError, "receive from backend", errors.New("broken pipe"))
	assert.Equal(t, "AGENT_ERROR: receive from backend (caused by: broken pipe)", caused.Error())
	assert.EqualError(t, errors.Unwrap(caused), "broken pipe")
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "direct", err: New(ErrCodeSessionNotFound, "x", nil), want: ErrCodeSessionNotFound},
		{name: "wrapped once", err: fmt.Errorf("outer: %w", New(ErrCodeStoreFailed, "x", nil)), want: ErrCodeStoreFailed},
		{name: "nested app errors use the outermost", err: New(ErrCodeAgentError, "x", New(ErrCodeInternal, "y", nil)), want: ErrCodeAgentError},
		{name: "plain error", err: errors.New("nope"), want: ErrCodeInternal},
		{name: "nil", err: nil, want: ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}
