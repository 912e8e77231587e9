package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Result(map[string]any{"ok": true, "note": "<kiln & glaze>"}, "ignored")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, true, got["ok"])
	assert.Contains(t, buf.String(), "<kiln & glaze>", "HTML characters must not be escaped")
	assert.Contains(t, buf.String(), "\n  ", "output should be indented")
}

func TestOutputFormatter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Result(map[string]any{"ok": true}, "all good"))
	assert.Equal(t, "all good\n", buf.String())
}

func TestExitError(t *testing.T) {
	t.Run("message only", func(t *testing.T) {
		err := NewExitError(ExitFailure, "lint failed")
		assert.Equal(t, "lint failed", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("wrapped", func(t *testing.T) {
		cause := errors.New("disk full")
		err := WrapExitError(ExitCommandError, "failed to write bundle", cause)
		assert.Equal(t, "failed to write bundle: disk full", err.Error())
		assert.ErrorIs(t, err, cause)
	})
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"exit failure", NewExitError(ExitFailure, "x"), ExitFailure},
		{"command error", NewExitError(ExitCommandError, "x"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "x")), ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}
