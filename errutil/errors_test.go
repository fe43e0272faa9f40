package errutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found through oops", oops.Code("OFFER_NOT_FOUND").Wrap(ErrNotFound), ErrNotFound},
		{"invalid state", oops.With("offer_id", "o1").Wrap(ErrInvalidState), ErrInvalidState},
		{"conflict wrapped twice", oops.Wrap(oops.Code("X").Wrap(ErrConflict)), ErrConflict},
		{"validation", ErrValidation, ErrValidation},
		{"infrastructure", errors.New("connection refused"), nil},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, "AGREEMENT_CONFLICT", Code(oops.Code("AGREEMENT_CONFLICT").Wrap(ErrConflict)))
	assert.Empty(t, Code(errors.New("plain")))
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("EMAIL_SEND_FAILED").
		With("recipient", "buyer@propertyhub.demo").
		Errorf("smtp timeout")

	LogError(logger, "notification failed", err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "notification failed", entry["msg"])
	assert.Equal(t, "EMAIL_SEND_FAILED", entry["code"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LogError(logger, "sweep row failed", errors.New("standard error"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry["error"], "standard error")
}

func TestAssertHelpers(t *testing.T) {
	err := oops.Code("PROPERTY_NOT_FOUND").With("property_id", "p1").Wrap(ErrNotFound)
	AssertErrorCode(t, err, "PROPERTY_NOT_FOUND")
	AssertErrorContext(t, err, "property_id", "p1")
	AssertKind(t, err, ErrNotFound)
}
