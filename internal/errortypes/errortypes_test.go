package errortypes

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestConstructorsWrapSentinels(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		sentinel error
		errType  ErrorType
	}{
		{"conflict", ConflictError(base, "put"), ErrConflict, ErrorTypeConflict},
		{"malformed", MalformedEntryError(nil, "entry 3"), ErrMalformedEntry, ErrorTypeMalformed},
		{"storage", StorageUnavailableError(base, "open"), ErrStorageUnavailable, ErrorTypeStorageUnavailable},
		{"not found", NotFoundError(nil, "memory 7"), ErrNotFound, ErrorTypeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.sentinel)
			}
			if got := TypeOf(tt.err); got != tt.errType {
				t.Errorf("TypeOf() = %q, want %q", got, tt.errType)
			}
		})
	}

	if !errors.Is(ConflictError(base, "put"), base) {
		t.Error("ConflictError lost the underlying error")
	}
}

func TestPredicates(t *testing.T) {
	if !IsConflict(ConflictError(nil, "x")) {
		t.Error("IsConflict() = false for ConflictError")
	}
	if IsConflict(DatabaseError(errors.New("x"), "y")) {
		t.Error("IsConflict() = true for DatabaseError")
	}
	if !IsStorageUnavailable(StorageUnavailableError(nil, "closed")) {
		t.Error("IsStorageUnavailable() = false")
	}
	if !IsMalformedEntry(MalformedEntryError(nil, "no id")) {
		t.Error("IsMalformedEntry() = false")
	}
	if !IsEmbedderUnavailable(ExternalError(ErrEmbedderUnavailable, "embed")) {
		t.Error("IsEmbedderUnavailable() = false through ExternalError")
	}
	if !IsValidationError(ValidationError(nil, "bad")) {
		t.Error("IsValidationError() = false")
	}
	if TypeOf(errors.New("plain")) != "" {
		t.Error("TypeOf(plain error) should be empty")
	}
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	err := ConflictError(nil, "failed to put memory").WithField("external_id", "d1")
	LogError(logger, err)

	out := buf.String()
	for _, want := range []string{"failed to put memory", "type=conflict", "external_id=d1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
