package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageIncludesKindOpAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(Connection, "dial simulator", cause)

	want := "connection: dial simulator: connection refused"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorMessageOmitsCauseWhenNil(t *testing.T) {
	err := New(State, "apply override", nil)
	want := "state: apply override"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(Persistence, "write state", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestIsMatchesWrappedKind(t *testing.T) {
	err := fmt.Errorf("wrapping: %w", New(Transport, "dial pipe", errors.New("eof")))
	if !Is(err, Transport) {
		t.Fatal("expected Is to find Transport through an outer wrap")
	}
	if Is(err, Connection) {
		t.Fatal("expected Is to reject a kind that was never attached")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), Protocol) {
		t.Fatal("expected Is to report false for an error with no Kind attached")
	}
}

func TestKindStringCoversEveryConstant(t *testing.T) {
	cases := map[Kind]string{
		Connection:    "connection",
		Protocol:      "protocol",
		Simulator:     "simulator",
		Transport:     "transport",
		State:         "state",
		Configuration: "configuration",
		Persistence:   "persistence",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
	if got := Kind(999).String(); got != "unknown" {
		t.Errorf("unknown Kind.String() = %q, want %q", got, "unknown")
	}
}
