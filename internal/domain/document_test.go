package domain

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestDeriveTitleIsIdempotent(t *testing.T) {
	names := []string{
		"calc101.pdf.mmd",
		"notes.mmd",
		"notes.pdf",
		"photo.png.mmd",
		"scan.mmd.mmd",
		".mmd",
		"plain",
		"",
	}
	for _, name := range names {
		once := DeriveTitle(name)
		twice := DeriveTitle(once)
		if once != twice {
			t.Fatalf("expected idempotent title for %q, got %q then %q", name, once, twice)
		}
	}
}

func TestDeriveTitleKeepsPDFWhenStoredAsPDFMarkup(t *testing.T) {
	if got := DeriveTitle("calc101.pdf.mmd"); got != "calc101.pdf" {
		t.Fatalf("expected calc101.pdf, got %q", got)
	}
	if got := DeriveTitle("notes.mmd"); got != "notes" {
		t.Fatalf("expected notes, got %q", got)
	}
	if got := DeriveTitle("calc.pdf"); got != "calc.pdf" {
		t.Fatalf("expected bare pdf name to be kept, got %q", got)
	}
}

func TestCandidateNamesOrder(t *testing.T) {
	cases := map[string][]string{
		"calc101.pdf.mmd": {"calc101.pdf.mmd", "calc101.mmd", "calc101.pdf"},
		"notes.mmd":       {"notes.mmd", "notes.pdf.mmd", "notes.pdf"},
		"notes.pdf":       {"notes.pdf", "notes.mmd", "notes.pdf.mmd"},
		"raw":             {"raw", "raw.mmd", "raw.pdf.mmd"},
	}
	for input, expected := range cases {
		got := CandidateNames(input)
		if !reflect.DeepEqual(got, expected) {
			t.Fatalf("expected %v for %q, got %v", expected, input, got)
		}
		if len(got) > 3 {
			t.Fatalf("expected at most 3 candidates, got %d", len(got))
		}
	}
}

func TestWrapConversionErrorKeepsTypedKind(t *testing.T) {
	original := NewConversionError(KindRateLimitExceeded, "slow down")
	wrapped := WrapConversionError(KindProcessingError, fmt.Errorf("submit: %w", original))
	if wrapped.Kind != KindRateLimitExceeded {
		t.Fatalf("expected rate_limit_exceeded, got %s", wrapped.Kind)
	}

	untyped := errors.New("boom")
	coerced := WrapConversionError(KindProcessingError, untyped)
	if coerced.Kind != KindProcessingError {
		t.Fatalf("expected processing_error, got %s", coerced.Kind)
	}
	if !errors.Is(coerced, untyped) {
		t.Fatalf("expected cause to be preserved")
	}
}

func TestUserMessageCoversEveryKind(t *testing.T) {
	for _, kind := range ErrorKinds() {
		if MessageForKind(kind) == "" {
			t.Fatalf("expected message for %s", kind)
		}
	}
	if UserMessage(errors.New("opaque")) != MessageForKind(KindProcessingError) {
		t.Fatalf("expected untyped errors to read as processing errors")
	}
}
