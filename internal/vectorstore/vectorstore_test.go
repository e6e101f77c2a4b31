package vectorstore

import (
	"strings"
	"testing"
)

func TestPointID_Deterministic(t *testing.T) {
	a := PointID(42, "issue", "101", "some content")
	b := PointID(42, "issue", "101", "some content")
	if a != b {
		t.Errorf("same inputs produced different ids: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("expected 32-char id, got %d chars", len(a))
	}
}

func TestPointID_DistinguishesInputs(t *testing.T) {
	base := PointID(42, "issue", "101", "content")
	tests := []struct {
		name string
		id   string
	}{
		{"project", PointID(43, "issue", "101", "content")},
		{"type", PointID(42, "merge_request", "101", "content")},
		{"entity", PointID(42, "issue", "102", "content")},
		{"content", PointID(42, "issue", "101", "different")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.id == base {
				t.Errorf("expected different id when %s changes", tt.name)
			}
		})
	}
}

func TestPointID_TruncatesLongContent(t *testing.T) {
	prefix := strings.Repeat("x", 200)
	a := PointID(42, "code", "main.go", prefix+"tail one")
	b := PointID(42, "code", "main.go", prefix+"tail two")
	if a != b {
		t.Error("content beyond 200 chars should not affect the id")
	}
}

func TestFormatUUID(t *testing.T) {
	id := "0123456789abcdef0123456789abcdef"
	got := FormatUUID(id)
	want := "01234567-89ab-cdef-0123-456789abcdef"
	if got != want {
		t.Errorf("FormatUUID(%q) = %q, expected %q", id, got, want)
	}

	// Non-32-char inputs pass through.
	if got := FormatUUID("short"); got != "short" {
		t.Errorf("expected passthrough, got %q", got)
	}
	if got := FormatUUID(want); got != want {
		t.Errorf("already-dashed id should pass through, got %q", got)
	}
}
