package discord

import (
	"strings"
	"testing"

	logx "palbot/pkg/logx"
)

func TestSplitChunks(t *testing.T) {
	t.Parallel()

	if got := splitChunks("", 2000); len(got) != 1 || got[0] != "" {
		t.Fatalf("empty input: %v", got)
	}
	if got := splitChunks("short", 2000); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short input: %v", got)
	}

	// Prefers a newline boundary in the back half of the chunk.
	text := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1000)
	got := splitChunks(text, 2000)
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2", len(got))
	}
	if !strings.HasSuffix(got[0], "\n") {
		t.Fatal("first chunk should end at the newline boundary")
	}
	if got[1] != strings.Repeat("b", 1000) {
		t.Fatalf("second chunk length = %d", len(got[1]))
	}

	// No usable newline: hard cut at max.
	long := strings.Repeat("x", 4500)
	got = splitChunks(long, 2000)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	for i, c := range got {
		if len(c) > 2000 {
			t.Fatalf("chunk %d exceeds max: %d", i, len(c))
		}
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Logger{}); err == nil {
		t.Fatal("expected error for missing token")
	}
}
