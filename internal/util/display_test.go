package util

import (
	"strings"
	"testing"
)

func TestDisplaySnippet(t *testing.T) {
	in := "Hello\x00   world \n\t forensic"
	out := DisplaySnippet(in, 100)
	if out != "Hello world forensic" {
		t.Fatalf("unexpected snippet: %q", out)
	}
}

func TestDisplaySnippetTruncates(t *testing.T) {
	in := strings.Repeat("ballistics report ", 50)
	out := DisplaySnippet(in, 40)
	if !strings.HasSuffix(out, "...") {
		t.Fatalf("expected ellipsis on truncated snippet: %q", out)
	}
	if len([]rune(out)) > 43 {
		t.Fatalf("snippet too long: %d runes", len([]rune(out)))
	}
}
