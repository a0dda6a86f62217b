package providers

import "testing"

func TestNewGroqProviderDoesNotPanic(t *testing.T) {
	// Key resolution is environment-dependent; this only ensures construction works.
	p := NewGroqProvider("alias1")
	if p == nil {
		t.Fatalf("expected provider instance")
	}
}
