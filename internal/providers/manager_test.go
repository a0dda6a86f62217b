package providers

import (
	"testing"

	"crimelens/internal/config"
)

func newTestManager(t *testing.T, llm, embed string) *Manager {
	t.Helper()
	m, err := NewManager(config.Config{LLMProviders: llm, EmbedProviders: embed, EmbedDim: 8})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestPreferredLLMOrderMockLast(t *testing.T) {
	m := newTestManager(t, "mock|groq:main|groq:backup", "mock")
	order := m.PreferredLLMOrder()
	if len(order) != 3 {
		t.Fatalf("expected 3 indexes got %d", len(order))
	}
	if order[0] != 1 || order[1] != 2 || order[2] != 0 {
		t.Fatalf("expected real providers before mock, got %v", order)
	}
}

func TestFindLLMProviderIndex(t *testing.T) {
	m := newTestManager(t, "groq:main|mock", "mock")
	if i := m.FindLLMProviderIndex("groq:main"); i != 0 {
		t.Fatalf("raw ref lookup: got %d", i)
	}
	if i := m.FindLLMProviderIndex("GROQ"); i != 0 {
		t.Fatalf("name lookup should be case-insensitive: got %d", i)
	}
	if i := m.FindLLMProviderIndex("mock"); i != 1 {
		t.Fatalf("mock lookup: got %d", i)
	}
	if i := m.FindLLMProviderIndex("ollama"); i != -1 {
		t.Fatalf("unknown provider should return -1, got %d", i)
	}
}

func TestProviderByIndexClampsOutOfRange(t *testing.T) {
	m := newTestManager(t, "mock", "mock")
	_, ref := m.LLMProviderByIndex(42)
	if ref.Name != "mock" {
		t.Fatalf("expected fallback to first provider, got %+v", ref)
	}
}
