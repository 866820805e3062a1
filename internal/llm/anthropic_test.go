package llm

import (
	"testing"

	"github.com/aethercore/aether/internal/convo"
	"github.com/aethercore/aether/internal/orchestrator"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	p, err := New(Config{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if p.defaultModel != "claude-sonnet-4-5" {
		t.Fatalf("expected default model, got %s", p.defaultModel)
	}
	if p.maxTokens != 4096 {
		t.Fatalf("expected default max tokens, got %d", p.maxTokens)
	}
}

func TestConvertMessages(t *testing.T) {
	msgs := []orchestrator.CompletionMessage{
		{Role: convo.RoleUser, Content: "hello"},
		{Role: convo.RoleAssistant, Content: "hi there"},
	}
	out, err := convertMessages(msgs)
	if err != nil {
		t.Fatalf("convertMessages returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
}
