// Package llm provides the reference orchestrator.Provider implementation
// backed by the Anthropic SDK. The orchestrator only depends on the
// narrow Provider interface; this adapter exists so the module compiles
// and runs end to end against a real model.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aethercore/aether/internal/convo"
	"github.com/aethercore/aether/internal/orchestrator"
	"github.com/aethercore/aether/internal/toolexec"
)

// Config configures an AnthropicProvider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int64
}

// AnthropicProvider implements orchestrator.Provider against Claude's
// streaming Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int64
}

// New validates cfg and returns a ready AnthropicProvider.
func New(cfg Config) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Complete streams one model round trip, converting Anthropic's SSE
// content blocks into orchestrator.CompletionChunk values.
func (p *AnthropicProvider) Complete(ctx context.Context, req orchestrator.CompletionRequest) (<-chan orchestrator.CompletionChunk, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("llm: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		Messages:  messages,
		MaxTokens: p.maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	out := make(chan orchestrator.CompletionChunk)

	go func() {
		defer close(out)

		streamCtx := ctx
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			streamCtx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
			defer cancel()
		}
		stream := p.client.Messages.NewStreaming(streamCtx, params)

		var currentCall *toolexec.Call
		var currentInput []byte

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					toolUse := block.AsToolUse()
					currentCall = &toolexec.Call{ID: toolUse.ID, Name: toolUse.Name}
					currentInput = nil
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						out <- orchestrator.CompletionChunk{Text: delta.Text}
					}
				case "thinking_delta":
					if delta.Thinking != "" {
						out <- orchestrator.CompletionChunk{Thinking: delta.Thinking}
					}
				case "input_json_delta":
					currentInput = append(currentInput, []byte(delta.PartialJSON)...)
				}
			case "content_block_stop":
				if currentCall != nil {
					currentCall.Input = json.RawMessage(currentInput)
					out <- orchestrator.CompletionChunk{ToolCalls: []toolexec.Call{*currentCall}}
					currentCall = nil
				}
			case "message_stop":
				out <- orchestrator.CompletionChunk{Done: true}
				return
			case "error":
				out <- orchestrator.CompletionChunk{Err: fmt.Errorf("llm: stream error")}
				return
			}
		}

		if err := stream.Err(); err != nil {
			out <- orchestrator.CompletionChunk{Err: fmt.Errorf("llm: %w", err)}
		}
	}()

	return out, nil
}

func convertMessages(messages []orchestrator.CompletionMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case convo.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(block))
		default:
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result, nil
}

// defaultRequestTimeout bounds a single streaming call when the caller's
// context carries no deadline.
const defaultRequestTimeout = 5 * time.Minute
