package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// grokConversationHeader scopes xAI's automatic prompt cache to one
// conversation. Set once at client construction, never per request.
const grokConversationHeader = "x-grok-conv-id"

// openAIClient speaks the OpenAI-compatible chat completions API. It serves
// four provider families: OpenAI itself, and Anthropic/xAI/DeepSeek via their
// compatibility endpoints.
type openAIClient struct {
	kind   ProviderKind
	model  string
	client openai.Client
}

func newOpenAIClient(kind ProviderKind, model, apiKey, baseURL, conversationID string) *openAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if conversationID != "" {
		opts = append(opts, option.WithHeader(grokConversationHeader, conversationID))
	}
	return &openAIClient{
		kind:   kind,
		model:  model,
		client: openai.NewClient(opts...),
	}
}

func (c *openAIClient) Provider() ProviderKind { return c.kind }

func (c *openAIClient) Model() string { return c.model }

// Generate performs one chat completion round-trip.
func (c *openAIClient) Generate(ctx context.Context, req *GenerateRequest) (*StepResult, error) {
	msgs, err := toChatMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: msgs,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	for _, d := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  openai.FunctionParameters(d.InputSchema),
		}))
	}

	// Provider-specific request fields (e.g. cache retention) are injected
	// at the JSON layer so the typed params stay portable.
	var reqOpts []option.RequestOption
	for k, v := range req.ExtraOptions {
		reqOpts = append(reqOpts, option.WithJSONSet(k, v))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("chat completion (%s): %w", c.kind, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion (%s): empty choices", c.kind)
	}

	choice := completion.Choices[0]
	result := &StepResult{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
	}

	for _, tc := range choice.Message.ToolCalls {
		call := ToolCall{ID: tc.ID, Name: tc.Function.Name}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Args); err != nil {
				return nil, fmt.Errorf("decoding tool call args for %s: %w", call.Name, err)
			}
		}
		result.ToolCalls = append(result.ToolCalls, call)
	}

	return result, nil
}

// toChatMessages converts the provider-agnostic message list to chat
// completion params. Cache-control annotations have no OpenAI-compatible
// representation and are dropped here.
func toChatMessages(messages []*Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))

		case RoleUser:
			out = append(out, openai.UserMessage(m.Text()))

		case RoleAssistant:
			calls := m.ToolCalls()
			if len(calls) == 0 {
				out = append(out, openai.AssistantMessage(m.Text()))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if text := m.Text(); text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			for _, call := range calls {
				args, err := json.Marshal(call.Args)
				if err != nil {
					return nil, fmt.Errorf("encoding tool call args for %s: %w", call.Name, err)
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: call.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.Name,
							Arguments: string(args),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		case RoleTool:
			for _, p := range m.Parts {
				if p.ToolResult == nil {
					continue
				}
				payload, err := json.Marshal(p.ToolResult.Output)
				if err != nil {
					return nil, fmt.Errorf("encoding tool result for %s: %w", p.ToolResult.Name, err)
				}
				out = append(out, openai.ToolMessage(string(payload), p.ToolResult.ID))
			}

		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}
