package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// geminiClient talks to the Gemini API through the google.golang.org/genai
// SDK. Gemini caches prompts implicitly on 2.5+ models, so no cache plumbing
// appears here.
type geminiClient struct {
	model  string
	client *genai.Client
}

func newGeminiClient(ctx context.Context, model, apiKey string) (*geminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &geminiClient{model: model, client: client}, nil
}

func (c *geminiClient) Provider() ProviderKind { return ProviderGemini }

func (c *geminiClient) Model() string { return c.model }

// Generate performs one inference round-trip.
func (c *geminiClient) Generate(ctx context.Context, req *GenerateRequest) (*StepResult, error) {
	config := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}

	if len(req.Tools) > 0 {
		tool := &genai.Tool{}
		for _, d := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
				Name:                 d.Name,
				Description:          d.Description,
				ParametersJsonSchema: d.InputSchema,
			})
		}
		config.Tools = []*genai.Tool{tool}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			// Gemini takes the system prompt out of band.
			config.SystemInstruction = genai.NewContentFromText(m.Text(), genai.RoleUser)

		case RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Text(), genai.RoleUser))

		case RoleAssistant:
			parts := make([]*genai.Part, 0, len(m.Parts))
			for _, p := range m.Parts {
				switch {
				case p.ToolCall != nil:
					parts = append(parts, genai.NewPartFromFunctionCall(p.ToolCall.Name, p.ToolCall.Args))
				case p.Text != "":
					parts = append(parts, genai.NewPartFromText(p.Text))
				}
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}

		case RoleTool:
			parts := make([]*genai.Part, 0, len(m.Parts))
			for _, p := range m.Parts {
				if p.ToolResult == nil {
					continue
				}
				parts = append(parts, genai.NewPartFromFunctionResponse(p.ToolResult.Name, p.ToolResult.Output))
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
			}

		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	result := &StepResult{Text: resp.Text()}
	if len(resp.Candidates) > 0 {
		result.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	for _, fc := range resp.FunctionCalls() {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:   fc.ID,
			Name: fc.Name,
			Args: fc.Args,
		})
	}

	return result, nil
}
