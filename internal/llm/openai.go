package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
)

const (
	openAIAPIBase = "https://api.openai.com/v1"
	openAIModel   = "gpt-4o-mini"
)

// OpenAIProvider implements Provider over the OpenAI Responses API.
type OpenAIProvider struct {
	apiKey string
	cfg    providerConfig
}

// NewOpenAIProvider constructs a new OpenAI provider.
func NewOpenAIProvider(apiKey string, timeout time.Duration, opts ...Option) *OpenAIProvider {
	cfg := newProviderConfig(openAIModel, openAIAPIBase, timeout, opts)
	cfg.logger = cfg.logger.With().Str("component", "llm.openai").Logger()
	return &OpenAIProvider{apiKey: apiKey, cfg: cfg}
}

func (p *OpenAIProvider) Name() string    { return "openai" }
func (p *OpenAIProvider) ModelID() string { return p.cfg.model }

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model           string           `json:"model"`
	Instructions    string           `json:"instructions,omitempty"`
	Input           []responsesInput `json:"input"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	Text            *struct {
		Format map[string]any `json:"format"`
	} `json:"text,omitempty"`
}

type responsesResponse struct {
	Status string `json:"status"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text,omitempty"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func extractOutputText(resp responsesResponse) (text, refusal string) {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" || item.Role != RoleAssistant {
			continue
		}
		for _, c := range item.Content {
			switch c.Type {
			case "output_text":
				out.WriteString(c.Text)
			case "refusal":
				refusal = c.Refusal
			}
		}
	}
	return out.String(), refusal
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest) responsesRequest {
	model := p.cfg.model
	if req.Model != "" {
		model = req.Model
	}
	rr := responsesRequest{
		Model:           model,
		Instructions:    req.SystemPrompt,
		MaxOutputTokens: p.cfg.maxTokens,
	}
	if req.MaxTokens > 0 {
		rr.MaxOutputTokens = req.MaxTokens
	}
	for _, m := range req.Messages {
		rr.Input = append(rr.Input, responsesInput{Role: m.Role, Content: m.Content})
	}
	if req.Temperature > 0 {
		t := req.Temperature
		rr.Temperature = &t
	}
	if req.JSON {
		rr.Text = &struct {
			Format map[string]any `json:"format"`
		}{Format: map[string]any{"type": "json_object"}}
	}
	return rr
}

// Complete sends a blocking completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	rr := p.buildRequest(req)
	raw, err := postJSON(ctx, p.cfg.client, p.Name(), p.cfg.baseURL+"/responses", map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}, rr)
	if err != nil {
		return nil, err
	}

	var parsed responsesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("openai unmarshal response: %w: %v", perrors.ErrMalformedResponse, err)
	}
	text, refusal := extractOutputText(parsed)
	if refusal != "" {
		return nil, fmt.Errorf("openai refused: %w", perrors.ErrGatewayUnavailable)
	}

	out := &CompletionResponse{
		Text:         text,
		StopReason:   parsed.Status,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}
	p.cfg.logger.Debug().
		Str("model", rr.Model).
		Str("status", out.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("openai complete")
	return out, nil
}
