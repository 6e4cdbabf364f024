// Package openai provides a model.ChatService backed by the OpenAI Chat
// Completions API. Each Send performs exactly one non-streaming completion.
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI adapter. Per-agent model configuration on the
// request takes precedence over these defaults.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// Service wraps the OpenAI Chat Completions API behind model.ChatService.
type Service struct {
	client *openai.Client
	opts   Options
}

var _ model.ChatService = (*Service)(nil)

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// New creates a service using the official client. Without an explicit API
// key the client reads OPENAI_API_KEY from the environment.
func New(optFns ...func(o *Options)) *Service {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := openai.NewClient(clientOpts...)
	return &Service{client: &client, opts: opts}
}

// NewFromClient creates a service from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Service {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Service{client: client, opts: opts}
}

// Send implements model.ChatService.
func (s *Service) Send(ctx context.Context, req model.Request) (*model.Response, error) {
	params := s.buildParams(req)

	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	ch0 := resp.Choices[0]
	msg := core.Message{ID: resp.ID, Role: core.RoleAssistant, CreatedAt: time.Now().UTC()}
	if ch0.Message.Content != "" {
		msg.Parts = append(msg.Parts, core.TextPart{Text: ch0.Message.Content})
	}
	for _, tc := range ch0.Message.ToolCalls {
		msg.Parts = append(msg.Parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}

	return &model.Response{
		Message: msg,
		Usage: &core.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		FinishReason: mapFinishReason(string(ch0.FinishReason)),
	}, nil
}

func mapFinishReason(r string) model.FinishReason {
	switch r {
	case "stop":
		return model.FinishStop
	case "tool_calls", "function_call":
		return model.FinishToolCalls
	case "length":
		return model.FinishLength
	case "":
		return model.FinishStop
	default:
		return model.FinishOther
	}
}

// buildMessages converts the outbound conversation into OpenAI chat messages.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case core.RoleAssistant:
			calls := m.FunctionCalls()
			if len(calls) == 0 {
				out = append(out, openai.AssistantMessage(m.Text()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
			for i, fc := range calls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   fc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      fc.Name,
						Arguments: fc.Arguments,
					},
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}})
		case core.RoleTool:
			for _, p := range m.Parts {
				if fr, ok := p.(core.FunctionResponsePart); ok {
					out = append(out, openai.ToolMessage(responseText(fr.FunctionResponse), fr.FunctionResponse.ID))
				}
			}
		default:
			if text := m.Text(); text != "" {
				out = append(out, openai.UserMessage(text))
			}
		}
	}
	return out
}

func responseText(fr core.FunctionResponse) string {
	if fr.Error != "" {
		return "error: " + fr.Error
	}
	return model.ResponseText(fr)
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (s *Service) buildParams(req model.Request) openai.ChatCompletionNewParams {
	modelName := s.opts.Model
	temperature := s.opts.Temperature
	maxTokens := s.opts.MaxCompletionTokens
	if mc := req.Model; mc != nil {
		if mc.Model != "" {
			modelName = mc.Model
		}
		temperature = mc.Temperature
		if mc.MaxTokens > 0 {
			maxTokens = int64(mc.MaxTokens)
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req.Messages),
		Model:               modelName,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if !req.ToolsEnabled || len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}
