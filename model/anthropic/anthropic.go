// Package anthropic provides a model.ChatService backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

// Options configures the Anthropic adapter (temperature, model id,
// max tokens, API key). Per-agent model configuration on the request wins.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Service wraps the Anthropic Messages API behind model.ChatService.
type Service struct {
	client *anthropic.Client
	opts   Options
}

var _ model.ChatService = (*Service)(nil)

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// New creates a service using the official client.
func New(optFns ...func(o *Options)) *Service {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Service{client: &client, opts: opts}
}

// NewFromClient creates a service from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Service {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Service{client: client, opts: opts}
}

// Send implements model.ChatService.
func (s *Service) Send(ctx context.Context, req model.Request) (*model.Response, error) {
	params := s.buildParams(req)

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	msg := core.Message{ID: resp.ID, Role: core.RoleAssistant, CreatedAt: time.Now().UTC()}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if tb := block.AsText(); tb.Text != "" {
				msg.Parts = append(msg.Parts, core.TextPart{Text: tb.Text})
			}
		case "tool_use":
			tu := block.AsToolUse()
			args := ""
			if tu.Input != nil {
				if b, err := json.Marshal(tu.Input); err == nil {
					args = string(b)
				}
			}
			msg.Parts = append(msg.Parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: args,
			}})
		}
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)

	return &model.Response{
		Message:      msg,
		Usage:        &core.TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
		FinishReason: mapStopReason(string(resp.StopReason)),
	}, nil
}

func mapStopReason(r string) model.FinishReason {
	switch r {
	case "end_turn", "stop_sequence", "":
		return model.FinishStop
	case "tool_use":
		return model.FinishToolCalls
	case "max_tokens":
		return model.FinishLength
	default:
		return model.FinishOther
	}
}

func (s *Service) buildParams(req model.Request) anthropic.MessageNewParams {
	modelName := s.opts.Model
	temperature := s.opts.Temperature
	maxTokens := s.opts.MaxTokens
	if mc := req.Model; mc != nil {
		if mc.Model != "" {
			modelName = anthropic.Model(mc.Model)
		}
		temperature = mc.Temperature
		if mc.MaxTokens > 0 {
			maxTokens = int64(mc.MaxTokens)
		}
	}

	params := anthropic.MessageNewParams{
		Model:       modelName,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}

	for _, m := range req.Messages {
		if m.Role == core.RoleSystem && m.Text() != "" {
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Text()})
		}
	}

	if req.ToolsEnabled && len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	return params
}

// buildMessages converts the outbound conversation to Anthropic's format.
// System turns travel separately; tool results are sent as user turns.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam

	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			for _, p := range m.Parts {
				switch part := p.(type) {
				case core.TextPart:
					if part.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(part.Text))
					}
				case core.FunctionCallPart:
					var input any
					if part.FunctionCall.Arguments != "" {
						if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &input); err != nil {
							input = part.FunctionCall.Arguments
						}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, input, part.FunctionCall.Name))
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case core.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, p := range m.Parts {
				if fr, ok := p.(core.FunctionResponsePart); ok {
					r := fr.FunctionResponse
					text := r.Error
					if text == "" {
						text = model.ResponseText(r)
					}
					blocks = append(blocks, anthropic.NewToolResultBlock(r.ID, text, r.Error != ""))
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		default:
			if text := m.Text(); text != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}

	return out
}

// buildTools converts tool definitions to Anthropic tool format.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if params := tool.Function.Parameters; params != nil {
			if properties, ok := params["properties"]; ok {
				inputSchema.Properties = properties
			}
			switch req := params["required"].(type) {
			case []string:
				inputSchema.Required = req
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}

		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Function.Name)
	}

	return out
}
