package model

import (
	"context"
	"errors"
	"fmt"
	"io"

	"sitegen/internal/config"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
)

// openaiChatModel adapts go-openai to eino's BaseChatModel.
type openaiChatModel struct {
	client    *openai.Client
	model     string
	maxTokens int
	temp      float32
}

func newOpenAIChatModel(ctx context.Context, cfg config.OpenAIConfig) (*openaiChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is not set")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &openaiChatModel{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temperature,
	}, nil
}

func (m *openaiChatModel) request(messages []*schema.Message) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    convertMessages(messages),
		MaxTokens:   m.maxTokens,
		Temperature: m.temp,
	}
}

func (m *openaiChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	resp, err := m.client.CreateChatCompletion(ctx, m.request(messages))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	return &schema.Message{
		Role:    schema.Assistant,
		Content: resp.Choices[0].Message.Content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: string(resp.Choices[0].FinishReason),
			Usage:        convertUsage(&resp.Usage),
		},
	}, nil
}

func (m *openaiChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	req := m.request(messages)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](100)
	go func() {
		defer writer.Close()
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				writer.Send(nil, err)
				return
			}

			msg := &schema.Message{Role: schema.Assistant}
			if len(response.Choices) > 0 {
				msg.Content = response.Choices[0].Delta.Content
			}
			if response.Usage != nil {
				msg.ResponseMeta = &schema.ResponseMeta{Usage: convertUsage(response.Usage)}
			}
			if msg.Content == "" && msg.ResponseMeta == nil {
				continue
			}
			if closed := writer.Send(msg, nil); closed {
				return
			}
		}
	}()

	return reader, nil
}

func convertMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case schema.Assistant:
			role = openai.ChatMessageRoleAssistant
		case schema.System:
			role = openai.ChatMessageRoleSystem
		}
		// an empty assistant turn is rejected by the API
		if msg.Content == "" && role == openai.ChatMessageRoleAssistant {
			continue
		}
		result = append(result, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return result
}

func convertUsage(u *openai.Usage) *schema.TokenUsage {
	if u == nil {
		return nil
	}
	return &schema.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
