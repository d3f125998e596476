package model

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sitegen/internal/config"
	"sitegen/pkg/logger"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/sirupsen/logrus"
)

// ChatModel is a configured LLM plus the model name reported to clients.
type ChatModel struct {
	einoModel.BaseChatModel
	Name     string
	Provider string
}

// NewChatModel builds the chat model selected by cfg.Model.Provider.
func NewChatModel(ctx context.Context, cfg *config.Config) (*ChatModel, error) {
	var (
		m    einoModel.BaseChatModel
		name string
		err  error
	)

	switch cfg.Model.Provider {
	case "doubao":
		m, err = newDoubaoModel(ctx, cfg.Doubao)
		name = cfg.Doubao.Model
	case "openai":
		m, err = newOpenAIChatModel(ctx, cfg.OpenAI)
		name = cfg.OpenAI.Model
	case "qwen":
		m, err = newQwenModel(ctx, cfg.Qwen)
		name = cfg.Qwen.Model
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Model.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.Model.Provider, err)
	}

	logger.WithFields(logrus.Fields{
		"provider": cfg.Model.Provider,
		"model":    name,
	}).Info("chat model ready")

	return &ChatModel{BaseChatModel: m, Name: name, Provider: cfg.Model.Provider}, nil
}

func newDoubaoModel(ctx context.Context, cfg config.DoubaoConfig) (einoModel.BaseChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("doubao api key is not set")
	}
	logger.Debugf("using doubao api key %s", maskKey(cfg.APIKey))

	arkCfg := &ark.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		CustomHeader: map[string]string{
			"X-Ark-Thinking-Mode": "disable",
		},
	}
	if cfg.MaxTokens > 0 {
		arkCfg.MaxTokens = &cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		arkCfg.Temperature = &cfg.Temperature
	}
	if cfg.Timeout > 0 {
		arkCfg.Timeout = &cfg.Timeout
	}
	return ark.NewChatModel(ctx, arkCfg)
}

func newQwenModel(ctx context.Context, cfg config.QwenConfig) (einoModel.BaseChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("qwen api key is not set")
	}
	logger.Debugf("using qwen api key %s at %s", maskKey(cfg.APIKey), cfg.BaseURL)

	httpClient := &http.Client{
		Transport: NewDebugTransport(nil, cfg.DebugRequest),
		Timeout:   cfg.Timeout,
	}

	return qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &cfg.MaxTokens,
		Temperature: &cfg.Temperature,
		TopP:        &cfg.TopP,
		Timeout:     cfg.Timeout,
		HTTPClient:  httpClient,
	})
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// DebugTransport logs outgoing POST requests, headers redacted, at debug level.
type DebugTransport struct {
	base    http.RoundTripper
	enabled bool
}

func NewDebugTransport(base http.RoundTripper, enabled bool) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base, enabled: enabled}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.enabled {
		return t.base.RoundTrip(req)
	}

	entry := logger.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})
	if req.Method == http.MethodPost {
		entry = entry.WithField("headers", redactHeaders(req.Header))
		if req.Body != nil {
			body, err := io.ReadAll(req.Body)
			req.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read request body: %w", err)
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			entry = entry.WithFields(logrus.Fields{"body": string(body), "body_bytes": len(body)})
		}
	}
	entry.Debug("model request")

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		entry.WithError(err).Error("model request failed")
		return nil, err
	}
	entry.WithField("status", resp.StatusCode).Debug("model response")
	return resp, nil
}

var sensitiveHeaders = []string{"Authorization", "X-Api-Key", "X-Auth-Token", "Cookie"}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
		for _, s := range sensitiveHeaders {
			if strings.EqualFold(name, s) {
				out[name] = "[REDACTED]"
				break
			}
		}
	}
	return out
}
