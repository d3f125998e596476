package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"sitegen/internal/config"
	"sitegen/internal/metrics"
	"sitegen/internal/model"
	"sitegen/pkg/logger"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyCompletion = errors.New("model returned no content")
)

// SiteService turns build and refine requests into model calls.
type SiteService struct {
	chat         einoModel.BaseChatModel
	modelName    string
	systemPrompt string
	cache        *ttlcache.Cache[string, *model.GenerateResponse]
}

func NewSiteService(chat einoModel.BaseChatModel, modelName string, cfg config.GenerationConfig) *SiteService {
	s := &SiteService{
		chat:         chat,
		modelName:    modelName,
		systemPrompt: cfg.SystemPrompt,
	}
	if s.systemPrompt == "" {
		s.systemPrompt = DefaultSystemPrompt
	}
	if cfg.CacheTTL > 0 {
		s.cache = ttlcache.New[string, *model.GenerateResponse](
			ttlcache.WithTTL[string, *model.GenerateResponse](cfg.CacheTTL),
			ttlcache.WithDisableTouchOnHit[string, *model.GenerateResponse](),
		)
		go s.cache.Start()
	}
	return s
}

// Close stops the response cache expiration loop.
func (s *SiteService) Close() {
	if s.cache != nil {
		s.cache.Stop()
	}
}

func (s *SiteService) ModelName() string {
	return s.modelName
}

// Generate builds a whole site in one model call. Identical requests within
// the cache TTL are answered from the cache.
func (s *SiteService) Generate(ctx context.Context, req model.BuildRequest) (*model.GenerateResponse, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	key := cacheKey(req)
	if s.cache != nil {
		if item := s.cache.Get(key); item != nil {
			metrics.CacheHits.Inc()
			logger.WithFields(logrus.Fields{"style": req.Style}).Debug("generate served from cache")
			return item.Value(), nil
		}
	}

	start := time.Now()
	msg, err := s.chat.Generate(ctx, s.messages(buildPrompt(req)))
	if err != nil {
		return nil, fmt.Errorf("generate site: %w", err)
	}
	html := ExtractHTML(msg.Content)
	if html == "" {
		return nil, ErrEmptyCompletion
	}

	resp := &model.GenerateResponse{
		HTML:       html,
		TokensUsed: tokensOf(msg),
		Model:      s.modelName,
	}
	if s.cache != nil {
		s.cache.Set(key, resp, ttlcache.DefaultTTL)
	}

	logger.WithFields(logrus.Fields{
		"style":   req.Style,
		"bytes":   len(html),
		"tokens":  resp.TokensUsed,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("site generated")
	return resp, nil
}

// StreamSite streams the site markup as it is produced. The frame channel
// ends with a Done frame unless an error is delivered on the error channel.
func (s *SiteService) StreamSite(ctx context.Context, req model.BuildRequest) (<-chan model.StreamFrame, <-chan error) {
	respChan := make(chan model.StreamFrame, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		req, err := req.Normalize()
		if err != nil {
			errChan <- fmt.Errorf("%w: %v", ErrInvalidInput, err)
			return
		}

		stream, err := s.chat.Stream(ctx, s.messages(buildPrompt(req)))
		if err != nil {
			errChan <- fmt.Errorf("open model stream: %w", err)
			return
		}
		defer stream.Close()

		var tokens *int
		sent := 0
		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errChan <- fmt.Errorf("model stream: %w", err)
				return
			}
			if n := tokensOf(msg); n > 0 {
				tokens = &n
			}
			if msg.Content == "" {
				continue
			}
			select {
			case respChan <- model.StreamFrame{Chunk: msg.Content}:
				sent += len(msg.Content)
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}

		select {
		case respChan <- model.StreamFrame{Done: true, TokensUsed: tokens}:
		case <-ctx.Done():
			errChan <- ctx.Err()
			return
		}
		logger.WithFields(logrus.Fields{"style": req.Style, "bytes": sent}).Info("site streamed")
	}()

	return respChan, errChan
}

// Refine applies instructions to an existing page.
func (s *SiteService) Refine(ctx context.Context, req model.RefineRequest) (*model.RefineResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	msg, err := s.chat.Generate(ctx, s.messages(refinePrompt(req)))
	if err != nil {
		return nil, fmt.Errorf("refine site: %w", err)
	}
	html := ExtractHTML(msg.Content)
	if html == "" {
		return nil, ErrEmptyCompletion
	}

	resp := &model.RefineResponse{HTML: html}
	if n := tokensOf(msg); n > 0 {
		resp.TokensUsed = &n
	}
	logger.WithFields(logrus.Fields{"bytes": len(html), "tokens": tokensOf(msg)}).Info("site refined")
	return resp, nil
}

func (s *SiteService) messages(user string) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(s.systemPrompt),
		schema.UserMessage(user),
	}
}

func tokensOf(msg *schema.Message) int {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return 0
	}
	u := msg.ResponseMeta.Usage
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

func cacheKey(req model.BuildRequest) string {
	sum := sha256.Sum256([]byte(string(req.Style) + "\x00" + req.Language + "\x00" + req.Prompt))
	return hex.EncodeToString(sum[:])
}
