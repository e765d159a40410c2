package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/warmtransfer/config"
	"github.com/BaSui01/warmtransfer/internal/httpx"
	"github.com/BaSui01/warmtransfer/types"
	"go.uber.org/zap"
)

const providerName = "openai"

const systemPrompt = "You are a helpful assistant that creates concise call summaries for customer service transfers."

// Metrics 摘要相关指标
type Metrics interface {
	RecordTranscriptTruncated()
}

type nopMetrics struct{}

func (nopMetrics) RecordTranscriptTruncated() {}

// OpenAIConfig OpenAI 兼容接口配置
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	MaxTokens       int
	Temperature     float64
	MaxPromptTokens int
	// EndpointPath 默认 "/v1/chat/completions"
	EndpointPath string
}

// OpenAISummarizer 通过 OpenAI 兼容的 chat completions 接口生成摘要。
type OpenAISummarizer struct {
	cfg     OpenAIConfig
	client  httpx.Doer
	budget  TokenBudget
	metrics Metrics
	logger  *zap.Logger
}

// OpenAIOption 配置选项
type OpenAIOption func(*OpenAISummarizer)

// WithTokenCounter 替换 token 计数器
func WithTokenCounter(c TokenCounter) OpenAIOption {
	return func(s *OpenAISummarizer) { s.budget.Counter = c }
}

// WithMetrics 设置指标收集器
func WithMetrics(m Metrics) OpenAIOption {
	return func(s *OpenAISummarizer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewOpenAI 创建摘要客户端，client 为 nil 时使用默认 http.Client
func NewOpenAI(cfg OpenAIConfig, client httpx.Doer, logger *zap.Logger, opts ...OpenAIOption) *OpenAISummarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}

	s := &OpenAISummarizer{
		cfg:     cfg,
		client:  client,
		budget:  TokenBudget{MaxTokens: cfg.MaxPromptTokens},
		metrics: nopMetrics{},
		logger:  logger.With(zap.String("component", "summarizer"), zap.String("provider", providerName)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.budget.Counter == nil {
		s.budget.Counter = NewModelCounter(cfg.Model)
	}
	return s
}

// Name 返回提供方名称
func (s *OpenAISummarizer) Name() string { return providerName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Summarize 实现 Summarizer
func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript []types.Utterance, tc Context) (string, error) {
	trimmed, truncated := s.budget.Trim(transcript)
	if truncated {
		s.metrics.RecordTranscriptTruncated()
		s.logger.Debug("transcript truncated to prompt budget",
			zap.Int("original", len(transcript)),
			zap.Int("kept", len(trimmed)))
	}

	body := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(trimmed, tc)},
		},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + s.cfg.EndpointPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", types.NewError(types.ErrTimeout, "summary request cancelled").
				WithCause(ctxErr).WithProvider(providerName)
		}
		return "", types.NewError(types.ErrExternalService, "summary request failed").
			WithCause(err).WithRetryable(true).WithProvider(providerName)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		return "", types.Errorf(types.ErrExternalService, "summary provider returned status %d: %s", resp.StatusCode, msg).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(httpx.IsRetryableStatus(resp.StatusCode)).
			WithProvider(providerName)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewError(types.ErrExternalService, "invalid summary response").
			WithCause(err).WithProvider(providerName)
	}
	if len(out.Choices) == 0 {
		return "", types.NewError(types.ErrExternalService, "summary response has no choices").WithProvider(providerName)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", types.NewError(types.ErrExternalService, "summary response is empty").WithProvider(providerName)
	}
	return text, nil
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return err.Error()
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// BuildPrompt 组装摘要提示词
func BuildPrompt(transcript []types.Utterance, tc Context) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant that creates concise call summaries for warm transfers between customer service agents.\n\n")
	b.WriteString("Please analyze the following conversation and create a professional summary that includes:\n")
	b.WriteString("1. The caller's main issue or request\n")
	b.WriteString("2. Key information discussed\n")
	b.WriteString("3. Current status/resolution progress\n")
	b.WriteString("4. Any important details the receiving agent should know\n\n")
	b.WriteString("Conversation:\n")
	for _, u := range transcript {
		ts := ""
		if !u.Timestamp.IsZero() {
			ts = u.Timestamp.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", ts, u.Speaker, u.Message)
	}

	var extra []string
	if tc.CallerIdentity != "" {
		extra = append(extra, "Caller: "+tc.CallerIdentity)
	}
	if tc.SourceAgent != "" {
		extra = append(extra, "Transferring agent: "+tc.SourceAgent)
	}
	if tc.DestinationAgent != "" {
		extra = append(extra, "Receiving agent: "+tc.DestinationAgent)
	}
	if tc.Reason != "" {
		extra = append(extra, "Reason: "+tc.Reason)
	}
	if len(extra) > 0 {
		b.WriteString("\nAdditional Context: " + strings.Join(extra, "; ") + "\n")
	}
	b.WriteString("\nPlease provide a clear, concise summary (2-3 sentences) that will help the receiving agent understand the situation and continue the conversation effectively.\n")
	return b.String()
}

// =============================================================================
// 🏭 工厂
// =============================================================================

// New 按配置创建摘要器。未配置 API Key 的 openai 提供方退化为本地摘要。
func New(cfg config.SummaryConfig, logger *zap.Logger, metrics Metrics) Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			logger.Warn("summary api key not configured, using fallback summarizer")
			return FallbackSummarizer{}
		}
		client := httpx.NewClient(httpx.Options{
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Logger:     logger,
		})
		return NewOpenAI(OpenAIConfig{
			APIKey:          cfg.APIKey,
			BaseURL:         cfg.BaseURL,
			Model:           cfg.Model,
			MaxTokens:       cfg.MaxTokens,
			Temperature:     cfg.Temperature,
			MaxPromptTokens: cfg.MaxPromptTokens,
		}, client, logger, WithMetrics(metrics))
	default:
		return FallbackSummarizer{}
	}
}
