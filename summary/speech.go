package summary

import (
	"bytes"
	"context"
	"encoding/base64"
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

// maxSpeechBytes 单次合成音频的读取上限
const maxSpeechBytes = 16 << 20

// Speaker 把文本合成为音频，返回 base64 编码的音频数据
type Speaker interface {
	Speak(ctx context.Context, text, voice string) (string, error)
}

// SpeechConfig 语音合成配置
type SpeechConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	// EndpointPath 默认 "/v1/audio/speech"
	EndpointPath string
}

// OpenAISpeaker 调用 OpenAI 兼容的 audio/speech 接口
type OpenAISpeaker struct {
	cfg    SpeechConfig
	client httpx.Doer
	logger *zap.Logger
}

// NewOpenAISpeaker 创建语音合成客户端
func NewOpenAISpeaker(cfg SpeechConfig, client httpx.Doer, logger *zap.Logger) *OpenAISpeaker {
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
		cfg.EndpointPath = "/v1/audio/speech"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	return &OpenAISpeaker{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "speech"), zap.String("provider", providerName)),
	}
}

type speechRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
	Input string `json:"input"`
}

// Speak 实现 Speaker，voice 为空时使用默认音色
func (s *OpenAISpeaker) Speak(ctx context.Context, text, voice string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", types.NewError(types.ErrValidation, "text is required")
	}
	if voice == "" {
		voice = s.cfg.Voice
	}

	payload, err := json.Marshal(speechRequest{Model: s.cfg.Model, Voice: voice, Input: text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + s.cfg.EndpointPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", types.NewError(types.ErrTimeout, "speech request cancelled").
				WithCause(ctxErr).WithProvider(providerName)
		}
		return "", types.NewError(types.ErrExternalService, "speech request failed").
			WithCause(err).WithRetryable(true).WithProvider(providerName)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		return "", types.Errorf(types.ErrExternalService, "speech provider returned status %d: %s", resp.StatusCode, msg).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(httpx.IsRetryableStatus(resp.StatusCode)).
			WithProvider(providerName)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeechBytes))
	if err != nil {
		return "", types.NewError(types.ErrExternalService, "failed to read speech audio").
			WithCause(err).WithProvider(providerName)
	}
	if len(audio) == 0 {
		return "", types.NewError(types.ErrExternalService, "speech response is empty").WithProvider(providerName)
	}
	s.logger.Debug("speech generated", zap.String("voice", voice), zap.Int("bytes", len(audio)))
	return base64.StdEncoding.EncodeToString(audio), nil
}

// NewSpeaker 按配置创建语音合成器，未配置 API Key 时返回 nil
func NewSpeaker(cfg config.SummaryConfig, logger *zap.Logger) Speaker {
	if cfg.APIKey == "" {
		return nil
	}
	client := httpx.NewClient(httpx.Options{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return NewOpenAISpeaker(SpeechConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.SpeechModel,
		Voice:   cfg.SpeechVoice,
	}, client, logger)
}
