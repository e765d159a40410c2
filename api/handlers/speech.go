package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/warmtransfer/summary"
	"github.com/BaSui01/warmtransfer/types"
	"go.uber.org/zap"
)

// SpeechHandler 文本转语音处理器，speaker 为 nil 时接口返回 501
type SpeechHandler struct {
	speaker summary.Speaker
	timeout time.Duration
	logger  *zap.Logger
}

// SpeechRequest 语音合成请求
type SpeechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// SpeechResponse 语音合成结果，Audio 为 base64 编码
type SpeechResponse struct {
	Audio  string `json:"audio"`
	Status string `json:"status"`
}

// NewSpeechHandler 创建语音合成处理器
func NewSpeechHandler(speaker summary.Speaker, timeout time.Duration, logger *zap.Logger) *SpeechHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultSummaryTimeout
	}
	return &SpeechHandler{
		speaker: speaker,
		timeout: timeout,
		logger:  logger.With(zap.String("handler", "speech")),
	}
}

// HandleGenerate 合成语音
// @Summary 文本转语音
// @Tags speech
// @Accept json
// @Produce json
// @Param request body SpeechRequest true "合成请求"
// @Success 200 {object} Response{data=SpeechResponse}
// @Failure 400 {object} Response "缺少 text"
// @Failure 501 {object} Response "未配置语音合成"
// @Router /api/speech/generate [post]
func (h *SpeechHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if h.speaker == nil {
		WriteError(w, types.NewError(types.ErrNotImplemented, "speech generation is not configured"), h.logger)
		return
	}
	var req SpeechRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		WriteError(w, types.NewError(types.ErrValidation, "text is required"), h.logger)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	audio, err := h.speaker.Speak(ctx, req.Text, req.Voice)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, SpeechResponse{Audio: audio, Status: "success"})
}
