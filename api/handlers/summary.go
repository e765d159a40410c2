package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/warmtransfer/summary"
	"github.com/BaSui01/warmtransfer/types"
	"go.uber.org/zap"
)

const defaultSummaryTimeout = 10 * time.Second

// SummaryHandler 按需生成通话摘要
type SummaryHandler struct {
	summarizer summary.Summarizer
	timeout    time.Duration
	logger     *zap.Logger
}

// SummaryRequest 摘要请求
type SummaryRequest struct {
	ConversationHistory []types.Utterance `json:"conversation_history"`
	CallerIdentity      string            `json:"caller_identity,omitempty"`
	SourceAgent         string            `json:"source_agent,omitempty"`
	DestinationAgent    string            `json:"destination_agent,omitempty"`
	// Context 附加说明，作为转接原因写入提示词
	Context string `json:"context,omitempty"`
}

// SummaryResponse 摘要结果，Source 为 llm 或 fallback
type SummaryResponse struct {
	Summary         string `json:"summary"`
	Source          string `json:"source"`
	TransferMessage string `json:"transfer_message,omitempty"`
}

// NewSummaryHandler 创建摘要处理器
func NewSummaryHandler(summarizer summary.Summarizer, timeout time.Duration, logger *zap.Logger) *SummaryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if summarizer == nil {
		summarizer = summary.FallbackSummarizer{}
	}
	if timeout <= 0 {
		timeout = defaultSummaryTimeout
	}
	return &SummaryHandler{
		summarizer: summarizer,
		timeout:    timeout,
		logger:     logger.With(zap.String("handler", "summary")),
	}
}

// HandleGenerate 生成摘要；模型失败或超时时返回规则摘要，不向调用方报错
// @Summary 生成摘要
// @Tags summary
// @Accept json
// @Produce json
// @Param request body SummaryRequest true "对话记录"
// @Success 200 {object} Response{data=SummaryResponse}
// @Router /api/summary/generate [post]
func (h *SummaryHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req SummaryRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	tc := summary.Context{
		CallerIdentity:   req.CallerIdentity,
		SourceAgent:      req.SourceAgent,
		DestinationAgent: req.DestinationAgent,
		Reason:           req.Context,
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := SummaryResponse{Source: "llm"}
	text, err := h.summarizer.Summarize(ctx, req.ConversationHistory, tc)
	if err != nil || text == "" {
		if err != nil {
			h.logger.Warn("summary generation failed, using fallback", zap.Error(err))
		}
		text = summary.Fallback(req.ConversationHistory, tc)
		resp.Source = "fallback"
	}
	if _, ok := h.summarizer.(summary.FallbackSummarizer); ok {
		resp.Source = "fallback"
	}
	resp.Summary = text
	if req.DestinationAgent != "" {
		resp.TransferMessage = summary.TransferMessage(req.DestinationAgent, text)
	}
	WriteSuccess(w, resp)
}
