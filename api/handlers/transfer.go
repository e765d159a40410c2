package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/warmtransfer/transfer"
	"github.com/BaSui01/warmtransfer/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🔀 转接 Handler
// =============================================================================

// TransferService 转接编排能力
type TransferService interface {
	Initiate(ctx context.Context, req transfer.InitiateRequest) (*types.Transfer, error)
	Complete(ctx context.Context, req transfer.CompleteRequest) (*transfer.Ack, error)
	Cancel(ctx context.Context, id, reason string) (*types.Transfer, error)
	GetStatus(ctx context.Context, id string) (*types.Transfer, error)
	ListActive(ctx context.Context) []*types.Transfer
	Stats(ctx context.Context) transfer.Stats
}

// MembershipReader 读取房间成员
type MembershipReader interface {
	Members(ctx context.Context, room string) ([]types.Participant, error)
}

// TranscriptReader 读取房间对话记录
type TranscriptReader interface {
	List(ctx context.Context, room string) ([]types.Utterance, error)
}

// TransferHandler 转接接口处理器
type TransferHandler struct {
	service     TransferService
	members     MembershipReader
	transcripts TranscriptReader
	logger      *zap.Logger
}

// CancelRequest 取消转接请求
type CancelRequest struct {
	TransferID string `json:"transferId"`
	Reason     string `json:"reason,omitempty"`
}

// ActiveTransfersResponse 活跃转接列表
type ActiveTransfersResponse struct {
	Transfers []*types.Transfer `json:"transfers"`
	Count     int               `json:"count"`
}

// TransferDebugResponse 转接调试视图
type TransferDebugResponse struct {
	Transfer               *types.Transfer     `json:"transfer"`
	SourceRoomMembers      []types.Participant `json:"sourceRoomParticipants"`
	DestinationRoomMembers []types.Participant `json:"destinationRoomParticipants"`
	ConversationHistory    []types.Utterance   `json:"conversationHistory"`
}

// NewTransferHandler 创建转接处理器，members 与 transcripts 仅用于调试视图，可为 nil
func NewTransferHandler(service TransferService, members MembershipReader, transcripts TranscriptReader, logger *zap.Logger) *TransferHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferHandler{
		service:     service,
		members:     members,
		transcripts: transcripts,
		logger:      logger.With(zap.String("handler", "transfer")),
	}
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleInitiate 发起热转接
// @Summary 发起转接
// @Tags transfer
// @Accept json
// @Produce json
// @Param request body transfer.InitiateRequest true "转接请求"
// @Success 200 {object} Response{data=types.Transfer} "转接已创建"
// @Failure 400 {object} Response "参数错误"
// @Failure 409 {object} Response "房间已有进行中的转接"
// @Failure 422 {object} Response "未找到来电者"
// @Router /api/transfer/initiate [post]
func (h *TransferHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	var req transfer.InitiateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	t, err := h.service.Initiate(r.Context(), req)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, t)
}

// HandleComplete 完成转接，重复调用返回同一确认
// @Summary 完成转接
// @Tags transfer
// @Accept json
// @Produce json
// @Param request body transfer.CompleteRequest true "完成请求"
// @Success 200 {object} Response{data=transfer.Ack} "已完成"
// @Failure 404 {object} Response "转接不存在"
// @Failure 409 {object} Response "状态不允许完成"
// @Router /api/transfer/complete [post]
func (h *TransferHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req transfer.CompleteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.TransferID == "" {
		WriteError(w, types.NewError(types.ErrValidation, "transferId is required"), h.logger)
		return
	}

	ack, err := h.service.Complete(r.Context(), req)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, ack)
}

// HandleCancel 取消未结束的转接
// @Summary 取消转接
// @Tags transfer
// @Accept json
// @Produce json
// @Param request body CancelRequest true "取消请求"
// @Success 200 {object} Response{data=types.Transfer} "已取消"
// @Router /api/transfer/cancel [post]
func (h *TransferHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.TransferID == "" {
		WriteError(w, types.NewError(types.ErrValidation, "transferId is required"), h.logger)
		return
	}

	t, err := h.service.Cancel(r.Context(), req.TransferID, req.Reason)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, t)
}

// HandleGet 查询转接状态
// @Summary 查询转接
// @Tags transfer
// @Produce json
// @Param id path string true "转接 ID"
// @Success 200 {object} Response{data=types.Transfer}
// @Failure 404 {object} Response "转接不存在"
// @Router /api/transfer/{id} [get]
func (h *TransferHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, t)
}

// HandleListActive 列出未结束的转接，供无推送通道的客户端补齐状态
// @Summary 活跃转接
// @Tags transfer
// @Produce json
// @Success 200 {object} Response{data=ActiveTransfersResponse}
// @Router /api/transfer/active [get]
func (h *TransferHandler) HandleListActive(w http.ResponseWriter, r *http.Request) {
	list := h.service.ListActive(r.Context())
	if list == nil {
		list = []*types.Transfer{}
	}
	WriteSuccess(w, ActiveTransfersResponse{Transfers: list, Count: len(list)})
}

// HandleStats 转接统计
// @Summary 转接统计
// @Tags transfer
// @Produce json
// @Success 200 {object} Response{data=transfer.Stats}
// @Router /api/transfer/stats [get]
func (h *TransferHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.service.Stats(r.Context()))
}

// HandleDebug 返回转接及两个房间的成员与对话记录
// @Summary 转接调试
// @Tags transfer
// @Produce json
// @Param id path string true "转接 ID"
// @Success 200 {object} Response{data=TransferDebugResponse}
// @Router /api/transfer/debug/{id} [get]
func (h *TransferHandler) HandleDebug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := h.service.GetStatus(ctx, r.PathValue("id"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	resp := TransferDebugResponse{
		Transfer:               t,
		SourceRoomMembers:      []types.Participant{},
		DestinationRoomMembers: []types.Participant{},
		ConversationHistory:    []types.Utterance{},
	}
	if h.members != nil {
		if m, err := h.members.Members(ctx, t.SourceRoom); err == nil && m != nil {
			resp.SourceRoomMembers = m
		}
		if m, err := h.members.Members(ctx, t.DestinationRoom); err == nil && m != nil {
			resp.DestinationRoomMembers = m
		}
	}
	if h.transcripts != nil {
		history, err := h.transcripts.List(ctx, t.SourceRoom)
		if err != nil {
			h.logger.Warn("transcript unavailable for debug view", zap.String("room", t.SourceRoom), zap.Error(err))
		} else if history != nil {
			resp.ConversationHistory = history
		}
	}
	WriteSuccess(w, resp)
}
