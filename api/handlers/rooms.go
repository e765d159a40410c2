package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/warmtransfer/roomprovider"
	"github.com/BaSui01/warmtransfer/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🏠 房间与对话记录 Handler
// =============================================================================

// TranscriptWriter 写入与读取房间对话记录
type TranscriptWriter interface {
	Append(ctx context.Context, room string, u types.Utterance) error
	List(ctx context.Context, room string) ([]types.Utterance, error)
}

// RoomsHandler 房间创建、凭证签发与对话记录
type RoomsHandler struct {
	provider    roomprovider.Provider
	transcripts TranscriptWriter
	logger      *zap.Logger
}

// RoomRequest 创建房间或签发凭证请求
type RoomRequest struct {
	RoomName        string `json:"room_name"`
	ParticipantName string `json:"participant_name"`
	IsAgent         bool   `json:"is_agent,omitempty"`
}

// TokenResponse 凭证签发结果
type TokenResponse struct {
	Token     string    `json:"token"`
	RoomName  string    `json:"room_name"`
	URL       string    `json:"url,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RoomInfo 房间创建结果
type RoomInfo struct {
	RoomName        string    `json:"room_name"`
	Token           string    `json:"token"`
	URL             string    `json:"url,omitempty"`
	ParticipantName string    `json:"participant_name"`
	IsAgent         bool      `json:"is_agent"`
	Created         bool      `json:"created"`
	CreatedAt       time.Time `json:"created_at"`
}

// UtteranceRequest 追加发言请求
type UtteranceRequest struct {
	Speaker string `json:"speaker"`
	Message string `json:"message"`
	IsAgent bool   `json:"is_agent,omitempty"`
}

// NewRoomsHandler 创建房间处理器
func NewRoomsHandler(provider roomprovider.Provider, transcripts TranscriptWriter, logger *zap.Logger) *RoomsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomsHandler{
		provider:    provider,
		transcripts: transcripts,
		logger:      logger.With(zap.String("handler", "rooms")),
	}
}

func (h *RoomsHandler) decodeRoomRequest(w http.ResponseWriter, r *http.Request) (*RoomRequest, bool) {
	var req RoomRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil, false
	}
	if err := types.ValidateRoomName(req.RoomName); err != nil {
		WriteErr(w, err, h.logger)
		return nil, false
	}
	if err := types.ValidateIdentity("participant_name", req.ParticipantName); err != nil {
		WriteErr(w, err, h.logger)
		return nil, false
	}
	return &req, true
}

// HandleToken 为房间签发准入凭证
// @Summary 签发凭证
// @Tags rooms
// @Accept json
// @Produce json
// @Param request body RoomRequest true "凭证请求"
// @Success 200 {object} Response{data=TokenResponse}
// @Router /api/token/generate [post]
func (h *RoomsHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRoomRequest(w, r)
	if !ok {
		return
	}

	cred, err := h.provider.IssueAdmissionCredential(r.Context(), req.RoomName, req.ParticipantName, req.IsAgent)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, TokenResponse{
		Token:     cred.Token,
		RoomName:  cred.Room,
		URL:       cred.URL,
		ExpiresAt: cred.ExpiresAt,
	})
}

// HandleCreate 创建（或加入已有）房间并签发凭证
// @Summary 创建房间
// @Tags rooms
// @Accept json
// @Produce json
// @Param request body RoomRequest true "房间请求"
// @Success 200 {object} Response{data=RoomInfo}
// @Router /api/rooms/create [post]
func (h *RoomsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRoomRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	handle, err := h.provider.CreateOrJoinRoom(ctx, req.RoomName)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	cred, err := h.provider.IssueAdmissionCredential(ctx, handle.Name, req.ParticipantName, req.IsAgent)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	url := cred.URL
	if url == "" {
		url = handle.URL
	}
	h.logger.Info("room ready",
		zap.String("room", handle.Name),
		zap.String("participant", req.ParticipantName),
		zap.Bool("is_agent", req.IsAgent),
		zap.Bool("created", handle.Created),
	)
	WriteSuccess(w, RoomInfo{
		RoomName:        handle.Name,
		Token:           cred.Token,
		URL:             url,
		ParticipantName: req.ParticipantName,
		IsAgent:         req.IsAgent,
		Created:         handle.Created,
		CreatedAt:       time.Now(),
	})
}

// HandleAppendTranscript 追加一条发言到房间对话记录
// @Summary 追加发言
// @Tags rooms
// @Accept json
// @Produce json
// @Param room path string true "房间名"
// @Param request body UtteranceRequest true "发言"
// @Success 200 {object} Response{data=types.Utterance}
// @Router /api/rooms/{room}/transcript [post]
func (h *RoomsHandler) HandleAppendTranscript(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if err := types.ValidateRoomName(room); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	var req UtteranceRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	u := types.Utterance{
		Speaker:   req.Speaker,
		Message:   req.Message,
		IsAgent:   req.IsAgent,
		Timestamp: time.Now(),
	}
	if err := h.transcripts.Append(r.Context(), room, u); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, u)
}

// HandleListTranscript 返回房间对话记录
// @Summary 对话记录
// @Tags rooms
// @Produce json
// @Param room path string true "房间名"
// @Success 200 {object} Response{data=[]types.Utterance}
// @Router /api/rooms/{room}/transcript [get]
func (h *RoomsHandler) HandleListTranscript(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if err := types.ValidateRoomName(room); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	list, err := h.transcripts.List(r.Context(), room)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	if list == nil {
		list = []types.Utterance{}
	}
	WriteSuccess(w, list)
}
