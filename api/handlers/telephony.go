package handlers

import (
	"net/http"

	"github.com/BaSui01/warmtransfer/telephony"
	"github.com/BaSui01/warmtransfer/types"
	"go.uber.org/zap"
)

// TelephonyHandler 电话外呼处理器，gateway 为 nil 时接口返回 501
type TelephonyHandler struct {
	gateway telephony.Gateway
	logger  *zap.Logger
}

// DialRequest 外呼请求
type DialRequest struct {
	PhoneNumber string `json:"phone_number"`
	RoomName    string `json:"room_name"`
	AgentName   string `json:"agent_name,omitempty"`
}

// NewTelephonyHandler 创建外呼处理器
func NewTelephonyHandler(gateway telephony.Gateway, logger *zap.Logger) *TelephonyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelephonyHandler{
		gateway: gateway,
		logger:  logger.With(zap.String("handler", "telephony")),
	}
}

// HandleDial 拨打电话并接入房间
// @Summary 电话外呼
// @Tags telephony
// @Accept json
// @Produce json
// @Param request body DialRequest true "外呼请求"
// @Success 200 {object} Response{data=telephony.CallHandle}
// @Failure 501 {object} Response "未配置电话网关"
// @Router /api/twilio/dial [post]
func (h *TelephonyHandler) HandleDial(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		WriteError(w, types.NewError(types.ErrNotImplemented, "telephony is not configured"), h.logger)
		return
	}
	var req DialRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	call, err := h.gateway.Dial(r.Context(), req.PhoneNumber, req.RoomName, req.AgentName)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, call)
}

// HandleTwiML 返回将来电接入房间的 TwiML，供 Twilio 回调获取
// @Summary TwiML 回调
// @Tags telephony
// @Produce xml
// @Param room path string true "房间名"
// @Router /api/twilio/twiml/{room} [post]
func (h *TelephonyHandler) HandleTwiML(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if err := types.ValidateRoomName(room); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	doc, err := telephony.ConnectTwiML(room, r.URL.Query().Get("summary"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
