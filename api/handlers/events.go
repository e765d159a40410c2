package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/warmtransfer/relay"
	"github.com/BaSui01/warmtransfer/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 事件推送与轮询 Handler
// =============================================================================

const (
	defaultEventWriteTimeout = 10 * time.Second
	defaultPingInterval      = 30 * time.Second
)

// EventSource 房间事件日志
type EventSource interface {
	Since(room string, cursor uint64) ([]relay.Entry, uint64)
	SubscribeSince(room string, cursor uint64, replay bool) (*relay.Subscription, []relay.Entry)
}

// EventsHandler 通过 WebSocket 推送或轮询读取房间事件
type EventsHandler struct {
	source         EventSource
	writeTimeout   time.Duration
	pingInterval   time.Duration
	originPatterns []string
	logger         *zap.Logger
}

// EventsOption 事件处理器选项
type EventsOption func(*EventsHandler)

// WithWriteTimeout 设置单条消息写超时
func WithWriteTimeout(d time.Duration) EventsOption {
	return func(h *EventsHandler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithPingInterval 设置心跳间隔
func WithPingInterval(d time.Duration) EventsOption {
	return func(h *EventsHandler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithOriginPatterns 设置允许跨域握手的来源
func WithOriginPatterns(patterns ...string) EventsOption {
	return func(h *EventsHandler) {
		h.originPatterns = append(h.originPatterns, patterns...)
	}
}

// EventsPage 轮询结果，Cursor 为下次请求的 since
type EventsPage struct {
	Room   string        `json:"room"`
	Events []relay.Entry `json:"events"`
	Cursor uint64        `json:"cursor"`
}

// NewEventsHandler 创建事件处理器
func NewEventsHandler(source EventSource, logger *zap.Logger, opts ...EventsOption) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventsHandler{
		source:       source,
		writeTimeout: defaultEventWriteTimeout,
		pingInterval: defaultPingInterval,
		logger:       logger.With(zap.String("handler", "events")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// parseCursor 解析 since 参数，present 表示请求方带了游标
func parseCursor(r *http.Request) (cursor uint64, present bool, err error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, false, nil
	}
	cursor, err = strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, types.Errorf(types.ErrValidation, "invalid since cursor %q", raw)
	}
	return cursor, true, nil
}

// HandlePoll 返回 seq 大于 since 的事件，客户端据此补齐断线期间的通知
// @Summary 轮询房间事件
// @Tags events
// @Produce json
// @Param room path string true "房间名"
// @Param since query int false "上次收到的 seq"
// @Success 200 {object} Response{data=EventsPage}
// @Router /api/events/{room} [get]
func (h *EventsHandler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if err := types.ValidateRoomName(room); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	cursor, _, err := parseCursor(r)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	events, latest := h.source.Since(room, cursor)
	if events == nil {
		events = []relay.Entry{}
	}
	WriteSuccess(w, EventsPage{Room: room, Events: events, Cursor: latest})
}

// HandleStream 建立房间推送通道。带 since 时先补发日志中更新的事件，再实时推送；
// 每个连接只有一个写循环，保证同一通道内按发布顺序送达。
// @Summary 房间事件推送
// @Tags events
// @Param room path string true "房间名"
// @Param since query int false "上次收到的 seq"
// @Router /ws/{room} [get]
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if err := types.ValidateRoomName(room); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	cursor, replay, err := parseCursor(r)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	// 长连接不受服务器 WriteTimeout 限制
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("room", room), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub, backlog := h.source.SubscribeSince(room, cursor, replay)
	defer sub.Close()

	// 客户端只接收；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	h.logger.Debug("push channel connected",
		zap.String("room", room),
		zap.String("subscription", sub.ID),
		zap.Int("replayed", len(backlog)),
	)

	for _, e := range backlog {
		if err := h.write(ctx, conn, e); err != nil {
			h.logDisconnect(room, err)
			return
		}
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logDisconnect(room, ctx.Err())
			return
		case e, ok := <-sub.C():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "relay closed")
				return
			}
			if err := h.write(ctx, conn, e); err != nil {
				h.logDisconnect(room, err)
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				h.logDisconnect(room, err)
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, e relay.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func (h *EventsHandler) logDisconnect(room string, err error) {
	h.logger.Debug("push channel disconnected", zap.String("room", room), zap.Error(err))
}
