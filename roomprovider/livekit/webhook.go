package livekit

import (
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/warmtransfer/roomprovider"
	"github.com/BaSui01/warmtransfer/types"
	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
)

const maxWebhookBody = 1 << 20

// WebhookReceiver 校验并解析 LiveKit webhook，将成员进出转发给 EventSink。
type WebhookReceiver struct {
	keys   auth.KeyProvider
	sink   roomprovider.EventSink
	logger *zap.Logger
}

// NewWebhookReceiver 创建 webhook 接收器
func NewWebhookReceiver(keys auth.KeyProvider, sink roomprovider.EventSink, logger *zap.Logger) *WebhookReceiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookReceiver{
		keys:   keys,
		sink:   sink,
		logger: logger.With(zap.String("component", "livekit_webhook")),
	}
}

// Receive 校验签名与请求体摘要后解析事件
func (w *WebhookReceiver) Receive(r *http.Request) (*lkproto.WebhookEvent, error) {
	if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
		return nil, types.NewError(types.ErrUnauthorized, "missing webhook authorization")
	}
	r.Body = io.NopCloser(io.LimitReader(r.Body, maxWebhookBody))
	body, err := webhook.Receive(r, w.keys)
	if err != nil {
		return nil, types.NewError(types.ErrUnauthorized, "webhook verification failed").WithCause(err)
	}

	ev := &lkproto.WebhookEvent{}
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(body, ev); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid webhook payload").WithCause(err)
	}
	return ev, nil
}

// Dispatch 将事件转发给 EventSink，其他事件类型忽略
func (w *WebhookReceiver) Dispatch(r *http.Request, ev *lkproto.WebhookEvent) error {
	if ev.GetRoom() == nil || ev.GetParticipant() == nil {
		w.logger.Debug("ignoring webhook event", zap.String("event", ev.GetEvent()))
		return nil
	}
	room, identity := ev.GetRoom().GetName(), ev.GetParticipant().GetIdentity()
	ctx := r.Context()
	switch ev.GetEvent() {
	case webhook.EventParticipantJoined:
		return w.sink.OnParticipantJoined(ctx, room, identity, roomprovider.MetadataIsAgent(ev.GetParticipant().GetMetadata()))
	case webhook.EventParticipantLeft:
		return w.sink.OnParticipantLeft(ctx, room, identity)
	default:
		w.logger.Debug("ignoring webhook event", zap.String("event", ev.GetEvent()), zap.String("room", room))
		return nil
	}
}

// ServeHTTP 实现 http.Handler
func (w *WebhookReceiver) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ev, err := w.Receive(r)
	if err != nil {
		w.logger.Warn("webhook rejected", zap.Error(err))
		status := types.HTTPStatusFor(types.GetErrorCode(err))
		http.Error(rw, http.StatusText(status), status)
		return
	}
	if err := w.Dispatch(r, ev); err != nil {
		w.logger.Error("webhook dispatch failed", zap.String("event", ev.GetEvent()), zap.Error(err))
		status := types.HTTPStatusFor(types.GetErrorCode(err))
		http.Error(rw, http.StatusText(status), status)
		return
	}
	rw.WriteHeader(http.StatusOK)
}
