package livekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/warmtransfer/internal/httpx"
	"github.com/BaSui01/warmtransfer/roomprovider"
	"github.com/BaSui01/warmtransfer/types"
	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
	"go.uber.org/zap"
)

const (
	providerName    = "livekit"
	defaultTokenTTL = 6 * time.Hour
)

// Config LiveKit 连接配置
type Config struct {
	// URL 客户端连接地址，ws(s):// 或 http(s)://
	URL       string
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
	// Timeout 单次 RoomService 调用超时
	Timeout time.Duration
}

// Client 通过 LiveKit RoomService 管理房间，并签发访问令牌。
type Client struct {
	cfg    Config
	rooms  *lksdk.RoomServiceClient
	logger *zap.Logger
}

var _ roomprovider.Provider = (*Client)(nil)

// New 创建 LiveKit 客户端
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	return &Client{
		cfg:    cfg,
		rooms:  lksdk.NewRoomServiceClient(APIBase(cfg.URL), cfg.APIKey, cfg.APISecret),
		logger: logger.With(zap.String("component", "room_provider"), zap.String("provider", providerName)),
	}
}

// APIBase 将客户端连接地址转换为服务端 API 地址
func APIBase(url string) string {
	url = strings.TrimRight(url, "/")
	switch {
	case strings.HasPrefix(url, "wss://"):
		return "https://" + strings.TrimPrefix(url, "wss://")
	case strings.HasPrefix(url, "ws://"):
		return "http://" + strings.TrimPrefix(url, "ws://")
	}
	return url
}

// KeyProvider 返回 webhook 校验使用的密钥
func (c *Client) KeyProvider() auth.KeyProvider {
	return auth.NewSimpleKeyProvider(c.cfg.APIKey, c.cfg.APISecret)
}

// =============================================================================
// 🎯 Provider 实现
// =============================================================================

// CreateOrJoinRoom 创建房间，LiveKit 对已存在的房间返回原房间
func (c *Client) CreateOrJoinRoom(ctx context.Context, name string) (*roomprovider.RoomHandle, error) {
	if err := types.ValidateRoomName(name); err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	room, err := c.rooms.CreateRoom(ctx, &lkproto.CreateRoomRequest{Name: name})
	if err != nil {
		return nil, c.mapError(ctx, "CreateRoom", err)
	}
	c.logger.Info("room ready", zap.String("room", room.GetName()), zap.String("sid", room.GetSid()))
	return &roomprovider.RoomHandle{Name: name, URL: c.cfg.URL, Created: true}, nil
}

// IssueAdmissionCredential 签发房间访问令牌，不需要调用服务端
func (c *Client) IssueAdmissionCredential(ctx context.Context, room, identity string, isAgent bool) (*types.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateRoomName(room); err != nil {
		return nil, err
	}
	if err := types.ValidateIdentity("identity", identity); err != nil {
		return nil, err
	}
	md, err := json.Marshal(roomprovider.ParticipantMetadata{IsAgent: isAgent})
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	grant := &auth.VideoGrant{RoomJoin: true, Room: room, RoomAdmin: isAgent}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)
	grant.SetCanPublishData(true)
	if isAgent {
		grant.SetCanUpdateOwnMetadata(true)
	}

	expiresAt := time.Now().Add(c.cfg.TokenTTL)
	token, err := auth.NewAccessToken(c.cfg.APIKey, c.cfg.APISecret).
		SetIdentity(identity).
		SetName(identity).
		SetMetadata(string(md)).
		SetValidFor(c.cfg.TokenTTL).
		SetVideoGrant(grant).
		ToJWT()
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to sign access token").
			WithCause(err).WithProvider(providerName)
	}
	return &types.Credential{
		Token:     token,
		URL:       c.cfg.URL,
		Room:      room,
		Identity:  identity,
		ExpiresAt: expiresAt,
	}, nil
}

// RemoveParticipant 移出成员，成员或房间不存在时视为成功。
// 成员离开事件由 webhook 回调上报。
func (c *Client) RemoveParticipant(ctx context.Context, room, identity string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.rooms.RemoveParticipant(ctx, &lkproto.RoomParticipantIdentity{Room: room, Identity: identity})
	if err == nil {
		return nil
	}
	err = c.mapError(ctx, "RemoveParticipant", err)
	if types.IsCode(err, types.ErrNotFound) {
		c.logger.Debug("participant already gone", zap.String("room", room), zap.String("identity", identity))
		return nil
	}
	return err
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// mapError 将 Twirp 错误转换为服务错误码
func (c *Client) mapError(ctx context.Context, method string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.NewError(types.ErrTimeout, method+" cancelled").WithCause(ctxErr).WithProvider(providerName)
	}
	var te twirp.Error
	if !errors.As(err, &te) {
		return types.NewError(types.ErrExternalService, method+" failed").
			WithCause(err).WithRetryable(true).WithProvider(providerName)
	}

	status := twirp.ServerHTTPStatusFromErrorCode(te.Code())
	code := types.ErrExternalService
	retryable := httpx.IsRetryableStatus(status)
	switch te.Code() {
	case twirp.NotFound:
		code = types.ErrNotFound
	case twirp.DeadlineExceeded:
		retryable = true
	}
	return types.Errorf(code, "%s returned %s: %s", method, te.Code(), te.Msg()).
		WithCause(err).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithProvider(providerName)
}
