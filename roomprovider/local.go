package roomprovider

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/warmtransfer/types"
	"go.uber.org/zap"
)

// LocalProvider 是进程内房间提供方，用于开发与测试。
// 没有真实媒体服务器，签发凭证即视为成员加入，移出成员直接回调离开。
type LocalProvider struct {
	signer TokenSigner
	url    string
	sink   EventSink
	logger *zap.Logger

	mu    sync.Mutex
	rooms map[string]time.Time
}

// LocalOption 配置选项
type LocalOption func(*LocalProvider)

// WithSink 设置成员事件接收方
func WithSink(sink EventSink) LocalOption {
	return func(p *LocalProvider) { p.sink = sink }
}

// WithURL 设置凭证中返回的连接地址
func WithURL(url string) LocalOption {
	return func(p *LocalProvider) { p.url = url }
}

// NewLocalProvider 创建本地提供方
func NewLocalProvider(signer TokenSigner, logger *zap.Logger, opts ...LocalOption) *LocalProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if signer.APIKey == "" {
		signer.APIKey = "devkey"
	}
	if signer.APISecret == "" {
		signer.APISecret = "devsecret"
	}
	p := &LocalProvider{
		signer: signer,
		logger: logger.With(zap.String("component", "room_provider"), zap.String("provider", "local")),
		rooms:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Signer 返回令牌签发器
func (p *LocalProvider) Signer() TokenSigner { return p.signer }

// CreateOrJoinRoom 实现 Provider
func (p *LocalProvider) CreateOrJoinRoom(ctx context.Context, name string) (*RoomHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateRoomName(name); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.rooms[name]
	if !exists {
		p.rooms[name] = time.Now()
		p.logger.Info("room created", zap.String("room", name))
	}
	return &RoomHandle{Name: name, URL: p.url, Created: !exists}, nil
}

// IssueAdmissionCredential 实现 Provider
func (p *LocalProvider) IssueAdmissionCredential(ctx context.Context, room, identity string, isAgent bool) (*types.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cred, err := p.signer.Issue(room, identity, isAgent)
	if err != nil {
		return nil, err
	}
	cred.URL = p.url

	p.mu.Lock()
	if _, ok := p.rooms[room]; !ok {
		p.rooms[room] = time.Now()
	}
	p.mu.Unlock()

	if p.sink != nil {
		if err := p.sink.OnParticipantJoined(ctx, room, identity, isAgent); err != nil {
			p.logger.Warn("participant join callback failed",
				zap.String("room", room), zap.String("identity", identity), zap.Error(err))
		}
	}
	return cred, nil
}

// RemoveParticipant 实现 Provider
func (p *LocalProvider) RemoveParticipant(ctx context.Context, room, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.sink != nil {
		if err := p.sink.OnParticipantLeft(ctx, room, identity); err != nil {
			return err
		}
	}
	p.logger.Info("participant removed", zap.String("room", room), zap.String("identity", identity))
	return nil
}

// Rooms 返回已创建的房间
func (p *LocalProvider) Rooms() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.rooms))
	for name := range p.rooms {
		out = append(out, name)
	}
	return out
}
