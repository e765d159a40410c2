package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/warmtransfer/internal/keylock"
	"github.com/BaSui01/warmtransfer/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🗂️ 会话注册表
// =============================================================================

// Registry 记录坐席会话与房间成员关系。只由房间提供方的回调写入。
type Registry struct {
	repo   Repository
	locks  keylock.Map
	now    func() time.Time
	logger *zap.Logger
}

// Option 配置 Registry
type Option func(*Registry)

// WithRepository 替换底层仓储
func WithRepository(repo Repository) Option {
	return func(r *Registry) { r.repo = repo }
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New 创建注册表
func New(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		repo:   NewMemoryRepository(),
		now:    time.Now,
		logger: logger.With(zap.String("component", "session_registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// 🎯 房间事件
// =============================================================================

// OnParticipantJoined 记录成员加入。坐席加入时创建会话，房间即其加入的房间。
// 重复事件不产生变化。
func (r *Registry) OnParticipantJoined(ctx context.Context, room, identity string, isAgent bool) error {
	if room == "" || identity == "" {
		return types.NewError(types.ErrValidation, "room and identity are required")
	}

	unlock := r.locks.Lock(room)
	defer unlock()

	now := r.now()
	added, err := r.repo.AddMember(ctx, room, types.Participant{
		Identity: identity,
		IsAgent:  isAgent,
		JoinedAt: now,
	})
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if !added {
		r.logger.Debug("duplicate join ignored", zap.String("room", room), zap.String("identity", identity))
		return nil
	}

	if isAgent {
		// 坐席已在其他房间有会话时保留原会话
		if _, exists, err := r.repo.Agent(ctx, identity); err != nil {
			return fmt.Errorf("load agent session: %w", err)
		} else if !exists {
			if err := r.repo.PutAgent(ctx, types.AgentSession{
				Name:           identity,
				RoomName:       room,
				ConnectedSince: now,
			}); err != nil {
				return fmt.Errorf("put agent session: %w", err)
			}
		}
	}

	r.logger.Info("participant joined",
		zap.String("room", room),
		zap.String("identity", identity),
		zap.Bool("is_agent", isAgent),
	)
	return nil
}

// OnParticipantLeft 记录成员离开。坐席离开其会话房间时销毁会话。
func (r *Registry) OnParticipantLeft(ctx context.Context, room, identity string) error {
	if room == "" || identity == "" {
		return types.NewError(types.ErrValidation, "room and identity are required")
	}

	unlock := r.locks.Lock(room)
	defer unlock()

	removed, err := r.repo.RemoveMember(ctx, room, identity)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if removed == nil {
		r.logger.Debug("duplicate leave ignored", zap.String("room", room), zap.String("identity", identity))
		return nil
	}

	if removed.IsAgent {
		session, exists, err := r.repo.Agent(ctx, identity)
		if err != nil {
			return fmt.Errorf("load agent session: %w", err)
		}
		if exists && session.RoomName == room {
			if err := r.repo.DeleteAgent(ctx, identity); err != nil {
				return fmt.Errorf("delete agent session: %w", err)
			}
		}
	}

	r.logger.Info("participant left", zap.String("room", room), zap.String("identity", identity))
	return nil
}

// =============================================================================
// 🔍 查询
// =============================================================================

// FindCaller 返回房间中唯一的非坐席成员；零个或多个时返回 false。
func (r *Registry) FindCaller(ctx context.Context, room string) (string, bool) {
	members, err := r.repo.Members(ctx, room)
	if err != nil {
		r.logger.Warn("find caller failed", zap.String("room", room), zap.Error(err))
		return "", false
	}
	caller := ""
	for _, m := range members {
		if m.IsAgent {
			continue
		}
		if caller != "" {
			return "", false
		}
		caller = m.Identity
	}
	return caller, caller != ""
}

// IsCaller 报告 identity 是否为房间中的非坐席成员
func (r *Registry) IsCaller(ctx context.Context, room, identity string) bool {
	members, err := r.repo.Members(ctx, room)
	if err != nil {
		return false
	}
	for _, m := range members {
		if m.Identity == identity {
			return !m.IsAgent
		}
	}
	return false
}

// IsMember 报告 identity 是否在房间中
func (r *Registry) IsMember(ctx context.Context, room, identity string) bool {
	members, err := r.repo.Members(ctx, room)
	if err != nil {
		return false
	}
	for _, m := range members {
		if m.Identity == identity {
			return true
		}
	}
	return false
}

// Members 返回房间成员，按加入时间排序
func (r *Registry) Members(ctx context.Context, room string) ([]types.Participant, error) {
	return r.repo.Members(ctx, room)
}

// Rooms 返回有成员的房间
func (r *Registry) Rooms(ctx context.Context) ([]string, error) {
	return r.repo.Rooms(ctx)
}

// Agent 返回坐席会话
func (r *Registry) Agent(ctx context.Context, name string) (types.AgentSession, bool) {
	s, ok, err := r.repo.Agent(ctx, name)
	if err != nil {
		r.logger.Warn("load agent failed", zap.String("agent", name), zap.Error(err))
		return types.AgentSession{}, false
	}
	return s, ok
}

// AgentSessions 返回所有会话，Available 由 busy 判定
func (r *Registry) AgentSessions(ctx context.Context, busy func(s types.AgentSession) bool) ([]types.AgentSession, error) {
	sessions, err := r.repo.Agents(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Available = busy == nil || !busy(sessions[i])
	}
	return sessions, nil
}

// AvailableAgents 返回 busy 判定为空闲的坐席名，按名称排序
func (r *Registry) AvailableAgents(ctx context.Context, busy func(s types.AgentSession) bool) ([]string, error) {
	sessions, err := r.AgentSessions(ctx, busy)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if s.Available {
			names = append(names, s.Name)
		}
	}
	return names, nil
}
