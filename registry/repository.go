package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/warmtransfer/types"
)

// Repository 保存房间成员与坐席会话。Registry 负责并发语义，
// 实现只需保证单次调用的原子性。
type Repository interface {
	// AddMember 添加成员，已存在时返回 false
	AddMember(ctx context.Context, room string, p types.Participant) (bool, error)
	// RemoveMember 移除成员，不存在时返回 nil
	RemoveMember(ctx context.Context, room, identity string) (*types.Participant, error)
	Members(ctx context.Context, room string) ([]types.Participant, error)
	Rooms(ctx context.Context) ([]string, error)

	PutAgent(ctx context.Context, s types.AgentSession) error
	DeleteAgent(ctx context.Context, name string) error
	Agent(ctx context.Context, name string) (types.AgentSession, bool, error)
	Agents(ctx context.Context) ([]types.AgentSession, error)
}

// MemoryRepository 是进程内 Repository 实现。
type MemoryRepository struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]types.Participant
	agents map[string]types.AgentSession
}

// NewMemoryRepository 创建内存仓储
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rooms:  make(map[string]map[string]types.Participant),
		agents: make(map[string]types.AgentSession),
	}
}

func (r *MemoryRepository) AddMember(_ context.Context, room string, p types.Participant) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]types.Participant)
		r.rooms[room] = members
	}
	if _, exists := members[p.Identity]; exists {
		return false, nil
	}
	members[p.Identity] = p
	return true, nil
}

func (r *MemoryRepository) RemoveMember(_ context.Context, room, identity string) (*types.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil, nil
	}
	p, ok := members[identity]
	if !ok {
		return nil, nil
	}
	delete(members, identity)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	return &p, nil
}

func (r *MemoryRepository) Members(_ context.Context, room string) ([]types.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]types.Participant, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].Identity < out[j].Identity
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Rooms(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepository) PutAgent(_ context.Context, s types.AgentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[s.Name] = s
	return nil
}

func (r *MemoryRepository) DeleteAgent(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, name)
	return nil
}

func (r *MemoryRepository) Agent(_ context.Context, name string) (types.AgentSession, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.agents[name]
	return s, ok, nil
}

func (r *MemoryRepository) Agents(_ context.Context) ([]types.AgentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.AgentSession, 0, len(r.agents))
	for _, s := range r.agents {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
