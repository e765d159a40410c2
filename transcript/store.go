package transcript

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/warmtransfer/types"
)

// Store 保存每个房间的对话记录。
type Store interface {
	Append(ctx context.Context, room string, u types.Utterance) error
	List(ctx context.Context, room string) ([]types.Utterance, error)
	// CopyTo 将 from 的记录追加到 to 的末尾，转接完成后目标房间继承上下文
	CopyTo(ctx context.Context, from, to string) error
	Delete(ctx context.Context, room string) error
}

// Validate 校验发言内容
func Validate(u types.Utterance) error {
	if strings.TrimSpace(u.Speaker) == "" {
		return types.NewError(types.ErrValidation, "speaker is required")
	}
	if strings.TrimSpace(u.Message) == "" {
		return types.NewError(types.ErrValidation, "message is required")
	}
	return nil
}

// MemoryStore 是进程内 Store 实现，每个房间最多保留 maxPerRoom 条。
type MemoryStore struct {
	mu         sync.RWMutex
	rooms      map[string][]types.Utterance
	maxPerRoom int
	now        func() time.Time
}

// NewMemoryStore 创建内存存储，maxPerRoom <= 0 表示不限制
func NewMemoryStore(maxPerRoom int) *MemoryStore {
	return &MemoryStore{
		rooms:      make(map[string][]types.Utterance),
		maxPerRoom: maxPerRoom,
		now:        time.Now,
	}
}

func (s *MemoryStore) Append(_ context.Context, room string, u types.Utterance) error {
	if err := Validate(u); err != nil {
		return err
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room] = s.trim(append(s.rooms[room], u))
	return nil
}

func (s *MemoryStore) trim(list []types.Utterance) []types.Utterance {
	if s.maxPerRoom > 0 && len(list) > s.maxPerRoom {
		return append([]types.Utterance(nil), list[len(list)-s.maxPerRoom:]...)
	}
	return list
}

func (s *MemoryStore) List(_ context.Context, room string) ([]types.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Utterance(nil), s.rooms[room]...), nil
}

func (s *MemoryStore) CopyTo(_ context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.rooms[from]
	if len(src) == 0 || from == to {
		return nil
	}
	merged := append(append([]types.Utterance(nil), s.rooms[to]...), src...)
	s.rooms[to] = s.trim(merged)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
	return nil
}
