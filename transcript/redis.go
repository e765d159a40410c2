package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/warmtransfer/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 对话记录存储
// =============================================================================

// RedisConfig Redis 存储配置
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	PoolSize      int
	KeyPrefix     string
	TTL           time.Duration
	MaxUtterances int
}

// RedisStore 将每个房间的对话记录保存为 Redis list，整体带过期时间。
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	now    func() time.Time
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore 连接 Redis 并创建存储
func NewRedisStore(ctx context.Context, config RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStoreFromClient(client, config, logger)
	s.logger.Info("transcript store initialized", zap.String("addr", config.Addr))
	return s, nil
}

// NewRedisStoreFromClient 使用已有客户端创建存储
func NewRedisStoreFromClient(client *redis.Client, config RedisConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "warmtransfer:"
	}
	return &RedisStore{
		client: client,
		config: config,
		now:    time.Now,
		logger: logger.With(zap.String("component", "transcript_store")),
	}
}

func (s *RedisStore) key(room string) string {
	return s.config.KeyPrefix + "transcript:" + room
}

func (s *RedisStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("transcript store is closed")
	}
	return nil
}

// Append 追加一条发言，超出上限时裁剪最旧的记录并刷新过期时间
func (s *RedisStore) Append(ctx context.Context, room string, u types.Utterance) error {
	if err := Validate(u); err != nil {
		return err
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = s.now()
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal utterance: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	key := s.key(room)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		s.bound(ctx, pipe, key)
		return nil
	})
	if err != nil {
		s.logger.Error("transcript append failed", zap.String("room", room), zap.Error(err))
		return fmt.Errorf("transcript append failed: %w", err)
	}
	return nil
}

func (s *RedisStore) bound(ctx context.Context, pipe redis.Pipeliner, key string) {
	if s.config.MaxUtterances > 0 {
		pipe.LTrim(ctx, key, int64(-s.config.MaxUtterances), -1)
	}
	if s.config.TTL > 0 {
		pipe.Expire(ctx, key, s.config.TTL)
	}
}

// List 返回房间的全部发言，按时间顺序
func (s *RedisStore) List(ctx context.Context, room string) ([]types.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, s.key(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("transcript list failed: %w", err)
	}
	out := make([]types.Utterance, 0, len(raw))
	for _, item := range raw {
		var u types.Utterance
		if err := json.Unmarshal([]byte(item), &u); err != nil {
			s.logger.Warn("skipping malformed utterance", zap.String("room", room), zap.Error(err))
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// CopyTo 将 from 的记录追加到 to
func (s *RedisStore) CopyTo(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	raw, err := s.client.LRange(ctx, s.key(from), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("transcript copy failed: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	values := make([]any, len(raw))
	for i, v := range raw {
		values[i] = v
	}

	key := s.key(to)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		s.bound(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("transcript copy failed: %w", err)
	}
	return nil
}

// Delete 删除房间记录
func (s *RedisStore) Delete(ctx context.Context, room string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(room)).Err(); err != nil {
		return fmt.Errorf("transcript delete failed: %w", err)
	}
	return nil
}

// Name 实现健康检查接口
func (s *RedisStore) Name() string { return "redis" }

// Check 实现健康检查接口
func (s *RedisStore) Check(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing transcript store")
	return s.client.Close()
}
