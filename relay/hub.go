package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/warmtransfer/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSubscriberBuffer = 32
	defaultHistorySize      = 64
	defaultIdleTTL          = time.Hour
)

// Entry 是房间事件日志中的一条记录。Seq 在房间内单调递增，用作轮询游标。
type Entry struct {
	Seq   uint64
	Event types.Event
	At    time.Time
}

// MarshalJSON 输出事件线格式并附加 seq 字段。
func (e Entry) MarshalJSON() ([]byte, error) {
	data, err := types.EncodeEvent(e.Event)
	if err != nil {
		return nil, err
	}
	out := fmt.Appendf(nil, `{"seq":%d,`, e.Seq)
	return append(out, data[1:]...), nil
}

// Metrics 中继指标钩子
type Metrics interface {
	RecordEventPublished(eventType string, delivered int)
	RecordEventDropped(eventType string)
	AddSubscribers(delta int)
}

type nopMetrics struct{}

func (nopMetrics) RecordEventPublished(string, int) {}
func (nopMetrics) RecordEventDropped(string)        {}
func (nopMetrics) AddSubscribers(int)               {}

// Options Hub 配置
type Options struct {
	SubscriberBuffer int
	HistorySize      int
	// IdleTTL 无订阅者且最后一条事件早于该时长的房间日志会被回收
	IdleTTL time.Duration
	Metrics Metrics
	Logger  *zap.Logger
}

// =============================================================================
// 📡 通知中继
// =============================================================================

// Hub 按房间分发转接事件。每个房间维护一个有界事件日志和订阅者集合；
// 推送通道与轮询接口读取同一份日志。
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]*roomLog
	closed atomic.Bool

	opts    Options
	metrics Metrics
	logger  *zap.Logger
}

type roomLog struct {
	mu      sync.Mutex
	seq     uint64
	history []Entry
	next    int
	count   int
	subs    map[string]chan Entry
	lastAt  time.Time
	// evicted 为 true 时该日志已从 Hub 移除，写入方需重新获取
	evicted bool
}

// NewHub 创建中继
func NewHub(opts Options) *Hub {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Hub{
		rooms:   make(map[string]*roomLog),
		opts:    opts,
		metrics: opts.Metrics,
		logger:  opts.Logger.With(zap.String("component", "notification_relay")),
	}
}

// acquire 返回已加锁且未被回收的房间日志，不存在时创建
func (h *Hub) acquire(name string) *roomLog {
	for {
		h.mu.Lock()
		r, ok := h.rooms[name]
		if !ok {
			r = &roomLog{subs: make(map[string]chan Entry), lastAt: time.Now()}
			h.rooms[name] = r
		}
		h.mu.Unlock()

		r.mu.Lock()
		if !r.evicted {
			return r
		}
		r.mu.Unlock()
	}
}

// lookup 只读查找，不创建房间日志
func (h *Hub) lookup(name string) *roomLog {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[name]
}

// Publish 追加事件到房间日志并非阻塞地推送给每个订阅者，返回实时送达数。
// 订阅者缓冲区满时丢弃该订阅者的这条事件，客户端可通过日志补齐。
func (h *Hub) Publish(room string, ev types.Event) int {
	if ev == nil {
		return 0
	}
	if h.closed.Load() {
		return 0
	}

	eventType := string(ev.Type())

	r := h.acquire(room)
	if r.history == nil {
		r.history = make([]Entry, h.opts.HistorySize)
	}
	r.seq++
	entry := Entry{Seq: r.seq, Event: ev, At: time.Now()}
	r.lastAt = entry.At
	r.history[r.next] = entry
	r.next = (r.next + 1) % len(r.history)
	if r.count < len(r.history) {
		r.count++
	}

	delivered := 0
	for id, ch := range r.subs {
		select {
		case ch <- entry:
			delivered++
		default:
			h.metrics.RecordEventDropped(eventType)
			h.logger.Warn("subscriber buffer full, event dropped",
				zap.String("room", room),
				zap.String("subscription", id),
				zap.String("type", eventType),
				zap.Uint64("seq", entry.Seq),
			)
		}
	}
	r.mu.Unlock()

	h.metrics.RecordEventPublished(eventType, delivered)
	h.logger.Debug("event published",
		zap.String("room", room),
		zap.String("type", eventType),
		zap.String("transfer_id", ev.TransferID()),
		zap.Int("delivered", delivered),
	)
	return delivered
}

// Since 返回房间中 seq 大于 cursor 的事件（仍在日志内的部分）以及最新 seq。
// 房间不存在时返回空列表和 0。
func (h *Hub) Since(room string, cursor uint64) ([]Entry, uint64) {
	r := h.lookup(room)
	if r == nil {
		return []Entry{}, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinceLocked(cursor), r.seq
}

// sinceLocked 中 cursor 大于当前 seq 说明游标来自已回收的旧日志，从头返回
func (r *roomLog) sinceLocked(cursor uint64) []Entry {
	out := make([]Entry, 0)
	if r.count == 0 {
		return out
	}
	if cursor > r.seq {
		cursor = 0
	}
	start := (r.next - r.count + len(r.history)) % len(r.history)
	for i := 0; i < r.count; i++ {
		e := r.history[(start+i)%len(r.history)]
		if e.Seq > cursor {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe 订阅房间后续事件
func (h *Hub) Subscribe(room string) *Subscription {
	sub, _ := h.SubscribeSince(room, 0, false)
	return sub
}

// SubscribeSince 订阅房间，并原子地返回 seq 大于 cursor 的历史事件，
// 补发与实时推送之间既不丢失也不重复。replay 为 false 时不返回历史。
func (h *Hub) SubscribeSince(room string, cursor uint64, replay bool) (*Subscription, []Entry) {
	ch := make(chan Entry, h.opts.SubscriberBuffer)
	sub := &Subscription{
		ID:   uuid.NewString(),
		Room: room,
		ch:   ch,
		hub:  h,
	}

	r := h.acquire(room)
	if h.closed.Load() {
		r.mu.Unlock()
		close(ch)
		sub.closed = true
		return sub, nil
	}
	var backlog []Entry
	if replay {
		backlog = r.sinceLocked(cursor)
	}
	r.subs[sub.ID] = ch
	r.mu.Unlock()

	h.metrics.AddSubscribers(1)
	h.logger.Debug("subscriber connected", zap.String("room", room), zap.String("subscription", sub.ID))
	return sub, backlog
}

func (h *Hub) unsubscribe(room, id string) {
	r := h.lookup(room)
	if r == nil {
		return
	}
	r.mu.Lock()
	ch, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
		close(ch)
	}
	empty := len(r.subs) == 0 && r.count == 0
	r.mu.Unlock()

	if ok {
		h.metrics.AddSubscribers(-1)
		h.logger.Debug("subscriber disconnected", zap.String("room", room), zap.String("subscription", id))
	}
	if empty {
		h.evictIf(room, func(r *roomLog) bool { return len(r.subs) == 0 && r.count == 0 })
	}
}

// Subscribers 返回房间当前订阅者数量
func (h *Hub) Subscribers(room string) int {
	r := h.lookup(room)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Rooms 返回当前保留日志的房间数
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// evictIf 在持有 h.mu 与 r.mu 时再次确认条件后移除房间日志
func (h *Hub) evictIf(room string, idle func(r *roomLog) bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[room]
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !idle(r) {
		return false
	}
	r.evicted = true
	delete(h.rooms, room)
	return true
}

// Prune 回收无订阅者且空闲超过 IdleTTL 的房间日志，返回回收数量
func (h *Hub) Prune(now time.Time) int {
	h.mu.Lock()
	names := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		names = append(names, name)
	}
	h.mu.Unlock()

	cutoff := now.Add(-h.opts.IdleTTL)
	removed := 0
	for _, name := range names {
		if h.evictIf(name, func(r *roomLog) bool {
			return len(r.subs) == 0 && r.lastAt.Before(cutoff)
		}) {
			removed++
		}
	}
	if removed > 0 {
		h.logger.Debug("idle room logs pruned", zap.Int("count", removed))
	}
	return removed
}

// Run 按 interval 周期回收空闲房间日志，直到 ctx 取消
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.Prune(now)
		}
	}
}

// Close 关闭所有订阅，之后的 Publish 被忽略
func (h *Hub) Close() {
	if h.closed.Swap(true) {
		return
	}
	h.mu.Lock()
	rooms := make([]*roomLog, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	removed := 0
	for _, r := range rooms {
		r.mu.Lock()
		for id, ch := range r.subs {
			delete(r.subs, id)
			close(ch)
			removed++
		}
		r.mu.Unlock()
	}
	if removed > 0 {
		h.metrics.AddSubscribers(-removed)
	}
}

// =============================================================================
// 🔌 订阅
// =============================================================================

// Subscription 是一个已连接的推送通道。Close 后进入断开状态，通道关闭。
type Subscription struct {
	ID   string
	Room string

	ch     chan Entry
	hub    *Hub
	once   sync.Once
	closed bool
}

// C 返回事件通道，订阅关闭后通道关闭
func (s *Subscription) C() <-chan Entry {
	return s.ch
}

// Close 断开订阅，可重复调用
func (s *Subscription) Close() {
	if s.closed {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.Room, s.ID)
	})
}
