// Package keylock 提供按 key 加锁的互斥表，条目按引用计数回收。
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map 为每个 key 提供独立互斥锁。零值可用。
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Lock 获取 key 的锁并返回解锁函数。
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		})
	}
}

// Len 返回当前持有或等待中的 key 数量。
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
