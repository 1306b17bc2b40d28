// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"civic-mesh/pkg/errors"
)

// DefaultMemorySize 内存缓存默认最大条目数
const DefaultMemorySize = 1000

// MemoryStore 内存缓存，超过容量时淘汰最久未访问的条目
type MemoryStore struct {
	mu    sync.Mutex
	size  int
	items map[string]*list.Element
	order *list.List // 表头为最近访问
}

type cacheItem struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func (it *cacheItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// NewMemoryStore size<=0 时使用 DefaultMemorySize
func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &MemoryStore{
		size:  size,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Set 写入缓存
func (s *MemoryStore) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	item := &cacheItem{key: key, value: data}
	if expiration > 0 {
		item.expiresAt = time.Now().Add(expiration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		el.Value = item
		s.order.MoveToFront(el)
		return nil
	}
	s.items[key] = s.order.PushFront(item)
	for s.order.Len() > s.size {
		s.removeElement(s.order.Back())
	}
	return nil
}

// Get 读取缓存，命中时刷新访问顺序
func (s *MemoryStore) Get(_ context.Context, key string, dest any) error {
	s.mu.Lock()
	el, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrNotFound, "cache key %s", key)
	}
	item := el.Value.(*cacheItem)
	if item.expired(time.Now()) {
		s.removeElement(el)
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrNotFound, "cache key %s expired", key)
	}
	s.order.MoveToFront(el)
	data := item.value
	s.mu.Unlock()

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// Delete 删除缓存，键不存在不视为错误
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.removeElement(el)
	}
	return nil
}

// Exists 检查未过期的键是否存在
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		return false, nil
	}
	return !el.Value.(*cacheItem).expired(time.Now()), nil
}

// Len 当前条目数（含未清理的过期条目）
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Clear 清除所有缓存
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element)
	s.order.Init()
	return nil
}

// Close 内存实现无需释放资源
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) removeElement(el *list.Element) {
	s.order.Remove(el)
	delete(s.items, el.Value.(*cacheItem).key)
}
