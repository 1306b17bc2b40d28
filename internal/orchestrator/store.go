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

package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"civic-mesh/internal/storage/cache"
	"civic-mesh/pkg/config"
	"civic-mesh/pkg/errors"
)

// RunStore 工作流运行结果存储；Get 未命中返回 errors.ErrNotFound
type RunStore interface {
	Save(ctx context.Context, r *WorkflowResult) error
	Get(ctx context.Context, id string) (*WorkflowResult, error)
	Close() error
}

// NewRunStore 按配置创建：memory（默认）| postgres | cache（复用 cacheStore）
func NewRunStore(ctx context.Context, cfg config.RunStoreConfig, cacheStore cache.Store) (RunStore, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryRunStore(), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.Wrap(errors.ErrInvalidArg, "orchestrator.run_store.dsn is required for postgres")
		}
		s, err := NewPgRunStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "cache":
		if cacheStore == nil {
			return nil, errors.Wrap(errors.ErrInvalidArg, "run_store type cache needs storage.cache")
		}
		return NewCacheRunStore(cacheStore, config.ParseDuration(cfg.TTL, DefaultRunTTL)), nil
	default:
		return nil, fmt.Errorf("unsupported run store type: %s", cfg.Type)
	}
}

// MemoryRunStore 进程内存储
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*WorkflowResult
}

// NewMemoryRunStore 创建空存储
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*WorkflowResult)}
}

func (s *MemoryRunStore) Save(_ context.Context, r *WorkflowResult) error {
	if r == nil || r.WorkflowID == "" {
		return errors.Wrap(errors.ErrInvalidArg, "workflow result without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.runs[r.WorkflowID]; ok && prev.Done() {
		return errors.Wrapf(errors.ErrConflict, "workflow %s already finished", r.WorkflowID)
	}
	s.runs[r.WorkflowID] = r.Clone()
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (*WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "workflow %s", id)
	}
	return r.Clone(), nil
}

func (s *MemoryRunStore) Close() error { return nil }
