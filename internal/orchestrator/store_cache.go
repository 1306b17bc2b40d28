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
	"time"

	"civic-mesh/internal/storage/cache"
	"civic-mesh/pkg/errors"
)

// DefaultRunTTL cache 存储中运行结果的保留时长
const DefaultRunTTL = 24 * time.Hour

// CacheRunStore 以 cache.Store（通常为 Redis）保存运行结果，过期自动清理
type CacheRunStore struct {
	store cache.Store
	ttl   time.Duration
}

// NewCacheRunStore ttl<=0 使用 DefaultRunTTL
func NewCacheRunStore(store cache.Store, ttl time.Duration) *CacheRunStore {
	if ttl <= 0 {
		ttl = DefaultRunTTL
	}
	return &CacheRunStore{store: store, ttl: ttl}
}

func runKey(id string) string { return "run:" + id }

func (s *CacheRunStore) Save(ctx context.Context, r *WorkflowResult) error {
	if r == nil || r.WorkflowID == "" {
		return errors.Wrap(errors.ErrInvalidArg, "workflow result without id")
	}
	return s.store.Set(ctx, runKey(r.WorkflowID), r, s.ttl)
}

func (s *CacheRunStore) Get(ctx context.Context, id string) (*WorkflowResult, error) {
	var r WorkflowResult
	if err := s.store.Get(ctx, runKey(id), &r); err != nil {
		return nil, errors.Wrapf(err, "workflow %s", id)
	}
	return &r, nil
}

// Close 不关闭共享的 cache.Store
func (s *CacheRunStore) Close() error { return nil }
