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

package vector

import (
	"context"
	"fmt"

	"civic-mesh/pkg/config"
)

// NewStore 根据配置创建上下文检索存储
func NewStore(ctx context.Context, cfg config.VectorConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(cfg.Dimension), nil
	case "postgres", "pgvector":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("storage.vector.dsn 未配置")
		}
		s, err := NewPGStore(ctx, cfg.DSN, cfg.Dimension, cfg.PoolSize)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("不支持的向量存储类型: %s", cfg.Type)
	}
}
