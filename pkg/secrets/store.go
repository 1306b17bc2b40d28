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

// Package secrets 解析配置中的 secret://<key> 引用（API key、DSN、密码）
package secrets

import (
	"context"
	"errors"
	"fmt"

	"civic-mesh/pkg/config"
)

// ErrNotFound secret 不存在
var ErrNotFound = errors.New("secret not found")

// Store 只读 secret 来源
type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// NewStore 按 secrets.provider 创建；provider 为空返回 nil（不解析引用）
func NewStore(cfg config.SecretsConfig) (Store, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "env":
		return NewEnvStore(), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "vault":
		return NewVaultStore(cfg.Vault)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Provider)
	}
}
