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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	vault "github.com/hashicorp/vault/api"

	"civic-mesh/pkg/config"
)

// vaultStore 读取 KV v2：key 对应 <mount>/data/<path>/<key>，取 value 字段，
// 没有 value 字段时取任一字符串字段
type vaultStore struct {
	kv    *vault.KVv2
	path  string
	mu    sync.RWMutex
	cache map[string]string
}

// NewVaultStore address 为空时使用 VAULT_ADDR / 默认地址；token 为空时使用 VAULT_TOKEN
func NewVaultStore(cfg config.VaultConfig) (Store, error) {
	vc := vault.DefaultConfig()
	if cfg.Address != "" {
		vc.Address = cfg.Address
	}
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	return newVaultStore(client.KVv2(mount), cfg.Path), nil
}

func newVaultStore(kv *vault.KVv2, prefix string) *vaultStore {
	return &vaultStore{kv: kv, path: prefix, cache: make(map[string]string)}
}

func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	v.mu.RLock()
	val, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return val, nil
	}

	secret, err := v.kv.Get(ctx, path.Join(v.path, key))
	if errors.Is(err, vault.ErrSecretNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}
	val, ok = pickValue(secret.Data)
	if !ok {
		return "", fmt.Errorf("%w: %s has no string value", ErrNotFound, key)
	}
	v.mu.Lock()
	v.cache[key] = val
	v.mu.Unlock()
	return val, nil
}

func pickValue(data map[string]interface{}) (string, bool) {
	if s, ok := data["value"].(string); ok {
		return s, true
	}
	for _, raw := range data {
		if s, ok := raw.(string); ok {
			return s, true
		}
	}
	return "", false
}
