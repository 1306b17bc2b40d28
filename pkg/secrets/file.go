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
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultSecretsDir Kubernetes Secret 卷的常用挂载目录
const DefaultSecretsDir = "/etc/secrets"

// fileStore 每个 key 一个文件（Kubernetes Secret 卷、docker secrets）
type fileStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]string
}

// NewFileStore dir 不存在时报错
func NewFileStore(dir string) (Store, error) {
	if dir == "" {
		dir = DefaultSecretsDir
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("secrets dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets dir %s is not a directory", dir)
	}
	return &fileStore{dir: dir, cache: make(map[string]string)}, nil
}

func (f *fileStore) Get(_ context.Context, key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || filepath.IsAbs(key) {
		return "", fmt.Errorf("invalid secret key %q", key)
	}
	f.mu.RLock()
	v, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		return v, nil
	}

	data, err := os.ReadFile(filepath.Join(f.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", err
	}
	v = strings.TrimRight(string(data), "\r\n")
	f.mu.Lock()
	f.cache[key] = v
	f.mu.Unlock()
	return v, nil
}
