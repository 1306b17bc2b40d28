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
	"fmt"
	"strings"

	"civic-mesh/pkg/config"
)

// RefPrefix 配置值以此开头时视为 secret 引用
const RefPrefix = "secret://"

// Resolve value 不是引用时原样返回
func Resolve(ctx context.Context, store Store, value string) (string, error) {
	key, ok := strings.CutPrefix(value, RefPrefix)
	if !ok {
		return value, nil
	}
	if store == nil {
		return "", fmt.Errorf("secret reference %q but secrets.provider is not configured", value)
	}
	return store.Get(ctx, key)
}

// ResolveConfig 就地替换 provider api_key、DSN 与密码中的引用
func ResolveConfig(ctx context.Context, store Store, cfg *config.Config) error {
	resolve := func(field string, v *string) error {
		out, err := Resolve(ctx, store, *v)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*v = out
		return nil
	}
	for name, pc := range cfg.Model.LLM.Providers {
		if err := resolve("model.llm.providers."+name+".api_key", &pc.APIKey); err != nil {
			return err
		}
		cfg.Model.LLM.Providers[name] = pc
	}
	for name, pc := range cfg.Model.Embedding.Providers {
		if err := resolve("model.embedding.providers."+name+".api_key", &pc.APIKey); err != nil {
			return err
		}
		cfg.Model.Embedding.Providers[name] = pc
	}
	for user, pw := range cfg.API.Auth.Users {
		if err := resolve("api.auth.users."+user, &pw); err != nil {
			return err
		}
		cfg.API.Auth.Users[user] = pw
	}
	fields := []struct {
		name string
		ptr  *string
	}{
		{"storage.vector.dsn", &cfg.Storage.Vector.DSN},
		{"storage.cache.password", &cfg.Storage.Cache.Password},
		{"orchestrator.run_store.dsn", &cfg.Orchestrator.RunStore.DSN},
		{"broker.password", &cfg.Broker.Password},
		{"api.auth.jwt_key", &cfg.API.Auth.JWTKey},
	}
	for _, f := range fields {
		if err := resolve(f.name, f.ptr); err != nil {
			return err
		}
	}
	return nil
}
