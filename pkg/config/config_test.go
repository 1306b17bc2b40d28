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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
api:
  port: 9000
  host: "127.0.0.1"
log:
  level: "debug"
agents:
  local: ["constitutional_ai", "civic_sentiment"]
  remote:
    legislative_predictor: "http://legislative-predictor:8001"
orchestrator:
  max_concurrency: 8
  viability_cutoff: 70
  run_store:
    type: memory
broker:
  type: redis
  addr: "localhost:6379"
`
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port: got %d", cfg.API.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host: got %q", cfg.API.Host)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
	if len(cfg.Agents.Local) != 2 || cfg.Agents.Local[0] != "constitutional_ai" {
		t.Errorf("Agents.Local: got %v", cfg.Agents.Local)
	}
	if cfg.Agents.Remote["legislative_predictor"] != "http://legislative-predictor:8001" {
		t.Errorf("Agents.Remote: got %v", cfg.Agents.Remote)
	}
	if cfg.Orchestrator.MaxConcurrency != 8 || cfg.Orchestrator.ViabilityCutoff != 70 {
		t.Errorf("Orchestrator: got %+v", cfg.Orchestrator)
	}
	if cfg.Broker.Type != "redis" || cfg.Broker.Addr != "localhost:6379" {
		t.Errorf("Broker: got %+v", cfg.Broker)
	}
}

func TestLoadConfig_EnvAPIKey(t *testing.T) {
	t.Setenv("CIVIC_TEST_KEY", "sk-test")
	dir := t.TempDir()
	yaml := `
model:
  llm:
    providers:
      openai:
        api_key: "${CIVIC_TEST_KEY}"
`
	path := filepath.Join(dir, "model.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Model.LLM.Providers["openai"].APIKey; got != "sk-test" {
		t.Errorf("APIKey: got %q", got)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig on missing file should error")
	}
}

func TestParseDuration(t *testing.T) {
	if d := ParseDuration("", time.Second); d != time.Second {
		t.Errorf("empty: got %v", d)
	}
	if d := ParseDuration("bogus", time.Second); d != time.Second {
		t.Errorf("invalid: got %v", d)
	}
	if d := ParseDuration("250ms", time.Second); d != 250*time.Millisecond {
		t.Errorf("valid: got %v", d)
	}
}

func TestLoadConfig_AuthAndSecrets(t *testing.T) {
	t.Setenv("CIVIC_TEST_JWT", "jwt-from-env")
	yaml := `
api:
  auth:
    enable: true
    jwt_key: "${CIVIC_TEST_JWT}"
    users:
      clerk: "secret://clerk-password"
secrets:
  provider: vault
  vault:
    mount: kv
    path: civic-mesh
`
	path := filepath.Join(t.TempDir(), "auth.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.API.Auth.Enable || cfg.API.Auth.JWTKey != "jwt-from-env" {
		t.Errorf("API.Auth: got %+v", cfg.API.Auth)
	}
	if cfg.API.Auth.Users["clerk"] != "secret://clerk-password" {
		t.Errorf("API.Auth.Users: got %v", cfg.API.Auth.Users)
	}
	if cfg.Secrets.Provider != "vault" || cfg.Secrets.Vault.Mount != "kv" || cfg.Secrets.Vault.Path != "civic-mesh" {
		t.Errorf("Secrets: got %+v", cfg.Secrets)
	}
}
