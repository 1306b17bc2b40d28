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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API          APIConfig          `mapstructure:"api"`
	Agents       AgentsConfig       `mapstructure:"agents"`
	Protocol     ProtocolConfig     `mapstructure:"protocol"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Broker       BrokerConfig       `mapstructure:"broker"`
	Model        ModelConfig        `mapstructure:"model"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Log          LogConfig          `mapstructure:"log"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	RateLimits   RateLimitsConfig   `mapstructure:"rate_limits"`
	Secrets      SecretsConfig      `mapstructure:"secrets"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port      int             `mapstructure:"port"`
	Host      string          `mapstructure:"host"`
	Timeout   string          `mapstructure:"timeout"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Grpc      GrpcConfig      `mapstructure:"grpc"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// AuthConfig JWT 认证；Enable 为 false 或缺少 JWTKey 时不启用
type AuthConfig struct {
	Enable        bool              `mapstructure:"enable"`
	JWTKey        string            `mapstructure:"jwt_key"`
	JWTTimeout    string            `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string            `mapstructure:"jwt_max_refresh"` // 如 "1h"
	Users         map[string]string `mapstructure:"users"`           // 用户名 -> 密码，支持 secret:// 引用
}

// RateLimitConfig 编排与入站消息接口的全局限流，RPS<=0 不限流
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// GrpcConfig gRPC 健康检查服务配置
type GrpcConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// AgentsConfig 本进程托管的 Agent 与远端 Agent 地址
type AgentsConfig struct {
	// Local 在本进程内以 LocalTransport 托管的 agent 标识，如 ["constitutional_ai","civic_sentiment"]
	Local []string `mapstructure:"local"`
	// Remote agent 标识 -> HTTP base URL，如 legislative_predictor: http://legislative-predictor:8001
	Remote map[string]string `mapstructure:"remote"`
	// Identity cmd/agent 独立进程所服务的 agent 标识
	Identity string `mapstructure:"identity"`
}

// ProtocolConfig 协议层超时
type ProtocolConfig struct {
	RequestTimeout  string `mapstructure:"request_timeout"`  // await 默认超时，如 "30s"
	DeliveryTimeout string `mapstructure:"delivery_timeout"` // 单次 HTTP 投递超时，如 "30s"
}

// OrchestratorConfig 工作流引擎配置
type OrchestratorConfig struct {
	MaxConcurrency  int            `mapstructure:"max_concurrency"`  // 后台并发工作流数，<=0 使用默认 4
	RunTimeout      string         `mapstructure:"run_timeout"`      // 单次工作流整体超时，如 "2m"
	ViabilityCutoff float64        `mapstructure:"viability_cutoff"` // 行动建议阈值，<=0 使用默认 60
	RunStore        RunStoreConfig `mapstructure:"run_store"`
}

// RunStoreConfig 工作流结果存储
type RunStoreConfig struct {
	Type string `mapstructure:"type"` // memory | postgres | cache
	DSN  string `mapstructure:"dsn"`  // type=postgres 时必填
	TTL  string `mapstructure:"ttl"`  // type=cache 时结果保留时长，如 "24h"
}

// BrokerConfig 广播投递配置
type BrokerConfig struct {
	Type          string `mapstructure:"type"` // memory | redis | 空（禁用广播）
	Addr          string `mapstructure:"addr"`
	DB            int    `mapstructure:"db"`
	Password      string `mapstructure:"password"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// ModelConfig 模型配置
type ModelConfig struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
}

// LLMConfig LLM 模型配置
type LLMConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// EmbeddingConfig Embedding 模型配置
type EmbeddingConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig 模型提供商配置
type ProviderConfig struct {
	APIKey  string               `mapstructure:"api_key"`
	BaseURL string               `mapstructure:"base_url"`
	Client  string               `mapstructure:"client"` // rest | eino，仅 LLM 使用，空为 rest
	Models  map[string]ModelInfo `mapstructure:"models"`
}

// ModelInfo 模型信息
type ModelInfo struct {
	Name          string  `mapstructure:"name"`
	ContextWindow int     `mapstructure:"context_window"`
	Temperature   float64 `mapstructure:"temperature"`
	Dimension     int     `mapstructure:"dimension"`
	InputLimit    int     `mapstructure:"input_limit"`
	MaxTokens     int     `mapstructure:"max_tokens"`
}

// DefaultsConfig 默认模型配置，格式 provider.model_key
type DefaultsConfig struct {
	LLM       string `mapstructure:"llm"`
	Embedding string `mapstructure:"embedding"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Vector VectorConfig `mapstructure:"vector"`
	Cache  CacheConfig  `mapstructure:"cache"`
}

// VectorConfig 上下文检索存储（memory 为内置内存；postgres 使用 pgvector）
type VectorConfig struct {
	Type      string `mapstructure:"type"`
	DSN       string `mapstructure:"dsn"`
	Dimension int    `mapstructure:"dimension"`
	PoolSize  int    `mapstructure:"pool_size"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	TTL      string `mapstructure:"ttl"`  // 推理结果缓存时长
	Size     int    `mapstructure:"size"` // 内存缓存最大条目，<=0 使用默认 1000
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
	Protocol       string `mapstructure:"protocol"` // grpc（默认，4317）| http（4318）
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// RateLimitsConfig 限流配置
type RateLimitsConfig struct {
	LLM map[string]LLMRateLimitConfig `mapstructure:"llm"`
}

// LLMRateLimitConfig 单个 LLM Provider 的限流配置
type LLMRateLimitConfig struct {
	TokensPerMinute   int     `mapstructure:"tokens_per_minute"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
}

// SecretsConfig 配置中 secret://<key> 引用的解析来源
type SecretsConfig struct {
	Provider string      `mapstructure:"provider"` // env | file | vault | 空（不解析）
	Dir      string      `mapstructure:"dir"`      // provider=file 时的挂载目录，如 /etc/secrets
	Vault    VaultConfig `mapstructure:"vault"`
}

// VaultConfig HashiCorp Vault KV v2
type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Mount   string `mapstructure:"mount"` // 默认 secret
	Path    string `mapstructure:"path"`  // key 所在路径前缀，如 civic-mesh
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// replaceEnvVars 替换配置中 ${VAR} 形式的环境变量
func replaceEnvVars(config *Config) {
	for provider, pc := range config.Model.LLM.Providers {
		pc.APIKey = expandEnv(pc.APIKey)
		config.Model.LLM.Providers[provider] = pc
	}
	for provider, pc := range config.Model.Embedding.Providers {
		pc.APIKey = expandEnv(pc.APIKey)
		config.Model.Embedding.Providers[provider] = pc
	}
	config.Storage.Vector.DSN = expandEnv(config.Storage.Vector.DSN)
	config.Orchestrator.RunStore.DSN = expandEnv(config.Orchestrator.RunStore.DSN)
	config.Broker.Password = expandEnv(config.Broker.Password)
	config.Storage.Cache.Password = expandEnv(config.Storage.Cache.Password)
	config.Secrets.Vault.Token = expandEnv(config.Secrets.Vault.Token)
	config.API.Auth.JWTKey = expandEnv(config.API.Auth.JWTKey)
}

func expandEnv(s string) string {
	if !strings.HasPrefix(s, "$") {
		return s
	}
	envVar := strings.TrimPrefix(strings.TrimSuffix(s, "}"), "${")
	envVar = strings.TrimPrefix(envVar, "$")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return s
}

// LoadAPIConfig 加载编排 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig(pathFromEnv("CIVIC_API_CONFIG", "configs/api.yaml"))
}

// LoadAgentConfig 加载独立 Agent 进程配置（configs/agent.yaml）
func LoadAgentConfig() (*Config, error) {
	return LoadConfig(pathFromEnv("CIVIC_AGENT_CONFIG", "configs/agent.yaml"))
}

func pathFromEnv(key, def string) string {
	if p := os.Getenv(key); p != "" {
		return p
	}
	return def
}

// ParseDuration 解析配置中的时长字符串，空或非法时返回默认值
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
