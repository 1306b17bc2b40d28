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

// Package broker 多收件方广播的投递实现（内存、Redis Pub/Sub）。
package broker

import (
	"fmt"

	"civic-mesh/internal/protocol"
	"civic-mesh/pkg/config"
	"civic-mesh/pkg/log"
)

// NewBroker 根据配置创建广播通道；type 为空时返回 nil（广播被丢弃）
func NewBroker(cfg config.BrokerConfig, logger *log.Logger) (protocol.Broker, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryBroker(logger), nil
	case "redis":
		b, err := NewRedisBroker(cfg, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("不支持的广播类型: %s", cfg.Type)
	}
}
