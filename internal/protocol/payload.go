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

package protocol

import (
	"encoding/json"
	"math"
	"strconv"
)

// Payload 开放的结构化内容（JSON 兼容值），按需通过访问器取字段，不做固定 schema
type Payload map[string]any

// Clone 浅层以下递归复制 map / slice，避免消息构造后被调用方修改
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Payload(t).Clone())
	case Payload:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		if t == nil {
			return t
		}
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// Has 键是否存在
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String 取字符串字段，缺失或类型不符返回 ""
func (p Payload) String(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Float 取数值字段，兼容 JSON 解码后的 float64、整数与数字字符串
func (p Payload) Float(key string) (float64, bool) {
	return toFloat(p[key])
}

// Bool 取布尔字段
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Map 取嵌套对象
func (p Payload) Map(key string) Payload {
	switch t := p[key].(type) {
	case map[string]any:
		return Payload(t)
	case Payload:
		return t
	}
	return nil
}

// Strings 取字符串列表，忽略非字符串元素
func (p Payload) Strings(key string) []string {
	switch t := p[key].(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Keys 字段名（无序）
func (p Payload) Keys() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	// NaN/Inf 无法参与评分，也无法编码为 JSON
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
