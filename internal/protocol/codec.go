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
	"fmt"
	"time"
)

// wireEnvelope JSON 线格式，键名与已有 agent 部署保持一致
type wireEnvelope struct {
	MessageID     string          `json:"message_id"`
	Sender        AgentIdentity   `json:"sender"`
	Recipients    []AgentIdentity `json:"recipients"`
	MessageType   MessageKind     `json:"message_type"`
	Content       Payload         `json:"content"`
	Context       Payload         `json:"context,omitempty"`
	CorrelationID *string         `json:"correlation_id,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
	Priority      *int            `json:"priority,omitempty"`
}

// Encode 序列化为线格式
func Encode(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, &ValidationError{Field: "envelope", Reason: "is nil"}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	w := wireEnvelope{
		MessageID:   e.ID,
		Sender:      e.Sender,
		Recipients:  e.Recipients,
		MessageType: e.Kind,
		Content:     e.Payload,
		Context:     e.Context,
		Priority:    &e.Priority,
	}
	if w.Content == nil {
		w.Content = Payload{}
	}
	if e.CorrelationID != "" {
		cid := e.CorrelationID
		w.CorrelationID = &cid
	}
	if !e.Timestamp.IsZero() {
		w.Timestamp = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

// Decode 解析线格式并校验；未知枚举标签、缺失必填字段均为错误
func Decode(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	e := &Envelope{
		ID:         w.MessageID,
		Sender:     w.Sender,
		Recipients: w.Recipients,
		Kind:       w.MessageType,
		Payload:    w.Content,
		Context:    w.Context,
		Priority:   DefaultPriority,
	}
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	if w.CorrelationID != nil {
		e.CorrelationID = *w.CorrelationID
	}
	if w.Priority != nil {
		e.Priority = *w.Priority
	}
	if w.Timestamp != "" {
		ts, err := parseTimestamp(w.Timestamp)
		if err != nil {
			return nil, &ValidationError{Field: "timestamp", Reason: err.Error()}
		}
		e.Timestamp = ts
	} else {
		e.Timestamp = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// 兼容不带时区的 ISO 时间（按 UTC 解释）
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
