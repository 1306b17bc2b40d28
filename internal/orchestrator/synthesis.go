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

package orchestrator

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"civic-mesh/internal/protocol"
)

// Synthesis 汇总各步骤结果
type Synthesis struct {
	Summary        string   `json:"summary"`
	ViabilityScore float64  `json:"viability_score"` // 0-100
	Scored         bool     `json:"scored"`          // 没有任何数值信号时为 false
	KeyPoints      []string `json:"key_points"`
	Responded      int      `json:"responded"`
	Missing        []string `json:"missing,omitempty"`
}

// Synthesizer 把步骤结果合成为摘要与可行性评分
type Synthesizer interface {
	Synthesize(results []StepResult) *Synthesis
}

// SynthesizerFunc 函数适配 Synthesizer
type SynthesizerFunc func(results []StepResult) *Synthesis

func (f SynthesizerFunc) Synthesize(results []StepResult) *Synthesis { return f(results) }

// 已经是 0-100 的信号
var percentSignals = []string{"viability_score", "score"}

// 0-1 的信号，乘以 100
var unitSignals = []string{"confidence_score", "alignment_score", "probability_of_passage", "confidence"}

// 作为要点列出的列表字段
var concernKeys = []string{"constitutional_concerns", "potential_challenges", "concerns", "notable_concerns", "challenges"}

// 作为摘要正文的文本字段，按顺序取第一个
var textKeys = []string{"analysis", "summary", "interpretation_notes", "sentiment", "prediction", "raw_response"}

const summaryItemLimit = 300

// DefaultSynthesizer 可行性评分为各步骤数值信号的平均值
type DefaultSynthesizer struct{}

func (DefaultSynthesizer) Synthesize(results []StepResult) *Synthesis {
	out := &Synthesis{KeyPoints: []string{}}
	parts := make([]string, 0, len(results))
	var sum float64
	var n int

	for _, r := range results {
		if !r.Succeeded() {
			out.Missing = append(out.Missing, r.Name)
			parts = append(parts, fmt.Sprintf("%s: unavailable (%s)", r.Name, unavailableReason(r)))
			continue
		}
		out.Responded++
		sources := signalSources(r.Payload)
		parts = append(parts, r.Name+": "+summaryText(r.Payload, sources))
		if v, ok := stepSignal(sources); ok {
			sum += v
			n++
		}
		for _, src := range sources {
			for _, key := range concernKeys {
				for _, c := range src.Strings(key) {
					out.KeyPoints = append(out.KeyPoints, r.Name+" concern: "+c)
				}
			}
		}
	}

	out.KeyPoints = append([]string{fmt.Sprintf("%d of %d agents responded", out.Responded, len(results))}, out.KeyPoints...)
	if len(out.Missing) > 0 {
		out.KeyPoints = append(out.KeyPoints, "missing input from: "+strings.Join(out.Missing, ", "))
	}
	if n > 0 {
		out.Scored = true
		out.ViabilityScore = math.Round(sum/float64(n)*10) / 10
	}
	out.Summary = strings.Join(parts, " | ")
	return out
}

func unavailableReason(r StepResult) string {
	if r.Error == "" {
		return string(r.Status)
	}
	return string(r.Status) + ": " + r.Error
}

// signalSources 回复中可能携带分析字段的层级：analysis、result、顶层
func signalSources(p protocol.Payload) []protocol.Payload {
	var out []protocol.Payload
	for _, key := range []string{"analysis", "result"} {
		if m := p.Map(key); m != nil {
			out = append(out, m)
		}
	}
	return append(out, p)
}

// stepSignal 单个步骤的数值信号，取第一个命中的字段，归一到 0-100
func stepSignal(sources []protocol.Payload) (float64, bool) {
	for _, src := range sources {
		for _, key := range percentSignals {
			if v, ok := src.Float(key); ok {
				return clamp(v), true
			}
		}
		for _, key := range unitSignals {
			if v, ok := src.Float(key); ok {
				return clamp(v * 100), true
			}
		}
	}
	return 0, false
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func summaryText(p protocol.Payload, sources []protocol.Payload) string {
	for _, src := range sources {
		for _, key := range textKeys {
			if s := strings.TrimSpace(src.String(key)); s != "" {
				return truncate(s)
			}
		}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "(unreadable reply)"
	}
	return truncate(string(b))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= summaryItemLimit {
		return s
	}
	return string(r[:summaryItemLimit]) + "..."
}
