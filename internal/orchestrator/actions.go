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

// DefaultViabilityCutoff 高于该分数才给出行动建议
const DefaultViabilityCutoff = 60.0

// Action 行动建议
type Action struct {
	Type        string   `json:"type"`
	Priority    string   `json:"priority"`
	Description string   `json:"description"`
	Targets     []string `json:"targets"`
}

// ActionPolicy 根据合成结果给出行动建议
type ActionPolicy interface {
	Recommend(s *Synthesis) []Action
}

// ActionPolicyFunc 函数适配 ActionPolicy
type ActionPolicyFunc func(s *Synthesis) []Action

func (f ActionPolicyFunc) Recommend(s *Synthesis) []Action { return f(s) }

// ThresholdActionPolicy 评分严格高于 Cutoff 时建议联系议员并分享分析；未评分不建议
type ThresholdActionPolicy struct {
	Cutoff float64
}

// NewThresholdActionPolicy cutoff<=0 使用 DefaultViabilityCutoff
func NewThresholdActionPolicy(cutoff float64) ThresholdActionPolicy {
	if cutoff <= 0 {
		cutoff = DefaultViabilityCutoff
	}
	return ThresholdActionPolicy{Cutoff: cutoff}
}

func (p ThresholdActionPolicy) Recommend(s *Synthesis) []Action {
	actions := []Action{}
	if s == nil || !s.Scored || !(s.ViabilityScore > p.Cutoff) {
		return actions
	}
	return append(actions,
		Action{
			Type:        "contact_representatives",
			Priority:    "high",
			Description: "Contact sponsors and committee members",
			Targets:     []string{"senate_committee", "house_committee"},
		},
		Action{
			Type:        "share_analysis",
			Priority:    "medium",
			Description: "Share the synthesized analysis with constituents",
			Targets:     []string{"public_briefing"},
		},
	)
}
