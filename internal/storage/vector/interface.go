package vector

import (
	"context"
)

// 检索集合
const (
	CollectionLegislative    = "legislative"
	CollectionConstitutional = "constitutional"
)

// Artifact 立法文本（法案、决议等）及其元数据
type Artifact struct {
	ID                     string   `json:"id,omitempty"`
	Content                string   `json:"content"`
	Type                   string   `json:"type,omitempty"` // 默认 bill
	Title                  string   `json:"title"`
	Congress               int      `json:"congress,omitempty"` // 默认 118
	Session                int      `json:"session,omitempty"`  // 默认 2
	BillNumber             string   `json:"bill_number,omitempty"`
	Sponsors               []string `json:"sponsors,omitempty"`
	Status                 string   `json:"status,omitempty"` // 默认 introduced
	IntroductionDate       string   `json:"introduction_date,omitempty"`
	KeyTopics              []string `json:"key_topics,omitempty"`
	ConstitutionalityScore *float64 `json:"constitutionality_score,omitempty"`
	ConstitutionalIssues   []string `json:"constitutional_issues,omitempty"`
}

// Clause 宪法条款
type Clause struct {
	Article string `json:"article"`
	Section string `json:"section"`
	Text    string `json:"text"`
}

// SearchFilter 立法检索过滤条件，零值字段不参与过滤
type SearchFilter struct {
	Congress int    `json:"congress,omitempty"`
	Status   string `json:"status,omitempty"`
}

// LegislativeHit 立法检索结果；Content 截断到 500 字符
type LegislativeHit struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Content           string   `json:"content"`
	Similarity        float64  `json:"similarity"`
	Constitutionality *float64 `json:"constitutionality"`
	KeyTopics         []string `json:"key_topics,omitempty"`
}

// ClauseHit 宪法条款检索结果
type ClauseHit struct {
	Clause     string  `json:"clause"`
	Reference  string  `json:"reference"` // Art. X, Sec. Y
	Similarity float64 `json:"similarity"`
}

// RAGContext 按集合组织的检索上下文
type RAGContext struct {
	Legislation    []LegislativeHit `json:"legislation,omitempty"`
	Constitutional []ClauseHit      `json:"constitutional,omitempty"`
}

// Empty 是否没有任何上下文
func (c *RAGContext) Empty() bool {
	return c == nil || (len(c.Legislation) == 0 && len(c.Constitutional) == 0)
}

// Keys 非空集合名
func (c *RAGContext) Keys() []string {
	var keys []string
	if c == nil {
		return keys
	}
	if len(c.Legislation) > 0 {
		keys = append(keys, "legislation")
	}
	if len(c.Constitutional) > 0 {
		keys = append(keys, "constitutional")
	}
	return keys
}

// Store 上下文检索存储
type Store interface {
	// SemanticSearch 在 collection 中按相似度检索，目前仅支持 legislative
	SemanticSearch(ctx context.Context, query []float64, collection string, filter *SearchFilter, limit int) ([]LegislativeHit, error)
	// RetrieveForRAG legislative：已通过（passed）的前 3 条；constitutional：最相似的 2 条
	RetrieveForRAG(ctx context.Context, query []float64, collections []string) (*RAGContext, error)
	// StoreArtifact 写入立法文本与向量，返回 id
	StoreArtifact(ctx context.Context, a *Artifact, embedding []float64) (string, error)
	// StoreClause 写入宪法条款与向量
	StoreClause(ctx context.Context, c *Clause, embedding []float64) error
	// UpdateConstitutionalityScore 回写合宪性评分与问题列表
	UpdateConstitutionalityScore(ctx context.Context, artifactID string, score float64, issues []string) error
	// Ping 检查存储可用，用于健康报告
	Ping(ctx context.Context) error
	Close() error
}

// RAG 检索的固定条数
const (
	ragLegislationLimit    = 3
	ragConstitutionalLimit = 2
	hitContentLimit        = 500
)

func applyArtifactDefaults(a *Artifact) {
	if a.Type == "" {
		a.Type = "bill"
	}
	if a.Congress == 0 {
		a.Congress = 118
	}
	if a.Session == 0 {
		a.Session = 2
	}
	if a.Status == "" {
		a.Status = "introduced"
	}
}

func clauseReference(article, section string) string {
	return "Art. " + article + ", Sec. " + section
}

func truncateContent(s string) string {
	n := 0
	for i := range s {
		if n == hitContentLimit {
			return s[:i]
		}
		n++
	}
	return s
}

func wants(collections []string, name string) bool {
	for _, c := range collections {
		if c == name {
			return true
		}
	}
	return false
}
