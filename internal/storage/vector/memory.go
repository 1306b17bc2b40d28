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

package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"civic-mesh/pkg/errors"
)

// MemoryStore 内存实现，余弦相似度线性扫描
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	artifacts map[string]*memArtifact
	order     []string
	clauses   []*memClause
}

type memArtifact struct {
	artifact  Artifact
	embedding []float64
}

type memClause struct {
	clause    Clause
	embedding []float64
}

// NewMemoryStore dimension<=0 时不校验维度
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		artifacts: make(map[string]*memArtifact),
	}
}

func (s *MemoryStore) checkDim(v []float64) error {
	if s.dimension > 0 && len(v) != s.dimension {
		return fmt.Errorf("%w: vector dimension %d does not match store dimension %d", errors.ErrInvalidArg, len(v), s.dimension)
	}
	return nil
}

// SemanticSearch 线性扫描并按相似度降序返回
func (s *MemoryStore) SemanticSearch(_ context.Context, query []float64, collection string, filter *SearchFilter, limit int) ([]LegislativeHit, error) {
	if collection != "" && collection != CollectionLegislative {
		return nil, fmt.Errorf("%w: semantic search over %q is not supported", errors.ErrInvalidArg, collection)
	}
	if err := s.checkDim(query); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]LegislativeHit, 0, len(s.artifacts))
	for _, id := range s.order {
		ma := s.artifacts[id]
		a := ma.artifact
		if filter != nil {
			if filter.Congress != 0 && a.Congress != filter.Congress {
				continue
			}
			if filter.Status != "" && a.Status != filter.Status {
				continue
			}
		}
		hits = append(hits, LegislativeHit{
			ID:                a.ID,
			Title:             a.Title,
			Content:           truncateContent(a.Content),
			Similarity:        cosineSimilarity(query, ma.embedding),
			Constitutionality: a.ConstitutionalityScore,
			KeyTopics:         append([]string(nil), a.KeyTopics...),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// RetrieveForRAG collections 为空时检索全部集合
func (s *MemoryStore) RetrieveForRAG(ctx context.Context, query []float64, collections []string) (*RAGContext, error) {
	if len(collections) == 0 {
		collections = []string{CollectionLegislative, CollectionConstitutional}
	}
	out := &RAGContext{}
	if wants(collections, CollectionLegislative) {
		hits, err := s.SemanticSearch(ctx, query, CollectionLegislative, &SearchFilter{Status: "passed"}, ragLegislationLimit)
		if err != nil {
			return nil, err
		}
		out.Legislation = hits
	}
	if wants(collections, CollectionConstitutional) {
		s.mu.RLock()
		hits := make([]ClauseHit, 0, len(s.clauses))
		for _, mc := range s.clauses {
			hits = append(hits, ClauseHit{
				Clause:     mc.clause.Text,
				Reference:  clauseReference(mc.clause.Article, mc.clause.Section),
				Similarity: cosineSimilarity(query, mc.embedding),
			})
		}
		s.mu.RUnlock()
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
		if len(hits) > ragConstitutionalLimit {
			hits = hits[:ragConstitutionalLimit]
		}
		out.Constitutional = hits
	}
	return out, nil
}

// StoreArtifact a.ID 为空时生成 UUID
func (s *MemoryStore) StoreArtifact(_ context.Context, a *Artifact, embedding []float64) (string, error) {
	if a == nil || a.Title == "" || a.Content == "" {
		return "", fmt.Errorf("%w: artifact title and content are required", errors.ErrInvalidArg)
	}
	if err := s.checkDim(embedding); err != nil {
		return "", err
	}
	cp := *a
	applyArtifactDefaults(&cp)
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.artifacts[cp.ID]; !exists {
		s.order = append(s.order, cp.ID)
	}
	s.artifacts[cp.ID] = &memArtifact{artifact: cp, embedding: append([]float64(nil), embedding...)}
	return cp.ID, nil
}

func (s *MemoryStore) StoreClause(_ context.Context, c *Clause, embedding []float64) error {
	if c == nil || c.Text == "" {
		return fmt.Errorf("%w: clause text is required", errors.ErrInvalidArg)
	}
	if err := s.checkDim(embedding); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clauses = append(s.clauses, &memClause{clause: *c, embedding: append([]float64(nil), embedding...)})
	return nil
}

func (s *MemoryStore) UpdateConstitutionalityScore(_ context.Context, artifactID string, score float64, issues []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ma, ok := s.artifacts[artifactID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "artifact %s", artifactID)
	}
	ma.artifact.ConstitutionalityScore = &score
	ma.artifact.ConstitutionalIssues = append([]string(nil), issues...)
	return nil
}

// Get 按 id 读取（测试与管理用）
func (s *MemoryStore) Get(artifactID string) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ma, ok := s.artifacts[artifactID]
	if !ok {
		return nil, false
	}
	cp := ma.artifact
	return &cp, true
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
