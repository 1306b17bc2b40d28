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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"civic-mesh/pkg/errors"
)

// PGStore PostgreSQL + pgvector 实现；向量以文本字面量传参并显式 ::vector 转换
type PGStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPGStore 连接数据库并确保表结构存在；poolSize<=0 时使用 pgx 默认值
func NewPGStore(ctx context.Context, dsn string, dimension, poolSize int) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if poolSize > 0 {
		config.MaxConns = int32(poolSize)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &PGStore{pool: pool, dimension: dimension}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema 创建 pgvector 扩展与两张检索表
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	dim := ""
	if s.dimension > 0 {
		dim = "(" + strconv.Itoa(s.dimension) + ")"
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS legislative_artifacts (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector` + dim + `,
			artifact_type TEXT NOT NULL DEFAULT 'bill',
			title TEXT NOT NULL,
			congress INT,
			session INT,
			bill_number TEXT,
			sponsors JSONB,
			status TEXT,
			introduction_date TEXT,
			key_topics TEXT[],
			constitutionality_score DOUBLE PRECISION,
			constitutional_issues TEXT[],
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS constitutional_knowledge (
			id BIGSERIAL PRIMARY KEY,
			article TEXT NOT NULL,
			section TEXT NOT NULL,
			clause_text TEXT NOT NULL,
			embedding vector` + dim + `
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("初始化向量表失败: %w", err)
		}
	}
	return nil
}

// SemanticSearch 按余弦距离排序的立法检索
func (s *PGStore) SemanticSearch(ctx context.Context, query []float64, collection string, filter *SearchFilter, limit int) ([]LegislativeHit, error) {
	if collection != "" && collection != CollectionLegislative {
		return nil, fmt.Errorf("%w: semantic search over %q is not supported", errors.ErrInvalidArg, collection)
	}
	if limit <= 0 {
		limit = 10
	}
	sql, args := buildSearchQuery(vectorLiteral(query), filter, limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("立法检索失败: %w", err)
	}
	defer rows.Close()

	var hits []LegislativeHit
	for rows.Next() {
		var h LegislativeHit
		if err := rows.Scan(&h.ID, &h.Title, &h.Content, &h.Constitutionality, &h.KeyTopics, &h.Similarity); err != nil {
			return nil, err
		}
		h.Content = truncateContent(h.Content)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// buildSearchQuery $1 为查询向量，过滤参数依次编号，最后为 limit
func buildSearchQuery(vec string, filter *SearchFilter, limit int) (string, []any) {
	args := []any{vec}
	var conds []string
	if filter != nil {
		if filter.Congress != 0 {
			args = append(args, filter.Congress)
			conds = append(conds, "congress = $"+strconv.Itoa(len(args)))
		}
		if filter.Status != "" {
			args = append(args, filter.Status)
			conds = append(conds, "status = $"+strconv.Itoa(len(args)))
		}
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ") + "\n"
	}
	args = append(args, limit)
	sql := "SELECT id, title, content, constitutionality_score, COALESCE(key_topics, '{}'), 1 - (embedding <=> $1::vector) AS similarity\n" +
		"FROM legislative_artifacts\n" +
		where +
		"ORDER BY embedding <=> $1::vector\n" +
		"LIMIT $" + strconv.Itoa(len(args))
	return sql, args
}

// RetrieveForRAG collections 为空时检索全部集合
func (s *PGStore) RetrieveForRAG(ctx context.Context, query []float64, collections []string) (*RAGContext, error) {
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
		rows, err := s.pool.Query(ctx, `
			SELECT clause_text, article, section, 1 - (embedding <=> $1::vector) AS similarity
			FROM constitutional_knowledge
			ORDER BY embedding <=> $1::vector
			LIMIT $2`, vectorLiteral(query), ragConstitutionalLimit)
		if err != nil {
			return nil, fmt.Errorf("宪法条款检索失败: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var text, article, section string
			var sim float64
			if err := rows.Scan(&text, &article, &section, &sim); err != nil {
				return nil, err
			}
			out.Constitutional = append(out.Constitutional, ClauseHit{
				Clause:     text,
				Reference:  clauseReference(article, section),
				Similarity: sim,
			})
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// StoreArtifact 插入立法文本，id 冲突时覆盖
func (s *PGStore) StoreArtifact(ctx context.Context, a *Artifact, embedding []float64) (string, error) {
	if a == nil || a.Title == "" || a.Content == "" {
		return "", fmt.Errorf("%w: artifact title and content are required", errors.ErrInvalidArg)
	}
	cp := *a
	applyArtifactDefaults(&cp)
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	sponsors, err := json.Marshal(nonNil(cp.Sponsors))
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO legislative_artifacts
			(id, content, embedding, artifact_type, title, congress, session,
			 bill_number, sponsors, status, introduction_date, key_topics)
		VALUES ($1, $2, $3::vector, $4, $5, $6, $7, NULLIF($8, ''), $9::jsonb, $10, NULLIF($11, ''), $12)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content, embedding = EXCLUDED.embedding, artifact_type = EXCLUDED.artifact_type,
			title = EXCLUDED.title, congress = EXCLUDED.congress, session = EXCLUDED.session,
			bill_number = EXCLUDED.bill_number, sponsors = EXCLUDED.sponsors, status = EXCLUDED.status,
			introduction_date = EXCLUDED.introduction_date, key_topics = EXCLUDED.key_topics, updated_at = NOW()`,
		cp.ID, cp.Content, vectorLiteral(embedding), cp.Type, cp.Title, cp.Congress, cp.Session,
		cp.BillNumber, string(sponsors), cp.Status, cp.IntroductionDate, nonNil(cp.KeyTopics))
	if err != nil {
		return "", fmt.Errorf("写入立法文本失败: %w", err)
	}
	return cp.ID, nil
}

func (s *PGStore) StoreClause(ctx context.Context, c *Clause, embedding []float64) error {
	if c == nil || c.Text == "" {
		return fmt.Errorf("%w: clause text is required", errors.ErrInvalidArg)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO constitutional_knowledge (article, section, clause_text, embedding) VALUES ($1, $2, $3, $4::vector)`,
		c.Article, c.Section, c.Text, vectorLiteral(embedding))
	return err
}

func (s *PGStore) UpdateConstitutionalityScore(ctx context.Context, artifactID string, score float64, issues []string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE legislative_artifacts
		SET constitutionality_score = $2, constitutional_issues = $3, updated_at = NOW()
		WHERE id = $1`, artifactID, score, nonNil(issues))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(errors.ErrNotFound, "artifact %s", artifactID)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// vectorLiteral pgvector 文本格式 [a,b,c]
func vectorLiteral(v []float64) string {
	var sb strings.Builder
	sb.Grow(len(v)*8 + 2)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(f, 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
