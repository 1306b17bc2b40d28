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
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"civic-mesh/pkg/errors"
)

const runSchema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id           TEXT PRIMARY KEY,
	workflow     TEXT NOT NULL,
	status       TEXT NOT NULL,
	result       JSONB NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS workflow_runs_status_idx ON workflow_runs (workflow, status);
`

// PgRunStore Postgres 实现：workflow_runs 表，result 列保存完整 JSON
type PgRunStore struct {
	pool *pgxpool.Pool
}

// NewPgRunStore 连接并确保表存在
func NewPgRunStore(ctx context.Context, dsn string) (*PgRunStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, runSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create workflow_runs")
	}
	return &PgRunStore{pool: pool}, nil
}

// Save 插入或更新；已结束的运行不会被覆盖
func (s *PgRunStore) Save(ctx context.Context, r *WorkflowResult) error {
	if r == nil || r.WorkflowID == "" {
		return errors.Wrap(errors.ErrInvalidArg, "workflow result without id")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	cmd, err := s.pool.Exec(ctx, `
INSERT INTO workflow_runs (id, workflow, status, result, started_at, completed_at, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6, now())
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	result = EXCLUDED.result,
	completed_at = EXCLUDED.completed_at,
	updated_at = now()
WHERE workflow_runs.status = $7`,
		r.WorkflowID, r.Workflow, string(r.Status), string(data), r.StartedAt, nullTime(r.CompletedAt), string(RunRunning))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errors.Wrapf(errors.ErrConflict, "workflow %s already finished", r.WorkflowID)
	}
	return nil
}

func (s *PgRunStore) Get(ctx context.Context, id string) (*WorkflowResult, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT result FROM workflow_runs WHERE id = $1`, id).Scan(&data)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "workflow %s", id)
	}
	if err != nil {
		return nil, err
	}
	var r WorkflowResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PgRunStore) Close() error {
	s.pool.Close()
	return nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
