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

// Package http 编排 API 与 agent 入站消息的 Hertz handler
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"civic-mesh/internal/document"
	"civic-mesh/internal/model/embedding"
	"civic-mesh/internal/orchestrator"
	"civic-mesh/internal/protocol"
	"civic-mesh/internal/storage/vector"
	pkgerrors "civic-mesh/pkg/errors"
	"civic-mesh/pkg/metrics"
	"civic-mesh/pkg/monitoring"
)

// WorkflowService 工作流服务（orchestrator.Orchestrator）
type WorkflowService interface {
	Start(ctx context.Context, name string, params protocol.Payload) (string, error)
	Status(ctx context.Context, id string) (*orchestrator.WorkflowResult, error)
	Custom(ctx context.Context, req orchestrator.CustomRequest) (*orchestrator.CustomResult, error)
	Workflows() []string
}

// Dispatcher 把入站消息交给本进程托管的端点（endpoint.Hub）
type Dispatcher interface {
	Dispatch(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, error)
}

// HealthReporter 健康报告来源
type HealthReporter interface {
	Report(ctx context.Context) *monitoring.HealthReport
}

// Handler HTTP 处理器；未注入的依赖对应的路由返回 503
type Handler struct {
	workflows  WorkflowService
	dispatcher Dispatcher
	health     HealthReporter
	embedder   embedding.Embedder
	store      vector.Store
	service    string
}

// NewHandler workflows、dispatcher 均可为 nil（独立 agent 进程没有工作流服务）
func NewHandler(workflows WorkflowService, dispatcher Dispatcher) *Handler {
	return &Handler{workflows: workflows, dispatcher: dispatcher, service: "civic-mesh"}
}

// SetHealthReporter 设置健康报告来源
func (h *Handler) SetHealthReporter(r HealthReporter) { h.health = r }

// SetArtifactStore 设置立法文本入库所需的 embedding 与检索存储
func (h *Handler) SetArtifactStore(e embedding.Embedder, s vector.Store) {
	h.embedder = e
	h.store = s
}

// SetServiceName 无健康报告来源时 /api/health 返回的服务名
func (h *Handler) SetServiceName(name string) { h.service = name }

// HealthCheck 健康检查
// GET /api/health
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	if h.health == nil {
		c.JSON(consts.StatusOK, map[string]interface{}{
			"status":    monitoring.StatusOK,
			"timestamp": time.Now().Unix(),
			"service":   h.service,
		})
		return
	}
	c.JSON(consts.StatusOK, h.health.Report(ctx))
}

// Metrics Prometheus 文本格式
// GET /metrics
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		hlog.CtxErrorf(ctx, "write prometheus metrics: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// StartWorkflow 后台启动工作流，body 为工作流参数
// POST /api/orchestrate/workflow/:name
func (h *Handler) StartWorkflow(ctx context.Context, c *app.RequestContext) {
	if !h.requireWorkflows(c) {
		return
	}
	name := c.Param("name")
	params, ok := workflowParams(c)
	if !ok {
		return
	}

	id, err := h.workflows.Start(ctx, name, params)
	switch {
	case errors.Is(err, orchestrator.ErrWorkflowNotFound):
		c.JSON(consts.StatusNotFound, map[string]interface{}{
			"error":     "Workflow not found",
			"workflows": h.workflows.Workflows(),
		})
		return
	case errors.Is(err, pkgerrors.ErrInvalidArg):
		c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, orchestrator.ErrShuttingDown):
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	case err != nil:
		hlog.CtxErrorf(ctx, "start workflow %s: %v", name, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	c.JSON(consts.StatusAccepted, map[string]interface{}{
		"workflow_id": id,
		"status":      "started",
		"workflow":    name,
		"message":     fmt.Sprintf("Workflow %s started with ID %s", name, id),
	})
}

// workflowParams JSON 对象，或 application/pdf 原文（提取为 bill_text，query 参数并入）
func workflowParams(c *app.RequestContext) (protocol.Payload, bool) {
	params := protocol.Payload{}
	if strings.HasPrefix(string(c.ContentType()), document.ContentTypePDF) {
		text, err := document.ExtractPDFText(c.Request.Body())
		if err != nil {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid PDF body: " + err.Error()})
			return nil, false
		}
		c.QueryArgs().VisitAll(func(k, v []byte) {
			params[string(k)] = string(v)
		})
		params["bill_text"] = text
		return params, true
	}
	if err := decodeBody(c.Request.Body(), &params); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return nil, false
	}
	return params, true
}

// WorkflowStatus 运行中返回 running 快照，结束后返回完整结果
// GET /api/orchestrate/status/:id
func (h *Handler) WorkflowStatus(ctx context.Context, c *app.RequestContext) {
	if !h.requireWorkflows(c) {
		return
	}
	id := c.Param("id")
	result, err := h.workflows.Status(ctx, id)
	if errors.Is(err, pkgerrors.ErrNotFound) {
		c.JSON(consts.StatusNotFound, map[string]string{"error": "workflow run not found", "workflow_id": id})
		return
	}
	if err != nil {
		hlog.CtxErrorf(ctx, "workflow status %s: %v", id, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, result)
}

// CustomOrchestration 同步执行临时组合
// POST /api/orchestrate/custom
func (h *Handler) CustomOrchestration(ctx context.Context, c *app.RequestContext) {
	if !h.requireWorkflows(c) {
		return
	}
	var req orchestrator.CustomRequest
	if err := decodeBody(c.Request.Body(), &req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return
	}
	result, err := h.workflows.Custom(ctx, req)
	if errors.Is(err, pkgerrors.ErrInvalidArg) {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		hlog.CtxErrorf(ctx, "custom orchestration: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, result)
}

// AgentMessage 入站消息：按收件方交给托管端点，单收件方时同步返回回复
// POST /agent/message
func (h *Handler) AgentMessage(ctx context.Context, c *app.RequestContext) {
	if h.dispatcher == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "no agents hosted"})
		return
	}
	env, err := protocol.Decode(c.Request.Body())
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	reply, err := h.dispatcher.Dispatch(ctx, env)
	var routing *protocol.RoutingError
	switch {
	case errors.As(err, &routing):
		c.JSON(consts.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, protocol.ErrValidation):
		c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case err != nil:
		hlog.CtxErrorf(ctx, "dispatch message %s: %v", env.ID, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if reply == nil {
		c.Status(consts.StatusNoContent)
		return
	}
	data, err := protocol.Encode(reply)
	if err != nil {
		hlog.CtxErrorf(ctx, "encode reply to %s: %v", env.ID, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.Data(consts.StatusOK, "application/json; charset=utf-8", data)
}

// StoreArtifact 生成向量并写入立法文本
// POST /api/artifacts
func (h *Handler) StoreArtifact(ctx context.Context, c *app.RequestContext) {
	if !h.requireStore(c) {
		return
	}
	var a vector.Artifact
	if err := decodeBody(c.Request.Body(), &a); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return
	}
	if a.Title == "" || a.Content == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "title and content are required"})
		return
	}
	vec, ok := h.embed(ctx, c, a.Title+"\n"+a.Content)
	if !ok {
		return
	}
	id, err := h.store.StoreArtifact(ctx, &a, vec)
	if !h.storeResult(ctx, c, err) {
		return
	}
	c.JSON(consts.StatusCreated, map[string]string{"id": id})
}

// StoreClause 生成向量并写入宪法条款
// POST /api/artifacts/clauses
func (h *Handler) StoreClause(ctx context.Context, c *app.RequestContext) {
	if !h.requireStore(c) {
		return
	}
	var clause vector.Clause
	if err := decodeBody(c.Request.Body(), &clause); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return
	}
	if clause.Text == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	vec, ok := h.embed(ctx, c, clause.Text)
	if !ok {
		return
	}
	if !h.storeResult(ctx, c, h.store.StoreClause(ctx, &clause, vec)) {
		return
	}
	c.JSON(consts.StatusCreated, map[string]string{"status": "stored"})
}

type constitutionalityRequest struct {
	Score  *float64 `json:"score"`
	Issues []string `json:"issues"`
}

// UpdateConstitutionality 回写合宪性评分
// PUT /api/artifacts/:id/constitutionality
func (h *Handler) UpdateConstitutionality(ctx context.Context, c *app.RequestContext) {
	if !h.requireStore(c) {
		return
	}
	var req constitutionalityRequest
	if err := decodeBody(c.Request.Body(), &req); err != nil || req.Score == nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "score is required"})
		return
	}
	id := c.Param("id")
	if !h.storeResult(ctx, c, h.store.UpdateConstitutionalityScore(ctx, id, *req.Score, req.Issues)) {
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"id": id, "constitutionality_score": *req.Score})
}

func (h *Handler) requireWorkflows(c *app.RequestContext) bool {
	if h.workflows == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "orchestrator is not available"})
		return false
	}
	return true
}

func (h *Handler) requireStore(c *app.RequestContext) bool {
	if h.embedder == nil || h.store == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "artifact store is not configured"})
		return false
	}
	return true
}

func (h *Handler) embed(ctx context.Context, c *app.RequestContext, text string) ([]float64, bool) {
	vec, err := h.embedder.Embed(ctx, text, embedding.TagGeneral)
	if err != nil {
		hlog.CtxErrorf(ctx, "embed artifact: %v", err)
		c.JSON(consts.StatusBadGateway, map[string]string{"error": "embedding failed: " + err.Error()})
		return nil, false
	}
	return vec, true
}

func (h *Handler) storeResult(ctx context.Context, c *app.RequestContext, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, pkgerrors.ErrInvalidArg):
		c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, pkgerrors.ErrNotFound):
		c.JSON(consts.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		hlog.CtxErrorf(ctx, "artifact store: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return false
}

// decodeBody 空 body 视为 {}
func decodeBody(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
