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

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"civic-mesh/internal/endpoint"
	"civic-mesh/internal/protocol"
)

func apiBaseURL() string {
	if u := os.Getenv("CIVIC_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8000"
}

type client struct {
	r *resty.Client
}

func newClient(baseURL string) *client {
	return &client{r: resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second).
		SetHeader("Content-Type", "application/json")}
}

func (c *client) health() (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.r.R().SetResult(&out).Get("/api/health")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/health: %s", resp.String())
	}
	return out, nil
}

func (c *client) startWorkflow(name string, params map[string]interface{}) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	var out struct {
		WorkflowID string `json:"workflow_id"`
	}
	resp, err := c.r.R().
		SetBody(params).
		SetResult(&out).
		Post("/api/orchestrate/workflow/" + name)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusAccepted {
		return "", fmt.Errorf("POST workflow %s: %s", name, resp.String())
	}
	return out.WorkflowID, nil
}

// startWorkflowPDF 上传 PDF 原文，服务端提取 bill_text；query 中的参数一并传入
func (c *client) startWorkflowPDF(name string, pdf []byte, query map[string]string) (string, error) {
	var out struct {
		WorkflowID string `json:"workflow_id"`
	}
	resp, err := c.r.R().
		SetHeader("Content-Type", "application/pdf").
		SetQueryParams(query).
		SetBody(pdf).
		SetResult(&out).
		Post("/api/orchestrate/workflow/" + name)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusAccepted {
		return "", fmt.Errorf("POST workflow %s: %s", name, resp.String())
	}
	return out.WorkflowID, nil
}

func (c *client) workflowStatus(id string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.r.R().SetResult(&out).Get("/api/orchestrate/status/" + id)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET status %s: %s", id, resp.String())
	}
	return out, nil
}

// waitWorkflow 轮询直到状态不再是 running 或超时
func (c *client) waitWorkflow(id string, interval, timeout time.Duration) (map[string]interface{}, error) {
	deadline := time.Now().Add(timeout)
	for {
		st, err := c.workflowStatus(id)
		if err != nil {
			return nil, err
		}
		if s, _ := st["status"].(string); s != "running" {
			return st, nil
		}
		if time.Now().After(deadline) {
			return st, fmt.Errorf("workflow %s still running after %s", id, timeout)
		}
		time.Sleep(interval)
	}
}

func (c *client) custom(body map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.r.R().SetBody(body).SetResult(&out).Post("/api/orchestrate/custom")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("POST custom: %s", resp.String())
	}
	return out, nil
}

// send 以 orchestrator 身份向 agent 发送单条查询并返回回复
func (c *client) send(agent, query string) (*protocol.Envelope, error) {
	id, err := protocol.ResolveIdentity(agent)
	if err != nil {
		return nil, err
	}
	env, err := protocol.NewEnvelope(protocol.Orchestrator, []protocol.AgentIdentity{id}, protocol.KindQuery,
		protocol.Payload{"query": query})
	if err != nil {
		return nil, err
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return nil, err
	}
	resp, err := c.r.R().SetBody(data).Post(endpoint.MessagePath)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("POST %s: %d %s", endpoint.MessagePath, resp.StatusCode(), resp.String())
	}
	return protocol.Decode(resp.Body())
}

func prettyJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
