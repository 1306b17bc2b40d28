package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Agent 进程注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		AgentRequests, AgentResponseTime, AgentErrors, AgentConcurrentRequests,
		LateResponsesTotal, BroadcastTotal, DownstreamErrorsTotal,
		WorkflowTotal, WorkflowDuration, WorkflowsActive,
		InferenceCacheTotal, RateLimitWaitSeconds,
		HTTPRequestsTotal, HTTPRequestDuration,
	)
}

// AgentRequests 发往 agent 的请求数（按 agent 与消息类型）
var AgentRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agent_requests_total",
		Help: "发往 agent 的请求总数",
	},
	[]string{"agent", "type"},
)

// AgentResponseTime 请求到收到回复的耗时（秒）
var AgentResponseTime = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "agent_response_time_seconds",
		Help:    "agent 响应耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"agent"},
)

// AgentErrors agent 调用失败数
var AgentErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agent_errors_total",
		Help: "agent 调用失败总数",
	},
	[]string{"agent", "error_type"}, // timeout | unreachable | delivery | handler_fault
)

// AgentConcurrentRequests 正在等待回复的请求数
var AgentConcurrentRequests = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "agent_concurrent_requests",
		Help: "正在等待回复的请求数",
	},
	[]string{"agent"},
)

// LateResponsesTotal 迟到或无法匹配的回复，被丢弃
var LateResponsesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agent_late_responses_total",
		Help: "迟到或无匹配请求的回复数",
	},
	[]string{"agent"},
)

// BroadcastTotal 广播投递数（按结果）
var BroadcastTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agent_broadcast_total",
		Help: "广播消息投递总数",
	},
	[]string{"result"}, // published | dropped | failed
)

// DownstreamErrorsTotal embedding / 检索 / 推理失败后降级的次数
var DownstreamErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agent_downstream_errors_total",
		Help: "下游协作方失败降级次数",
	},
	[]string{"component"}, // embedding | retrieval | inference
)

// WorkflowTotal 工作流执行数（按状态）
var WorkflowTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "workflow_total",
		Help: "工作流执行总数（按状态）",
	},
	[]string{"workflow", "status"}, // completed | failed
)

// WorkflowDuration 工作流执行耗时（秒）
var WorkflowDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "workflow_duration_seconds",
		Help:    "工作流执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"workflow"},
)

// WorkflowsActive 后台运行中的工作流数
var WorkflowsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "workflows_active",
		Help: "运行中的工作流数",
	},
)

// InferenceCacheTotal 推理缓存命中情况
var InferenceCacheTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inference_cache_total",
		Help: "推理结果缓存查询次数",
	},
	[]string{"result"}, // hit | miss
)

// RateLimitWaitSeconds 限流等待耗时
var RateLimitWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "rate_limit_wait_seconds",
		Help:    "限流等待耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind", "provider"},
)

// HTTPRequestsTotal HTTP 请求数（按路由与状态码）
var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP 请求总数",
	},
	[]string{"method", "route", "status"},
)

// HTTPRequestDuration HTTP 请求耗时（秒）
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP 请求耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
