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

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "civic-mesh"

// OTelConfig OpenTelemetry 导出配置
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer 创建 OTLP/HTTP exporter 并注册全局 TracerProvider
func InitTracer(config OTelConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartWorkflowSpan 工作流一次执行
func StartWorkflowSpan(ctx context.Context, workflowID, workflow string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.name", workflow),
		),
	)
}

// StartStepSpan 工作流中的单个 agent 调用
func StartStepSpan(ctx context.Context, step, agent string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("step.name", step),
			attribute.String("agent.id", agent),
		),
	)
}

// StartSendSpan 协议层一次投递
func StartSendSpan(ctx context.Context, messageID, sender, kind string, recipients int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent.send",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("message.sender", sender),
			attribute.String("message.kind", kind),
			attribute.Int("message.recipients", recipients),
		),
	)
}

// EndSpan 记录错误（若有）并结束 span
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
