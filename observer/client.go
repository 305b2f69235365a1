package observer

import (
	"context"
	"time"

	"github.com/mirix-ai/mirix"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedClient wraps a mirix.LLMClient with OTEL instrumentation.
type ObservedClient struct {
	inner mirix.LLMClient
	inst  *Instruments
	model string
}

// WrapClient returns an instrumented client that emits traces, metrics, and
// logs for every agent step.
func WrapClient(inner mirix.LLMClient, model string, inst *Instruments) *ObservedClient {
	return &ObservedClient{inner: inner, inst: inst, model: model}
}

func (o *ObservedClient) SendMessage(ctx context.Context, req mirix.LLMRequest) (*mirix.LLMResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.send_message", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrAgentID.String(req.AgentID),
		AttrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.SendMessage(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	var usage mirix.Usage
	if resp != nil {
		usage = resp.Usage
	}
	cost := o.inst.Cost.Calculate(o.model, usage.InputTokens, usage.OutputTokens)

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	modelAttrs := metric.WithAttributes(AttrLLMModel.String(o.model))
	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, modelAttrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrAgentID.String(req.AgentID),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, modelAttrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("agent step completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("agent.id", req.AgentID),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)

	return resp, err
}

var _ mirix.LLMClient = (*ObservedClient)(nil)
