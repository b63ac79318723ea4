package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("dualogue-llm")

// Traced wraps a generator so every call runs in an "llm.generate" span.
func Traced(gen Generator, model string) Generator {
	return &traced{gen: gen, model: model}
}

type traced struct {
	gen   Generator
	model string
}

func (t *traced) Generate(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "llm.generate")
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.model", t.model),
		attribute.String("llm.provider", Provider(t.model)),
		attribute.Int("llm.prompt_chars", len(req.Prompt)),
		attribute.Float64("llm.temperature", req.Temperature),
		attribute.Bool("llm.json", req.JSON),
		attribute.Bool("llm.own_key", req.APIKey != ""),
	)

	res, err := t.gen.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return res, err
	}
	span.SetAttributes(attribute.String("llm.result_kind", res.Kind.String()))
	span.SetStatus(codes.Ok, "")
	return res, nil
}
