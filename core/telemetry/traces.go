package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
const (
	AttrSubjectID = "rebac.subject_id"
	AttrNamespace = "rebac.namespace"
	AttrObjectID  = "rebac.object_id"
	AttrRelation  = "rebac.relation"
	AttrRequestID = "http.request_id"
	AttrRoute     = "http.route"
)

// SpanOptions provides configuration for span creation.
type SpanOptions struct {
	SubjectID string
	Namespace string
	ObjectID  string
	Relation  string
	RequestID string
	Route     string
}

// StartSpan starts a new span with the common authorization attributes.
func (p *Provider) StartSpan(ctx context.Context, name string, opts SpanOptions) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{}

	if opts.SubjectID != "" {
		attrs = append(attrs, attribute.String(AttrSubjectID, opts.SubjectID))
	}
	if opts.Namespace != "" {
		attrs = append(attrs, attribute.String(AttrNamespace, opts.Namespace))
	}
	if opts.ObjectID != "" {
		attrs = append(attrs, attribute.String(AttrObjectID, opts.ObjectID))
	}
	if opts.Relation != "" {
		attrs = append(attrs, attribute.String(AttrRelation, opts.Relation))
	}
	if opts.RequestID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, opts.RequestID))
	}
	if opts.Route != "" {
		attrs = append(attrs, attribute.String(AttrRoute, opts.Route))
	}

	return p.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// SetSpanError marks a span as having an error.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks a span as successful.
func SetSpanSuccess(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// EndSpan ends a span with optional error handling.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		SetSpanError(span, err)
	} else {
		SetSpanSuccess(span)
	}
	span.End()
}
