package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const PACKAGE = "huddle"

// Attributes of the call spans.
const (
	BoardID  = attribute.Key("huddle.board_id")
	LocalID  = attribute.Key("huddle.local_id")
	RemoteID = attribute.Key("huddle.remote_id")
	Host     = attribute.Key("huddle.host")
	TrackID  = attribute.Key("huddle.track_id")
)

var tracer = otel.Tracer(PACKAGE)

// Telemetry is one span and the context it lives in.
type Telemetry struct {
	span    trace.Span
	context context.Context //nolint:containedctx
}

func NewTelemetry(ctx context.Context, name string, attributes ...attribute.KeyValue) *Telemetry {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attributes...))

	return &Telemetry{
		span:    span,
		context: ctx,
	}
}

// StartCall opens the root span of a call session.
func StartCall(boardID, localID string, isHost bool) *Telemetry {
	return NewTelemetry(context.Background(), "call",
		BoardID.String(boardID),
		LocalID.String(localID),
		Host.Bool(isHost),
	)
}

// StartLink opens the span of the link to a remote participant.
func (t *Telemetry) StartLink(remoteID string) *Telemetry {
	return t.CreateChild("link", RemoteID.String(remoteID))
}

func (t *Telemetry) CreateChild(name string, attributes ...attribute.KeyValue) *Telemetry {
	return NewTelemetry(t.context, name, attributes...)
}

// Context carries the span, e.g. to continue it on another goroutine.
func (t *Telemetry) Context() context.Context {
	return t.context
}

func (t *Telemetry) AddEvent(text string, attributes ...attribute.KeyValue) {
	t.span.AddEvent(text, trace.WithAttributes(attributes...))
}

func (t *Telemetry) AddError(err error) {
	t.span.RecordError(err)
}

// Fail records the error and marks the span as failed.
func (t *Telemetry) Fail(err error) {
	t.span.SetStatus(codes.Error, err.Error())
	t.AddError(err)
}

func (t *Telemetry) End() {
	t.span.End()
}
